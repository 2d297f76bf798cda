package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS user_languages (
		user_id INTEGER PRIMARY KEY,
		lang TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string) (LanguageStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	// One writer at a time; concurrent upserts queue on the pool.
	conn.SetMaxOpenConns(1)

	return newSQLStore(conn, "sqlite", questionPlaceholder, sqliteSchema)
}
