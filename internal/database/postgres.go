package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS user_languages (
		user_id BIGINT PRIMARY KEY,
		lang VARCHAR(8) NOT NULL,
		updated_at BIGINT NOT NULL
	);`

// NewPostgresStore connects to PostgreSQL and creates the user_languages
// table if needed.
func NewPostgresStore(dsn string) (LanguageStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	return newSQLStore(conn, "postgres", dollarPlaceholder, postgresSchema)
}
