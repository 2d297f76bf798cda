package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/logger"
)

// sqlStore is the LanguageStore shared by the SQLite and PostgreSQL backends.
// Both speak INSERT .. ON CONFLICT, so only placeholders and DDL differ.
type sqlStore struct {
	conn        *sql.DB
	driver      string
	placeholder func(n int) string
	now         func() time.Time
}

func newSQLStore(conn *sql.DB, driver string, placeholder func(int) string, schema string) (*sqlStore, error) {
	// Test the connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.Info("Database connection established successfully", map[string]interface{}{
		"driver": driver,
	})

	return &sqlStore{
		conn:        conn,
		driver:      driver,
		placeholder: placeholder,
		now:         time.Now,
	}, nil
}

func (s *sqlStore) GetLanguage(ctx context.Context, userID int64) (string, bool, error) {
	query := `SELECT lang FROM user_languages WHERE user_id = ` + s.placeholder(1)

	var lang string
	err := s.conn.QueryRowContext(ctx, query, userID).Scan(&lang)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get user language: %w", err)
	}
	return lang, true, nil
}

func (s *sqlStore) SetLanguage(ctx context.Context, userID int64, lang string) error {
	stmt := `INSERT INTO user_languages (user_id, lang, updated_at)
		VALUES (` + s.placeholder(1) + `, ` + s.placeholder(2) + `, ` + s.placeholder(3) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			lang = EXCLUDED.lang,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.conn.ExecContext(ctx, stmt, userID, lang, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to upsert user language: %w", err)
	}
	return nil
}

func (s *sqlStore) EnsureLanguage(ctx context.Context, userID int64, lang string) error {
	stmt := `INSERT INTO user_languages (user_id, lang, updated_at)
		VALUES (` + s.placeholder(1) + `, ` + s.placeholder(2) + `, ` + s.placeholder(3) + `)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := s.conn.ExecContext(ctx, stmt, userID, lang, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to insert default user language: %w", err)
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func questionPlaceholder(int) string {
	return "?"
}

func dollarPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// Open builds the LanguageStore selected by cfg.StoreDriver.
func Open(cfg *config.Config) (LanguageStore, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.WarnMsg("Using in-memory preference store, languages are lost on restart")
		return NewMemoryStore(), nil
	case config.StorePostgres:
		return NewPostgresStore(cfg.PostgreDSN)
	case config.StoreSQLite, "":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
