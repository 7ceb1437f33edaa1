package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// Client manages a SQLite database handle.
type Client struct {
	db *sql.DB
}

// NewClient opens a SQLite database file.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		BusyTimeout: 5 * time.Second,
		WAL:         true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	db, err := sql.Open("sqlite", buildDSN(*cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// modernc serializes writes; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() // best-effort close
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	return &Client{db: db}, nil
}

// DB returns *sql.DB for direct use.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Health performs health check.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database handle.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema ensures tables and indexes exist (idempotent).
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func buildDSN(cfg ClientConfig) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	if cfg.WAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + cfg.Path + "?" + q.Encode()
}
