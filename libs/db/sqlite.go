package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB opens (creating if needed) a SQLite database file in WAL mode.
// A single connection is kept since all writes happen inside one transaction.
func NewSQLiteDB(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("db: empty sqlite path")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("db: sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: sqlite ping: %w", err)
	}

	return db, nil
}
