package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns = 2
	defaultMaxIdleConns = 1
	defaultConnLifetime = time.Hour
	defaultPingTimeout  = 5 * time.Second
)

// NewPostgresDB opens a pgx/stdlib backed *sql.DB and validates the connection.
// The pool is sized for a single sequential writer.
func NewPostgresDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
