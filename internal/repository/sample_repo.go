package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"powerlog/internal/models"
)

// Dialect selects the SQL flavour of the export database.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

type queries struct {
	schema string
	delete string
	insert string
}

var dialectQueries = map[Dialect]queries{
	Postgres: {
		schema: `
			CREATE TABLE IF NOT EXISTS power_samples (
				run_id     TEXT             NOT NULL,
				seq        BIGINT           NOT NULL,
				ts_ms      BIGINT           NOT NULL,
				voltage_v  DOUBLE PRECISION NOT NULL,
				current_ma DOUBLE PRECISION NOT NULL,
				PRIMARY KEY (run_id, seq)
			)
		`,
		delete: `DELETE FROM power_samples WHERE run_id = $1`,
		insert: `
			INSERT INTO power_samples (run_id, seq, ts_ms, voltage_v, current_ma)
			VALUES ($1, $2, $3, $4, $5)
		`,
	},
	SQLite: {
		schema: `
			CREATE TABLE IF NOT EXISTS power_samples (
				run_id     TEXT    NOT NULL,
				seq        INTEGER NOT NULL,
				ts_ms      INTEGER NOT NULL,
				voltage_v  REAL    NOT NULL,
				current_ma REAL    NOT NULL,
				PRIMARY KEY (run_id, seq)
			)
		`,
		delete: `DELETE FROM power_samples WHERE run_id = ?`,
		insert: `
			INSERT INTO power_samples (run_id, seq, ts_ms, voltage_v, current_ma)
			VALUES (?, ?, ?, ?, ?)
		`,
	},
}

// SampleRepository persists converted samples.
type SampleRepository struct {
	db      *sql.DB
	dialect Dialect
	q       queries
}

// NewSampleRepository returns repository for the given dialect.
func NewSampleRepository(db *sql.DB, dialect Dialect) *SampleRepository {
	return &SampleRepository{db: db, dialect: dialect, q: dialectQueries[dialect]}
}

// Dialect reports the SQL flavour in use.
func (r *SampleRepository) Dialect() Dialect {
	return r.dialect
}

// EnsureSchema creates the samples table if missing.
func (r *SampleRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, r.q.schema)
	return err
}

// Begin opens a transaction replacing all samples of runID. Samples become visible only
// after Commit.
func (r *SampleRepository) Begin(ctx context.Context, runID string) (*SampleBatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, r.q.delete, runID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("clear run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, r.q.insert)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &SampleBatch{runID: runID, tx: tx, stmt: stmt}, nil
}

// CountByRun returns the number of stored samples of runID.
func (r *SampleRepository) CountByRun(ctx context.Context, runID string) (int64, error) {
	query := `SELECT COUNT(*) FROM power_samples WHERE run_id = $1`
	if r.dialect == SQLite {
		query = `SELECT COUNT(*) FROM power_samples WHERE run_id = ?`
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, query, runID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SampleBatch is an open export transaction for one run.
type SampleBatch struct {
	runID string
	tx    *sql.Tx
	stmt  *sql.Stmt
	rows  int64
	done  bool
}

// WriteSample inserts one sample.
func (b *SampleBatch) WriteSample(ctx context.Context, s models.Sample) error {
	if b.done {
		return errors.New("repository: batch already finished")
	}
	if _, err := b.stmt.ExecContext(ctx, b.runID, s.Seq, s.Timestamp, float64(s.Voltage), float64(s.Current)); err != nil {
		return err
	}
	b.rows++
	return nil
}

// Rows returns the number of samples written so far.
func (b *SampleBatch) Rows() int64 {
	return b.rows
}

// Commit makes the batch visible.
func (b *SampleBatch) Commit() error {
	if b.done {
		return errors.New("repository: batch already finished")
	}
	b.done = true
	b.stmt.Close()
	return b.tx.Commit()
}

// Rollback discards the batch. It is a no-op after Commit.
func (b *SampleBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	b.stmt.Close()
	return b.tx.Rollback()
}
