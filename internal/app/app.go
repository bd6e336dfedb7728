package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "powerlog/libs/db"
	libredis "powerlog/libs/redis"

	"powerlog/internal/anchor"
	"powerlog/internal/config"
	"powerlog/internal/converter"
	"powerlog/internal/metrics"
	"powerlog/internal/models"
	redisstore "powerlog/internal/redis"
	"powerlog/internal/repository"
)

const stdinRunID = "stdin"

// App wires the converter with its optional export backends.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	resolver anchor.Resolver
	metrics  *metrics.Metrics

	stdin  io.Reader
	stdout io.Writer
	now    func() time.Time

	dbs      []*sql.DB
	repos    []*repository.SampleRepository
	redis    *goredis.Client
	runStore *redisstore.RunStore
}

// Option customises an App.
type Option func(*App)

// WithStdio replaces the process standard streams.
func WithStdio(stdin io.Reader, stdout io.Writer) Option {
	return func(a *App) {
		a.stdin = stdin
		a.stdout = stdout
	}
}

// WithRunStore replaces the redis connection built from configuration.
func WithRunStore(store *redisstore.RunStore) Option {
	return func(a *App) {
		a.runStore = store
	}
}

// New constructs application components. Export backends and the run cache are only
// connected when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, resolver anchor.Resolver, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		metrics:  metrics.New(),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.openExports(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.runStore == nil && cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// the cache is informational only
			logger.Warn("run cache unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.redis = client
			a.runStore = redisstore.NewRunStore(client, cfg.Redis.TTL)
		}
	}

	return a, nil
}

func (a *App) openExports(ctx context.Context) error {
	if dsn := a.cfg.Export.PostgresDSN; dsn != "" {
		sqlDB, err := libdb.NewPostgresDB(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres export: %w", err)
		}
		if err := a.addRepository(ctx, sqlDB, repository.Postgres); err != nil {
			return err
		}
	}

	if path := a.cfg.Export.SQLitePath; path != "" {
		sqlDB, err := libdb.NewSQLiteDB(ctx, path)
		if err != nil {
			return fmt.Errorf("sqlite export: %w", err)
		}
		if err := a.addRepository(ctx, sqlDB, repository.SQLite); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) addRepository(ctx context.Context, sqlDB *sql.DB, dialect repository.Dialect) error {
	a.dbs = append(a.dbs, sqlDB)
	repo := repository.NewSampleRepository(sqlDB, dialect)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("%s export schema: %w", dialect, err)
	}
	a.repos = append(a.repos, repo)
	return nil
}

// Run converts the configured input once.
func (a *App) Run(ctx context.Context) error {
	started := a.now()
	runID := a.runID()
	logger := a.logger.With(zap.String("run_id", runID))

	stamp := a.resolveAnchor(logger)

	in, closeIn, err := a.openInput()
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := a.openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	batches, err := a.beginExports(ctx, runID)
	if err != nil {
		return err
	}

	sinks := make([]converter.SampleSink, 0, len(batches))
	for _, b := range batches {
		sinks = append(sinks, b)
	}

	summary, convErr := converter.New(logger, sinks...).Convert(ctx, in, out, stamp)
	if closeErr := closeOut(); closeErr != nil && convErr == nil {
		convErr = fmt.Errorf("%w: close output: %w", converter.ErrSinkFailure, closeErr)
	}
	if convErr == nil {
		convErr = commitExports(batches, logger)
	} else {
		rollbackExports(batches, logger)
	}

	summary.RunID = runID
	summary.Source = a.cfg.Input
	summary.Timezone = a.cfg.Timezone
	summary.Failed = convErr != nil
	summary.ConvertedAt = a.now().UTC()
	a.report(ctx, logger, summary, a.now().Sub(started))

	if convErr != nil {
		return convErr
	}
	logger.Info("conversion completed",
		zap.Int64("rows", summary.Rows),
		zap.Bool("anchored", summary.Anchored),
		zap.Duration("span", summary.Duration()),
	)
	return nil
}

func (a *App) resolveAnchor(logger *zap.Logger) anchor.Anchor {
	stamp, err := a.resolver.Resolve(a.cfg.Input, a.cfg.Timezone)
	switch {
	case errors.Is(err, anchor.ErrUnknownZone):
		logger.Warn("invalid timezone string, timestamps are relative", zap.String("timezone", a.cfg.Timezone))
	case err != nil:
		logger.Warn("cannot resolve start time, timestamps are relative", zap.String("input", a.cfg.Input), zap.Error(err))
	case stamp.Valid:
		logger.Debug("start time resolved", zap.Stringer("anchor", stamp), zap.String("timezone", a.cfg.Timezone))
	}
	return stamp
}

func (a *App) runID() string {
	if a.cfg.InputIsStdin() {
		return stdinRunID
	}
	return filepath.Base(a.cfg.Input)
}

func (a *App) openInput() (io.Reader, func(), error) {
	if a.cfg.InputIsStdin() {
		return a.stdin, func() {}, nil
	}
	f, err := os.Open(a.cfg.Input)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// openOutput truncates an existing output file. The returned close func may be called
// more than once; only the first call closes the file.
func (a *App) openOutput() (io.Writer, func() error, error) {
	if a.cfg.OutputIsStdout() {
		return a.stdout, func() error { return nil }, nil
	}
	f, err := os.Create(a.cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	var closed bool
	return f, func() error {
		if closed {
			return nil
		}
		closed = true
		return f.Close()
	}, nil
}

func (a *App) beginExports(ctx context.Context, runID string) ([]*repository.SampleBatch, error) {
	batches := make([]*repository.SampleBatch, 0, len(a.repos))
	for _, repo := range a.repos {
		b, err := repo.Begin(ctx, runID)
		if err != nil {
			rollbackExports(batches, a.logger)
			return nil, fmt.Errorf("%s export: %w", repo.Dialect(), err)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func commitExports(batches []*repository.SampleBatch, logger *zap.Logger) error {
	for i, b := range batches {
		if err := b.Commit(); err != nil {
			rollbackExports(batches[i+1:], logger)
			return fmt.Errorf("%w: commit export: %w", converter.ErrSinkFailure, err)
		}
	}
	return nil
}

func rollbackExports(batches []*repository.SampleBatch, logger *zap.Logger) {
	for _, b := range batches {
		if err := b.Rollback(); err != nil {
			logger.Warn("failed to roll back export", zap.Error(err))
		}
	}
}

func (a *App) report(ctx context.Context, logger *zap.Logger, summary models.RunSummary, elapsed time.Duration) {
	a.metrics.ObserveRun(summary, elapsed)

	if a.runStore != nil {
		if err := a.runStore.Save(ctx, summary); err != nil {
			logger.Warn("failed to cache run summary", zap.Error(err))
		}
	}

	mc := a.cfg.Metrics
	if mc.PushgatewayURL != "" {
		if err := a.metrics.Push(ctx, mc.PushgatewayURL, mc.Job, summary.RunID); err != nil {
			logger.Warn("failed to push metrics", zap.Error(err))
		}
	}
	if mc.Textfile != "" {
		if err := a.metrics.WriteTextfile(mc.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", zap.Error(err))
		}
	}
}

// Close releases resources.
func (a *App) Close() {
	for _, sqlDB := range a.dbs {
		if err := sqlDB.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
