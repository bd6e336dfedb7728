package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"powerlog/internal/anchor"
	"powerlog/internal/config"
	redisstore "powerlog/internal/redis"
	"powerlog/internal/record"
	"powerlog/internal/repository"
)

const csvHeader = "\xEF\xBB\xBF\"timestamp\",\"voltage\",\"current\"\n"

type stubResolver struct {
	anchor anchor.Anchor
	err    error
	calls  int
}

func (s *stubResolver) Resolve(string, string) (anchor.Anchor, error) {
	s.calls++
	return s.anchor, s.err
}

type memRedis struct {
	goredis.Cmdable
	values map[string]string
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	m.values[key] = string(value.([]byte))
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *memRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	cmd := goredis.NewStringCmd(ctx)
	if v, ok := m.values[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(goredis.Nil)
	}
	return cmd
}

func writeLog(t *testing.T, dir, name string, records ...record.Record) string {
	t.Helper()
	data := make([]byte, len(records)*record.Size)
	for i, rec := range records {
		record.Encode(data[i*record.Size:], rec)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func newApp(t *testing.T, cfg *config.Config, resolver anchor.Resolver, opts ...Option) *App {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = anchor.DefaultTimezone
	}
	a, err := New(context.Background(), cfg, zap.NewNop(), resolver, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

var sampleRecords = []record.Record{
	{Timestamp: 1000, Voltage: 800, Current: 50},
	{Timestamp: 1100, Voltage: 800, Current: -50},
}

func TestRunWritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	input := writeLog(t, dir, "powerlog-20231115-073320.dat", sampleRecords...)
	output := filepath.Join(dir, "out.csv")

	a := newApp(t, &config.Config{Input: input, Output: output, Timezone: "Asia/Tokyo"}, anchor.NewFileNameResolver())
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := csvHeader + "1700001200000,1.00000,5.0\n1700001200100,1.00000,-5.0\n"
	if string(got) != want {
		t.Fatalf("output mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRunStdinToStdout(t *testing.T) {
	data := make([]byte, record.Size)
	record.Encode(data, record.Record{Timestamp: 5, Voltage: 1, Current: 1})
	var stdout bytes.Buffer

	resolver := &stubResolver{}
	a := newApp(t, &config.Config{Input: "-"}, resolver, WithStdio(bytes.NewReader(data), &stdout))
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stdout.String() != csvHeader+"0,0.00125,0.1\n" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if resolver.calls != 1 {
		t.Fatalf("expected resolver to be consulted once, got %d", resolver.calls)
	}
}

func TestRunUnresolvedAnchorFallsBackToRelative(t *testing.T) {
	dir := t.TempDir()
	input := writeLog(t, dir, "powerlog-20231115-073320.dat", sampleRecords...)
	var stdout bytes.Buffer

	resolver := &stubResolver{err: anchor.ErrUnknownZone}
	a := newApp(t, &config.Config{Input: input, Timezone: "Nowhere/Void"}, resolver, WithStdio(nil, &stdout))
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := csvHeader + "0,1.00000,5.0\n100,1.00000,-5.0\n"
	if stdout.String() != want {
		t.Fatalf("output mismatch\n got: %q\nwant: %q", stdout.String(), want)
	}
}

func TestRunMalformedInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "short.dat")
	if err := os.WriteFile(input, []byte{1, 2, 3, 4, 5}, 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	output := filepath.Join(dir, "out.csv")

	store := redisstore.NewRunStore(&memRedis{values: map[string]string{}}, time.Hour)
	a := newApp(t, &config.Config{Input: input, Output: output}, &stubResolver{}, WithRunStore(store))

	err := a.Run(context.Background())
	if !errors.Is(err, record.ErrMalformedStream) {
		t.Fatalf("expected ErrMalformedStream, got %v", err)
	}

	got, readErr := os.ReadFile(output)
	if readErr != nil {
		t.Fatalf("read output: %v", readErr)
	}
	if string(got) != csvHeader {
		t.Fatalf("expected header-only output, got %q", got)
	}

	summary, getErr := store.Get(context.Background(), "short.dat")
	if getErr != nil {
		t.Fatalf("expected summary to be cached: %v", getErr)
	}
	if !summary.Failed || summary.Rows != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")

	a := newApp(t, &config.Config{Input: filepath.Join(dir, "missing.dat"), Output: output}, &stubResolver{})
	if err := a.Run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output must not be created when input cannot be opened, stat err %v", err)
	}
}

func TestRunUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeLog(t, dir, "in.dat", sampleRecords...)

	a := newApp(t, &config.Config{Input: input, Output: filepath.Join(dir, "no-such-dir", "out.csv")}, &stubResolver{})
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error for unwritable output")
	}
}

func TestRunExportsToSQLiteAndCachesSummary(t *testing.T) {
	dir := t.TempDir()
	input := writeLog(t, dir, "powerlog-20231114-223320.dat", sampleRecords...)
	dbPath := filepath.Join(dir, "samples.db")

	cfg := &config.Config{Input: input, Output: filepath.Join(dir, "out.csv"), Timezone: "UTC"}
	cfg.Export.SQLitePath = dbPath
	cfg.Metrics.Textfile = filepath.Join(dir, "powerlog.prom")

	cache := &memRedis{values: map[string]string{}}
	a := newApp(t, cfg, anchor.NewFileNameResolver(), WithRunStore(redisstore.NewRunStore(cache, 0)))
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	a.Close()

	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sqlDB.Close()

	n, err := repository.NewSampleRepository(sqlDB, repository.SQLite).CountByRun(context.Background(), "powerlog-20231114-223320.dat")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported samples, got %d", n)
	}

	var ts int64
	if err := sqlDB.QueryRow(`SELECT ts_ms FROM power_samples WHERE seq = 1`).Scan(&ts); err != nil {
		t.Fatalf("query ts: %v", err)
	}
	if ts != 1700001200100 {
		t.Fatalf("unexpected exported timestamp %d", ts)
	}

	summary, err := redisstore.NewRunStore(cache, 0).Get(context.Background(), "powerlog-20231114-223320.dat")
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if summary.Rows != 2 || !summary.Anchored || summary.Failed || summary.Timezone != "UTC" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if _, err := os.Stat(cfg.Metrics.Textfile); err != nil {
		t.Fatalf("expected metrics textfile: %v", err)
	}
}

func TestRunFailedConversionRollsBackExport(t *testing.T) {
	dir := t.TempDir()
	input := writeLog(t, dir, "in.dat", sampleRecords...)
	f, err := os.OpenFile(input, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open input: %v", err)
	}
	f.Write([]byte{0xAA, 0xBB})
	f.Close()

	dbPath := filepath.Join(dir, "samples.db")
	cfg := &config.Config{Input: input, Output: filepath.Join(dir, "out.csv")}
	cfg.Export.SQLitePath = dbPath

	a := newApp(t, cfg, &stubResolver{})
	if err := a.Run(context.Background()); !errors.Is(err, record.ErrMalformedStream) {
		t.Fatalf("expected ErrMalformedStream, got %v", err)
	}
	a.Close()

	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sqlDB.Close()

	n, err := repository.NewSampleRepository(sqlDB, repository.SQLite).CountByRun(context.Background(), "in.dat")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rolled back export, got %d rows", n)
	}
}
