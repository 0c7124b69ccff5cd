package audit

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresSink is the optional durable/queryable audit sink (DOMAIN STACK:
// pgx/v5 + golang-migrate), supplementing the default file sink for
// deployments that want to query audit history with SQL rather than grep.
// It is never the only sink: callers compose it with FileSink through a
// MultiSink so the append-only file trail always exists even if the
// database is unreachable at write time.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn, runs pending migrations, and returns a
// ready sink.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("audit: running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connecting to postgres: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *PostgresSink) Write(r Record) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log
			(ts, profile, tool, arg_fingerprint, request_id, target, status_kind, exit_code, bytes_in, bytes_out, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.Timestamp, r.Profile, r.Tool, r.ArgFingerprint, r.RequestID, r.Target, r.StatusKind,
		exitCodeArg(r.ExitCode), r.BytesIn, r.BytesOut, r.DurationMillis,
	)
	if err != nil {
		return fmt.Errorf("audit: inserting record: %w", err)
	}
	return nil
}

func exitCodeArg(ec *int) any {
	if ec == nil {
		return nil
	}
	return int32(*ec)
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

// MultiSink fans a write out to several sinks, matching the "flushed
// before the response is sent" contract against the first error — the
// file sink is expected to be first so the local trail is always
// consistent even if a secondary sink (e.g. Postgres) is down.
type MultiSink struct {
	Sinks []Sink
}

func (m *MultiSink) Write(r Record) error {
	for _, s := range m.Sinks {
		if err := s.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
