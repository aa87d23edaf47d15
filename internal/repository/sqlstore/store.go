// Package sqlstore implements the repository interfaces on database/sql.
//
// Two drivers are supported behind the same queries:
//   - Postgres through pgx's database/sql adapter (production)
//   - SQLite through modernc.org/sqlite (local runs and tests; ":memory:" works)
//
// Queries are written with ? placeholders and rebound to $n for Postgres.
// The schema lives in migrations/ as goose files, one directory per dialect,
// and is applied by Open before the store is handed out.
//
// DATABASE/SQL POOL:
// sql.DB is a pool, not a connection. Open sizes it from Config. pgx's
// adapter validates a connection when it is checked out and database/sql
// replaces one that has gone bad, so a dropped connection never reaches a
// query.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
	"github.com/sethvargo/go-retry"

	// Driver registration: "pgx" and "sqlite".
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/repository"
	"github.com/sakif/account-service/internal/repository/sqlstore/migrations"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// Config describes how to reach the database and size the pool.
type Config struct {
	Dialect         Dialect
	DSN             string // postgres URL, or a SQLite path / ":memory:"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectAttempts and ConnectDelay bound the startup loop: Open tries to
	// connect and migrate ConnectAttempts times, sleeping ConnectDelay between tries.
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// DB wraps the pool and hands out repositories bound to it or to a transaction.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects, applies migrations and returns a ready store.
//
// Connection and migration failures are retried with a constant delay until
// ConnectAttempts is used up; the last error is returned. ctx cancels the
// loop early.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = time.Millisecond // retry.NewConstant rejects zero
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))

	var (
		db      *DB
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		d, err := connect(ctx, cfg, logger)
		if err != nil {
			logger.Warn("database not ready",
				slog.Int("attempt", attempt),
				slog.Int("of", attempts),
				slog.String("driver", string(cfg.Dialect)),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		db = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connecting after %d attempt(s): %w", attempt, err)
	}

	logger.Info("database ready",
		slog.String("driver", string(cfg.Dialect)),
		slog.Int("attempts", attempt),
	)
	return db, nil
}

// connect performs one attempt: open, configure, ping, migrate.
func connect(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open(cfg.Dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	switch cfg.Dialect {
	case SQLite:
		// One connection: SQLite has a single writer, and every connection
		// to ":memory:" would otherwise be a separate empty database.
		conn.SetMaxOpenConns(1)
	default:
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if cfg.Dialect == SQLite {
		for _, pragma := range []string{
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
			"PRAGMA journal_mode=WAL",
		} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	db := &DB{conn: conn, dialect: cfg.Dialect, logger: logger}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// migrate applies every pending goose migration for the dialect.
// On Postgres an advisory session lock keeps concurrent replicas from
// migrating at the same time.
func (db *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations.FS, string(db.dialect))
	if err != nil {
		return err
	}

	var opts []goose.ProviderOption
	if db.dialect == Postgres {
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return fmt.Errorf("creating migration lock: %w", err)
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	}

	provider, err := goose.NewProvider(db.dialect.gooseDialect(), db.conn, fsys, opts...)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		db.logger.Info("migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// Accounts returns a repository that runs each call on the pool.
func (db *DB) Accounts() repository.AccountRepository {
	return newAccountRepo(db.conn, db.dialect)
}

// WithTx runs fn inside one transaction with a repository bound to it.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, accounts repository.AccountRepository) error) error {
	err := WithTx(ctx, db.conn, nil, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, newAccountRepo(tx, db.dialect))
	})
	return storeError(err)
}

// Ping checks that the database answers.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SQL returns the underlying pool, for the metrics pool-stats collector.
func (db *DB) SQL() *sql.DB {
	return db.conn
}

// storeError turns a timed-out pool checkout or query into an Unavailable
// app error and leaves everything else alone.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperror.Unavailable("database did not respond in time"), err)
	}
	return err
}
