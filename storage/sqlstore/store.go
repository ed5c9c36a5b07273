// Package sqlstore persists readings, threshold limits and incidents through
// database/sql. PostgreSQL is reached via pgx, SQLite via the pure-Go modernc
// driver.
package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/pkg/retry"
	"github.com/Kent0008/breakers-nurik/storage"
)

const component = "sqlstore"

// Config controls the connection pool and start-up behaviour.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	Connect         retry.Config
}

// Store implements storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", component, "dialect", string(dialect)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open connects using cfg, waits for the database to answer a ping and
// creates the schema when AutoMigrate is set.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, errors.WrapFatal(err, component, "Open", "resolve dialect")
	}
	if cfg.DSN == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, component, "Open", "dsn is required")
	}

	db, err := sql.Open(dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, errors.WrapFatal(err, component, "Open", "open database")
	}

	maxOpen := cfg.MaxOpenConns
	if dialect == SQLite && maxOpen == 0 {
		// single writer avoids SQLITE_BUSY under concurrent ingest
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db, dialect, logger)

	connect := cfg.Connect
	connect.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("Database not ready, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, connect, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}); err != nil {
		db.Close()
		return nil, errors.WrapTransient(err, component, "Open", "ping database")
	}

	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	s.logger.Info("Database connected", "max_open_conns", maxOpen)
	return s, nil
}

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapFatal(err, component, "Migrate", "apply schema")
		}
	}
	s.logger.Debug("Schema applied")
	return nil
}

// Ping checks connectivity; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WrapTransient(err, component, "Ping", "ping database")
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}
