package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/rs/zerolog"
)

// Config selects and tunes the relational store.
type Config struct {
	Driver       string `yaml:"driver"` // sqlite3 | postgres
	DSN          string `yaml:"dsn"`    // postgres connection string
	Path         string `yaml:"path"`   // sqlite database file
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// Querier is the query surface shared by *DB and *Tx. Repositories accept it so that
// callers can compose several operations inside one transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Dialect() Dialect
	InTransaction() bool
}

// DB wraps sql.DB with the dialect of the underlying engine.
type DB struct {
	*sql.DB
	dialect Dialect
	path    string
	logger  *zerolog.Logger
}

// Open connects to the configured engine and applies the schema.
func Open(ctx context.Context, cfg Config, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var (
		sqlDB   *sql.DB
		dialect Dialect
		err     error
	)

	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite, "sqlite":
		dialect = SQLite
		if cfg.Path == "" {
			cfg.Path = "data/tablebook.db"
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// IMMEDIATE transactions take the write lock at BEGIN so concurrent writers queue
		// behind busy_timeout instead of failing on upgrade.
		dsn := cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
		sqlDB, err = sql.Open(DriverSQLite, dsn)
	case DriverPostgres, "pgx":
		dialect = Postgres
		if cfg.DSN == "" {
			return nil, errors.New("database.dsn is required for postgres")
		}
		sqlDB, err = sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, dialect: dialect, path: cfg.Path, logger: logger}
	if err := db.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", dialect.Name()).Msg("Database initialized")
	return db, nil
}

func (db *DB) Dialect() Dialect { return db.dialect }

func (db *DB) InTransaction() bool { return false }

// Path is the sqlite database file, empty for postgres.
func (db *DB) Path() string {
	if db.dialect != SQLite {
		return ""
	}
	return db.path
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.dialect.Rebind(query), args...)
}

// Tx is a transaction bound to the dialect of its DB.
type Tx struct {
	*sql.Tx
	dialect Dialect
}

func (tx *Tx) Dialect() Dialect { return tx.dialect }

func (tx *Tx) InTransaction() bool { return true }

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.Tx.QueryContext(ctx, tx.dialect.Rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, tx.dialect.Rebind(query), args...)
}

// InTx runs fn inside a transaction. strict selects serializable isolation, otherwise
// the engine default (read committed) is used. fn's error or panic rolls back; a
// commit failure is returned as is so callers can classify serialization aborts.
func (db *DB) InTx(ctx context.Context, strict bool, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.BeginTx(ctx, db.dialect.TxOptions(strict))
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx, dialect: db.dialect}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (db *DB) Close() error {
	return db.DB.Close()
}
