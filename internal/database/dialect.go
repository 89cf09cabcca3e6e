package database

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	name string
}

var (
	SQLite   = Dialect{name: DriverSQLite}
	Postgres = Dialect{name: DriverPostgres}
)

func (d Dialect) Name() string { return d.name }

// Rebind rewrites '?' placeholders into the engine's positional form.
func (d Dialect) Rebind(query string) string {
	if d.name != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ForUpdate returns the row-locking suffix for reads inside a transaction.
// SQLite transactions are opened IMMEDIATE and already hold the database write lock.
func (d Dialect) ForUpdate(inTx bool) string {
	if !inTx || d.name != DriverPostgres {
		return ""
	}
	return " FOR UPDATE"
}

// TxOptions maps strict (serializable) and default (read committed) isolation.
func (d Dialect) TxOptions(strict bool) *sql.TxOptions {
	if d.name != DriverPostgres {
		return nil
	}
	if strict {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

func (d Dialect) schemaReplacer() *strings.Replacer {
	if d.name == DriverPostgres {
		return strings.NewReplacer("{{timestamp}}", "TIMESTAMPTZ", "{{true}}", "TRUE", "{{false}}", "FALSE")
	}
	return strings.NewReplacer("{{timestamp}}", "DATETIME", "{{true}}", "1", "{{false}}", "0")
}

// Postgres SQLSTATE codes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
)

// IsSerializationFailure reports whether the engine aborted a transaction because it
// conflicted with a concurrent one.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// IsUniqueViolation reports whether a unique constraint rejected a write.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
