// Package db opens the Postgres pool and holds the keyset cursor helpers the
// account repositories page with.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/config"
)

// ErrNotConfigured is returned by Connect when no DSN is set. Callers fall
// back to memory mode.
var ErrNotConfigured = errors.New("missing DATABASE_URL or DB_HOST")

// Connect opens a pgx-backed *sql.DB and pings it within five seconds.
func Connect(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNotConfigured
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Exec runs DDL statements in order, stopping at the first failure.
func Exec(ctx context.Context, db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InTx runs fn inside a transaction and commits when it returns nil.
func InTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LockKey takes a transaction-scoped advisory lock on key. Writers that
// check a per-customer cap before inserting hold it so the count cannot go
// stale before the insert commits.
func LockKey(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Explain returns the JSON plan for query, decoded when possible.
func Explain(ctx context.Context, db *sql.DB, query string, args ...any) (any, error) {
	var raw []byte
	if err := db.QueryRowContext(ctx, "EXPLAIN (ANALYZE FALSE, FORMAT JSON) "+query, args...).Scan(&raw); err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw), nil
	}
	return parsed, nil
}

// ---------------------------------------------------------------------------
// Cursor helpers
// ---------------------------------------------------------------------------

// ParseCursor decodes "<unixnano>:<id>". An empty cursor yields the zero time.
func ParseCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", apperr.BadRequest("invalid cursor format")
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", apperr.BadRequest("invalid cursor timestamp")
	}
	if parts[1] == "" {
		return time.Time{}, "", apperr.BadRequest("invalid cursor id")
	}
	return time.Unix(0, n).UTC(), parts[1], nil
}

func EncodeCursor(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().UnixNano(), id)
}

// Before reports whether (ts, id) sorts after the cursor position in
// (ts DESC, id DESC) order.
func Before(ts time.Time, id string, cursorTime time.Time, cursorID string) bool {
	return ts.Before(cursorTime) || (ts.Equal(cursorTime) && id < cursorID)
}

// NilIfEmpty maps "" to SQL NULL.
func NilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
