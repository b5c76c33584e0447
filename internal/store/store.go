// Package store implements the metric, job, and alarm/incident persistence
// contracts over raw SQL via sqlx, following the base-store pattern: a
// shared transaction-in-context helper so every *Store can run either
// standalone or nested inside a caller's transaction without its method
// bodies knowing which.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fieldops/controlplane/internal/platform/logging"
)

type txKey struct{}

// DB wraps a *sqlx.DB with the transaction-in-context helper every Store
// embeds.
type DB struct {
	*sqlx.DB
	logger *logging.Logger
}

// Open connects to dsn and verifies it with a ping.
func Open(dsn string, logger *logging.Logger) (*DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &DB{DB: db, logger: logger}, nil
}

// queryer is the subset of *sqlx.DB / *sqlx.Tx every Store method needs;
// WithTx and execer let a Store run against either transparently.
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// WithTx runs fn inside a new transaction, committing on success and
// rolling back on error or panic. Nested calls (ctx already carrying a
// transaction) reuse the existing transaction rather than starting a new
// one, so a Store method is safe to call standalone or as part of a larger
// unit of work.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

func (db *DB) queryerFrom(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.DB
}

// recordQuery logs and times a store operation, following the teacher's
// LogDatabaseQuery call shape.
func (db *DB) recordQuery(ctx context.Context, op string, start time.Time, err error) {
	if db.logger == nil {
		return
	}
	db.logger.LogStoreWrite(ctx, op, 1, time.Since(start), err)
}

// ErrNoRows re-exports sql.ErrNoRows for callers that need to distinguish
// "no row" from other query failures without importing database/sql.
var ErrNoRows = sql.ErrNoRows
