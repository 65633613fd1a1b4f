// Package store is the database access layer shared by all three
// terminals: a pooled pgx connection for the hot, latency-sensitive paths
// (command claiming, wide-row inserts, audit rows) and a GORM-modeled
// layer for the comparatively low-frequency, relationally-shaped recipe
// catalog reads.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pooled Postgres connection with helper methods over pgx,
// used directly by every repository in this package rather than through a
// generic ORM for anything on a terminal's hot path.
type DB struct {
	pool *pgxpool.Pool
}

// Open creates a pooled connection, pinging once to fail fast on a bad DSN
// rather than deferring the error to the first query.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the pool. Safe to call once during terminal shutdown.
func (db *DB) Close() {
	db.pool.Close()
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := db.pool.Exec(ctx, sql, args...)
	return err
}

// ExecRows runs a statement and returns the number of rows affected, used
// by the atomic command-claim update to detect a lost race (0 rows).
func (db *DB) ExecRows(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	tag, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query runs a statement returning rows; the caller must Close() them.
func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow runs a statement returning at most one row.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Pool exposes the underlying pgxpool for callers needing transactions or
// LISTEN/NOTIFY connections (see listener.go).
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
