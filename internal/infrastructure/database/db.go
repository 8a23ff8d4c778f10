package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
)

// Executor is the query surface shared by DB and Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB wraps *sql.DB so every statement is timed, counted in metrics and
// recorded in the request's Profile when one is attached to the context.
// sql.DB is already safe for concurrent use, so no extra locking is added.
type DB struct {
	db *sql.DB
}

func New(db *sql.DB) *DB {
	return &DB{db: db}
}

func observe(ctx context.Context, op, query string, start time.Time) {
	d := time.Since(start)
	metrics.ObserveQuery(op, d)
	if p := ProfileFrom(ctx); p != nil {
		p.Record(query, d)
	}
}

// QueryContext executes a SELECT query with context
func (c *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer observe(ctx, "query", query, time.Now())
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a SELECT query that returns at most one row
func (c *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer observe(ctx, "query", query, time.Now())
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext executes an INSERT, UPDATE, or DELETE query with context
func (c *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer observe(ctx, "exec", query, time.Now())
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a new transaction with context
func (c *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *DB) PingContext(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// SQL returns the underlying *sql.DB, for tools such as the migrator.
func (c *DB) SQL() *sql.DB {
	return c.db
}

// Close closes the database connection
func (c *DB) Close() error {
	return c.db.Close()
}

// Tx is a transaction whose statements are observed like DB's.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer observe(ctx, "query", query, time.Now())
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer observe(ctx, "query", query, time.Now())
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer observe(ctx, "exec", query, time.Now())
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
