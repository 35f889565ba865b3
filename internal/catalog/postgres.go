// Package catalog talks to the PostgreSQL database whose tables are being
// relocated: discovery, definition scripting, and tablespace moves.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tiershift/internal/ledger"
	"tiershift/internal/relocate"

	"github.com/lib/pq"
)

// Table is a discovered relocation candidate
type Table struct {
	ID        ledger.ObjectID
	SizeBytes int64
	Tier      string
}

// Discoverer enumerates relocation candidates
type Discoverer interface {
	Discover(ctx context.Context) ([]Table, error)
}

// Scripter captures an object's structural definition as deterministic text
type Scripter interface {
	Script(ctx context.Context, obj ledger.ObjectID) (string, error)
}

// Postgres implements discovery, scripting and relocate.Engine over lib/pq
type Postgres struct {
	db          *sql.DB
	defaultTier string
}

var (
	_ relocate.Engine = (*Postgres)(nil)
	_ Discoverer      = (*Postgres)(nil)
	_ Scripter        = (*Postgres)(nil)
)

// Open connects to the database identified by dsn
func Open(ctx context.Context, dsn, defaultTier string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, defaultTier), nil
}

// New wraps an existing connection pool
func New(db *sql.DB, defaultTier string) *Postgres {
	if defaultTier == "" {
		defaultTier = relocate.DefaultTier
	}
	return &Postgres{db: db, defaultTier: defaultTier}
}

// Close closes the connection pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Discover lists user tables with their total on-disk size
func (p *Postgres) Discover(ctx context.Context) ([]Table, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT n.nspname, c.relname, pg_total_relation_size(c.oid), COALESCE(ts.spcname, $1)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_tablespace ts ON ts.oid = c.reltablespace
		WHERE c.relkind = 'r'
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		  AND n.nspname NOT LIKE 'pg_toast%'
		  AND n.nspname NOT LIKE 'pg_temp%'
		ORDER BY n.nspname, c.relname
	`, p.defaultTier)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.ID.Namespace, &t.ID.Name, &t.SizeBytes, &t.Tier); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// relationOID resolves a table to its oid, or relocate.ErrObjectNotFound
func (p *Postgres) relationOID(ctx context.Context, q querier, obj ledger.ObjectID) (int64, error) {
	var oid int64
	err := q.QueryRowContext(ctx, `
		SELECT c.oid
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
	`, obj.Namespace, obj.Name).Scan(&oid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", relocate.ErrObjectNotFound, obj)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", obj, err)
	}
	return oid, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// qualified renders a schema-qualified, quoted identifier
func qualified(namespace, name string) string {
	return pq.QuoteIdentifier(namespace) + "." + pq.QuoteIdentifier(name)
}

// classify maps PostgreSQL error codes onto the relocation error kinds
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code.Name() {
	case "undefined_object":
		return fmt.Errorf("%w: %s", relocate.ErrTierNotFound, pqErr.Message)
	case "undefined_table":
		return fmt.Errorf("%w: %s", relocate.ErrObjectNotFound, pqErr.Message)
	}
	return err
}
