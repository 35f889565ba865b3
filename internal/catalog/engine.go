package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tiershift/internal/ledger"
	"tiershift/internal/relocate"

	"github.com/lib/pq"
)

// TierExists reports whether a tablespace with the given name exists
func (p *Postgres) TierExists(ctx context.Context, tier string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tablespace WHERE spcname = $1)`, tier,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up tablespace %s: %w", tier, err)
	}
	return exists, nil
}

// Placement reads the tablespaces of the heap, the access path and the
// temporary index. Relations on the database default report defaultTier.
func (p *Postgres) Placement(ctx context.Context, obj ledger.ObjectID, tempIndex string) (*relocate.Placement, error) {
	oid, err := p.relationOID(ctx, p.db, obj)
	if err != nil {
		return nil, err
	}

	var placement relocate.Placement
	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(ts.spcname, $2)
		FROM pg_class c
		LEFT JOIN pg_tablespace ts ON ts.oid = c.reltablespace
		WHERE c.oid = $1
	`, oid, p.defaultTier).Scan(&placement.TableTier)
	if err != nil {
		return nil, fmt.Errorf("failed to read tablespace of %s: %w", obj, err)
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT i.relname, COALESCE(ts.spcname, $2)
		FROM pg_index x
		JOIN pg_class i ON i.oid = x.indexrelid
		LEFT JOIN pg_tablespace ts ON ts.oid = i.reltablespace
		WHERE x.indrelid = $1 AND (x.indisprimary OR x.indisunique)
		ORDER BY x.indisprimary DESC, i.relname
		LIMIT 1
	`, oid, p.defaultTier).Scan(&placement.AccessPath, &placement.AccessPathTier)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read access path of %s: %w", obj, err)
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT a.attname
		FROM pg_attribute a
		WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
		LIMIT 1
	`, oid).Scan(&placement.KeyColumn)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read columns of %s: %w", obj, err)
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(ts.spcname, $3)
		FROM pg_class i
		JOIN pg_namespace n ON n.oid = i.relnamespace
		LEFT JOIN pg_tablespace ts ON ts.oid = i.reltablespace
		WHERE n.nspname = $1 AND i.relname = $2 AND i.relkind = 'i'
	`, obj.Namespace, tempIndex, p.defaultTier).Scan(&placement.TempIndexTier)
	switch {
	case err == nil:
		placement.TempIndex = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to look up temporary index of %s: %w", obj, err)
	}

	return &placement, nil
}

// MoveTable rewrites the heap into tier
func (p *Postgres) MoveTable(ctx context.Context, obj ledger.ObjectID, tier string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s SET TABLESPACE %s", qualified(obj.Namespace, obj.Name), pq.QuoteIdentifier(tier))
	return p.exec(ctx, stmt)
}

// MoveIndex rewrites an index into tier
func (p *Postgres) MoveIndex(ctx context.Context, obj ledger.ObjectID, index, tier string) error {
	stmt := fmt.Sprintf("ALTER INDEX %s SET TABLESPACE %s", qualified(obj.Namespace, index), pq.QuoteIdentifier(tier))
	return p.exec(ctx, stmt)
}

// RebuildIndex rebuilds an index into tier using up to parallelism
// maintenance workers. The setting is scoped to one pinned session.
func (p *Postgres) RebuildIndex(ctx context.Context, obj ledger.ObjectID, index, tier string, parallelism int) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET max_parallel_maintenance_workers = %d", parallelism)); err != nil {
		return classify(err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "RESET max_parallel_maintenance_workers")
	}()

	stmt := fmt.Sprintf("REINDEX (TABLESPACE %s) INDEX %s", pq.QuoteIdentifier(tier), qualified(obj.Namespace, index))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return classify(err)
	}
	return nil
}

// CreateIndex builds a plain btree index on column in tier
func (p *Postgres) CreateIndex(ctx context.Context, obj ledger.ObjectID, index, column, tier string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s) TABLESPACE %s",
		pq.QuoteIdentifier(index),
		qualified(obj.Namespace, obj.Name),
		pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(tier),
	)
	return p.exec(ctx, stmt)
}

// DropIndex drops an index if it exists
func (p *Postgres) DropIndex(ctx context.Context, obj ledger.ObjectID, index string) error {
	return p.exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", qualified(obj.Namespace, index)))
}

func (p *Postgres) exec(ctx context.Context, stmt string) error {
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return classify(err)
	}
	return nil
}
