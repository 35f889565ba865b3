package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tiershift/internal/ledger"

	"github.com/lib/pq"
)

// Column is one attribute of a scripted table
type Column struct {
	Name     string
	Type     string
	NotNull  bool
	Default  string
	Identity string
}

// Named is a constraint or index with its server-rendered definition
type Named struct {
	Name       string
	Definition string
}

// Definition is the structural shape of a table. It carries no tablespace
// information, so relocating an object never changes its rendering.
type Definition struct {
	Object      ledger.ObjectID
	Columns     []Column
	Constraints []Named
	Indexes     []Named
}

// Script captures the current definition of obj as deterministic DDL
func (p *Postgres) Script(ctx context.Context, obj ledger.ObjectID) (string, error) {
	def, err := p.Describe(ctx, obj)
	if err != nil {
		return "", err
	}
	return def.Render(), nil
}

// Describe reads columns in ordinal order, constraints and standalone
// indexes by name.
func (p *Postgres) Describe(ctx context.Context, obj ledger.ObjectID) (*Definition, error) {
	oid, err := p.relationOID(ctx, p.db, obj)
	if err != nil {
		return nil, err
	}
	def := &Definition{Object: obj}

	rows, err := p.db.QueryContext(ctx, `
		SELECT a.attname,
		       format_type(a.atttypid, a.atttypmod),
		       a.attnotnull,
		       COALESCE(pg_get_expr(d.adbin, d.adrelid), ''),
		       a.attidentity::text
		FROM pg_attribute a
		LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`, oid)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", obj, err)
	}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &c.Default, &c.Identity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		def.Columns = append(def.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	def.Constraints, err = p.named(ctx, `
		SELECT conname, pg_get_constraintdef(oid, true)
		FROM pg_constraint
		WHERE conrelid = $1
		ORDER BY conname
	`, oid)
	if err != nil {
		return nil, fmt.Errorf("failed to query constraints of %s: %w", obj, err)
	}

	def.Indexes, err = p.named(ctx, `
		SELECT i.relname, pg_get_indexdef(x.indexrelid)
		FROM pg_index x
		JOIN pg_class i ON i.oid = x.indexrelid
		LEFT JOIN pg_constraint con ON con.conindid = x.indexrelid AND con.conrelid = x.indrelid
		WHERE x.indrelid = $1 AND con.oid IS NULL
		ORDER BY i.relname
	`, oid)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes of %s: %w", obj, err)
	}

	return def, nil
}

func (p *Postgres) named(ctx context.Context, query string, args ...any) ([]Named, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Named
	for rows.Next() {
		var n Named
		var def sql.NullString
		if err := rows.Scan(&n.Name, &def); err != nil {
			return nil, err
		}
		n.Definition = def.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// Render serializes the definition. Equal definitions always render to
// identical text.
func (d *Definition) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualified(d.Object.Namespace, d.Object.Name))

	lines := make([]string, 0, len(d.Columns)+len(d.Constraints))
	for _, c := range d.Columns {
		line := pq.QuoteIdentifier(c.Name) + " " + c.Type
		switch c.Identity {
		case "a":
			line += " GENERATED ALWAYS AS IDENTITY"
		case "d":
			line += " GENERATED BY DEFAULT AS IDENTITY"
		}
		if c.NotNull {
			line += " NOT NULL"
		}
		if c.Default != "" {
			line += " DEFAULT " + c.Default
		}
		lines = append(lines, line)
	}
	for _, con := range d.Constraints {
		lines = append(lines, "CONSTRAINT "+pq.QuoteIdentifier(con.Name)+" "+con.Definition)
	}
	if len(lines) > 0 {
		b.WriteString("    ")
		b.WriteString(strings.Join(lines, ",\n    "))
		b.WriteString("\n")
	}
	b.WriteString(");\n")

	for _, idx := range d.Indexes {
		b.WriteString(idx.Definition)
		b.WriteString(";\n")
	}
	return b.String()
}
