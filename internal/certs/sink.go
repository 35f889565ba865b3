package certs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the sink needs
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, rows pgx.CopyFromSource) (int64, error)
}

var sinkColumns = []string{
	"host", "port", "position", "subject", "issuer", "serial",
	"not_before", "not_after", "fingerprint_sha256", "dns_names", "collected_at",
}

// Sink writes certificate records to a table
type Sink struct {
	db    DB
	table pgx.Identifier
}

// NewSink creates a sink writing to table
func NewSink(db DB, table pgx.Identifier) *Sink {
	return &Sink{db: db, table: table}
}

// EnsureTable creates the sink table if it does not exist
func (s *Sink) EnsureTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table.Sanitize() + ` (
	host               text        NOT NULL,
	port               integer     NOT NULL,
	position           integer     NOT NULL,
	subject            text        NOT NULL,
	issuer             text        NOT NULL,
	serial             text        NOT NULL,
	not_before         timestamptz NOT NULL,
	not_after          timestamptz NOT NULL,
	fingerprint_sha256 text        NOT NULL,
	dns_names          text[],
	collected_at       timestamptz NOT NULL
)`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table.Sanitize(), err)
	}
	return nil
}

// Write bulk-inserts records and returns the number of rows written
func (s *Sink) Write(ctx context.Context, records []CertRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	n, err := s.db.CopyFrom(ctx, s.table, sinkColumns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{
			r.Host, r.Port, r.Position, r.Subject, r.Issuer, r.Serial,
			r.NotBefore, r.NotAfter, r.Fingerprint, r.DNSNames, r.CollectedAt,
		}, nil
	}))
	if err != nil {
		return n, fmt.Errorf("failed to write certificates to %s: %w", s.table.Sanitize(), err)
	}
	return n, nil
}
