// Package tablecopy streams the result of a query on one PostgreSQL
// connection into a table on another using the COPY protocol.
package tablecopy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Source runs the query whose rows are copied. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx satisfy it.
type Source interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Sink receives rows through COPY FROM
type Sink interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, rows pgx.CopyFromSource) (int64, error)
}

// Request describes one copy
type Request struct {
	SourceQuery string
	Destination pgx.Identifier
	BatchSize   int
	// Timeout bounds the whole copy; zero means no limit
	Timeout time.Duration
}

// ErrEmptyQuery is returned when the request has no source query
var ErrEmptyQuery = errors.New("source query is empty")

// Copy runs req.SourceQuery on src and writes its rows to req.Destination
// on dst in batches of req.BatchSize. Destination columns are matched to
// the query's result column names. It returns the number of rows written;
// on error the count covers the batches already flushed.
func Copy(ctx context.Context, src Source, dst Sink, req Request, logger *zap.Logger) (int64, error) {
	if strings.TrimSpace(req.SourceQuery) == "" {
		return 0, ErrEmptyQuery
	}
	if len(req.Destination) == 0 {
		return 0, fmt.Errorf("destination table is required")
	}
	if req.BatchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive, got %d", req.BatchSize)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	rows, err := src.Query(ctx, req.SourceQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to run source query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var copied int64
	batch := make([][]any, 0, req.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := dst.CopyFrom(ctx, req.Destination, columns, pgx.CopyFromRows(batch))
		copied += n
		if err != nil {
			return fmt.Errorf("failed to copy batch into %s: %w", req.Destination.Sanitize(), err)
		}
		logger.Debug("Copied batch",
			zap.String("destination", req.Destination.Sanitize()),
			zap.Int64("rows", n),
			zap.Int64("total", copied),
		)
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return copied, fmt.Errorf("failed to read source row: %w", err)
		}
		batch = append(batch, values)
		if len(batch) == req.BatchSize {
			if err := flush(); err != nil {
				return copied, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return copied, fmt.Errorf("failed to read source rows: %w", err)
	}
	if err := flush(); err != nil {
		return copied, err
	}

	return copied, nil
}
