package tablecopy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
	err     error
	closed  bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }
func (r *fakeRows) Scan(...any) error             { return errors.New("not supported") }
func (r *fakeRows) RawValues() [][]byte           { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.columns))
	for i, c := range r.columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return fields
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.pos-1], nil
}

type fakeSource struct {
	rows  *fakeRows
	err   error
	query string
	ctx   context.Context
}

func (s *fakeSource) Query(ctx context.Context, sql string, _ ...any) (pgx.Rows, error) {
	s.query, s.ctx = sql, ctx
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type fakeSink struct {
	table   pgx.Identifier
	columns []string
	batches [][][]any
	failAt  int
}

func (s *fakeSink) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	s.table, s.columns = table, columns
	if s.failAt > 0 && len(s.batches)+1 == s.failAt {
		return 0, errors.New("disk full")
	}
	var batch [][]any
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		batch = append(batch, values)
	}
	s.batches = append(s.batches, batch)
	return int64(len(batch)), src.Err()
}

func rowsOf(n int) *fakeRows {
	r := &fakeRows{columns: []string{"id", "name"}}
	for i := 0; i < n; i++ {
		r.data = append(r.data, []any{int64(i), "row"})
	}
	return r
}

func TestCopy_Batches(t *testing.T) {
	src := &fakeSource{rows: rowsOf(5)}
	dst := &fakeSink{}

	n, err := Copy(context.Background(), src, dst, Request{
		SourceQuery: "SELECT id, name FROM t",
		Destination: pgx.Identifier{"archive", "t"},
		BatchSize:   2,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(5), n)
	assert.Equal(t, "SELECT id, name FROM t", src.query)
	assert.Equal(t, pgx.Identifier{"archive", "t"}, dst.table)
	assert.Equal(t, []string{"id", "name"}, dst.columns)
	require.Len(t, dst.batches, 3)
	assert.Len(t, dst.batches[0], 2)
	assert.Len(t, dst.batches[1], 2)
	assert.Len(t, dst.batches[2], 1)
	assert.Equal(t, []any{int64(4), "row"}, dst.batches[2][0])
	assert.True(t, src.rows.closed)
}

func TestCopy_EmptyResult(t *testing.T) {
	dst := &fakeSink{}
	n, err := Copy(context.Background(), &fakeSource{rows: rowsOf(0)}, dst, Request{
		SourceQuery: "SELECT 1 WHERE false",
		Destination: pgx.Identifier{"t"},
		BatchSize:   10,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, dst.batches)
}

func TestCopy_SinkFailureReportsFlushedRows(t *testing.T) {
	dst := &fakeSink{failAt: 2}
	n, err := Copy(context.Background(), &fakeSource{rows: rowsOf(5)}, dst, Request{
		SourceQuery: "SELECT * FROM t",
		Destination: pgx.Identifier{"t"},
		BatchSize:   2,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int64(2), n)
}

func TestCopy_SourceErrors(t *testing.T) {
	req := Request{SourceQuery: "SELECT * FROM t", Destination: pgx.Identifier{"t"}, BatchSize: 2}

	_, err := Copy(context.Background(), &fakeSource{err: errors.New("no such table")}, &fakeSink{}, req, zap.NewNop())
	assert.ErrorContains(t, err, "no such table")

	rows := rowsOf(1)
	rows.err = errors.New("connection reset")
	n, err := Copy(context.Background(), &fakeSource{rows: rows}, &fakeSink{}, req, zap.NewNop())
	assert.ErrorContains(t, err, "connection reset")
	assert.Zero(t, n)
}

func TestCopy_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	_, err := Copy(ctx, &fakeSource{}, &fakeSink{}, Request{Destination: pgx.Identifier{"t"}, BatchSize: 1}, zap.NewNop())
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = Copy(ctx, &fakeSource{}, &fakeSink{}, Request{SourceQuery: "SELECT 1", BatchSize: 1}, zap.NewNop())
	assert.Error(t, err)

	_, err = Copy(ctx, &fakeSource{}, &fakeSink{}, Request{SourceQuery: "SELECT 1", Destination: pgx.Identifier{"t"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestCopy_TimeoutBoundsQuery(t *testing.T) {
	src := &fakeSource{rows: rowsOf(1)}
	_, err := Copy(context.Background(), src, &fakeSink{}, Request{
		SourceQuery: "SELECT 1",
		Destination: pgx.Identifier{"t"},
		BatchSize:   1,
		Timeout:     time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	deadline, ok := src.ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}
