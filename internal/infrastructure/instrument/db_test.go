package instrument

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

var errQueryFailed = errors.New("no such table: missing")

// slowConnector hands out connections whose statements take delay.
type slowConnector struct{ delay time.Duration }

func (c slowConnector) Connect(context.Context) (driver.Conn, error) { return &slowConn{delay: c.delay}, nil }
func (c slowConnector) Driver() driver.Driver                       { return slowDriver{c} }

type slowDriver struct{ c slowConnector }

func (d slowDriver) Open(string) (driver.Conn, error) { return &slowConn{delay: d.c.delay}, nil }

type slowConn struct{ delay time.Duration }

func (c *slowConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (c *slowConn) Close() error                        { return nil }
func (c *slowConn) Begin() (driver.Tx, error)           { return slowTx{}, nil }

func (c *slowConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	time.Sleep(c.delay)
	if strings.Contains(query, "missing") {
		return nil, errQueryFailed
	}
	return &countRows{}, nil
}

func (c *slowConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	time.Sleep(c.delay)
	if strings.Contains(query, "missing") {
		return nil, errQueryFailed
	}
	return driver.RowsAffected(3), nil
}

type slowTx struct{}

func (slowTx) Commit() error   { return nil }
func (slowTx) Rollback() error { return nil }

type countRows struct{ done bool }

func (r *countRows) Columns() []string { return []string{"count"} }
func (r *countRows) Close() error      { return nil }
func (r *countRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(7)
	return nil
}

func newSlowDB(t *testing.T, tracer *tracing.Tracer, delay time.Duration) *DB {
	t.Helper()
	db := WrapDB(sql.OpenDB(slowConnector{delay: delay}), tracer, WithDBSystem("sqlite"))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBQueryRowErrors(t *testing.T) {
	tracer, rec := newTestTracer()
	db := newSlowDB(t, tracer, 0)

	var n int
	err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM missing").Scan(&n)
	assert.ErrorIs(t, err, errQueryFailed)

	span := rec.byName(t, "SELECT")
	assert.Equal(t, codes.Error, span.Status.Code)

	// A type mismatch only shows up at Scan, after the span has ended.
	var s struct{}
	assert.Error(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM users").Scan(&s))
	recs := rec.Records()
	assert.Equal(t, codes.Ok, recs[len(recs)-1].Status.Code)
}

func TestDBQuerySpanUnderRequest(t *testing.T) {
	tracer, rec := newTestTracer()
	db := newSlowDB(t, tracer, 12*time.Millisecond)

	parent, ctx := tracer.StartSpan(context.Background(), "GET /users/count", tracing.WithKind(trace.SpanKindServer))
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n))
	parent.End()
	assert.Equal(t, 7, n)

	span := rec.byName(t, "SELECT")
	assert.Equal(t, trace.SpanKindClient, span.Kind)
	assert.Equal(t, parent.SpanID(), span.ParentSpanID)
	assert.Equal(t, parent.TraceID(), span.TraceID)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.Equal(t, "SELECT", attr(t, span, tracing.AttrDBOperation).AsString())
	assert.Equal(t, "sqlite", attr(t, span, tracing.AttrDBSystem).AsString())
	assert.Equal(t, "SELECT COUNT(*) FROM users", attr(t, span, tracing.AttrDBStatement).AsString())

	elapsed := attr(t, span, tracing.AttrDBExecutionTimeMS).AsFloat64()
	assert.GreaterOrEqual(t, elapsed, 12.0)
	assert.Less(t, elapsed, 100.0)
}

func TestDBExecRecordsRows(t *testing.T) {
	tracer, rec := newTestTracer()
	db := newSlowDB(t, tracer, 0)

	res, err := db.ExecContext(context.Background(), "update users set active = ?", true)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(3), n)

	span := rec.only(t)
	assert.Equal(t, "UPDATE", span.Name)
	assert.Equal(t, int64(3), attr(t, span, tracing.AttrDBRows).AsInt64())
}

func TestDBErrorIsReturnedUnchanged(t *testing.T) {
	tracer, rec := newTestTracer()
	db := newSlowDB(t, tracer, 0)

	_, err := db.QueryContext(context.Background(), "SELECT * FROM missing")
	assert.ErrorIs(t, err, errQueryFailed)

	span := rec.only(t)
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.True(t, hasException(span))
	_, hasTiming := span.Attribute(tracing.AttrDBExecutionTimeMS)
	assert.True(t, hasTiming)
}

func TestDBTransaction(t *testing.T) {
	tracer, rec := newTestTracer()
	db := newSlowDB(t, tracer, 0)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", "ada")
	require.NoError(t, err)
	rows, err := tx.QueryContext(ctx, "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	rows.Close()
	var n int
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n))
	require.NoError(t, tx.Commit())

	names := []string{}
	for _, r := range rec.Records() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"INSERT", "SELECT", "SELECT"}, names)
}

func TestOperation(t *testing.T) {
	tests := map[string]string{
		"SELECT 1":                             "SELECT",
		"  insert into t values (1)":           "INSERT",
		"(select 1) union (select 2)":          "SELECT",
		"":                                     "UNKNOWN",
		"   ":                                  "UNKNOWN",
		"with x as (select 1) select * from x": "WITH",
	}
	for query, want := range tests {
		assert.Equal(t, want, Operation(query), query)
	}
}

func TestTruncateStatement(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, TruncateStatement(short))

	long := strings.Repeat("é", MaxStatementLength+500)
	got := TruncateStatement(long)
	assert.Equal(t, MaxStatementLength, len([]rune(got)))
	assert.True(t, strings.HasPrefix(long, got))
}

func TestDBSystem(t *testing.T) {
	tests := map[string]string{
		"sqlite":     "sqlite",
		"sqlite3":    "sqlite",
		"postgres":   "postgresql",
		"pgx":        "postgresql",
		"mysql":      "mysql",
		"sqlserver":  "mssql",
		"":           "unknown",
		"clickhouse": "clickhouse",
	}
	for driverName, want := range tests {
		assert.Equal(t, want, DBSystem(driverName), driverName)
	}
}
