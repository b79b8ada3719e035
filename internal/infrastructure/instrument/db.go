package instrument

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

// MaxStatementLength caps the recorded db.statement in characters.
const MaxStatementLength = 1000

// DB wraps *sql.DB so every statement runs inside a CLIENT span.
type DB struct {
	db     *sql.DB
	tracer *tracing.Tracer
	system string
}

// OpenDB opens driverName/dsn and wraps it. db.system is derived from the
// driver name unless WithDBSystem is given.
func OpenDB(driverName, dsn string, tracer *tracing.Tracer, opts ...Option) (*DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithDBSystem(DBSystem(driverName))}, opts...)
	return WrapDB(db, tracer, opts...), nil
}

// WrapDB wraps an open database.
func WrapDB(db *sql.DB, tracer *tracing.Tracer, opts ...Option) *DB {
	cfg := newConfig(opts)
	system := cfg.dbSystem
	if system == "" {
		system = "unknown"
	}
	return &DB{db: db, tracer: tracer, system: system}
}

// DBSystem maps a database/sql driver name to a db.system value.
func DBSystem(driverName string) string {
	switch d := strings.ToLower(driverName); {
	case strings.Contains(d, "sqlite"):
		return "sqlite"
	case d == "postgres" || d == "pgx" || strings.Contains(d, "postgres"):
		return "postgresql"
	case strings.Contains(d, "mysql"):
		return "mysql"
	case d == "sqlserver" || d == "mssql":
		return "mssql"
	case d == "":
		return "unknown"
	default:
		return d
	}
}

// Raw returns the wrapped *sql.DB.
func (d *DB) Raw() *sql.DB { return d.db }

// System returns the db.system value recorded on spans.
func (d *DB) System() string { return d.system }

func (d *DB) PingContext(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return traceExec(ctx, d.tracer, d.system, query, func(ctx context.Context) (sql.Result, error) {
		return d.db.ExecContext(ctx, query, args...)
	})
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return traceQuery(ctx, d.tracer, d.system, query, func(ctx context.Context) (*sql.Rows, error) {
		return d.db.QueryContext(ctx, query, args...)
	})
}

// QueryRowContext traces the query. A failed query is recorded on the span;
// sql.ErrNoRows and scan errors surface from Row.Scan after the span has
// ended and are not.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	var row *sql.Row
	_, _ = traceQuery(ctx, d.tracer, d.system, query, func(ctx context.Context) (*sql.Rows, error) {
		row = d.db.QueryRowContext(ctx, query, args...)
		return nil, row.Err()
	})
	return row
}

// BeginTx starts a transaction whose statements are traced.
func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, tracer: d.tracer, system: d.system}, nil
}

// Tx wraps *sql.Tx.
type Tx struct {
	tx     *sql.Tx
	tracer *tracing.Tracer
	system string
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return traceExec(ctx, t.tracer, t.system, query, func(ctx context.Context) (sql.Result, error) {
		return t.tx.ExecContext(ctx, query, args...)
	})
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return traceQuery(ctx, t.tracer, t.system, query, func(ctx context.Context) (*sql.Rows, error) {
		return t.tx.QueryContext(ctx, query, args...)
	})
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	var row *sql.Row
	_, _ = traceQuery(ctx, t.tracer, t.system, query, func(ctx context.Context) (*sql.Rows, error) {
		row = t.tx.QueryRowContext(ctx, query, args...)
		return nil, row.Err()
	})
	return row
}

func (t *Tx) Commit() error { return t.tx.Commit() }

func (t *Tx) Rollback() error { return t.tx.Rollback() }

func traceExec(ctx context.Context, tracer *tracing.Tracer, system, query string, exec func(context.Context) (sql.Result, error)) (sql.Result, error) {
	span, ctx := startDBSpan(ctx, tracer, system, query)
	start := time.Now()
	defer endOnPanic(span)

	res, err := exec(ctx)
	span.SetAttribute(tracing.AttrDBExecutionTimeMS, tracing.Milliseconds(time.Since(start)))
	if err != nil {
		failDBSpan(span, err)
		return res, err
	}
	if n, rerr := res.RowsAffected(); rerr == nil {
		span.SetAttribute(tracing.AttrDBRows, n)
	}
	span.SetStatus(codes.Ok, "")
	span.End()
	return res, nil
}

func traceQuery(ctx context.Context, tracer *tracing.Tracer, system, query string, run func(context.Context) (*sql.Rows, error)) (*sql.Rows, error) {
	span, ctx := startDBSpan(ctx, tracer, system, query)
	start := time.Now()
	defer endOnPanic(span)

	rows, err := run(ctx)
	span.SetAttribute(tracing.AttrDBExecutionTimeMS, tracing.Milliseconds(time.Since(start)))
	if err != nil {
		failDBSpan(span, err)
		return rows, err
	}
	span.SetStatus(codes.Ok, "")
	span.End()
	return rows, nil
}

func startDBSpan(ctx context.Context, tracer *tracing.Tracer, system, query string) (*tracing.Span, context.Context) {
	op := Operation(query)
	return tracer.StartSpan(ctx, op,
		tracing.WithKind(trace.SpanKindClient),
		tracing.WithAttributes(
			attribute.String(tracing.AttrDBSystem, system),
			attribute.String(tracing.AttrDBStatement, TruncateStatement(query)),
			attribute.String(tracing.AttrDBOperation, op),
		),
	)
}

func failDBSpan(span *tracing.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func endOnPanic(span *tracing.Span) {
	if v := recover(); v != nil {
		span.RecordPanic(v)
		span.SetStatus(codes.Error, panicMessage(v))
		span.End()
		panic(v)
	}
}

// Operation returns the statement's first keyword upper-cased, or UNKNOWN.
func Operation(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	op := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	if op == "" {
		return "UNKNOWN"
	}
	return op
}

// TruncateStatement cuts query to MaxStatementLength characters.
func TruncateStatement(query string) string {
	if utf8.RuneCountInString(query) <= MaxStatementLength {
		return query
	}
	n := 0
	for i := range query {
		if n == MaxStatementLength {
			return query[:i]
		}
		n++
	}
	return query
}
