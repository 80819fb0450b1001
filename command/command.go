// Package command implements one prepared statement's life cycle (spec
// §4.4, component C4): new(sql) -> prepare (lazy) -> (bind, step)* ->
// reset -> (bind, step)* -> dispose. A Command owns exactly one
// *sql.Stmt and is not safe for concurrent use; callers serialize access
// the same way they serialize access to the engine.Conn it was built
// from (spec §5).
package command

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"time"

	"github.com/strata-db/strata/codec"
	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/record"
	"github.com/strata-db/strata/sterr"
)

// Observer receives lifecycle notifications for one Command execution
// (spec Design Notes §9's OnExecutionStarted/Ended/InstanceCreated
// virtual-method hooks, expressed as a Go interface instead). A nil
// Observer is valid; every call site nil-checks before invoking it.
type Observer interface {
	Started()
	Ended(d time.Duration)
	RowCreated(obj any)
}

// Querier is the subset of *sql.DB / *sql.Tx a Command needs, so it can
// run against either an engine.Conn's pooled handle or a transaction.
type Querier interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Command wraps one lazily-prepared statement.
type Command struct {
	q       Querier
	sqlText string

	stmt     *sql.Stmt
	observer Observer

	storeDateTimeAsTicks bool
	traceThreshold       time.Duration
	traceSink            func(sql string, d time.Duration)
	entryTracer          func(line string)

	excludeColumn string
}

// WithExcludeColumn tells the command to skip name when inferring the
// offending column of a constraint violation (spec §4.9: "excluding the
// auto-increment PK"). Callers with a record.Descriptor pass its
// AutoIncPK's name.
func (c *Command) WithExcludeColumn(name string) *Command { c.excludeColumn = name; return c }

func (c *Command) classify(err error) *sterr.Error {
	return engine.ClassifyExcludingColumn(err, c.sqlText, c.excludeColumn)
}

// New constructs a Command for sqlText against q. storeDateTimeAsTicks
// controls codec.Bind's date-time encoding (Config.StoreDateTimeAsTicks,
// spec §4.3).
func New(q Querier, sqlText string, storeDateTimeAsTicks bool) *Command {
	return &Command{q: q, sqlText: sqlText, storeDateTimeAsTicks: storeDateTimeAsTicks}
}

// WithObserver attaches lifecycle hooks.
func (c *Command) WithObserver(o Observer) *Command { c.observer = o; return c }

// WithTrace arms a trace sink that fires whenever one step exceeds
// threshold (spec §4.4 "traceTimeExceeding").
func (c *Command) WithTrace(threshold time.Duration, sink func(sql string, d time.Duration)) *Command {
	c.traceThreshold, c.traceSink = threshold, sink
	return c
}

// WithEntryTrace arms the on-entry trace line (spec §4.4: `"<verb>: <sql>
// \n  0: <p0>\n  1: <p1>…"` emitted before the statement executes). The
// verb is inferred from the statement's leading keyword since this
// layer has no separate notion of a caller-supplied verb name.
func (c *Command) WithEntryTrace(sink func(line string)) *Command {
	c.entryTracer = sink
	return c
}

func (c *Command) traceEntry(args []any) {
	if c.entryTracer == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", verbOf(c.sqlText), c.sqlText)
	for i, a := range args {
		fmt.Fprintf(&b, "\n  %d: %v", i, a)
	}
	c.entryTracer(b.String())
}

func verbOf(sqlText string) string {
	fields := strings.Fields(sqlText)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func (c *Command) prepare(ctx context.Context) (*sql.Stmt, error) {
	if c.stmt != nil {
		return c.stmt, nil
	}
	stmt, err := c.q.PrepareContext(ctx, c.sqlText)
	if err != nil {
		return nil, c.classify(err)
	}
	c.stmt = stmt
	return stmt, nil
}

// Reset releases the prepared statement so the next call reprepares it.
// Spec's lifecycle names this step explicitly even though database/sql's
// *sql.Stmt has no reset primitive of its own; closing and re-preparing
// is the idiomatic equivalent.
func (c *Command) Reset() error {
	if c.stmt == nil {
		return nil
	}
	err := c.stmt.Close()
	c.stmt = nil
	return err
}

// Dispose finalizes the statement. A Command must not be reused after
// Dispose.
func (c *Command) Dispose() error { return c.Reset() }

func (c *Command) started() time.Time {
	if c.observer != nil {
		c.observer.Started()
	}
	return time.Now()
}

func (c *Command) ended(start time.Time) {
	d := time.Since(start)
	if c.observer != nil {
		c.observer.Ended(d)
	}
	if c.traceSink != nil && d >= c.traceThreshold {
		c.traceSink(c.sqlText, d)
	}
}

// ExecuteNonQuery runs an INSERT/UPDATE/DELETE/DDL statement and returns
// the affected row count, with constraint errors classified via
// engine.Classify.
func (c *Command) ExecuteNonQuery(ctx context.Context, args ...any) (int64, error) {
	c.traceEntry(args)
	start := c.started()
	defer c.ended(start)

	stmt, err := c.prepare(ctx)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, c.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, c.classify(err)
	}
	return n, nil
}

// LastInsertRowID is a convenience wrapper for ExecuteNonQuery callers
// that need the rowid assigned to an autoincrement/autoguid-less insert.
func (c *Command) LastInsertRowID(ctx context.Context, args ...any) (int64, error) {
	c.traceEntry(args)
	start := c.started()
	defer c.ended(start)

	stmt, err := c.prepare(ctx)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, c.classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, c.classify(err)
	}
	return id, nil
}

// ExecuteScalar runs a query expected to return exactly one row of one
// column, decoding it as T.
func ExecuteScalar[T any](ctx context.Context, c *Command, args ...any) (T, error) {
	var zero T
	c.traceEntry(args)
	start := c.started()
	defer c.ended(start)

	stmt, err := c.prepare(ctx)
	if err != nil {
		return zero, err
	}
	row := stmt.QueryRowContext(ctx, args...)
	var v T
	if err := row.Scan(&v); err != nil {
		return zero, c.classify(err)
	}
	return v, nil
}

// Row is one materialized record from ExecuteQuery.
type Row[T any] struct {
	Value T
	Err   error
}

// ExecuteQuery runs a query against descriptor d and returns a single-pass
// range-over-func iterator over materialized T values (spec Design
// Notes' "lazy, single-pass sequence that owns the compiled statement and
// finalizes on drop"). The underlying *sql.Rows is closed when the
// iteration ends, whether by exhaustion or an early break.
func ExecuteQuery[T any](ctx context.Context, c *Command, d *record.Descriptor, args ...any) iter.Seq[Row[T]] {
	return func(yield func(Row[T]) bool) {
		c.traceEntry(args)
		start := c.started()
		defer c.ended(start)

		stmt, err := c.prepare(ctx)
		if err != nil {
			yield(Row[T]{Err: err})
			return
		}
		rows, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			yield(Row[T]{Err: c.classify(err)})
			return
		}
		defer func() { _ = rows.Close() }()

		cols, err := rows.Columns()
		if err != nil {
			yield(Row[T]{Err: c.classify(err)})
			return
		}

		for rows.Next() {
			v, err := c.scanRow(rows, cols, d)
			if err != nil {
				if !yield(Row[T]{Err: err}) {
					return
				}
				continue
			}
			obj := v.Interface().(T)
			if c.observer != nil {
				c.observer.RowCreated(obj)
			}
			if !yield(Row[T]{Value: obj}) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Row[T]{Err: c.classify(err)})
		}
	}
}

func (c *Command) scanRow(rows *sql.Rows, cols []string, d *record.Descriptor) (reflect.Value, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return reflect.Value{}, c.classify(err)
	}

	obj := d.New()
	for i, name := range cols {
		col, ok := d.ColumnByName(name)
		if !ok {
			continue
		}
		val, err := codec.Scan(col, raw[i])
		if err != nil {
			return reflect.Value{}, err
		}
		col.Set(obj, val)
	}
	return obj, nil
}

// BindValue converts a struct field value into a driver-bindable value
// for column col, honoring the command's date-time encoding mode.
func (c *Command) BindValue(col *record.Column, v reflect.Value) (any, error) {
	return codec.Bind(col, v, c.storeDateTimeAsTicks)
}

// SQLText returns the statement text, for diagnostics.
func (c *Command) SQLText() string { return c.sqlText }
