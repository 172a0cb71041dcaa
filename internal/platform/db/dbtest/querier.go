// Package dbtest provides in-memory stand-ins for the pgx query surface.
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call records one query issued against a Querier.
type Call struct {
	SQL  string
	Args []any
}

// Querier answers queries with canned rows. Results are consumed in order;
// the last one repeats once the queue is drained.
type Querier struct {
	mu      sync.Mutex
	results []Result
	calls   []Call
}

// Result is one canned answer. Err fails the query itself; RowsErr fails
// iteration after the rows are returned.
type Result struct {
	Rows    [][]any
	Err     error
	RowsErr error
}

// NewQuerier builds a Querier that serves results in order.
func NewQuerier(results ...Result) *Querier {
	return &Querier{results: results}
}

// Calls returns the queries issued so far.
func (q *Querier) Calls() []Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Call, len(q.calls))
	copy(out, q.calls)
	return out
}

func (q *Querier) next(sql string, args []any) Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, Call{SQL: sql, Args: args})
	if len(q.results) == 0 {
		return Result{}
	}
	res := q.results[0]
	if len(q.results) > 1 {
		q.results = q.results[1:]
	}
	return res
}

// Query implements db.Querier.
func (q *Querier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	res := q.next(sql, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &Rows{rows: res.Rows, err: res.RowsErr, idx: -1}, nil
}

// QueryRow implements db.Querier.
func (q *Querier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	res := q.next(sql, args)
	if res.Err != nil {
		return Row{err: res.Err}
	}
	if len(res.Rows) == 0 {
		return Row{err: pgx.ErrNoRows}
	}
	return Row{values: res.Rows[0]}
}

// Row is a single canned row.
type Row struct {
	values []any
	err    error
}

// Scan copies the canned values into dest.
func (r Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

// Rows iterates canned rows.
type Rows struct {
	rows   [][]any
	err    error
	idx    int
	closed bool
}

func (r *Rows) Close() { r.closed = true }

func (r *Rows) Err() error { return r.err }

func (r *Rows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	if r.idx >= len(r.rows) {
		r.closed = true
		return false
	}
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.rows) {
		return fmt.Errorf("dbtest: scan without current row")
	}
	return assign(r.rows[r.idx], dest)
}

func (r *Rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.rows) {
		return nil, fmt.Errorf("dbtest: values without current row")
	}
	return r.rows[r.idx], nil
}

func (r *Rows) RawValues() [][]byte { return nil }

func (r *Rows) Conn() *pgx.Conn { return nil }

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("dbtest: %d values for %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("dbtest: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if v == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(elem.Type()) {
			return fmt.Errorf("dbtest: cannot assign %T to %s", v, elem.Type())
		}
		elem.Set(val)
	}
	return nil
}
