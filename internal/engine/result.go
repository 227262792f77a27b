package engine

import (
	"io"

	"github.com/zakazai/ulin-mvcc/internal/executor"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

type ResultKind int

const (
	// ResultOk carries nothing: DDL and transaction control.
	ResultOk ResultKind = iota
	// ResultRowCount reports how many rows a write touched.
	ResultRowCount
	// ResultRows streams the rows of a query.
	ResultRows
)

// Result is the outcome of one statement. Rows of a query run inside an
// explicit transaction are produced lazily and must be read before that
// transaction ends; afterwards Next returns txn.ErrFinalized.
type Result struct {
	Kind         ResultKind
	RowsAffected int64
	Columns      []string

	rows   executor.Operator
	closed bool
}

func okResult() *Result {
	return &Result{Kind: ResultOk}
}

// Next returns the next row, or io.EOF when there are no more.
func (r *Result) Next() (types.Row, error) {
	if r.rows == nil || r.closed {
		return nil, io.EOF
	}
	row, err := r.rows.Next()
	if err != nil {
		r.closed = true
	}
	return row, err
}

// All collects the remaining rows.
func (r *Result) All() ([]types.Row, error) {
	if r.rows == nil || r.closed {
		return nil, nil
	}
	rows, err := executor.Drain(r.rows)
	r.closed = true
	return rows, err
}

// Close releases the result. Rows not yet read are discarded.
func (r *Result) Close() {
	r.closed = true
	r.rows = nil
}

// bufferedRows replays rows that were read before their transaction
// committed.
type bufferedRows struct {
	rows []types.Row
	pos  int
}

func (b *bufferedRows) Columns() []string { return nil }

func (b *bufferedRows) Next() (types.Row, error) {
	if b.pos >= len(b.rows) {
		return nil, io.EOF
	}
	b.pos++
	return b.rows[b.pos-1], nil
}
