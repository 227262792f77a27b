// Package executor runs plans as trees of pull-based operators. Each call to
// Next yields one row; io.EOF marks the end.
package executor

import (
	"errors"
	"fmt"
	"io"

	"github.com/zakazai/ulin-mvcc/internal/planner"
	"github.com/zakazai/ulin-mvcc/internal/txn"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

var (
	// ErrDuplicateKey is returned when a write would create a second visible
	// row with the same primary key.
	ErrDuplicateKey = errors.New("duplicate primary key")
	// ErrNotNull is returned when an UPDATE computes NULL for a NOT NULL column.
	ErrNotNull = errors.New("NULL value in NOT NULL column")
	// ErrDivisionByZero is raised by expression evaluation.
	ErrDivisionByZero = planner.ErrDivisionByZero
	// ErrIntegerOverflow is raised when integer arithmetic leaves int64.
	ErrIntegerOverflow = planner.ErrIntegerOverflow
)

// Operator is one node of a running plan.
type Operator interface {
	Next() (types.Row, error)
	Columns() []string
}

// Build instantiates the operator tree for node. Every read and write goes
// through tx.
func Build(node planner.Node, tx *txn.Txn) (Operator, error) {
	switch n := node.(type) {
	case *planner.Scan:
		return newScan(n, tx)
	case *planner.Values:
		return &valuesOp{names: n.Names, rows: n.Rows}, nil
	case *planner.Filter:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &filterOp{source: src, predicate: n.Predicate}, nil
	case *planner.Project:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &projectOp{source: src, indexes: n.Indexes, names: n.Names}, nil
	case *planner.Sort:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &sortOp{source: src, keys: n.Keys}, nil
	case *planner.Limit:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &limitOp{source: src, offset: n.Offset, count: n.Count}, nil
	case *planner.Insert:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &insertOp{tx: tx, table: n.Table, source: src}, nil
	case *planner.Update:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &updateOp{tx: tx, table: n.Table, source: src, assignments: n.Assignments}, nil
	case *planner.Delete:
		src, err := Build(n.Source, tx)
		if err != nil {
			return nil, err
		}
		return &deleteOp{tx: tx, table: n.Table, source: src}, nil
	default:
		return nil, fmt.Errorf("executor: cannot execute %T", node)
	}
}

// Eval evaluates a bound expression against row.
func Eval(expr planner.Expr, row types.Row) (types.Value, error) {
	return expr.Eval(row)
}

// Drain pulls every remaining row from op.
func Drain(op Operator) ([]types.Row, error) {
	var rows []types.Row
	for {
		row, err := op.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
