package engine

import (
	"errors"
	"fmt"

	"github.com/zakazai/ulin-mvcc/internal/executor"
	"github.com/zakazai/ulin-mvcc/internal/parser"
	"github.com/zakazai/ulin-mvcc/internal/planner"
	"github.com/zakazai/ulin-mvcc/internal/txn"
)

// Execute runs one statement in s. Lex, parse and plan errors leave the
// session untouched. A conflict or storage failure aborts the running
// transaction; inside an explicit transaction every later statement then
// fails with txn.ErrFinalized until ROLLBACK.
func (e *Engine) Execute(s *Session, sql string) (*Result, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	node, err := e.planner.Plan(stmt)
	if err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case *planner.Begin:
		if s.tx != nil {
			return nil, ErrTransactionInProgress
		}
		e.begin(s)
		return okResult(), nil
	case *planner.Commit:
		if err := e.Commit(s); err != nil {
			return nil, err
		}
		return okResult(), nil
	case *planner.Rollback:
		if err := e.Rollback(s); err != nil {
			return nil, err
		}
		return okResult(), nil
	case *planner.CreateTable:
		if err := e.catalog.Define(n.Schema); err != nil {
			return nil, err
		}
		e.logger.Info("Created table %s", n.Schema.Name)
		return okResult(), nil
	}

	tx, autocommit := s.tx, s.tx == nil
	if autocommit {
		tx = e.txns.Begin(!planner.IsMutation(node))
	}

	op, err := executor.Build(node, tx)
	if err != nil {
		return nil, e.fail(s, tx, autocommit, err)
	}

	if !planner.IsMutation(node) && !autocommit {
		return &Result{Kind: ResultRows, Columns: op.Columns(), rows: op}, nil
	}

	rows, err := executor.Drain(op)
	if err != nil {
		return nil, e.fail(s, tx, autocommit, err)
	}
	if autocommit {
		if _, err := tx.Commit(); err != nil {
			return nil, err
		}
	}

	if planner.IsMutation(node) {
		var n int64
		if len(rows) == 1 {
			n = rows[0][0].I64
		}
		return &Result{Kind: ResultRowCount, RowsAffected: n, Columns: op.Columns()}, nil
	}
	return &Result{Kind: ResultRows, Columns: op.Columns(), rows: &bufferedRows{rows: rows}}, nil
}

// fail settles tx after a statement error. Autocommit transactions are
// always rolled back. An explicit transaction survives statement errors
// such as a duplicate key, but not conflicts or storage failures.
func (e *Engine) fail(s *Session, tx *txn.Txn, autocommit bool, err error) error {
	if !autocommit && statementError(err) {
		return err
	}
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, txn.ErrFinalized) {
		e.logger.Error("session %s: rollback of txn %d failed: %v", s.id, tx.ID(), rbErr)
		return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
	}
	if !autocommit {
		e.logger.Warning("session %s: txn %d aborted: %v", s.id, tx.ID(), err)
	}
	return err
}

func statementError(err error) bool {
	return errors.Is(err, executor.ErrDuplicateKey) ||
		errors.Is(err, executor.ErrNotNull) ||
		errors.Is(err, executor.ErrDivisionByZero) ||
		errors.Is(err, executor.ErrIntegerOverflow)
}
