package executor

import (
	"fmt"
	"io"

	"github.com/zakazai/ulin-mvcc/internal/planner"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/txn"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// affected yields a single row holding the number of rows written, then
// io.EOF. The write itself happens on the first call.
type affected struct {
	done bool
}

func (a *affected) Columns() []string { return []string{planner.AffectedColumn} }

func (a *affected) next(run func() (int64, error)) (types.Row, error) {
	if a.done {
		return nil, io.EOF
	}
	a.done = true
	n, err := run()
	if err != nil {
		return nil, err
	}
	return types.Row{types.IntValue(n)}, nil
}

func rowKey(table *types.Schema, row types.Row) ([]byte, error) {
	key, err := storage.RowKey(table.Name, table.Key(row))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table.Name, err)
	}
	return key, nil
}

// putNew writes row under key after checking that no visible row already
// holds it.
func putNew(tx *txn.Txn, key []byte, row types.Row) error {
	_, exists, err := tx.Get(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, storage.FormatKey(key))
	}
	return tx.Put(key, row)
}

type insertOp struct {
	affected
	tx     *txn.Txn
	table  *types.Schema
	source Operator
}

func (o *insertOp) Next() (types.Row, error) {
	return o.next(func() (int64, error) {
		var n int64
		for {
			row, err := o.source.Next()
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return n, err
			}
			key, err := rowKey(o.table, row)
			if err != nil {
				return n, err
			}
			if err := putNew(o.tx, key, row); err != nil {
				return n, err
			}
			n++
		}
	})
}

// updateOp collects every matching row before writing, so it never meets
// its own new versions while scanning.
type updateOp struct {
	affected
	tx          *txn.Txn
	table       *types.Schema
	source      Operator
	assignments []planner.Assignment
}

func (o *updateOp) Next() (types.Row, error) {
	return o.next(func() (int64, error) {
		rows, err := Drain(o.source)
		if err != nil {
			return 0, err
		}
		for i, old := range rows {
			updated, err := o.apply(old)
			if err != nil {
				return int64(i), err
			}
			if err := o.write(old, updated); err != nil {
				return int64(i), err
			}
		}
		return int64(len(rows)), nil
	})
}

// apply evaluates every assignment against the old row.
func (o *updateOp) apply(old types.Row) (types.Row, error) {
	row := old.Clone()
	for _, a := range o.assignments {
		col := o.table.Columns[a.Index]
		v, err := Eval(a.Value, old)
		if err != nil {
			return nil, err
		}
		if v, err = v.Coerce(col.Type); err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		if v.IsNull() && !col.Nullable {
			return nil, fmt.Errorf("%w: %s.%s", ErrNotNull, o.table.Name, col.Name)
		}
		row[a.Index] = v
	}
	return row, nil
}

func (o *updateOp) write(old, updated types.Row) error {
	oldKey, err := rowKey(o.table, old)
	if err != nil {
		return err
	}
	pk := o.table.PrimaryKey
	if types.Equal(old[pk], updated[pk]) {
		return o.tx.Put(oldKey, updated)
	}

	newKey, err := rowKey(o.table, updated)
	if err != nil {
		return err
	}
	if err := o.tx.Delete(oldKey); err != nil {
		return err
	}
	return putNew(o.tx, newKey, updated)
}

type deleteOp struct {
	affected
	tx     *txn.Txn
	table  *types.Schema
	source Operator
}

func (o *deleteOp) Next() (types.Row, error) {
	return o.next(func() (int64, error) {
		rows, err := Drain(o.source)
		if err != nil {
			return 0, err
		}
		for i, row := range rows {
			key, err := rowKey(o.table, row)
			if err != nil {
				return int64(i), err
			}
			if err := o.tx.Delete(key); err != nil {
				return int64(i), err
			}
		}
		return int64(len(rows)), nil
	})
}
