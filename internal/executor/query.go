package executor

import (
	"fmt"
	"io"
	"sort"

	"github.com/zakazai/ulin-mvcc/internal/planner"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/txn"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// scanOp yields the rows of one table visible to the transaction, in
// primary key order.
type scanOp struct {
	table *types.Schema
	it    storage.Iterator
}

func newScan(n *planner.Scan, tx *txn.Txn) (Operator, error) {
	it, err := tx.Scan(storage.TablePrefix(n.Table.Name))
	if err != nil {
		return nil, err
	}
	return &scanOp{table: n.Table, it: it}, nil
}

func (o *scanOp) Columns() []string { return o.table.ColumnNames() }

func (o *scanOp) Next() (types.Row, error) {
	_, row, err := o.it.Next()
	if err != nil {
		if err != io.EOF {
			err = fmt.Errorf("scan %s: %w", o.table.Name, err)
		}
		return nil, err
	}
	return row, nil
}

type valuesOp struct {
	names []string
	rows  []types.Row
	pos   int
}

func (o *valuesOp) Columns() []string { return o.names }

func (o *valuesOp) Next() (types.Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	o.pos++
	return o.rows[o.pos-1].Clone(), nil
}

// filterOp passes rows whose predicate is TRUE. FALSE and NULL both reject.
type filterOp struct {
	source    Operator
	predicate planner.Expr
}

func (o *filterOp) Columns() []string { return o.source.Columns() }

func (o *filterOp) Next() (types.Row, error) {
	for {
		row, err := o.source.Next()
		if err != nil {
			return nil, err
		}
		v, err := Eval(o.predicate, row)
		if err != nil {
			return nil, err
		}
		if v.Type == types.TypeBoolean && v.B {
			return row, nil
		}
	}
}

type projectOp struct {
	source  Operator
	indexes []int
	names   []string
}

func (o *projectOp) Columns() []string { return o.names }

func (o *projectOp) Next() (types.Row, error) {
	row, err := o.source.Next()
	if err != nil {
		return nil, err
	}
	out := make(types.Row, len(o.indexes))
	for i, idx := range o.indexes {
		out[i] = row[idx]
	}
	return out, nil
}

// sortOp materialises its input on the first call to Next. The sort is
// stable, so rows with equal keys keep primary key order. NULL sorts first
// in ascending order.
type sortOp struct {
	source Operator
	keys   []planner.SortKey
	rows   []types.Row
	pos    int
	loaded bool
}

func (o *sortOp) Columns() []string { return o.source.Columns() }

func (o *sortOp) Next() (types.Row, error) {
	if !o.loaded {
		rows, err := Drain(o.source)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return o.less(rows[i], rows[j])
		})
		o.rows, o.loaded = rows, true
	}
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	o.pos++
	return o.rows[o.pos-1], nil
}

func (o *sortOp) less(a, b types.Row) bool {
	for _, k := range o.keys {
		c := compareNullsFirst(a[k.Index], b[k.Index])
		if c == 0 {
			continue
		}
		if k.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

func compareNullsFirst(a, b types.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	}
	c, _ := types.Compare(a, b)
	return c
}

// limitOp skips offset rows, then yields at most count. A negative count
// is unbounded.
type limitOp struct {
	source  Operator
	offset  int64
	count   int64
	skipped bool
	emitted int64
}

func (o *limitOp) Columns() []string { return o.source.Columns() }

func (o *limitOp) Next() (types.Row, error) {
	if !o.skipped {
		for i := int64(0); i < o.offset; i++ {
			if _, err := o.source.Next(); err != nil {
				return nil, err
			}
		}
		o.skipped = true
	}
	if o.count >= 0 && o.emitted >= o.count {
		return nil, io.EOF
	}
	row, err := o.source.Next()
	if err != nil {
		return nil, err
	}
	o.emitted++
	return row, nil
}
