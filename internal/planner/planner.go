package planner

import (
	"fmt"

	"github.com/zakazai/ulin-mvcc/internal/catalog"
	"github.com/zakazai/ulin-mvcc/internal/parser"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// ErrorKind classifies a semantic error found while binding a statement.
type ErrorKind int

const (
	UnknownTable ErrorKind = iota
	UnknownColumn
	TypeMismatch
	PrimaryKeyRequired
	DuplicateColumn
	DuplicateTable
	NotNullViolation
	ArityMismatch
)

var errorKindNames = [...]string{
	"unknown table", "unknown column", "type mismatch", "primary key required",
	"duplicate column", "duplicate table", "not null violation", "arity mismatch",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a semantic error. Name is the offending table or column, if any.
type Error struct {
	Kind   ErrorKind
	Name   string
	Detail string
}

func (e *Error) Error() string {
	msg := "plan error: " + e.Kind.String()
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Planner binds statements against a catalog.
type Planner struct {
	catalog *catalog.Catalog
}

// New creates a planner resolving tables in cat
func New(cat *catalog.Catalog) *Planner {
	return &Planner{catalog: cat}
}

// Plan converts a Statement into an execution plan
func (p *Planner) Plan(stmt parser.Statement) (Node, error) {
	switch s := stmt.(type) {
	case *parser.CreateTableStatement:
		return p.planCreateTable(s)
	case *parser.InsertStatement:
		return p.planInsert(s)
	case *parser.SelectStatement:
		return p.planSelect(s)
	case *parser.UpdateStatement:
		return p.planUpdate(s)
	case *parser.DeleteStatement:
		return p.planDelete(s)
	case *parser.BeginStatement:
		return &Begin{}, nil
	case *parser.CommitStatement:
		return &Commit{}, nil
	case *parser.RollbackStatement:
		return &Rollback{}, nil
	default:
		return nil, fmt.Errorf("unsupported statement type: %T", stmt)
	}
}

func (p *Planner) table(name string) (*types.Schema, error) {
	schema, ok := p.catalog.Lookup(name)
	if !ok {
		return nil, &Error{Kind: UnknownTable, Name: name}
	}
	return schema, nil
}

func (p *Planner) planCreateTable(s *parser.CreateTableStatement) (Node, error) {
	if _, exists := p.catalog.Lookup(s.Table); exists {
		return nil, &Error{Kind: DuplicateTable, Name: s.Table}
	}

	schema := &types.Schema{Name: s.Table, PrimaryKey: -1}
	seen := make(map[string]bool)
	for i, def := range s.Columns {
		if seen[def.Name] {
			return nil, &Error{Kind: DuplicateColumn, Name: def.Name, Detail: "in table " + s.Table}
		}
		seen[def.Name] = true

		col := types.Column{
			Name:       def.Name,
			Type:       def.Type,
			PrimaryKey: def.PrimaryKey,
			Nullable:   !def.NotNull && !def.PrimaryKey,
		}
		if def.PrimaryKey {
			if schema.PrimaryKey >= 0 {
				return nil, &Error{Kind: PrimaryKeyRequired, Name: s.Table, Detail: "more than one primary key"}
			}
			schema.PrimaryKey = i
		}
		if def.Default != nil {
			v, err := def.Default.Coerce(def.Type)
			if err != nil {
				return nil, &Error{Kind: TypeMismatch, Name: def.Name, Detail: "default: " + err.Error()}
			}
			if v.IsNull() && !col.Nullable {
				return nil, &Error{Kind: NotNullViolation, Name: def.Name, Detail: "default is NULL"}
			}
			col.Default = &v
		}
		schema.Columns = append(schema.Columns, col)
	}
	if schema.PrimaryKey < 0 {
		return nil, &Error{Kind: PrimaryKeyRequired, Name: s.Table}
	}
	return &CreateTable{Schema: schema}, nil
}

func (p *Planner) planInsert(s *parser.InsertStatement) (Node, error) {
	schema, err := p.table(s.Table)
	if err != nil {
		return nil, err
	}

	targets := make([]int, 0, len(schema.Columns))
	if s.Columns == nil {
		for i := range schema.Columns {
			targets = append(targets, i)
		}
	} else {
		seen := make(map[int]bool)
		for _, name := range s.Columns {
			i := schema.ColumnIndex(name)
			if i < 0 {
				return nil, &Error{Kind: UnknownColumn, Name: name, Detail: "in table " + schema.Name}
			}
			if seen[i] {
				return nil, &Error{Kind: DuplicateColumn, Name: name}
			}
			seen[i] = true
			targets = append(targets, i)
		}
	}

	values := &Values{Names: schema.ColumnNames()}
	for n, exprs := range s.Rows {
		if len(exprs) != len(targets) {
			return nil, &Error{Kind: ArityMismatch, Name: schema.Name,
				Detail: fmt.Sprintf("row %d has %d values, expected %d", n+1, len(exprs), len(targets))}
		}

		row := make(types.Row, len(schema.Columns))
		for i, col := range schema.Columns {
			if col.Default != nil {
				row[i] = *col.Default
			} else {
				row[i] = types.NullValue()
			}
		}
		for j, e := range exprs {
			col := schema.Columns[targets[j]]
			bound, err := binder{}.bind(e)
			if err != nil {
				return nil, err
			}
			if !assignable(bound.Type(), col.Type) {
				return nil, &Error{Kind: TypeMismatch, Name: col.Name,
					Detail: fmt.Sprintf("cannot assign %s to %s column", bound.Type(), col.Type)}
			}
			v, err := bound.Eval(nil)
			if err != nil {
				return nil, err
			}
			if row[targets[j]], err = v.Coerce(col.Type); err != nil {
				return nil, &Error{Kind: TypeMismatch, Name: col.Name, Detail: err.Error()}
			}
		}
		for i, col := range schema.Columns {
			if row[i].IsNull() && !col.Nullable {
				return nil, &Error{Kind: NotNullViolation, Name: col.Name, Detail: fmt.Sprintf("row %d", n+1)}
			}
		}
		values.Rows = append(values.Rows, row)
	}

	return &Insert{Table: schema, Source: values}, nil
}

// scanWhere builds Filter(Scan), or a bare Scan when there is no predicate.
func (p *Planner) scanWhere(schema *types.Schema, where parser.Expr) (Node, error) {
	var node Node = &Scan{Table: schema}
	if where == nil {
		return node, nil
	}
	pred, err := binder{schema: schema}.bind(where)
	if err != nil {
		return nil, err
	}
	if !isBoolean(pred.Type()) {
		return nil, mismatch("WHERE needs a BOOLEAN expression, got %s", pred.Type())
	}
	return &Filter{Source: node, Predicate: pred}, nil
}

func (p *Planner) planSelect(s *parser.SelectStatement) (Node, error) {
	schema, err := p.table(s.Table)
	if err != nil {
		return nil, err
	}

	node, err := p.scanWhere(schema, s.Where)
	if err != nil {
		return nil, err
	}

	// Sorting happens before projection so that ORDER BY may name columns
	// that are not selected.
	if len(s.OrderBy) > 0 {
		keys := make([]SortKey, len(s.OrderBy))
		for i, o := range s.OrderBy {
			idx := schema.ColumnIndex(o.Column)
			if idx < 0 {
				return nil, &Error{Kind: UnknownColumn, Name: o.Column, Detail: "in ORDER BY"}
			}
			keys[i] = SortKey{Index: idx, Descending: o.Descending}
		}
		node = &Sort{Source: node, Keys: keys}
	}

	project := &Project{Source: node}
	if s.Columns == nil {
		for i, col := range schema.Columns {
			project.Indexes = append(project.Indexes, i)
			project.Names = append(project.Names, col.Name)
		}
	} else {
		for _, name := range s.Columns {
			idx := schema.ColumnIndex(name)
			if idx < 0 {
				return nil, &Error{Kind: UnknownColumn, Name: name, Detail: "in table " + schema.Name}
			}
			project.Indexes = append(project.Indexes, idx)
			project.Names = append(project.Names, name)
		}
	}
	node = project

	if s.Limit != nil || s.Offset != nil {
		limit := &Limit{Source: node, Count: -1}
		if s.Limit != nil {
			limit.Count = *s.Limit
		}
		if s.Offset != nil {
			limit.Offset = *s.Offset
		}
		node = limit
	}
	return node, nil
}

func (p *Planner) planUpdate(s *parser.UpdateStatement) (Node, error) {
	schema, err := p.table(s.Table)
	if err != nil {
		return nil, err
	}

	source, err := p.scanWhere(schema, s.Where)
	if err != nil {
		return nil, err
	}

	update := &Update{Table: schema, Source: source}
	for _, a := range s.Set {
		idx := schema.ColumnIndex(a.Column)
		if idx < 0 {
			return nil, &Error{Kind: UnknownColumn, Name: a.Column, Detail: "in table " + schema.Name}
		}
		col := schema.Columns[idx]

		value, err := binder{schema: schema}.bind(a.Value)
		if err != nil {
			return nil, err
		}
		if !assignable(value.Type(), col.Type) {
			return nil, &Error{Kind: TypeMismatch, Name: col.Name,
				Detail: fmt.Sprintf("cannot assign %s to %s column", value.Type(), col.Type)}
		}
		if c, ok := value.(*Constant); ok && c.Value.IsNull() && !col.Nullable {
			return nil, &Error{Kind: NotNullViolation, Name: col.Name}
		}
		update.Assignments = append(update.Assignments, Assignment{Index: idx, Value: value})
	}
	return update, nil
}

func (p *Planner) planDelete(s *parser.DeleteStatement) (Node, error) {
	schema, err := p.table(s.Table)
	if err != nil {
		return nil, err
	}
	source, err := p.scanWhere(schema, s.Where)
	if err != nil {
		return nil, err
	}
	return &Delete{Table: schema, Source: source}, nil
}
