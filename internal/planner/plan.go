package planner

import (
	"fmt"
	"strings"

	"github.com/zakazai/ulin-mvcc/internal/types"
)

// Node is one operator of a physical plan. Columns names the values of the
// rows the operator produces.
type Node interface {
	Columns() []string
}

// AffectedColumn is the single output column of INSERT, UPDATE and DELETE.
const AffectedColumn = "rows"

// CreateTable is executed directly against the catalog.
type CreateTable struct {
	Schema *types.Schema
}

type Scan struct {
	Table *types.Schema
}

type Filter struct {
	Source    Node
	Predicate Expr
}

type Project struct {
	Source  Node
	Indexes []int
	Names   []string
}

type SortKey struct {
	Index      int
	Descending bool
}

type Sort struct {
	Source Node
	Keys   []SortKey
}

// Limit skips Offset rows and then yields at most Count rows. A negative
// Count means no limit.
type Limit struct {
	Source Node
	Offset int64
	Count  int64
}

// Values yields literal rows already shaped like the target table.
type Values struct {
	Names []string
	Rows  []types.Row
}

type Insert struct {
	Table  *types.Schema
	Source Node
}

type Assignment struct {
	Index int
	Value Expr
}

type Update struct {
	Table       *types.Schema
	Source      Node
	Assignments []Assignment
}

type Delete struct {
	Table  *types.Schema
	Source Node
}

type Begin struct{}
type Commit struct{}
type Rollback struct{}

func (n *CreateTable) Columns() []string { return nil }
func (n *Scan) Columns() []string        { return n.Table.ColumnNames() }
func (n *Filter) Columns() []string      { return n.Source.Columns() }
func (n *Project) Columns() []string     { return n.Names }
func (n *Sort) Columns() []string        { return n.Source.Columns() }
func (n *Limit) Columns() []string       { return n.Source.Columns() }
func (n *Values) Columns() []string      { return n.Names }
func (n *Insert) Columns() []string      { return []string{AffectedColumn} }
func (n *Update) Columns() []string      { return []string{AffectedColumn} }
func (n *Delete) Columns() []string      { return []string{AffectedColumn} }
func (n *Begin) Columns() []string       { return nil }
func (n *Commit) Columns() []string      { return nil }
func (n *Rollback) Columns() []string    { return nil }

// IsMutation reports whether executing n writes to storage.
func IsMutation(n Node) bool {
	switch n.(type) {
	case *Insert, *Update, *Delete:
		return true
	default:
		return false
	}
}

// Format renders the plan as an indented tree, root first.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n, 0)
	return sb.String()
}

func format(sb *strings.Builder, n Node, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	var child Node
	switch n := n.(type) {
	case *CreateTable:
		fmt.Fprintf(sb, "CreateTable %s", n.Schema.Name)
	case *Scan:
		fmt.Fprintf(sb, "Scan %s", n.Table.Name)
	case *Filter:
		fmt.Fprintf(sb, "Filter %s", n.Predicate)
		child = n.Source
	case *Project:
		fmt.Fprintf(sb, "Project %s", strings.Join(n.Names, ", "))
		child = n.Source
	case *Sort:
		keys := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			keys[i] = fmt.Sprintf("#%d", k.Index)
			if k.Descending {
				keys[i] += " DESC"
			}
		}
		fmt.Fprintf(sb, "Sort %s", strings.Join(keys, ", "))
		child = n.Source
	case *Limit:
		fmt.Fprintf(sb, "Limit %d offset %d", n.Count, n.Offset)
		child = n.Source
	case *Values:
		fmt.Fprintf(sb, "Values %d rows", len(n.Rows))
	case *Insert:
		fmt.Fprintf(sb, "Insert %s", n.Table.Name)
		child = n.Source
	case *Update:
		fmt.Fprintf(sb, "Update %s", n.Table.Name)
		child = n.Source
	case *Delete:
		fmt.Fprintf(sb, "Delete %s", n.Table.Name)
		child = n.Source
	default:
		fmt.Fprintf(sb, "%T", n)
	}
	sb.WriteString("\n")
	if child != nil {
		format(sb, child, depth+1)
	}
}
