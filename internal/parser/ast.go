package parser

import (
	"fmt"
	"strings"

	"github.com/zakazai/ulin-mvcc/internal/types"
)

// StatementType identifies the kind of a parsed statement.
type StatementType int

const (
	CreateTableStmt StatementType = iota
	InsertStmt
	SelectStmt
	UpdateStmt
	DeleteStmt
	BeginStmt
	CommitStmt
	RollbackStmt
)

func (t StatementType) String() string {
	switch t {
	case CreateTableStmt:
		return "CREATE TABLE"
	case InsertStmt:
		return "INSERT"
	case SelectStmt:
		return "SELECT"
	case UpdateStmt:
		return "UPDATE"
	case DeleteStmt:
		return "DELETE"
	case BeginStmt:
		return "BEGIN"
	case CommitStmt:
		return "COMMIT"
	case RollbackStmt:
		return "ROLLBACK"
	default:
		return fmt.Sprintf("StatementType(%d)", int(t))
	}
}

// Statement is the root of a parsed SQL statement.
type Statement interface {
	Type() StatementType
}

// ColumnDef is a column definition inside CREATE TABLE.
type ColumnDef struct {
	Name       string
	Type       types.DataType
	PrimaryKey bool
	NotNull    bool
	Default    *types.Value
}

type CreateTableStatement struct {
	Table   string
	Columns []ColumnDef
}

type InsertStatement struct {
	Table string
	// Columns is nil when the statement has no column list.
	Columns []string
	Rows    [][]Expr
}

// OrderByClause is a single ORDER BY key.
type OrderByClause struct {
	Column     string
	Descending bool
}

type SelectStatement struct {
	Table string
	// Columns is nil for SELECT *.
	Columns []string
	Where   Expr
	OrderBy []OrderByClause
	Limit   *int64
	Offset  *int64
}

// Assignment is one `column = expr` pair of an UPDATE.
type Assignment struct {
	Column string
	Value  Expr
}

type UpdateStatement struct {
	Table string
	Set   []Assignment
	Where Expr
}

type DeleteStatement struct {
	Table string
	Where Expr
}

type BeginStatement struct{}
type CommitStatement struct{}
type RollbackStatement struct{}

func (*CreateTableStatement) Type() StatementType { return CreateTableStmt }
func (*InsertStatement) Type() StatementType      { return InsertStmt }
func (*SelectStatement) Type() StatementType      { return SelectStmt }
func (*UpdateStatement) Type() StatementType      { return UpdateStmt }
func (*DeleteStatement) Type() StatementType      { return DeleteStmt }
func (*BeginStatement) Type() StatementType       { return BeginStmt }
func (*CommitStatement) Type() StatementType      { return CommitStmt }
func (*RollbackStatement) Type() StatementType    { return RollbackStmt }

// BinaryOp is an infix operator.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNotEq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

var binaryOpNames = [...]string{"=", "!=", "<", "<=", ">", ">=", "AND", "OR", "+", "-", "*", "/"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// IsComparison reports whether op yields a boolean from two comparable operands.
func (op BinaryOp) IsComparison() bool {
	return op <= OpGte
}

// IsLogical reports whether op is AND or OR.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

func (op UnaryOp) String() string {
	if op == OpNot {
		return "NOT"
	}
	return "-"
}

// Expr is a scalar expression.
type Expr interface {
	String() string
	expr()
}

// Literal is a constant value.
type Literal struct {
	Value types.Value
}

// ColumnRef names a column of the statement's table.
type ColumnRef struct {
	Name string
}

type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

// IsNullExpr is `expr IS [NOT] NULL`.
type IsNullExpr struct {
	Operand Expr
	Not     bool
}

func (*Literal) expr()    {}
func (*ColumnRef) expr()  {}
func (*BinaryExpr) expr() {}
func (*UnaryExpr) expr()  {}
func (*IsNullExpr) expr() {}

func (e *Literal) String() string {
	if e.Value.Type == types.TypeText {
		return "'" + strings.ReplaceAll(e.Value.S, "'", "''") + "'"
	}
	return e.Value.String()
}

func (e *ColumnRef) String() string { return e.Name }

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *UnaryExpr) String() string {
	if e.Op == OpNot {
		return fmt.Sprintf("(NOT %s)", e.Operand)
	}
	return fmt.Sprintf("(-%s)", e.Operand)
}

func (e *IsNullExpr) String() string {
	if e.Not {
		return fmt.Sprintf("(%s IS NOT NULL)", e.Operand)
	}
	return fmt.Sprintf("(%s IS NULL)", e.Operand)
}
