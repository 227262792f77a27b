package planner

import (
	"errors"
	"fmt"
	"math"

	"github.com/zakazai/ulin-mvcc/internal/parser"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

var (
	ErrDivisionByZero  = errors.New("division by zero")
	ErrIntegerOverflow = errors.New("integer out of range")
)

// Expr is an expression bound to the columns of one table. Eval receives a
// row of that table.
type Expr interface {
	Type() types.DataType
	Eval(row types.Row) (types.Value, error)
	String() string
}

type Constant struct {
	Value types.Value
}

// Column reads the column at Index of the input row.
type Column struct {
	Index   int
	Name    string
	ColType types.DataType
}

type Comparison struct {
	Op          parser.BinaryOp
	Left, Right Expr
}

// Logical is AND or OR under three-valued logic.
type Logical struct {
	Op          parser.BinaryOp
	Left, Right Expr
}

type Arithmetic struct {
	Op          parser.BinaryOp
	Left, Right Expr
	ResultType  types.DataType
}

type Not struct {
	Operand Expr
}

type Negate struct {
	Operand Expr
}

type IsNull struct {
	Operand Expr
	Not     bool
}

func (e *Constant) Type() types.DataType   { return e.Value.Type }
func (e *Column) Type() types.DataType     { return e.ColType }
func (e *Comparison) Type() types.DataType { return types.TypeBoolean }
func (e *Logical) Type() types.DataType    { return types.TypeBoolean }
func (e *Arithmetic) Type() types.DataType { return e.ResultType }
func (e *Not) Type() types.DataType        { return types.TypeBoolean }
func (e *Negate) Type() types.DataType     { return e.Operand.Type() }
func (e *IsNull) Type() types.DataType     { return types.TypeBoolean }

func (e *Constant) String() string {
	if e.Value.Type == types.TypeText {
		return fmt.Sprintf("'%s'", e.Value.S)
	}
	return e.Value.String()
}
func (e *Column) String() string     { return fmt.Sprintf("#%d(%s)", e.Index, e.Name) }
func (e *Comparison) String() string { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *Logical) String() string    { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *Arithmetic) String() string { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *Not) String() string        { return fmt.Sprintf("(NOT %s)", e.Operand) }
func (e *Negate) String() string     { return fmt.Sprintf("(-%s)", e.Operand) }
func (e *IsNull) String() string {
	if e.Not {
		return fmt.Sprintf("(%s IS NOT NULL)", e.Operand)
	}
	return fmt.Sprintf("(%s IS NULL)", e.Operand)
}

func (e *Constant) Eval(types.Row) (types.Value, error) {
	return e.Value, nil
}

func (e *Column) Eval(row types.Row) (types.Value, error) {
	if e.Index >= len(row) {
		return types.Value{}, fmt.Errorf("column %s out of range for row of %d values", e.Name, len(row))
	}
	return row[e.Index], nil
}

func (e *Comparison) Eval(row types.Row) (types.Value, error) {
	l, err := e.Left.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	r, err := e.Right.Eval(row)
	if err != nil {
		return types.Value{}, err
	}

	c, ok := types.Compare(l, r)
	if !ok {
		return types.NullValue(), nil
	}
	switch e.Op {
	case parser.OpEq:
		return types.BoolValue(c == 0), nil
	case parser.OpNotEq:
		return types.BoolValue(c != 0), nil
	case parser.OpLt:
		return types.BoolValue(c < 0), nil
	case parser.OpLte:
		return types.BoolValue(c <= 0), nil
	case parser.OpGt:
		return types.BoolValue(c > 0), nil
	case parser.OpGte:
		return types.BoolValue(c >= 0), nil
	default:
		return types.Value{}, fmt.Errorf("unexpected comparison operator %s", e.Op)
	}
}

func (e *Logical) Eval(row types.Row) (types.Value, error) {
	l, err := e.Left.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	// A decided left side settles the result without looking right.
	if !l.IsNull() && l.B == (e.Op == parser.OpOr) {
		return l, nil
	}
	r, err := e.Right.Eval(row)
	if err != nil {
		return types.Value{}, err
	}

	switch {
	case !r.IsNull() && r.B == (e.Op == parser.OpOr):
		return r, nil
	case l.IsNull() || r.IsNull():
		return types.NullValue(), nil
	default:
		return r, nil
	}
}

func (e *Arithmetic) Eval(row types.Row) (types.Value, error) {
	l, err := e.Left.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	r, err := e.Right.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	if l.IsNull() || r.IsNull() {
		return types.NullValue(), nil
	}

	if l.Type == types.TypeInteger && r.Type == types.TypeInteger {
		return intArithmetic(e.Op, l.I64, r.I64)
	} else {
		a, b := l.Float(), r.Float()
		switch e.Op {
		case parser.OpAdd:
			return types.FloatValue(a + b), nil
		case parser.OpSub:
			return types.FloatValue(a - b), nil
		case parser.OpMul:
			return types.FloatValue(a * b), nil
		case parser.OpDiv:
			if b == 0 {
				return types.Value{}, ErrDivisionByZero
			}
			return types.FloatValue(a / b), nil
		}
	}
	return types.Value{}, fmt.Errorf("unexpected arithmetic operator %s", e.Op)
}

// intArithmetic fails with ErrIntegerOverflow instead of wrapping.
func intArithmetic(op parser.BinaryOp, a, b int64) (types.Value, error) {
	var c int64
	switch op {
	case parser.OpAdd:
		c = a + b
		if (c > a) != (b > 0) {
			return types.Value{}, ErrIntegerOverflow
		}
	case parser.OpSub:
		c = a - b
		if (c < a) != (b > 0) {
			return types.Value{}, ErrIntegerOverflow
		}
	case parser.OpMul:
		if a == 0 || b == 0 {
			return types.IntValue(0), nil
		}
		c = a * b
		if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return types.Value{}, ErrIntegerOverflow
		}
	case parser.OpDiv:
		if b == 0 {
			return types.Value{}, ErrDivisionByZero
		}
		if a == math.MinInt64 && b == -1 {
			return types.Value{}, ErrIntegerOverflow
		}
		c = a / b
	default:
		return types.Value{}, fmt.Errorf("unexpected arithmetic operator %s", op)
	}
	return types.IntValue(c), nil
}

func (e *Not) Eval(row types.Row) (types.Value, error) {
	v, err := e.Operand.Eval(row)
	if err != nil || v.IsNull() {
		return v, err
	}
	return types.BoolValue(!v.B), nil
}

func (e *Negate) Eval(row types.Row) (types.Value, error) {
	v, err := e.Operand.Eval(row)
	if err != nil {
		return v, err
	}
	switch v.Type {
	case types.TypeInteger:
		if v.I64 == math.MinInt64 {
			return types.Value{}, ErrIntegerOverflow
		}
		return types.IntValue(-v.I64), nil
	case types.TypeFloat:
		return types.FloatValue(-v.F64), nil
	default:
		return v, nil
	}
}

func (e *IsNull) Eval(row types.Row) (types.Value, error) {
	v, err := e.Operand.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	return types.BoolValue(v.IsNull() != e.Not), nil
}

// binder resolves parser expressions against the columns of schema. A nil
// schema binds constant expressions only.
type binder struct {
	schema *types.Schema
}

func (b binder) bind(e parser.Expr) (Expr, error) {
	switch e := e.(type) {
	case *parser.Literal:
		return &Constant{Value: e.Value}, nil

	case *parser.ColumnRef:
		if b.schema == nil {
			return nil, &Error{Kind: UnknownColumn, Name: e.Name, Detail: "column references are not allowed here"}
		}
		i := b.schema.ColumnIndex(e.Name)
		if i < 0 {
			return nil, &Error{Kind: UnknownColumn, Name: e.Name, Detail: "in table " + b.schema.Name}
		}
		return &Column{Index: i, Name: e.Name, ColType: b.schema.Columns[i].Type}, nil

	case *parser.BinaryExpr:
		left, err := b.bind(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.bind(e.Right)
		if err != nil {
			return nil, err
		}
		lt, rt := left.Type(), right.Type()

		switch {
		case e.Op.IsComparison():
			if !comparableTypes(lt, rt) {
				return nil, mismatch("cannot compare %s with %s in %s", lt, rt, e)
			}
			return &Comparison{Op: e.Op, Left: left, Right: right}, nil
		case e.Op.IsLogical():
			if !isBoolean(lt) || !isBoolean(rt) {
				return nil, mismatch("%s needs BOOLEAN operands, got %s and %s", e.Op, lt, rt)
			}
			return &Logical{Op: e.Op, Left: left, Right: right}, nil
		default:
			if !isNumeric(lt) || !isNumeric(rt) {
				return nil, mismatch("%s needs numeric operands, got %s and %s", e.Op, lt, rt)
			}
			return &Arithmetic{Op: e.Op, Left: left, Right: right, ResultType: arithmeticType(lt, rt)}, nil
		}

	case *parser.UnaryExpr:
		operand, err := b.bind(e.Operand)
		if err != nil {
			return nil, err
		}
		if e.Op == parser.OpNot {
			if !isBoolean(operand.Type()) {
				return nil, mismatch("NOT needs a BOOLEAN operand, got %s", operand.Type())
			}
			return &Not{Operand: operand}, nil
		}
		if !isNumeric(operand.Type()) {
			return nil, mismatch("cannot negate %s", operand.Type())
		}
		return &Negate{Operand: operand}, nil

	case *parser.IsNullExpr:
		operand, err := b.bind(e.Operand)
		if err != nil {
			return nil, err
		}
		return &IsNull{Operand: operand, Not: e.Not}, nil

	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func comparableTypes(a, b types.DataType) bool {
	return a == types.TypeNull || b == types.TypeNull || a == b || (a.IsNumeric() && b.IsNumeric())
}

func isBoolean(t types.DataType) bool {
	return t == types.TypeBoolean || t == types.TypeNull
}

func isNumeric(t types.DataType) bool {
	return t.IsNumeric() || t == types.TypeNull
}

func arithmeticType(a, b types.DataType) types.DataType {
	switch {
	case a == types.TypeFloat || b == types.TypeFloat:
		return types.TypeFloat
	case a == types.TypeInteger || b == types.TypeInteger:
		return types.TypeInteger
	default:
		return types.TypeNull
	}
}

// assignable reports whether a value of type from may be stored in a column
// of type to.
func assignable(from, to types.DataType) bool {
	return from == to || from == types.TypeNull || (from == types.TypeInteger && to == types.TypeFloat)
}

func mismatch(format string, args ...interface{}) *Error {
	return &Error{Kind: TypeMismatch, Detail: fmt.Sprintf(format, args...)}
}
