package types

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType identifies the kind of a Value or the declared type of a Column.
type DataType int

const (
	// TypeNull is the type of the NULL literal. Columns never declare it.
	TypeNull DataType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBoolean
)

func (t DataType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// IsNumeric reports whether values of t take part in arithmetic.
func (t DataType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// ParseDataType maps a SQL type name to a DataType. Names are case-insensitive.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToUpper(name) {
	case "INT", "INTEGER":
		return TypeInteger, nil
	case "FLOAT", "DOUBLE":
		return TypeFloat, nil
	case "TEXT", "STRING", "VARCHAR":
		return TypeText, nil
	case "BOOL", "BOOLEAN":
		return TypeBoolean, nil
	default:
		return TypeNull, fmt.Errorf("unknown data type %q", name)
	}
}

// Value is a single SQL value. Type selects which payload field is meaningful.
type Value struct {
	Type DataType `json:"type"`
	I64  int64    `json:"i,omitempty"`
	F64  float64  `json:"f,omitempty"`
	S    string   `json:"s,omitempty"`
	B    bool     `json:"b,omitempty"`
}

func NullValue() Value           { return Value{Type: TypeNull} }
func IntValue(i int64) Value     { return Value{Type: TypeInteger, I64: i} }
func FloatValue(f float64) Value { return Value{Type: TypeFloat, F64: f} }
func TextValue(s string) Value   { return Value{Type: TypeText, S: s} }
func BoolValue(b bool) Value     { return Value{Type: TypeBoolean, B: b} }

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool {
	return v.Type == TypeNull
}

// Float returns the numeric payload of an INTEGER or FLOAT value as a float64.
func (v Value) Float() float64 {
	if v.Type == TypeInteger {
		return float64(v.I64)
	}
	return v.F64
}

// Interface returns the Go representation of v: nil, int64, float64, string or bool.
func (v Value) Interface() interface{} {
	switch v.Type {
	case TypeInteger:
		return v.I64
	case TypeFloat:
		return v.F64
	case TypeText:
		return v.S
	case TypeBoolean:
		return v.B
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return strconv.FormatInt(v.I64, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case TypeText:
		return v.S
	case TypeBoolean:
		if v.B {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("<invalid %d>", int(v.Type))
	}
}

// Coerce converts v to a value assignable to a column of type t. INTEGER widens
// to FLOAT and NULL is assignable to every type; any other mismatch fails.
func (v Value) Coerce(t DataType) (Value, error) {
	if v.Type == t || v.Type == TypeNull {
		return v, nil
	}
	if v.Type == TypeInteger && t == TypeFloat {
		return FloatValue(float64(v.I64)), nil
	}
	return Value{}, fmt.Errorf("cannot assign %s to %s", v.Type, t)
}

// Compare orders a and b. It returns ok=false when either side is NULL or
// the kinds are not comparable. INTEGER and FLOAT compare numerically.
func Compare(a, b Value) (int, bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	if a.Type.IsNumeric() && b.Type.IsNumeric() {
		if a.Type == TypeInteger && b.Type == TypeInteger {
			return cmpInt64(a.I64, b.I64), true
		}
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Type != b.Type {
		return 0, false
	}
	switch a.Type {
	case TypeText:
		return strings.Compare(a.S, b.S), true
	case TypeBoolean:
		switch {
		case a.B == b.B:
			return 0, true
		case !a.B:
			return -1, true
		default:
			return 1, true
		}
	default:
		return 0, false
	}
}

// Equal reports whether a and b hold the same value. Unlike SQL equality,
// NULL equals NULL here.
func Equal(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	c, ok := Compare(a, b)
	return ok && c == 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
