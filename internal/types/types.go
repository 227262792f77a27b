package types

// Row is a tuple of values positionally matching a table schema.
type Row []Value

// Clone returns a copy of r that shares no backing array with it.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Column describes one column of a table.
type Column struct {
	Name       string   `json:"name"`
	Type       DataType `json:"type"`
	Nullable   bool     `json:"nullable"`
	PrimaryKey bool     `json:"primary_key"`
	Default    *Value   `json:"default,omitempty"`
}

// Schema is the definition of a table. PrimaryKey is the index of the
// primary-key column in Columns.
type Schema struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey int      `json:"primary_key"`
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Key returns the primary-key value of row.
func (s *Schema) Key(row Row) Value {
	return row[s.PrimaryKey]
}
