package types_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		a, b   types.Value
		want   int
		wantOK bool
	}{
		{"ints", types.IntValue(1), types.IntValue(2), -1, true},
		{"int and float", types.IntValue(3), types.FloatValue(2.5), 1, true},
		{"equal numerics", types.IntValue(2), types.FloatValue(2), 0, true},
		{"text", types.TextValue("b"), types.TextValue("a"), 1, true},
		{"bools", types.BoolValue(false), types.BoolValue(true), -1, true},
		{"null left", types.NullValue(), types.IntValue(1), 0, false},
		{"null both", types.NullValue(), types.NullValue(), 0, false},
		{"text and int", types.TextValue("1"), types.IntValue(1), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := types.Compare(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEqualTreatsNullsAsEqual(t *testing.T) {
	assert.True(t, types.Equal(types.NullValue(), types.NullValue()))
	assert.False(t, types.Equal(types.NullValue(), types.IntValue(0)))
	assert.True(t, types.Equal(types.IntValue(4), types.FloatValue(4)))
}

func TestCoerce(t *testing.T) {
	v, err := types.IntValue(7).Coerce(types.TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, types.FloatValue(7), v)

	v, err = types.NullValue().Coerce(types.TypeText)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	_, err = types.TextValue("x").Coerce(types.TypeInteger)
	assert.Error(t, err)

	_, err = types.FloatValue(1.5).Coerce(types.TypeInteger)
	assert.Error(t, err)
}

func TestParseDataType(t *testing.T) {
	tests := map[string]types.DataType{
		"int":     types.TypeInteger,
		"INTEGER": types.TypeInteger,
		"Text":    types.TypeText,
		"varchar": types.TypeText,
		"string":  types.TypeText,
		"bool":    types.TypeBoolean,
		"BOOLEAN": types.TypeBoolean,
		"float":   types.TypeFloat,
		"double":  types.TypeFloat,
	}
	for name, want := range tests {
		got, err := types.ParseDataType(name)
		assert.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := types.ParseDataType("blob")
	assert.Error(t, err)
}

func TestRowCodec(t *testing.T) {
	row := types.Row{
		types.IntValue(-42),
		types.FloatValue(3.25),
		types.TextValue("hello\x00world"),
		types.BoolValue(true),
		types.NullValue(),
		types.TextValue(""),
	}

	data, err := types.EncodeRow(row)
	require.NoError(t, err)

	got, err := types.DecodeRow(data)
	require.NoError(t, err)
	assert.Equal(t, row, got)

	_, err = types.DecodeRow(data[:len(data)-3])
	assert.Error(t, err, "truncated input must not decode")
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := types.ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, types.LogLevelDebug, lvl)

	lvl, err = types.ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, types.LogLevelInfo, lvl)

	_, err = types.ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := types.InitLogger(types.LogLevelWarning, &buf)

	l.Info("hidden %d", 1)
	l.Warning("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WARNING: ")
	assert.Contains(t, buf.String(), "shown 2")
}
