package storage_test

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func TestRowKeyPreservesOrder(t *testing.T) {
	tests := []struct {
		name   string
		values []types.Value
	}{
		{"integers", []types.Value{
			types.IntValue(math.MinInt64), types.IntValue(-10), types.IntValue(-1),
			types.IntValue(0), types.IntValue(1), types.IntValue(300), types.IntValue(math.MaxInt64),
		}},
		{"floats", []types.Value{
			types.FloatValue(-1e10), types.FloatValue(-2.5), types.FloatValue(0),
			types.FloatValue(0.5), types.FloatValue(3), types.FloatValue(1e10),
		}},
		{"text", []types.Value{
			types.TextValue(""), types.TextValue("a"), types.TextValue("a\x00"),
			types.TextValue("a\x00b"), types.TextValue("ab"), types.TextValue("b"),
		}},
		{"booleans", []types.Value{types.BoolValue(false), types.BoolValue(true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := make([][]byte, len(tt.values))
			for i, v := range tt.values {
				k, err := storage.RowKey("t", v)
				require.NoError(t, err)
				keys[i] = k
			}
			assert.True(t, sort.SliceIsSorted(keys, func(i, j int) bool {
				return bytes.Compare(keys[i], keys[j]) < 0
			}))

			for i, k := range keys {
				table, v, err := storage.DecodeRowKey(k)
				require.NoError(t, err)
				assert.Equal(t, "t", table)
				assert.Equal(t, tt.values[i], v)
			}
		})
	}
}

func TestTablePrefixIsolatesTables(t *testing.T) {
	// "t" must not be a prefix of keys belonging to "t2" or "t\x00".
	k1, err := storage.RowKey("t2", types.IntValue(1))
	require.NoError(t, err)
	k2, err := storage.RowKey("t\x00", types.IntValue(1))
	require.NoError(t, err)

	prefix := storage.TablePrefix("t")
	assert.False(t, bytes.HasPrefix(k1, prefix))
	assert.False(t, bytes.HasPrefix(k2, prefix))
}

func TestRowKeyRejectsNull(t *testing.T) {
	_, err := storage.RowKey("t", types.NullValue())
	assert.Error(t, err)
}

func TestFormatKey(t *testing.T) {
	k, err := storage.RowKey("users", types.TextValue("bob"))
	require.NoError(t, err)
	assert.Equal(t, "users[bob]", storage.FormatKey(k))
}

func TestRowKeyNegativeZero(t *testing.T) {
	neg, err := storage.RowKey("t", types.FloatValue(math.Copysign(0, -1)))
	require.NoError(t, err)
	pos, err := storage.RowKey("t", types.FloatValue(0))
	require.NoError(t, err)
	assert.Equal(t, pos, neg)
}
