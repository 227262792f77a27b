package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func TestParquetExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	exporter, err := storage.NewParquetExporter(dir)
	require.NoError(t, err)

	schema := &types.Schema{
		Name: "users",
		Columns: []types.Column{
			{Name: "id", Type: types.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: types.TypeText, Nullable: true},
		},
	}
	rows := []types.Row{
		{types.IntValue(1), types.TextValue("alice")},
		{types.IntValue(2), types.NullValue()},
	}
	require.NoError(t, exporter.WriteTable(schema, rows))
	assert.False(t, exporter.LastExport().IsZero())

	got, err := exporter.ReadTable("users")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(1), got[0]["id"])
	assert.Equal(t, "alice", got[0]["name"])
	assert.Nil(t, got[1]["name"])

	// Exporting an empty table removes the stale file.
	require.NoError(t, exporter.WriteTable(schema, nil))
	got, err = exporter.ReadTable("users")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParquetExportRejectsPathNames(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "export")
	exporter, err := storage.NewParquetExporter(dir)
	require.NoError(t, err)

	rows := []types.Row{{types.IntValue(1)}}
	for _, name := range []string{"../escape", "a/b", `a\b`, "..", ".", "", "nul\x00"} {
		t.Run(name, func(t *testing.T) {
			schema := &types.Schema{
				Name:    name,
				Columns: []types.Column{{Name: "id", Type: types.TypeInteger, PrimaryKey: true}},
			}
			assert.ErrorIs(t, exporter.WriteTable(schema, rows), storage.ErrInvalidExportName)
			_, err := exporter.ReadTable(name)
			assert.ErrorIs(t, err, storage.ErrInvalidExportName)
		})
	}

	_, err = os.Stat(filepath.Join(root, "escape.parquet"))
	assert.True(t, os.IsNotExist(err))
}
