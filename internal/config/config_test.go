package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/config"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, storage.MemoryEngine, cfg.StorageConfig().Engine)
	assert.Equal(t, types.LogLevelInfo, cfg.LogLevel())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ulindb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: disk
  path: /var/lib/ulindb
  compact_on_open: true
export:
  dir: /tmp/export
  interval: 30s
log:
  level: debug
`), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, storage.Config{
		Engine:        storage.DiskEngine,
		Path:          "/var/lib/ulindb",
		CompactOnOpen: true,
		SyncOnCommit:  true,
	}, cfg.StorageConfig())
	assert.Equal(t, "/tmp/export", cfg.Export.Dir)
	assert.Equal(t, 30*time.Second, cfg.Export.Interval)
	assert.Equal(t, types.LogLevelDebug, cfg.LogLevel())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown engine", "storage:\n  engine: btree\n"},
		{"disk without path", "storage:\n  engine: disk\n  path: \"\"\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"unknown key", "storage:\n  engin: memory\n"},
		{"bad interval", "export:\n  dir: x\n  interval: 0s\n"},
		{"malformed", "storage: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
