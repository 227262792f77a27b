package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

type EngineType string

const (
	MemoryEngine EngineType = "memory"
	DiskEngine   EngineType = "disk"
)

// LogFileName is the name of the append log inside Config.Path.
const LogFileName = "ulin.log"

// LockFileName guards Config.Path against a second disk store.
const LockFileName = "LOCK"

var ErrLocked = errors.New("storage: data directory is in use")

type Config struct {
	Engine EngineType
	Path   string // data directory, used by the disk engine
	// CompactOnOpen rewrites the log after recovery.
	CompactOnOpen bool
	// SyncOnCommit fsyncs the log before a commit becomes visible.
	SyncOnCommit bool
}

// New creates a store based on the provided configuration
func New(config Config, logger *types.Logger) (Store, error) {
	switch config.Engine {
	case MemoryEngine, "":
		return NewMemoryStore(), nil
	case DiskEngine:
		if config.Path == "" {
			return nil, fmt.Errorf("data path is required for the disk engine")
		}
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		lock, err := lockDir(config.Path)
		if err != nil {
			return nil, err
		}
		store, err := OpenDisk(osfs.New(config.Path), LogFileName, DiskOptions{
			CompactOnOpen: config.CompactOnOpen,
			SyncOnCommit:  config.SyncOnCommit,
		}, logger)
		if err != nil {
			lock.Close()
			return nil, err
		}
		store.release = lock
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage engine: %s", config.Engine)
	}
}
