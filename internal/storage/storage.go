package storage

import (
	"errors"
	"fmt"

	"github.com/zakazai/ulin-mvcc/internal/types"
)

var (
	// ErrWriteConflict is wrapped by every *ConflictError.
	ErrWriteConflict = errors.New("write conflict")
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)

// ConflictError reports that Key was committed by another transaction after
// the writer's snapshot was taken.
type ConflictError struct {
	Key []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %s", FormatKey(e.Key))
}

func (e *ConflictError) Unwrap() error {
	return ErrWriteConflict
}

// Iterator walks rows in key order. Next returns io.EOF once exhausted.
type Iterator interface {
	Next() (key []byte, row types.Row, err error)
}

// Store is a versioned, ordered key space. Every read takes the reader's
// snapshot timestamp and transaction id: a version is visible when it was
// staged by that transaction, or when it was committed at or before the
// snapshot and not superseded at or before it. Writes are staged under a
// transaction id and stay invisible to everyone else until Commit.
type Store interface {
	Get(key []byte, snapshot, txnID uint64) (types.Row, bool, error)
	// Scan returns the visible rows whose key starts with prefix. The
	// iterator holds no lock between calls to Next.
	Scan(prefix []byte, snapshot, txnID uint64) Iterator
	// Put stages row under key. It fails with *ConflictError when a version
	// of key was committed after snapshot.
	Put(key []byte, row types.Row, txnID, snapshot uint64) error
	// Delete stages a tombstone under the same rule as Put.
	Delete(key []byte, txnID, snapshot uint64) error
	// LatestCommit returns the commit timestamp of the newest committed
	// version of key, or 0.
	LatestCommit(key []byte) uint64
	// Commit makes every version staged by txnID visible as of commitTS.
	Commit(txnID, commitTS uint64) error
	// Abort drops every version staged by txnID.
	Abort(txnID uint64) error
	// Vacuum removes versions that no snapshot at or after watermark can
	// see and returns how many were removed.
	Vacuum(watermark uint64) int
	// MaxTimestamp is the largest transaction id or commit timestamp the
	// store has seen, used to restart the clock.
	MaxTimestamp() uint64

	SaveSchema(schema *types.Schema) error
	Schemas() []*types.Schema

	Close() error
}
