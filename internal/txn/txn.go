// Package txn issues snapshots and decides commits under snapshot isolation
// with a first-committer-wins rule.
package txn

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrConflict is wrapped by every *ConflictError.
	ErrConflict = errors.New("transaction conflict")
	// ErrFinalized is returned for any use of a committed or aborted transaction.
	ErrFinalized = errors.New("transaction already finalized")
	ErrReadOnly  = errors.New("transaction is read-only")
)

// ConflictError reports that the transaction was aborted at commit because
// another transaction committed Key after its snapshot.
type ConflictError struct {
	TxnID uint64
	Key   []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s was committed concurrently", e.TxnID, storage.FormatKey(e.Key))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Manager owns the logical clock. Begin and Commit both take its mutex, so
// a snapshot never falls in the middle of a commit.
type Manager struct {
	mu     sync.Mutex
	store  storage.Store
	clock  uint64
	active *roaring64.Bitmap
	logger *types.Logger
}

// NewManager creates a manager whose clock resumes after everything store
// has already seen.
func NewManager(store storage.Store, logger *types.Logger) *Manager {
	return &Manager{
		store:  store,
		clock:  store.MaxTimestamp(),
		active: roaring64.NewBitmap(),
		logger: logger.OrGlobal(),
	}
}

// Begin starts a transaction. Its id doubles as its snapshot timestamp.
func (m *Manager) Begin(readOnly bool) *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock++
	m.active.Add(m.clock)
	return &Txn{
		mgr:      m,
		id:       m.clock,
		readOnly: readOnly,
		writes:   make(map[string]struct{}),
	}
}

// Commit validates t's write set and makes its writes visible. On conflict
// the transaction is aborted and a *ConflictError returned.
func (m *Manager) Commit(t *Txn) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return 0, ErrFinalized
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(t.writes) == 0 {
		t.state = Committed
		m.active.Remove(t.id)
		return t.id, nil
	}

	for _, key := range t.sortedWrites() {
		if m.store.LatestCommit([]byte(key)) > t.id {
			m.abortLocked(t)
			m.logger.Debug("txn %d: conflict on %s", t.id, storage.FormatKey([]byte(key)))
			return 0, &ConflictError{TxnID: t.id, Key: []byte(key)}
		}
	}

	ts := m.clock + 1
	if err := m.store.Commit(t.id, ts); err != nil {
		m.abortLocked(t)
		return 0, fmt.Errorf("commit of transaction %d failed: %w", t.id, err)
	}
	m.clock = ts
	t.state = Committed
	m.active.Remove(t.id)
	m.logger.Debug("txn %d: committed at %d (%d keys)", t.id, ts, len(t.writes))
	return ts, nil
}

// Abort discards every write of t.
func (m *Manager) Abort(t *Txn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return ErrFinalized
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortLocked(t)
}

func (m *Manager) abortLocked(t *Txn) error {
	t.state = Aborted
	m.active.Remove(t.id)
	if len(t.writes) == 0 {
		return nil
	}
	if err := m.store.Abort(t.id); err != nil {
		m.logger.Error("txn %d: abort failed: %v", t.id, err)
		return err
	}
	m.logger.Debug("txn %d: aborted", t.id)
	return nil
}

// Active returns the ids of the running transactions in ascending order.
func (m *Manager) Active() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.ToArray()
}

// Watermark is the oldest snapshot any running or future transaction can
// hold.
func (m *Manager) Watermark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active.IsEmpty() {
		return m.clock
	}
	return m.active.Minimum()
}

// Vacuum drops versions hidden from every snapshot at or after Watermark.
func (m *Manager) Vacuum() int {
	w := m.Watermark()
	n := m.store.Vacuum(w)
	if n > 0 {
		m.logger.Info("Vacuum removed %d versions below %d", n, w)
	}
	return n
}

// Txn is a handle on one transaction. It is safe for use by one goroutine
// at a time.
type Txn struct {
	mgr      *Manager
	id       uint64
	readOnly bool

	mu     sync.Mutex
	state  State
	writes map[string]struct{}
}

func (t *Txn) ID() uint64 { return t.id }

// Snapshot is the timestamp the transaction reads at.
func (t *Txn) Snapshot() uint64 { return t.id }

func (t *Txn) ReadOnly() bool { return t.readOnly }

func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Txn) checkActive() error {
	if t.state != Active {
		return ErrFinalized
	}
	return nil
}

func (t *Txn) Get(key []byte) (types.Row, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, false, err
	}
	return t.mgr.store.Get(key, t.id, t.id)
}

func (t *Txn) Scan(prefix []byte) (storage.Iterator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return &txnIterator{t: t, it: t.mgr.store.Scan(prefix, t.id, t.id)}, nil
}

// txnIterator ends with ErrFinalized once its transaction has committed or
// aborted: the snapshot is no longer protected from vacuum after that.
type txnIterator struct {
	t  *Txn
	it storage.Iterator
}

func (i *txnIterator) Next() ([]byte, types.Row, error) {
	i.t.mu.Lock()
	defer i.t.mu.Unlock()
	if err := i.t.checkActive(); err != nil {
		return nil, nil, err
	}
	return i.it.Next()
}

func (t *Txn) Put(key []byte, row types.Row) error {
	return t.write(key, func() error {
		return t.mgr.store.Put(key, row, t.id, t.id)
	})
}

func (t *Txn) Delete(key []byte) error {
	return t.write(key, func() error {
		return t.mgr.store.Delete(key, t.id, t.id)
	})
}

func (t *Txn) write(key []byte, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}
	if t.readOnly {
		return ErrReadOnly
	}
	// Record the key first: a failed append may still have staged part of
	// the write, and abort must know to clean it up.
	t.writes[string(key)] = struct{}{}
	return fn()
}

// Commit is shorthand for the manager's Commit.
func (t *Txn) Commit() (uint64, error) {
	return t.mgr.Commit(t)
}

// Rollback is shorthand for the manager's Abort.
func (t *Txn) Rollback() error {
	return t.mgr.Abort(t)
}

func (t *Txn) sortedWrites() []string {
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
