package storage

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// scanBatch is how many keys a scan examines per latch acquisition.
const scanBatch = 64

// version is one entry of a key's version chain.
type version struct {
	txnID     uint64
	begin     uint64 // commit timestamp, 0 while staged
	end       uint64 // commit timestamp of the successor, 0 while open
	committed bool
	deleted   bool
	row       types.Row
}

// chain holds every version of one logical key: committed versions ordered
// by begin timestamp, followed by the versions still staged by live
// transactions. Supersession is recorded in end, never by relinking.
type chain struct {
	versions []version
}

// visible returns the version a reader with the given snapshot and id sees.
func (c *chain) visible(snapshot, txnID uint64) (*version, bool) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		v := &c.versions[i]
		if !v.committed {
			if v.txnID == txnID {
				return v, true
			}
			continue
		}
		if v.begin <= snapshot && (v.end == 0 || v.end > snapshot) {
			return v, true
		}
	}
	return nil, false
}

func (c *chain) committedCount() int {
	n := 0
	for n < len(c.versions) && c.versions[n].committed {
		n++
	}
	return n
}

func (c *chain) latestCommit() uint64 {
	if n := c.committedCount(); n > 0 {
		return c.versions[n-1].begin
	}
	return 0
}

func (c *chain) staged(txnID uint64) int {
	for i := c.committedCount(); i < len(c.versions); i++ {
		if c.versions[i].txnID == txnID {
			return i
		}
	}
	return -1
}

// MemoryStore keeps every version in an ordered in-process index. It has no
// durability; DiskStore layers an append log over it.
type MemoryStore struct {
	mu      sync.RWMutex
	index   *redblacktree.Tree // string(key) -> *chain
	staged  map[uint64][]string
	schemas map[string]*types.Schema
	maxTS   uint64
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index:   redblacktree.NewWithStringComparator(),
		staged:  make(map[uint64][]string),
		schemas: make(map[string]*types.Schema),
	}
}

func (s *MemoryStore) chainFor(key string) *chain {
	if v, ok := s.index.Get(key); ok {
		return v.(*chain)
	}
	return nil
}

func (s *MemoryStore) Get(key []byte, snapshot, txnID uint64) (types.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	c := s.chainFor(string(key))
	if c == nil {
		return nil, false, nil
	}
	v, ok := c.visible(snapshot, txnID)
	if !ok || v.deleted {
		return nil, false, nil
	}
	return v.row.Clone(), true, nil
}

func (s *MemoryStore) Scan(prefix []byte, snapshot, txnID uint64) Iterator {
	return &memIterator{
		store:    s,
		prefix:   string(prefix),
		from:     string(prefix),
		snapshot: snapshot,
		txnID:    txnID,
	}
}

func (s *MemoryStore) Put(key []byte, row types.Row, txnID, snapshot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.checkWriteLocked(key, snapshot); err != nil {
		return err
	}
	s.stageLocked(string(key), row.Clone(), false, txnID)
	return nil
}

func (s *MemoryStore) Delete(key []byte, txnID, snapshot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.checkWriteLocked(key, snapshot); err != nil {
		return err
	}
	s.stageLocked(string(key), nil, true, txnID)
	return nil
}

// checkWriteLocked enforces first-committer-wins at write time: a version
// committed after the writer's snapshot can never be overwritten by it.
func (s *MemoryStore) checkWriteLocked(key []byte, snapshot uint64) error {
	if c := s.chainFor(string(key)); c != nil && c.latestCommit() > snapshot {
		return &ConflictError{Key: append([]byte(nil), key...)}
	}
	return nil
}

func (s *MemoryStore) stageLocked(key string, row types.Row, deleted bool, txnID uint64) {
	if txnID > s.maxTS {
		s.maxTS = txnID
	}

	c := s.chainFor(key)
	if c == nil {
		c = &chain{}
		s.index.Put(key, c)
	}
	if i := c.staged(txnID); i >= 0 {
		c.versions[i].row = row
		c.versions[i].deleted = deleted
		return
	}
	c.versions = append(c.versions, version{txnID: txnID, row: row, deleted: deleted})
	s.staged[txnID] = append(s.staged[txnID], key)
}

func (s *MemoryStore) LatestCommit(key []byte) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.chainFor(string(key)); c != nil {
		return c.latestCommit()
	}
	return 0
}

func (s *MemoryStore) Commit(txnID, commitTS uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.commitLocked(txnID, commitTS)
	return nil
}

// commitLocked moves each staged version of txnID to the end of the
// committed run of its chain and closes its predecessor at commitTS.
func (s *MemoryStore) commitLocked(txnID, commitTS uint64) {
	for _, key := range s.staged[txnID] {
		c := s.chainFor(key)
		if c == nil {
			continue
		}
		i := c.staged(txnID)
		if i < 0 {
			continue
		}
		v := c.versions[i]
		v.committed, v.begin = true, commitTS

		n := c.committedCount()
		if n > 0 {
			c.versions[n-1].end = commitTS
		}
		copy(c.versions[n+1:i+1], c.versions[n:i])
		c.versions[n] = v
	}
	delete(s.staged, txnID)
	if commitTS > s.maxTS {
		s.maxTS = commitTS
	}
}

func (s *MemoryStore) Abort(txnID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.abortLocked(txnID)
	return nil
}

func (s *MemoryStore) abortLocked(txnID uint64) {
	for _, key := range s.staged[txnID] {
		c := s.chainFor(key)
		if c == nil {
			continue
		}
		if i := c.staged(txnID); i >= 0 {
			c.versions = append(c.versions[:i], c.versions[i+1:]...)
		}
		if len(c.versions) == 0 {
			s.index.Remove(key)
		}
	}
	delete(s.staged, txnID)
}

func (s *MemoryStore) Vacuum(watermark uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}

	removed := 0
	var empty []string
	it := s.index.Iterator()
	for it.Next() {
		c := it.Value().(*chain)
		n := c.committedCount()

		// keep is the newest version a snapshot at watermark can see; all
		// committed versions before it are hidden from every later snapshot.
		keep := -1
		for i := n - 1; i >= 0; i-- {
			if c.versions[i].begin <= watermark {
				keep = i
				break
			}
		}
		if keep < 0 {
			continue
		}
		drop := keep
		if c.versions[keep].deleted && keep == len(c.versions)-1 {
			drop = keep + 1
		}
		if drop == 0 {
			continue
		}
		c.versions = append(c.versions[:0], c.versions[drop:]...)
		removed += drop
		if len(c.versions) == 0 {
			empty = append(empty, it.Key().(string))
		}
	}
	for _, key := range empty {
		s.index.Remove(key)
	}
	return removed
}

func (s *MemoryStore) MaxTimestamp() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxTS
}

func (s *MemoryStore) SaveSchema(schema *types.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.schemas[schema.Name] = schema
	return nil
}

func (s *MemoryStore) Schemas() []*types.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Schema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		out = append(out, schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// liveKeys returns every key with at least one version, in order.
func (s *MemoryStore) liveKeysLocked() []string {
	keys := make([]string, 0, s.index.Size())
	it := s.index.Iterator()
	for it.Next() {
		keys = append(keys, it.Key().(string))
	}
	return keys
}

type kv struct {
	key []byte
	row types.Row
}

// memIterator refills a small buffer under the read latch, resuming from
// the first key after the last one it returned.
type memIterator struct {
	store    *MemoryStore
	prefix   string
	from     string
	snapshot uint64
	txnID    uint64
	buf      []kv
	done     bool
}

func (it *memIterator) Next() ([]byte, types.Row, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, nil, io.EOF
		}
		if err := it.fill(); err != nil {
			return nil, nil, err
		}
	}
	next := it.buf[0]
	it.buf = it.buf[1:]
	return next.key, next.row, nil
}

func (it *memIterator) fill() error {
	s := it.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	node, ok := s.index.Ceiling(it.from)
	if !ok {
		it.done = true
		return nil
	}
	for examined := 0; examined < scanBatch; examined++ {
		if node == nil {
			it.done = true
			return nil
		}
		key := node.Key.(string)
		if !strings.HasPrefix(key, it.prefix) {
			it.done = true
			return nil
		}
		if v, ok := node.Value.(*chain).visible(it.snapshot, it.txnID); ok && !v.deleted {
			it.buf = append(it.buf, kv{key: []byte(key), row: v.row.Clone()})
		}
		it.from = key + "\x00"
		node = successor(node)
	}
	return nil
}

func successor(n *redblacktree.Node) *redblacktree.Node {
	if n.Right != nil {
		n = n.Right
		for n.Left != nil {
			n = n.Left
		}
		return n
	}
	for n.Parent != nil && n == n.Parent.Right {
		n = n.Parent
	}
	return n.Parent
}
