package storage

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/go-git/go-billy/v6"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

type recordKind byte

const (
	recordPut recordKind = iota + 1
	recordDelete
	recordCommit
	recordAbort
	recordSchema
)

// crc(4) kind(1) txn(8) keyLen(4) valLen(4)
const recordHeaderSize = 21

// maxRecordBody bounds the allocation made for a record whose length
// fields were torn.
const maxRecordBody = 64 << 20

type DiskOptions struct {
	CompactOnOpen bool
	SyncOnCommit  bool
}

// DiskStore is a Bitcask-style store: every mutation is appended to a single
// log file and the version index is kept in memory. Staged writes reach the
// log as they happen; a transaction's writes are applied on recovery only if
// its commit record made it to disk.
type DiskStore struct {
	*MemoryStore

	fs     billy.Filesystem
	name   string
	file   billy.File
	w      *bufio.Writer
	offset int64 // end of the last complete record
	opts   DiskOptions
	logger *types.Logger

	// release drops the data directory lock taken by New.
	release io.Closer
}

// OpenDisk opens or creates the log called name on fs and rebuilds the
// version index from it. A torn or corrupt tail is truncated.
func OpenDisk(fs billy.Filesystem, name string, opts DiskOptions, logger *types.Logger) (*DiskStore, error) {
	s := &DiskStore{
		MemoryStore: NewMemoryStore(),
		fs:          fs,
		name:        name,
		opts:        opts,
		logger:      logger.OrGlobal(),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	if opts.CompactOnOpen {
		if err := s.Compact(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *DiskStore) open() error {
	f, err := s.fs.OpenFile(s.name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", s.name, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to lock log %s: %w", s.name, err)
	}

	good, stats, err := s.replay(f)
	if err != nil {
		unlockFile(f)
		f.Close()
		return err
	}
	if err := f.Truncate(good); err != nil {
		unlockFile(f)
		f.Close()
		return fmt.Errorf("failed to truncate log %s: %w", s.name, err)
	}
	if _, err := f.Seek(good, io.SeekStart); err != nil {
		unlockFile(f)
		f.Close()
		return fmt.Errorf("failed to seek log %s: %w", s.name, err)
	}

	s.file = f
	s.w = bufio.NewWriter(f)
	s.offset = good
	s.logger.Info("Recovered %s: %d records, %d committed transactions, %d discarded, clock at %d",
		s.name, stats.records, stats.committed, stats.discarded, s.maxTS)
	return nil
}

type replayStats struct {
	records   int
	committed int
	discarded int
}

type pendingOp struct {
	key     string
	row     types.Row
	deleted bool
}

// replay applies the committed part of the log and returns the offset just
// past the last intact record.
func (s *DiskStore) replay(f billy.File) (int64, replayStats, error) {
	var stats replayStats
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, stats, err
	}

	r := bufio.NewReader(f)
	pending := make(map[uint64][]pendingOp)
	var offset int64

	for {
		rec, n, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warning("Truncating log %s at offset %d: %v", s.name, offset, err)
			break
		}
		offset += n
		stats.records++
		if rec.txnID > s.maxTS {
			s.maxTS = rec.txnID
		}

		switch rec.kind {
		case recordPut:
			row, err := types.DecodeRow(rec.value)
			if err != nil {
				return 0, stats, fmt.Errorf("corrupt row in log %s: %w", s.name, err)
			}
			pending[rec.txnID] = append(pending[rec.txnID], pendingOp{key: string(rec.key), row: row})
		case recordDelete:
			pending[rec.txnID] = append(pending[rec.txnID], pendingOp{key: string(rec.key), deleted: true})
		case recordCommit:
			if len(rec.value) != 8 {
				return 0, stats, fmt.Errorf("corrupt commit record in log %s", s.name)
			}
			ts := binary.BigEndian.Uint64(rec.value)
			for _, op := range pending[rec.txnID] {
				s.stageLocked(op.key, op.row, op.deleted, rec.txnID)
			}
			s.commitLocked(rec.txnID, ts)
			delete(pending, rec.txnID)
			stats.committed++
		case recordAbort:
			delete(pending, rec.txnID)
		case recordSchema:
			var schema types.Schema
			if err := json.Unmarshal(rec.value, &schema); err != nil {
				return 0, stats, fmt.Errorf("corrupt schema in log %s: %w", s.name, err)
			}
			s.schemas[schema.Name] = &schema
		default:
			return 0, stats, fmt.Errorf("unknown record kind %d in log %s", rec.kind, s.name)
		}
	}
	stats.discarded = len(pending)
	return offset, stats, nil
}

type record struct {
	kind  recordKind
	txnID uint64
	key   []byte
	value []byte
}

var errCorruptRecord = errors.New("checksum mismatch")

func readRecord(r io.Reader) (record, int64, error) {
	var rec record
	var hdr [recordHeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err == io.EOF {
		return rec, 0, io.EOF
	}
	if err != nil {
		return rec, 0, fmt.Errorf("short header (%d bytes): %w", n, err)
	}

	sum := binary.BigEndian.Uint32(hdr[0:4])
	rec.kind = recordKind(hdr[4])
	rec.txnID = binary.BigEndian.Uint64(hdr[5:13])
	keyLen := binary.BigEndian.Uint32(hdr[13:17])
	valLen := binary.BigEndian.Uint32(hdr[17:21])

	if uint64(keyLen)+uint64(valLen) > maxRecordBody {
		return rec, 0, fmt.Errorf("record of %d bytes exceeds limit", uint64(keyLen)+uint64(valLen))
	}
	body := make([]byte, int(keyLen)+int(valLen))
	if _, err := io.ReadFull(r, body); err != nil {
		return rec, 0, fmt.Errorf("short body: %w", err)
	}

	h := crc32.NewIEEE()
	h.Write(hdr[4:])
	h.Write(body)
	if h.Sum32() != sum {
		return rec, 0, errCorruptRecord
	}

	rec.key, rec.value = body[:keyLen], body[keyLen:]
	return rec, int64(recordHeaderSize + len(body)), nil
}

func writeRecord(w io.Writer, rec record) error {
	var hdr [recordHeaderSize]byte
	hdr[4] = byte(rec.kind)
	binary.BigEndian.PutUint64(hdr[5:13], rec.txnID)
	binary.BigEndian.PutUint32(hdr[13:17], uint32(len(rec.key)))
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(rec.value)))

	h := crc32.NewIEEE()
	h.Write(hdr[4:])
	h.Write(rec.key)
	h.Write(rec.value)
	binary.BigEndian.PutUint32(hdr[0:4], h.Sum32())

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(rec.key); err != nil {
		return err
	}
	_, err := w.Write(rec.value)
	return err
}

// appendLocked writes rec at the end of the log. On failure the log is cut
// back to the previous record so that a partial record never sits in front
// of later ones.
func (s *DiskStore) appendLocked(rec record, sync bool) error {
	err := writeRecord(s.w, rec)
	if err == nil {
		err = s.w.Flush()
	}
	if err == nil && sync {
		err = syncFile(s.file)
	}
	if err != nil {
		s.rewindLocked()
		return fmt.Errorf("failed to append to log %s: %w", s.name, err)
	}
	s.offset += int64(recordHeaderSize + len(rec.key) + len(rec.value))
	return nil
}

// rewindLocked drops everything past s.offset and replaces the writer,
// whose errors are sticky.
func (s *DiskStore) rewindLocked() {
	if err := s.file.Truncate(s.offset); err != nil {
		s.logger.Error("Failed to truncate log %s to %d: %v", s.name, s.offset, err)
	}
	if _, err := s.file.Seek(s.offset, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek log %s to %d: %v", s.name, s.offset, err)
	}
	s.w = bufio.NewWriter(s.file)
}

func syncFile(f billy.File) error {
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", f.Name(), err)
		}
	}
	return nil
}

// lockFile takes the file system's lock on f when it offers one.
func lockFile(f billy.File) error {
	if l, ok := f.(billy.Locker); ok {
		return l.Lock()
	}
	return nil
}

func unlockFile(f billy.File) {
	if l, ok := f.(billy.Locker); ok {
		l.Unlock()
	}
}

func (s *DiskStore) Put(key []byte, row types.Row, txnID, snapshot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.checkWriteLocked(key, snapshot); err != nil {
		return err
	}

	value, err := types.EncodeRow(row)
	if err != nil {
		return err
	}
	if err := s.appendLocked(record{kind: recordPut, txnID: txnID, key: key, value: value}, false); err != nil {
		return err
	}
	s.stageLocked(string(key), row.Clone(), false, txnID)
	return nil
}

func (s *DiskStore) Delete(key []byte, txnID, snapshot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.checkWriteLocked(key, snapshot); err != nil {
		return err
	}

	if err := s.appendLocked(record{kind: recordDelete, txnID: txnID, key: key}, false); err != nil {
		return err
	}
	s.stageLocked(string(key), nil, true, txnID)
	return nil
}

// Commit writes the commit record and, once it is on disk, flips the
// transaction's versions to committed.
func (s *DiskStore) Commit(txnID, commitTS uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if len(s.staged[txnID]) > 0 {
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], commitTS)
		if err := s.appendLocked(record{kind: recordCommit, txnID: txnID, value: ts[:]}, s.opts.SyncOnCommit); err != nil {
			return err
		}
	}
	s.commitLocked(txnID, commitTS)
	return nil
}

func (s *DiskStore) Abort(txnID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// The in-memory discard happens regardless: replay drops the
	// transaction anyway when no commit record follows its writes.
	var err error
	if len(s.staged[txnID]) > 0 {
		err = s.appendLocked(record{kind: recordAbort, txnID: txnID}, false)
	}
	s.abortLocked(txnID)
	return err
}

func (s *DiskStore) SaveSchema(schema *types.Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.appendLocked(record{kind: recordSchema, value: data}, true); err != nil {
		return err
	}
	s.schemas[schema.Name] = schema
	return nil
}

// Compact rewrites the log so that it holds only the schemas, the newest
// committed version of every live key and the writes of transactions that
// are still running. The new log replaces the old one by rename.
func (s *DiskStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmpName := s.name + ".compact"
	tmp, err := s.fs.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpName, err)
	}
	w := bufio.NewWriter(tmp)

	records, err := s.snapshotRecordsLocked()
	if err == nil {
		for _, rec := range records {
			if err = writeRecord(w, rec); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = syncFile(tmp)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to compact log %s: %w", s.name, err)
	}

	unlockFile(s.file)
	err = s.file.Close()
	if err == nil {
		err = s.fs.Rename(tmpName, s.name)
	}
	if err != nil {
		s.fs.Remove(tmpName)
	}

	// Whether or not the rename happened, s.name is a complete log.
	if rerr := s.reopenLocked(); rerr != nil {
		s.closed = true
		s.releaseLocked()
		return fmt.Errorf("failed to reopen log %s: %w", s.name, rerr)
	}
	if err != nil {
		return fmt.Errorf("failed to replace log %s: %w", s.name, err)
	}
	s.logger.Info("Compacted log %s to %d records", s.name, len(records))
	return nil
}

func (s *DiskStore) reopenLocked() error {
	f, err := s.fs.OpenFile(s.name, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return err
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		unlockFile(f)
		f.Close()
		return err
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	s.offset = end
	return nil
}

func (s *DiskStore) releaseLocked() {
	if s.release != nil {
		s.release.Close()
		s.release = nil
	}
}

// snapshotRecordsLocked lists the records of a compacted log. Committed
// versions are grouped under a synthetic transaction whose id is their
// commit timestamp, so replay restores the same timestamps.
func (s *DiskStore) snapshotRecordsLocked() ([]record, error) {
	var records []record

	names := make([]string, 0, len(s.schemas))
	for name := range s.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := json.Marshal(s.schemas[name])
		if err != nil {
			return nil, err
		}
		records = append(records, record{kind: recordSchema, value: data})
	}

	byCommit := make(map[uint64][]record)
	var staged []record
	for _, key := range s.liveKeysLocked() {
		c := s.chainFor(key)
		n := c.committedCount()
		if n > 0 && !c.versions[n-1].deleted {
			latest := c.versions[n-1]
			value, err := types.EncodeRow(latest.row)
			if err != nil {
				return nil, err
			}
			byCommit[latest.begin] = append(byCommit[latest.begin],
				record{kind: recordPut, txnID: latest.begin, key: []byte(key), value: value})
		}
		for _, v := range c.versions[n:] {
			rec := record{kind: recordDelete, txnID: v.txnID, key: []byte(key)}
			if !v.deleted {
				value, err := types.EncodeRow(v.row)
				if err != nil {
					return nil, err
				}
				rec.kind, rec.value = recordPut, value
			}
			staged = append(staged, rec)
		}
	}

	commits := make([]uint64, 0, len(byCommit))
	for ts := range byCommit {
		commits = append(commits, ts)
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i] < commits[j] })
	for _, ts := range commits {
		records = append(records, byCommit[ts]...)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], ts)
		records = append(records, record{kind: recordCommit, txnID: ts, value: buf[:]})
	}
	return append(records, staged...), nil
}

func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.w.Flush()
	if serr := syncFile(s.file); err == nil {
		err = serr
	}
	unlockFile(s.file)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.releaseLocked()
	return err
}
