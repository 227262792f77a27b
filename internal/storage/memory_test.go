package storage_test

import (
	"errors"
	"io"
	"testing"

	"github.com/go-git/go-billy/v6/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func stores() map[string]func(t *testing.T) storage.Store {
	return map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStore() },
		"disk": func(t *testing.T) storage.Store {
			s, err := storage.OpenDisk(memfs.New(), "test.log", storage.DiskOptions{}, types.Discard())
			require.NoError(t, err)
			return s
		},
	}
}

func key(t *testing.T, id int64) []byte {
	k, err := storage.RowKey("t", types.IntValue(id))
	require.NoError(t, err)
	return k
}

func row(id int64, name string) types.Row {
	return types.Row{types.IntValue(id), types.TextValue(name)}
}

func scanAll(t *testing.T, it storage.Iterator) []types.Row {
	var rows []types.Row
	for {
		_, r, err := it.Next()
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, r)
	}
}

func TestVisibility(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			// txn 1 writes, commits at 2.
			require.NoError(t, s.Put(key(t, 1), row(1, "a"), 1, 1))

			_, ok, err := s.Get(key(t, 1), 1, 1)
			require.NoError(t, err)
			assert.True(t, ok, "own staged write is visible")

			_, ok, err = s.Get(key(t, 1), 5, 5)
			require.NoError(t, err)
			assert.False(t, ok, "staged write of another txn is invisible")

			require.NoError(t, s.Commit(1, 2))
			assert.Equal(t, uint64(2), s.LatestCommit(key(t, 1)))

			_, ok, _ = s.Get(key(t, 1), 1, 99)
			assert.False(t, ok, "snapshot before commit")
			got, ok, _ := s.Get(key(t, 1), 2, 99)
			assert.True(t, ok)
			assert.Equal(t, row(1, "a"), got)

			// txn 3 overwrites, commits at 4.
			require.NoError(t, s.Put(key(t, 1), row(1, "b"), 3, 3))
			require.NoError(t, s.Commit(3, 4))

			got, _, _ = s.Get(key(t, 1), 3, 99)
			assert.Equal(t, row(1, "a"), got, "old snapshot keeps the old version")
			got, _, _ = s.Get(key(t, 1), 4, 99)
			assert.Equal(t, row(1, "b"), got)

			// txn 5 deletes, commits at 6.
			require.NoError(t, s.Delete(key(t, 1), 5, 5))
			require.NoError(t, s.Commit(5, 6))
			_, ok, _ = s.Get(key(t, 1), 6, 99)
			assert.False(t, ok)
			_, ok, _ = s.Get(key(t, 1), 5, 99)
			assert.True(t, ok)
		})
	}
}

func TestWriteConflict(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			require.NoError(t, s.Put(key(t, 1), row(1, "a"), 1, 1))
			// txn 2 started before txn 1 committed at 3.
			require.NoError(t, s.Commit(1, 3))

			err := s.Put(key(t, 1), row(1, "b"), 2, 2)
			var conflict *storage.ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.True(t, errors.Is(err, storage.ErrWriteConflict))
			assert.Equal(t, key(t, 1), conflict.Key)

			assert.NoError(t, s.Put(key(t, 1), row(1, "c"), 4, 4))
		})
	}
}

func TestAbortDiscardsStagedVersions(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			require.NoError(t, s.Put(key(t, 1), row(1, "a"), 1, 1))
			require.NoError(t, s.Commit(1, 2))

			require.NoError(t, s.Put(key(t, 1), row(1, "x"), 3, 3))
			require.NoError(t, s.Put(key(t, 2), row(2, "y"), 3, 3))
			require.NoError(t, s.Abort(3))

			got, _, _ := s.Get(key(t, 1), 3, 3)
			assert.Equal(t, row(1, "a"), got)
			_, ok, _ := s.Get(key(t, 2), 3, 3)
			assert.False(t, ok)
			assert.Len(t, scanAll(t, s.Scan(storage.TablePrefix("t"), 10, 10)), 1)
		})
	}
}

func TestScanOrderAndPrefix(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			// More rows than one scan batch, inserted out of order.
			for i := int64(200); i >= 1; i-- {
				require.NoError(t, s.Put(key(t, i), row(i, "r"), 1, 1))
			}
			other, err := storage.RowKey("u", types.IntValue(1))
			require.NoError(t, err)
			require.NoError(t, s.Put(other, row(1, "other"), 1, 1))
			require.NoError(t, s.Commit(1, 2))

			rows := scanAll(t, s.Scan(storage.TablePrefix("t"), 2, 3))
			require.Len(t, rows, 200)
			for i, r := range rows {
				assert.Equal(t, int64(i+1), r[0].I64)
			}

			// Deleted rows are skipped, own staged rows included.
			require.NoError(t, s.Delete(key(t, 5), 3, 3))
			require.NoError(t, s.Put(key(t, 201), row(201, "new"), 3, 3))
			rows = scanAll(t, s.Scan(storage.TablePrefix("t"), 3, 3))
			assert.Len(t, rows, 200)
			assert.Equal(t, int64(201), rows[len(rows)-1][0].I64)
		})
	}
}

func TestScanDoesNotSeeLaterCommits(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Put(key(t, 1), row(1, "a"), 1, 1))
	require.NoError(t, s.Commit(1, 2))

	it := s.Scan(storage.TablePrefix("t"), 3, 3)
	require.NoError(t, s.Put(key(t, 2), row(2, "b"), 4, 4))
	require.NoError(t, s.Commit(4, 5))

	assert.Len(t, scanAll(t, it), 1)
}

func TestVacuum(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Put(key(t, 1), row(1, "a"), 1, 1))
	require.NoError(t, s.Commit(1, 2))
	require.NoError(t, s.Put(key(t, 1), row(1, "b"), 3, 3))
	require.NoError(t, s.Commit(3, 4))
	require.NoError(t, s.Put(key(t, 2), row(2, "x"), 5, 5))
	require.NoError(t, s.Commit(5, 6))
	require.NoError(t, s.Delete(key(t, 2), 7, 7))
	require.NoError(t, s.Commit(7, 8))

	// A snapshot at 3 still needs the first version of key 1.
	assert.Equal(t, 0, s.Vacuum(3))
	got, _, _ := s.Get(key(t, 1), 3, 99)
	assert.Equal(t, row(1, "a"), got)

	// At 8 only the second version of key 1 remains; key 2 is gone.
	assert.Equal(t, 3, s.Vacuum(8))
	got, _, _ = s.Get(key(t, 1), 8, 99)
	assert.Equal(t, row(1, "b"), got)
	_, ok, _ := s.Get(key(t, 2), 8, 99)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), s.LatestCommit(key(t, 2)))
}

func TestClosedStore(t *testing.T) {
	s := storage.NewMemoryStore()
	require.NoError(t, s.Close())

	_, _, err := s.Get(key(t, 1), 1, 1)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put(key(t, 1), row(1, "a"), 1, 1), storage.ErrClosed)
	_, _, err = s.Scan(storage.TablePrefix("t"), 1, 1).Next()
	assert.ErrorIs(t, err, storage.ErrClosed)
}
