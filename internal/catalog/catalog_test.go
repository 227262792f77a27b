package catalog_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/catalog"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func schema(name string) *types.Schema {
	return &types.Schema{
		Name: name,
		Columns: []types.Column{
			{Name: "id", Type: types.TypeInteger, PrimaryKey: true},
		},
	}
}

func TestDefineAndLookup(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Define(schema("b")))
	require.NoError(t, c.Define(schema("a")))

	got, ok := c.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "a", got.Name)

	_, ok = c.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, c.Tables())
}

func TestDefineDuplicate(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Define(schema("t")))

	err := c.Define(schema("t"))
	assert.True(t, errors.Is(err, catalog.ErrDuplicateTable))
	var catErr *catalog.Error
	require.True(t, errors.As(err, &catErr))
	assert.Equal(t, "t", catErr.Table)
}

func TestConcurrentDefineIsAtomic(t *testing.T) {
	c := catalog.New()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Define(schema("t"))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, catalog.ErrDuplicateTable)
		}
	}
	assert.Equal(t, 1, succeeded)
}

type failingPersister struct{ calls int }

func (p *failingPersister) SaveSchema(*types.Schema) error {
	p.calls++
	return errors.New("disk full")
}

func TestPersistFailureLeavesCatalogUnchanged(t *testing.T) {
	p := &failingPersister{}
	c := catalog.NewPersistent(p)

	err := c.Define(schema("t"))
	assert.EqualError(t, err, `table "t": disk full`)
	assert.Equal(t, 1, p.calls)
	_, ok := c.Lookup("t")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	p := &failingPersister{}
	c := catalog.NewPersistent(p)
	require.NoError(t, c.Load([]*types.Schema{schema("a"), schema("b")}))
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, []string{"a", "b"}, c.Tables())

	assert.ErrorIs(t, c.Load([]*types.Schema{schema("a")}), catalog.ErrDuplicateTable)
}
