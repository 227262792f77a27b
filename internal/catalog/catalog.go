// Package catalog is the registry of table schemas shared by the planner and
// the executor.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zakazai/ulin-mvcc/internal/types"
)

var ErrDuplicateTable = errors.New("table already exists")

// Error ties a catalog failure to the table it concerns.
type Error struct {
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("table %q: %v", e.Table, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Persister makes a schema durable before the catalog exposes it.
type Persister interface {
	SaveSchema(schema *types.Schema) error
}

// Catalog maps table names to schemas. All mutations are serialised by one
// lock; DDL is rare enough that nothing finer is needed.
type Catalog struct {
	mu      sync.RWMutex
	tables  map[string]*types.Schema
	persist Persister
}

// New creates an empty catalog that keeps schemas in memory only.
func New() *Catalog {
	return &Catalog{tables: make(map[string]*types.Schema)}
}

// NewPersistent creates an empty catalog that hands every new schema to p.
func NewPersistent(p Persister) *Catalog {
	c := New()
	c.persist = p
	return c
}

// Load seeds the catalog with schemas recovered at startup. It does not
// persist them again.
func (c *Catalog) Load(schemas []*types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, schema := range schemas {
		if _, exists := c.tables[schema.Name]; exists {
			return &Error{Table: schema.Name, Err: ErrDuplicateTable}
		}
		c.tables[schema.Name] = schema
	}
	return nil
}

// Define registers schema. On a persistence failure the catalog is left
// unchanged.
func (c *Catalog) Define(schema *types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[schema.Name]; exists {
		return &Error{Table: schema.Name, Err: ErrDuplicateTable}
	}
	if c.persist != nil {
		if err := c.persist.SaveSchema(schema); err != nil {
			return &Error{Table: schema.Name, Err: err}
		}
	}
	c.tables[schema.Name] = schema
	return nil
}

// Lookup returns the schema of the named table.
func (c *Catalog) Lookup(name string) (*types.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.tables[name]
	return schema, ok
}

// Tables returns the table names in sorted order.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
