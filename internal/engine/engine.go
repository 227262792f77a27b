// Package engine ties the SQL pipeline to the transactional store: it
// parses, plans and executes statements inside sessions.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/zakazai/ulin-mvcc/internal/catalog"
	"github.com/zakazai/ulin-mvcc/internal/planner"
	"github.com/zakazai/ulin-mvcc/internal/storage"
	"github.com/zakazai/ulin-mvcc/internal/txn"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

var (
	ErrNoTransaction         = errors.New("no transaction in progress")
	ErrTransactionInProgress = errors.New("transaction already in progress")
)

// IsRetryable reports whether err came from losing a write race. The
// transaction has been aborted and may be retried from the start.
func IsRetryable(err error) bool {
	return errors.Is(err, storage.ErrWriteConflict) || errors.Is(err, txn.ErrConflict)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and everything it opens.
func WithLogger(logger *types.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine is safe for concurrent use. Sessions are not.
type Engine struct {
	store   storage.Store
	catalog *catalog.Catalog
	planner *planner.Planner
	txns    *txn.Manager
	logger  *types.Logger

	mu     sync.Mutex
	export *exportWorker
	closed bool
}

// Open creates the store described by config and an engine over it.
func Open(config storage.Config, opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	store, err := storage.New(config, e.logger.OrGlobal())
	if err != nil {
		return nil, err
	}
	eng, err := New(store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return eng, nil
}

// New creates an engine over an open store. Table definitions already in
// the store are loaded into the catalog.
func New(store storage.Store, opts ...Option) (*Engine, error) {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.OrGlobal()

	e.catalog = catalog.NewPersistent(store)
	if err := e.catalog.Load(store.Schemas()); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	e.planner = planner.New(e.catalog)
	e.txns = txn.NewManager(store, e.logger)

	e.logger.Info("Engine ready: %d tables, clock at %d", len(e.catalog.Tables()), store.MaxTimestamp())
	return e, nil
}

// Session is a connection-like handle. Outside an explicit transaction
// every statement runs in its own autocommit transaction.
type Session struct {
	id uuid.UUID
	tx *txn.Txn
}

func (s *Session) ID() uuid.UUID { return s.id }

// InTransaction reports whether an explicit transaction is open, including
// one that was aborted and still awaits ROLLBACK.
func (s *Session) InTransaction() bool { return s.tx != nil }

// NewSession returns a session in autocommit mode.
func (e *Engine) NewSession() *Session {
	return &Session{id: uuid.New()}
}

// Begin returns a session with an explicit read-write transaction open.
func (e *Engine) Begin() *Session {
	s := e.NewSession()
	e.begin(s)
	return s
}

func (e *Engine) begin(s *Session) {
	s.tx = e.txns.Begin(false)
	e.logger.Debug("session %s: begin txn %d", s.id, s.tx.ID())
}

// Commit commits the session's explicit transaction.
func (e *Engine) Commit(s *Session) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	ts, err := tx.Commit()
	if err != nil {
		e.logger.Debug("session %s: commit of txn %d failed: %v", s.id, tx.ID(), err)
		return err
	}
	e.logger.Debug("session %s: txn %d committed at %d", s.id, tx.ID(), ts)
	return nil
}

// Rollback aborts the session's explicit transaction. Rolling back a
// transaction that already aborted itself is not an error.
func (e *Engine) Rollback(s *Session) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, txn.ErrFinalized) {
		return err
	}
	e.logger.Debug("session %s: txn %d rolled back", s.id, tx.ID())
	return nil
}

// Exec runs sql in a fresh autocommit session.
func (e *Engine) Exec(sql string) (*Result, error) {
	s := e.NewSession()
	res, err := e.Execute(s, sql)
	if s.tx != nil {
		e.Rollback(s)
		if err == nil {
			res.Close()
			err = fmt.Errorf("Exec cannot leave a transaction open: %w", ErrTransactionInProgress)
		}
		return nil, err
	}
	return res, err
}

// Tables lists the defined tables in name order.
func (e *Engine) Tables() []string {
	return e.catalog.Tables()
}

// Schema returns the definition of table name.
func (e *Engine) Schema(name string) (*types.Schema, bool) {
	return e.catalog.Lookup(name)
}

// Vacuum drops versions no open or future snapshot can read.
func (e *Engine) Vacuum() int {
	return e.txns.Vacuum()
}

// Compact rewrites the durable log when the store keeps one.
func (e *Engine) Compact() error {
	if c, ok := e.store.(interface{ Compact() error }); ok {
		return c.Compact()
	}
	return nil
}

// Close stops the export worker and closes the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	w := e.export
	e.export = nil
	e.mu.Unlock()

	w.halt()
	return e.store.Close()
}
