package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/zakazai/ulin-mvcc/internal/executor"
	"github.com/zakazai/ulin-mvcc/internal/planner"
	"github.com/zakazai/ulin-mvcc/internal/storage"
)

const defaultExportInterval = 5 * time.Minute

type exportWorker struct {
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// ExportSnapshot writes every table, as of one snapshot, to parquet files
// in dir.
func (e *Engine) ExportSnapshot(dir string) error {
	exporter, err := storage.NewParquetExporter(dir)
	if err != nil {
		return err
	}
	return e.exportTo(exporter)
}

func (e *Engine) exportTo(exporter *storage.ParquetExporter) error {
	tx := e.txns.Begin(true)
	defer tx.Commit()

	for _, name := range e.catalog.Tables() {
		schema, ok := e.catalog.Lookup(name)
		if !ok {
			continue
		}
		op, err := executor.Build(&planner.Scan{Table: schema}, tx)
		if err != nil {
			return err
		}
		rows, err := executor.Drain(op)
		if err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
		if err := exporter.WriteTable(schema, rows); err != nil {
			if errors.Is(err, storage.ErrInvalidExportName) {
				e.logger.Warning("Skipping export of %q: %v", name, err)
				continue
			}
			return err
		}
		e.logger.Debug("Exported %d rows of %s at snapshot %d", len(rows), name, tx.Snapshot())
	}
	return nil
}

// StartExportWorker exports a snapshot to dir every interval until
// StopExportWorker or Close. A running worker is replaced.
func (e *Engine) StartExportWorker(dir string, interval time.Duration) error {
	exporter, err := storage.NewParquetExporter(dir)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = defaultExportInterval
	}

	w := &exportWorker{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	// The new worker is registered before the old one is stopped so that
	// concurrent callers always leave exactly one worker behind.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		w.ticker.Stop()
		return storage.ErrClosed
	}
	old := e.export
	e.export = w
	e.mu.Unlock()

	old.halt()
	go w.run(e, exporter)
	e.logger.Info("Export worker started: %s every %s", dir, interval)
	return nil
}

func (w *exportWorker) run(e *Engine, exporter *storage.ParquetExporter) {
	defer close(w.done)
	defer w.ticker.Stop()
	for {
		select {
		case <-w.ticker.C:
			if err := e.exportTo(exporter); err != nil {
				e.logger.Warning("Parquet export failed: %v", err)
			}
		case <-w.stop:
			return
		}
	}
}

// halt stops w and waits for an export in progress to finish.
func (w *exportWorker) halt() {
	if w == nil {
		return
	}
	close(w.stop)
	<-w.done
}

// StopExportWorker stops the export worker and waits for an export in
// progress to finish.
func (e *Engine) StopExportWorker() {
	e.mu.Lock()
	w := e.export
	e.export = nil
	e.mu.Unlock()
	w.halt()
}
