package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// ParquetRow is the on-disk layout of an exported row: the row is kept as a
// JSON object keyed by column name so one file layout fits every table.
type ParquetRow struct {
	TableName string `parquet:"name=table_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	DataJSON  string `parquet:"name=data_json, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ParquetExporter writes table snapshots to <dir>/<table>.parquet for
// offline analysis. It never feeds data back into the engine.
type ParquetExporter struct {
	dir        string
	mu         sync.Mutex
	lastExport time.Time
}

// NewParquetExporter creates an exporter writing under dir
func NewParquetExporter(dir string) (*ParquetExporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &ParquetExporter{dir: dir}, nil
}

// ErrInvalidExportName rejects table names that cannot be used as a file
// name inside the export directory.
var ErrInvalidExportName = errors.New("storage: table name is not a valid export file name")

func (e *ParquetExporter) path(table string) (string, error) {
	if table == "" || table == "." || table == ".." ||
		strings.ContainsAny(table, "/\\\x00") || filepath.Base(table) != table {
		return "", fmt.Errorf("%w: %q", ErrInvalidExportName, table)
	}
	return filepath.Join(e.dir, table+".parquet"), nil
}

// WriteTable replaces the export of schema.Name with rows. An empty table
// removes any previous export.
func (e *ParquetExporter) WriteTable(schema *types.Schema, rows []types.Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	filePath, err := e.path(schema.Name)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	fw, err := local.NewLocalFileWriter(filePath)
	if err != nil {
		return err
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		data := make(map[string]interface{}, len(schema.Columns))
		for i, col := range schema.Columns {
			data[col.Name] = row[i].Interface()
		}
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if err := pw.Write(&ParquetRow{TableName: schema.Name, DataJSON: string(jsonData)}); err != nil {
			return err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return err
	}
	e.lastExport = time.Now()
	return nil
}

// ReadTable reads all rows from a table's Parquet file
func (e *ParquetExporter) ReadTable(tableName string) ([]map[string]interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	filePath, err := e.path(tableName)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return []map[string]interface{}{}, nil
	}

	fr, err := local.NewLocalFileReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(ParquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet reader: %w", err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	parquetRows := make([]ParquetRow, numRows)
	if err := pr.Read(&parquetRows); err != nil {
		return nil, fmt.Errorf("failed to read Parquet rows: %w", err)
	}

	rows := make([]map[string]interface{}, 0, numRows)
	for _, prow := range parquetRows {
		if prow.TableName != tableName {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal([]byte(prow.DataJSON), &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row data: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LastExport returns the time of the last successful WriteTable
func (e *ParquetExporter) LastExport() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastExport
}
