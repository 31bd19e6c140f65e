package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/iosweep/iosweep/internal/launcher"
)

// EncodeCSV writes the header and all rows to w.
func (t *Table) EncodeCSV(w io.Writer) error {
	return EncodeRowsCSV(w, t.mode, t.rows)
}

// EncodeRowsCSV writes the column header of mode followed by rows to w.
func EncodeRowsCSV(w io.Writer, mode launcher.Mode, rows []Row) error {
	columns := Columns(mode)
	if columns == nil {
		return fmt.Errorf("unknown benchmark mode %q", mode)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Values(mode)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriteCSV writes the table to path. Nothing is written, and false is
// returned, when path is empty or the table has no rows.
func (t *Table) WriteCSV(path string) (bool, error) {
	if path == "" || t.Len() == 0 {
		return false, nil
	}
	if err := ensureDir(path); err != nil {
		return false, err
	}

	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("failed to create csv file: %w", err)
	}
	if err := t.EncodeCSV(f); err != nil {
		f.Close()
		return false, err
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close csv file: %w", err)
	}
	return true, nil
}

type iorParquetRow struct {
	PPN          int32  `parquet:"name=ppn, type=INT32"`
	NodeCount    int32  `parquet:"name=node_count, type=INT32"`
	BlockSize    string `parquet:"name=blocksize, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransferSize string `parquet:"name=transfer_size, type=BYTE_ARRAY, convertedtype=UTF8"`
	MaxWrite     string `parquet:"name=max_write, type=BYTE_ARRAY, convertedtype=UTF8"`
	WriteUnits   string `parquet:"name=write_units, type=BYTE_ARRAY, convertedtype=UTF8"`
	MaxRead      string `parquet:"name=max_read, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReadUnits    string `parquet:"name=read_units, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type mdtestParquetRow struct {
	PPN          int32  `parquet:"name=ppn, type=INT32"`
	NodeCount    int32  `parquet:"name=node_count, type=INT32"`
	FilesPerProc int32  `parquet:"name=files_per_proc, type=INT32"`
	TotalFiles   int32  `parquet:"name=total_files, type=INT32"`
	Operation    string `parquet:"name=operation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Max          string `parquet:"name=max, type=BYTE_ARRAY, convertedtype=UTF8"`
	Min          string `parquet:"name=min, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mean         string `parquet:"name=mean, type=BYTE_ARRAY, convertedtype=UTF8"`
	StdDev       string `parquet:"name=stddev, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (t *Table) parquetRows() (schema any, rows []any) {
	switch t.mode {
	case launcher.ModeIOR:
		for _, r := range t.rows {
			rows = append(rows, iorParquetRow{
				PPN:          int32(r.PPN),
				NodeCount:    int32(r.NodeCount),
				BlockSize:    r.BlockSize,
				TransferSize: r.TransferSize,
				MaxWrite:     r.MaxWrite,
				WriteUnits:   r.WriteUnits,
				MaxRead:      r.MaxRead,
				ReadUnits:    r.ReadUnits,
			})
		}
		return new(iorParquetRow), rows
	default:
		for _, r := range t.rows {
			rows = append(rows, mdtestParquetRow{
				PPN:          int32(r.PPN),
				NodeCount:    int32(r.NodeCount),
				FilesPerProc: int32(r.FilesPerProc),
				TotalFiles:   int32(r.TotalFiles),
				Operation:    r.Operation,
				Max:          r.Max,
				Min:          r.Min,
				Mean:         r.Mean,
				StdDev:       r.StdDev,
			})
		}
		return new(mdtestParquetRow), rows
	}
}

// WriteParquet writes the table to a Parquet file with the same columns as
// the CSV export. Like WriteCSV it writes nothing for an empty table.
func (t *Table) WriteParquet(path string) (bool, error) {
	if path == "" || t.Len() == 0 {
		return false, nil
	}
	if err := ensureDir(path); err != nil {
		return false, err
	}

	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return false, fmt.Errorf("failed to create parquet file: %w", err)
	}

	schema, rows := t.parquetRows()
	pw, err := writer.NewParquetWriter(file, schema, 1)
	if err != nil {
		file.Close()
		return false, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			file.Close()
			return false, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		file.Close()
		return false, fmt.Errorf("failed to stop parquet writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return false, fmt.Errorf("failed to close parquet file: %w", err)
	}
	return true, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
