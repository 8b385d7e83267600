package csv

import (
	stdcsv "encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FailedRowsPath returns where the failed-row report for source is written:
// "<dir>/<base without .csv> - failed.csv".
func FailedRowsPath(dir, source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(dir, fmt.Sprintf("%s - failed.csv", base))
}

// FailedRowWriter writes rejected rows, each prefixed with the reason it
// was rejected. The file is only kept if at least one row was written.
type FailedRowWriter struct {
	path string
	f    *os.File
	w    *stdcsv.Writer
	rows int
}

// CreateFailedRowWriter creates the report file at path and writes the
// header row ("Reason" followed by columns).
func CreateFailedRowWriter(path string, columns []string) (*FailedRowWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create failed-row report: %w", err)
	}

	w := stdcsv.NewWriter(f)
	if err := w.Write(append([]string{"Reason"}, columns...)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write failed-row header: %w", err)
	}

	return &FailedRowWriter{path: path, f: f, w: w}, nil
}

// Write appends one rejected row.
func (w *FailedRowWriter) Write(reason string, fields []string) error {
	if err := w.w.Write(append([]string{reason}, fields...)); err != nil {
		return fmt.Errorf("write failed row: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns the number of rows written so far.
func (w *FailedRowWriter) Rows() int {
	return w.rows
}

// Path returns the report location.
func (w *FailedRowWriter) Path() string {
	return w.path
}

// Close flushes the report. An empty report is removed.
func (w *FailedRowWriter) Close() error {
	w.w.Flush()
	flushErr := w.w.Error()
	closeErr := w.f.Close()

	if w.rows == 0 {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove empty failed-row report: %w", err)
		}
		return nil
	}

	if flushErr != nil {
		return fmt.Errorf("flush failed-row report: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close failed-row report: %w", closeErr)
	}
	return nil
}
