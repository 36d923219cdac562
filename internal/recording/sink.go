// internal/recording/sink.go
package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lostwheel-gateway/internal/data"
)

const fileStampLayout = "20060102150405"

// FileName builds "{id}_{serial}_{YYYYMMDDHHMMSS}.csv".
func FileName(id, serial string, start time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", id, serial, start.Format(fileStampLayout))
}

// Sink is an append-only CSV log of samples. It is written by a single goroutine.
type Sink struct {
	path   string
	file   *os.File
	writer *csv.Writer
	rows   int
}

// Open creates a new recording file under basePath and writes the header.
// An existing file with the same name is never overwritten.
func Open(basePath, id, serial string, start time.Time) (*Sink, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(basePath, FileName(id, serial, start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Sink{path: path, file: f, writer: csv.NewWriter(f)}
	if err := s.writeRecord(data.CSVHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return s, nil
}

// Write appends one sample row and flushes it to the file.
func (s *Sink) Write(sample data.Sample) error {
	if err := s.writeRecord(sample.Record()); err != nil {
		return err
	}
	s.rows++
	return nil
}

func (s *Sink) writeRecord(record []string) error {
	if err := s.writer.Write(record); err != nil {
		return err
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.writer.Flush()
	return errors.Join(s.writer.Error(), s.file.Sync(), s.file.Close())
}

// Path is the file being written.
func (s *Sink) Path() string { return s.path }

// Rows is the number of sample rows written, header excluded.
func (s *Sink) Rows() int { return s.rows }
