// Package storage keeps collected glove samples in an append-only CSV file.
package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gestureecho/gesture"
)

// TimestampLayout matches the ISO-8601 local timestamps written by the
// original collector.
const TimestampLayout = "2006-01-02T15:04:05.000000"

const (
	GestureColumn   = "gesture"
	TimestampColumn = "timestamp"
)

var (
	ErrNoData        = errors.New("sample file does not exist")
	ErrMissingColumn = errors.New("missing column")
)

// Header returns the column layout of the sample file.
func Header() []string {
	header := append([]string(nil), gesture.FeatureNames...)
	return append(header, GestureColumn, TimestampColumn)
}

// Table is the raw content of the sample file.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t *Table) Column(name string) int {
	for i, col := range t.Header {
		if col == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at row/col, or "" if the row is short.
func (t *Table) Cell(row, col int) string {
	if col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Stats is the body of /data_stats.
type Stats struct {
	TotalSamples int            `json:"total_samples"`
	Gestures     map[string]int `json:"gestures"`
}

// SampleStore appends labelled readings to a CSV file.
type SampleStore struct {
	path string
	now  func() time.Time
}

// NewSampleStore does not touch the file; it is created on first Append.
func NewSampleStore(path string) *SampleStore {
	return &SampleStore{path: path, now: time.Now}
}

func (s *SampleStore) Path() string {
	return s.path
}

// Exists reports whether any sample has ever been collected.
func (s *SampleStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Append writes one labelled reading. The header is written first when the
// file does not exist yet. The timestamp is always taken from the store's
// clock.
func (s *SampleStore) Append(reading gesture.Reading, label string) (gesture.Sample, error) {
	sample := gesture.Sample{
		Reading:   reading,
		Gesture:   label,
		Timestamp: s.now(),
	}

	if !s.Exists() {
		if dir := filepath.Dir(s.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return sample, err
			}
		}
		if err := s.writeRows(os.O_CREATE|os.O_WRONLY|os.O_TRUNC, Header()); err != nil {
			return sample, fmt.Errorf("create sample file: %w", err)
		}
	}

	row := make([]string, 0, len(gesture.FeatureNames)+2)
	for _, v := range reading.Vector() {
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}
	row = append(row, label, sample.Timestamp.Format(TimestampLayout))
	if err := s.writeRows(os.O_APPEND|os.O_WRONLY, row); err != nil {
		return sample, fmt.Errorf("append sample: %w", err)
	}
	return sample, nil
}

func (s *SampleStore) writeRows(flag int, rows ...[]string) error {
	file, err := os.OpenFile(s.path, flag, 0o644)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load reads the whole file. Rows may be ragged; validation is left to the
// training pipeline.
func (s *SampleStore) Load() (*Table, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sample header: %w", err)
	}

	table := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sample row %d: %w", len(table.Rows)+1, err)
		}
		if isBlank(record) {
			continue
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

// Stats counts samples per gesture label. A store that has never been
// written to reports zero samples.
func (s *SampleStore) Stats() (Stats, error) {
	stats := Stats{Gestures: map[string]int{}}
	table, err := s.Load()
	if errors.Is(err, ErrNoData) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	stats.TotalSamples = len(table.Rows)
	if len(table.Rows) == 0 {
		return stats, nil
	}
	col := table.Column(GestureColumn)
	if col < 0 {
		return stats, fmt.Errorf("%w: %s", ErrMissingColumn, GestureColumn)
	}
	for i := range table.Rows {
		label := table.Cell(i, col)
		if label == "" {
			continue
		}
		stats.Gestures[label]++
	}
	return stats, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if field != "" {
			return false
		}
	}
	return true
}
