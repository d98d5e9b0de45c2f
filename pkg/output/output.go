// Package output holds the run-output sink that work items append their
// results to, plus readers for the JSON-lines files the sink produces.
//
// One line is one Record. Downstream consumers depend only on this format:
//
//	{"sourceSpecId":"4f0c...","result":{...}}
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Record is a single result element tagged with the spec that produced it.
type Record struct {
	SourceSpecID string `json:"sourceSpecId"`
	Result       any    `json:"result"`
}

// Sink is an append-only destination for records.
// Append must be safe for concurrent use; each append is atomic, but no
// ordering across concurrent callers is promised.
type Sink interface {
	Append(rec Record)
}

// Buffer is an in-memory Sink.
type Buffer struct {
	mu      sync.Mutex
	records []Record
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append implements Sink.
func (b *Buffer) Append(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

// Records returns a copy of the appended records.
func (b *Buffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the number of appended records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// FileSink writes records as JSON lines to a file.
// Write failures are remembered and reported by Err and Close.
type FileSink struct {
	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	count int
	err   error
}

// CreateFile opens path for appending and returns a sink writing to it.
func CreateFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &FileSink{file: f, w: bufio.NewWriter(f)}, nil
}

// Append implements Sink. The encoded line is written under the lock so
// concurrent records never interleave.
func (s *FileSink) Append(rec Record) {
	line, err := json.Marshal(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	if err != nil {
		s.err = fmt.Errorf("marshal record %s: %w", rec.SourceSpecID, err)
		return
	}
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		s.err = fmt.Errorf("write record %s: %w", rec.SourceSpecID, err)
		return
	}
	s.count++
}

// Count returns the number of records written so far.
func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Err returns the first write error, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes buffered records and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil && s.err == nil {
		s.err = fmt.Errorf("flush output file: %w", err)
	}
	if err := s.file.Close(); err != nil && s.err == nil {
		s.err = fmt.Errorf("close output file: %w", err)
	}
	return s.err
}

// StoredRecord is a Record read back from disk with its result left raw.
type StoredRecord struct {
	SourceSpecID string          `json:"sourceSpecId"`
	Result       json.RawMessage `json:"result"`
}

// ReadFile reads every record of a JSON-lines output file.
// Blank lines are skipped.
func ReadFile(path string) ([]StoredRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	var records []StoredRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec StoredRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: decode record: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	return records, nil
}
