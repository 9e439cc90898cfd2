// Package sink writes chain records to append-only JSONL files and replays
// them on startup so deduplication state survives across runs.
package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends JSON lines to a single output file. Appends are serialized,
// so one Writer can be shared by concurrent samplers.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewWriter opens path for appending, creating parent directories as needed.
// Existing content is never touched.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	return &Writer{file: file, enc: enc}, nil
}

// Append writes record as a single JSON line.
func (w *Writer) Append(record any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(record)
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// OpenReplay opens path for reading previous output. A missing file is not
// an error: the first run of a book has nothing to replay, so an empty
// reader is returned instead.
func OpenReplay(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}
