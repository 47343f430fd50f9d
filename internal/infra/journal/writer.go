// Package journal appends error records to an NDJSON log, one JSON object
// per line. The log is append-only and survives across invocations; it is
// the audit trail for every failed workflow run.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
)

// Entry is one error record.
type Entry struct {
	ID        string `json:"id"`
	TS        string `json:"ts"`
	Repo      string `json:"repo"`
	Issue     int    `json:"issue"`
	Iteration int    `json:"iteration"`
	Step      string `json:"step"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Trace     string `json:"trace,omitempty"`
}

// Writer appends entries to a single NDJSON file.
type Writer struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewWriter returns a writer for the given log path.
func NewWriter(fs afero.Fs, path string) *Writer {
	return &Writer{
		fs:      fs,
		path:    path,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Append normalizes and writes one entry. Missing ID and timestamp fields
// are filled in; the write is flushed before returning.
func (w *Writer) Append(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	if e.TS == "" {
		e.TS = now.Format(time.RFC3339Nano)
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(now), w.entropy).String()
	}
	if e.ErrorKind == "" {
		e.ErrorKind = "unexpected"
	}

	if err := w.fs.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := w.fs.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	// Sync is best effort; the append itself already succeeded.
	_ = f.Sync()
	return nil
}

// Read returns all entries currently in the log.
func (w *Writer) Read() ([]Entry, error) {
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return entries, fmt.Errorf("decode journal line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
