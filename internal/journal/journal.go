// Package journal appends one JSON line per pipeline outcome to
// date-partitioned files. The journal is the audit trail; it must never be
// rewritten, only appended to.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends entries to <dir>/<prefix>-YYYY-MM-DD.jsonl, rolling to a
// new file when the UTC date changes.
type Writer struct {
	mu     sync.Mutex
	dir    string
	prefix string
	now    func() time.Time

	curDate string
	file    *os.File
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

// Append marshals v, stamps it, and writes one line. Errors are returned so
// the caller can log them; the trading loop never stops over a journal
// failure.
func (w *Writer) Append(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if err := w.rotateLocked(now); err != nil {
		return err
	}

	line := struct {
		TS    string `json:"ts"`
		Entry any    `json:"entry"`
	}{TS: now.Format(time.RFC3339), Entry: v}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("journal marshal: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	return nil
}

func (w *Writer) rotateLocked(now time.Time) error {
	date := now.Format("2006-01-02")
	if w.file != nil && date == w.curDate {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("journal dir: %w", err)
	}
	path := w.Path(date)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal open: %w", err)
	}
	w.file = f
	w.curDate = date
	return nil
}

// Path returns the journal file for a YYYY-MM-DD date.
func (w *Writer) Path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl", w.prefix, date))
}

// Close releases the current file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
