// Package output delivers result records to their sinks: JSONL files,
// stdout, and webhook endpoints. Sinks are fire-and-forget from the scan
// engine's perspective; a failing sink never stalls the receive path.
package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// RecordWriter accepts result records (ServerRecord, PlayerRecord,
// AliasedIPRecord) for delivery.
type RecordWriter interface {
	Write(rec any) error
}

// Writer appends JSONL records to a file.
type Writer struct {
	file    *os.File
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewWriter opens (or creates) path for appending.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

func (w *Writer) Write(rec any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(rec)
}

func (w *Writer) Flush() error {
	return w.file.Sync()
}

func (w *Writer) Close() error {
	w.Flush()
	return w.file.Close()
}

// Sink fans out records to multiple writers.
type Sink struct {
	writers []RecordWriter
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Add(w RecordWriter) {
	s.writers = append(s.writers, w)
}

func (s *Sink) Write(rec any) error {
	for _, w := range s.writers {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all writers that implement io.Closer.
func (s *Sink) Close() error {
	var firstErr error
	for _, w := range s.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
