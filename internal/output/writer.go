package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"tap-reputation-poller/internal/reputation"
)

// WriterSink writes one JSON document per record, newline separated.
type WriterSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewWriterSink writes records to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// OpenFileSink appends records to the file at path, creating it if needed.
func OpenFileSink(path string) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &WriterSink{enc: json.NewEncoder(f), closer: f}, nil
}

// Emit writes rec as a single JSON line.
func (w *WriterSink) Emit(_ context.Context, rec reputation.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (w *WriterSink) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

var _ reputation.Sink = (*WriterSink)(nil)
