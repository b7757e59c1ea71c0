package redaction

import (
	"io"
	"sync"
)

// Writer scrubs each write before passing it on. It is used under log handlers,
// which emit one record per Write.
type Writer struct {
	mu       sync.Mutex
	out      io.Writer
	redactor *Redactor
}

// NewWriter wraps out. A nil redactor passes writes through unchanged.
func NewWriter(out io.Writer, redactor *Redactor) *Writer {
	return &Writer{out: out, redactor: redactor}
}

// Write scrubs p and writes it. It reports len(p) on success so callers that
// compare lengths are not confused by shorter redacted output.
func (w *Writer) Write(p []byte) (int, error) {
	data := p
	if w.redactor != nil {
		data = []byte(w.redactor.ScrubString(string(p)))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(data); err != nil {
		return 0, err
	}
	return len(p), nil
}
