package capture

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer appends Records to a capture stream. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Begin writes a session header with a fresh id and returns it.
func (w *Writer) Begin(started time.Time) (Header, error) {
	h := Header{Session: uuid.NewString(), Started: started}
	return h, w.WriteHeader(h)
}

// WriteHeader writes a session header block.
func (w *Writer) WriteHeader(h Header) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, "%s: %s\n", KeySession, h.Session)
	fmt.Fprintf(w.w, "%s: %s\n\n", KeyStarted, h.Started.UTC().Format(TimeFormat))
	return w.w.Flush()
}

// Write appends r and flushes.
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, "%s: %s\n", KeyChannel, r.Channel)
	fmt.Fprintf(w.w, "%s: %s\n", KeyAt, r.At.UTC().Format(TimeFormat))
	for _, line := range strings.Split(strings.ReplaceAll(r.Text, "\r", ""), "\n") {
		if line == "" {
			fmt.Fprintf(w.w, "%s:\n", KeyText)
			continue
		}
		fmt.Fprintf(w.w, "%s: %s\n", KeyText, line)
	}
	w.w.WriteByte('\n')
	return w.w.Flush()
}
