// Package report defines the message sink that carries per-file outcome lines.
//
// Every command emits one discrete line (or block) per processed file. Routing
// those lines through an explicit Sink instead of ambient output keeps batch
// runs auditable and lets tests capture the stream deterministically.
package report

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives ordered human-readable message lines.
type Sink interface {
	Emit(lines ...string)
}

// WriterSink writes each message line to an io.Writer, newline terminated.
// Safe for concurrent use.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w in a Sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(s.w, line)
	}
}

// CaptureSink records messages in memory for assertions.
type CaptureSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *CaptureSink) Emit(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
}

// Lines returns a copy of everything emitted so far.
func (s *CaptureSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}
