package logging

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// A Sink renders trace lines received by a Log component.
type Sink interface {
	Write(line string) error
}

// WriterSink prints each line as "[LOG] <line>".
type WriterSink struct {
	lock sync.Mutex
	w    io.Writer
}

// NewWriterSink creates a WriterSink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Write prints the line.
func (s *WriterSink) Write(line string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, err := fmt.Fprintf(s.w, "[LOG] %s\n", line)
	return err
}

// SlogSink emits each line as a structured record, split into its parts when
// the line parses.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Write emits the line.
func (s *SlogSink) Write(line string) error {
	entry, err := Parse(line)
	if err != nil {
		s.logger.Info(line)
		return nil
	}

	s.logger.Info(entry.Message,
		"trace", entry.Trace,
		"at", entry.Time.Format(TimestampLayout))

	return nil
}

// MemorySink keeps every line in memory.
type MemorySink struct {
	lock  sync.Mutex
	lines []string
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write keeps the line.
func (s *MemorySink) Write(line string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lines = append(s.lines, line)

	return nil
}

// Lines returns a copy of the lines written so far.
func (s *MemorySink) Lines() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]string(nil), s.lines...)
}

// Messages returns the message part of every parsable line written so far.
func (s *MemorySink) Messages() []string {
	var msgs []string
	for _, line := range s.Lines() {
		if entry, err := Parse(line); err == nil {
			msgs = append(msgs, entry.Message)
		}
	}

	return msgs
}
