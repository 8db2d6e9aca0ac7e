package datarecording

import (
	"github.com/pvbeek/componentnetwork/idgen"
	"github.com/pvbeek/componentnetwork/logging"
)

// TraceTable is the table trace lines are stored in.
const TraceTable = "trace_lines"

// TraceEntry is one stored trace line. Lines that do not parse keep the whole
// line as the message and leave Time and Trace empty.
type TraceEntry struct {
	ID      string
	Time    string
	Trace   string
	Message string
}

// Line renders the entry the way the Log component received it.
func (e TraceEntry) Line() string {
	if e.Time == "" && e.Trace == "" {
		return e.Message
	}

	return "[" + e.Time + "] " + e.Trace + " - " + e.Message
}

// RecorderSink is a logging sink that stores every line it receives.
type RecorderSink struct {
	recorder DataRecorder
	ids      idgen.Generator
}

// NewRecorderSink creates the trace table in recorder and returns a sink
// writing into it.
func NewRecorderSink(recorder DataRecorder) (*RecorderSink, error) {
	if err := recorder.CreateTable(TraceTable, TraceEntry{}); err != nil {
		return nil, err
	}

	return &RecorderSink{
		recorder: recorder,
		ids:      idgen.NewParallel(),
	}, nil
}

// WithIDGenerator replaces the generator used for entry ids.
func (s *RecorderSink) WithIDGenerator(g idgen.Generator) *RecorderSink {
	s.ids = g
	return s
}

// Write buffers the line. It reaches the database on the next flush.
func (s *RecorderSink) Write(line string) error {
	entry := TraceEntry{
		ID:      s.ids.Generate(),
		Message: line,
	}

	if parsed, err := logging.Parse(line); err == nil {
		entry.Time = parsed.Time.Format(logging.TimestampLayout)
		entry.Trace = parsed.Trace
		entry.Message = parsed.Message
	}

	return s.recorder.InsertData(TraceTable, entry)
}

// Flush writes buffered lines into the database.
func (s *RecorderSink) Flush() error {
	return s.recorder.Flush()
}
