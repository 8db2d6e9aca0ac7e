package logging

import (
	"context"
	"fmt"
	"time"

	"github.com/pvbeek/componentnetwork/network"
)

// Record formats msg with the trace carried by ctx and the current time and
// sends it over conn. It does nothing if conn is nil.
func Record(ctx context.Context, msg string, conn network.Connection) {
	NewRecorder(conn).Record(ctx, msg)
}

// A Recorder sends trace lines over one log connection. A Recorder with no
// connection discards everything.
type Recorder struct {
	conn network.Connection
	now  func() time.Time
}

// NewRecorder creates a Recorder that sends over conn.
func NewRecorder(conn network.Connection) *Recorder {
	return &Recorder{conn: conn, now: time.Now}
}

// WithClock replaces the recorder's time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Enabled tells whether the recorder has a connection to send on.
func (r *Recorder) Enabled() bool {
	return r != nil && r.conn != nil
}

// Record sends one trace line.
func (r *Recorder) Record(ctx context.Context, msg string) {
	if !r.Enabled() {
		return
	}

	line := Format(r.now(), TraceFrom(ctx), msg)

	_, _ = r.conn.Send(ctx, line)
}

// Recordf formats according to a format specifier and records the result.
func (r *Recorder) Recordf(ctx context.Context, format string, args ...any) {
	if !r.Enabled() {
		return
	}

	r.Record(ctx, fmt.Sprintf(format, args...))
}
