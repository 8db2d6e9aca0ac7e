// Package logging is the trace side channel of the component network. Each
// trace line names the component and the chain of operations that produced
// it, carries a millisecond timestamp, and travels to a Log component over an
// ordinary (normally unidirectional) connection.
package logging

import (
	"context"
	"strings"
)

// UnknownComponent names the component of a trace that has none.
const UnknownComponent = "Unknown"

// Trace is the logical call context of a trace line: the owning component
// and the chain of enclosing operations, outermost first.
type Trace struct {
	Component string
	Ops       []string
}

// NewTrace creates a Trace.
func NewTrace(component string, ops ...string) Trace {
	return Trace{Component: component, Ops: append([]string(nil), ops...)}
}

// With returns a copy of the trace with op appended.
func (t Trace) With(op string) Trace {
	ops := make([]string, len(t.Ops), len(t.Ops)+1)
	copy(ops, t.Ops)

	return Trace{Component: t.Component, Ops: append(ops, op)}
}

// String renders the trace as "Component::op1::op2".
func (t Trace) String() string {
	component := t.Component
	if component == "" {
		component = UnknownComponent
	}

	if len(t.Ops) == 0 {
		return component
	}

	return component + "::" + strings.Join(t.Ops, "::")
}

type traceKey struct{}

// WithComponent returns a context whose trace starts afresh at component.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, traceKey{}, NewTrace(component))
}

// WithOp returns a context whose trace has op appended.
func WithOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, traceKey{}, TraceFrom(ctx).With(op))
}

// TraceFrom returns the trace carried by ctx.
func TraceFrom(ctx context.Context) Trace {
	t, _ := ctx.Value(traceKey{}).(Trace)
	return t
}
