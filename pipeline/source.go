package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/logging"
	"github.com/pvbeek/componentnetwork/metrics"
	"github.com/pvbeek/componentnetwork/network"
)

// DefaultInterval is the time between two values produced by a Source.
const DefaultInterval = 3 * time.Second

// SourceConnections are the connections a Source is bound to. Out is
// required.
type SourceConnections struct {
	Out      network.Connection
	Feedback network.Connection
	Log      network.Connection
}

// Source sends an increasing counter on its out connection and checks the
// values that come back on its feedback connection.
type Source struct {
	*network.ComponentBase

	interval time.Duration
	limit    int
	pending  *PendingSet[int]
	counter  atomic.Int64
	recorder *logging.Recorder
}

// Pending returns the values sent and not yet verified.
func (s *Source) Pending() *PendingSet[int] {
	return s.pending
}

// Sent returns the number of values produced so far.
func (s *Source) Sent() int {
	return int(s.counter.Load())
}

func (s *Source) producer(ctx context.Context) error {
	ctx = logging.WithOp(logging.WithComponent(ctx, s.Name()), "producer")
	out := s.MustConnection(RoleOut)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.produce(ctx, out); err != nil {
			return err
		}

		if s.limit > 0 && s.Sent() >= s.limit {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Source) produce(ctx context.Context, out network.Connection) error {
	n := int(s.counter.Add(1))

	if evicted, ok := s.pending.Add(n); ok {
		s.Logger().Debug("pending value evicted",
			"component", s.Name(),
			"value", evicted)
	}

	s.recorder.Recordf(ctx, "sent: %d", n)

	data, err := encodeInt(out.Contract(), n)
	if err != nil {
		return cnerrors.WrapInvalid(err, s.Name(), "producer", "serialize value")
	}

	if _, err := out.Send(ctx, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.Logger().Warn("send failed",
			"component", s.Name(),
			"value", n,
			"error", err)
	}

	return nil
}

func (s *Source) verifier(ctx context.Context) error {
	ctx = logging.WithOp(logging.WithComponent(ctx, s.Name()), "verifier")
	feedback := s.MustConnection(RoleFeedback)

	return feedback.Listen(ctx, func(ctx context.Context, payload string) (string, error) {
		return s.verify(ctx, feedback.Contract(), payload)
	})
}

func (s *Source) verify(
	ctx context.Context,
	contract network.Contract,
	payload string,
) (string, error) {
	n, err := decodeInt(contract, payload)
	if err != nil {
		s.recorder.Recordf(ctx, "received: %q INVALID", payload)
		return "", err
	}

	if s.pending.Remove(n) {
		s.recorder.Recordf(ctx, "received: %d VERIFIED", n)
	} else {
		s.recorder.Recordf(ctx, "received: %d NOT FOUND", n)
	}

	return encodeInt(contract, n)
}

// SourceBuilder builds Sources.
type SourceBuilder struct {
	interval time.Duration
	capacity int
	limit    int
	logger   *slog.Logger
	reg      prometheus.Registerer
}

// MakeSourceBuilder creates a SourceBuilder with the default interval and an
// unbounded pending set.
func MakeSourceBuilder() SourceBuilder {
	return SourceBuilder{interval: DefaultInterval}
}

// WithInterval sets the time between two values.
func (b SourceBuilder) WithInterval(interval time.Duration) SourceBuilder {
	b.interval = interval
	return b
}

// WithCapacity bounds the pending set. Zero means unbounded.
func (b SourceBuilder) WithCapacity(capacity int) SourceBuilder {
	b.capacity = capacity
	return b
}

// WithLimit stops the producer after n values. Zero means no limit.
func (b SourceBuilder) WithLimit(n int) SourceBuilder {
	b.limit = n
	return b
}

// WithLogger sets the diagnostic logger.
func (b SourceBuilder) WithLogger(logger *slog.Logger) SourceBuilder {
	b.logger = logger
	return b
}

// WithRegisterer exports the pending set size to reg.
func (b SourceBuilder) WithRegisterer(reg prometheus.Registerer) SourceBuilder {
	b.reg = reg
	return b
}

// Build creates a Source.
func (b SourceBuilder) Build(name string, conns SourceConnections) (*Source, error) {
	if conns.Out == nil {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrMissingConnection,
			name, "Build", "bind "+RoleOut)
	}

	if b.interval <= 0 {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrInvalidConfig,
			name, "Build", "interval must be positive")
	}

	s := &Source{
		ComponentBase: network.NewComponentBase(name, map[string]network.Connection{
			RoleOut:      conns.Out,
			RoleFeedback: conns.Feedback,
			RoleLog:      conns.Log,
		}),
		interval: b.interval,
		limit:    b.limit,
		pending:  NewPendingSet[int](b.capacity),
		recorder: logging.NewRecorder(conns.Log),
	}
	s.SetLogger(b.logger)

	if err := s.Register("producer", s.producer); err != nil {
		return nil, err
	}

	if conns.Feedback != nil {
		if err := s.Register("verifier", s.verifier); err != nil {
			return nil, err
		}
	}

	if b.reg != nil {
		if err := metrics.RegisterPendingGauge(b.reg, name, s.pending.Len); err != nil {
			return nil, cnerrors.Wrap(err, name, "Build", "register pending gauge")
		}
	}

	return s, nil
}
