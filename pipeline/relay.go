package pipeline

import (
	"context"
	"log/slog"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/logging"
	"github.com/pvbeek/componentnetwork/network"
)

// RelayConnections are the connections a Relay is bound to. In is required.
type RelayConnections struct {
	In      network.Connection
	Forward network.Connection
	Log     network.Connection
}

// Relay passes every payload it receives on to its forward connection and
// answers with what the forward connection returned.
type Relay struct {
	*network.ComponentBase

	recorder *logging.Recorder
}

func (r *Relay) forwarder(ctx context.Context) error {
	ctx = logging.WithOp(logging.WithComponent(ctx, r.Name()), "forwarder")

	return r.MustConnection(RoleIn).Listen(ctx, r.relay)
}

// relay replies with the forward connection's result: the reply of a
// bidirectional forward, the payload itself otherwise.
func (r *Relay) relay(ctx context.Context, payload string) (string, error) {
	r.recorder.Recordf(ctx, "received: %s", payload)

	forward, ok := r.Connection(RoleForward)
	if !ok {
		return payload, nil
	}

	reply, err := forward.Send(ctx, payload)
	if err != nil {
		return "", cnerrors.Wrap(err, r.Name(), "forwarder", "forward payload")
	}

	r.recorder.Recordf(ctx, "forwarded: %s", payload)
	if forward.Bidirectional() {
		r.recorder.Recordf(ctx, "reply: %s", reply)
	}

	return reply, nil
}

// RelayBuilder builds Relays.
type RelayBuilder struct {
	logger *slog.Logger
}

// MakeRelayBuilder creates a RelayBuilder.
func MakeRelayBuilder() RelayBuilder {
	return RelayBuilder{}
}

// WithLogger sets the diagnostic logger.
func (b RelayBuilder) WithLogger(logger *slog.Logger) RelayBuilder {
	b.logger = logger
	return b
}

// Build creates a Relay.
func (b RelayBuilder) Build(name string, conns RelayConnections) (*Relay, error) {
	if conns.In == nil {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrMissingConnection,
			name, "Build", "bind "+RoleIn)
	}

	r := &Relay{
		ComponentBase: network.NewComponentBase(name, map[string]network.Connection{
			RoleIn:      conns.In,
			RoleForward: conns.Forward,
			RoleLog:     conns.Log,
		}),
		recorder: logging.NewRecorder(conns.Log),
	}
	r.SetLogger(b.logger)

	if err := r.Register("forwarder", r.forwarder); err != nil {
		return nil, err
	}

	return r, nil
}
