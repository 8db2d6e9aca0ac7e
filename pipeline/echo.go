package pipeline

import (
	"context"
	"log/slog"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/logging"
	"github.com/pvbeek/componentnetwork/network"
)

// EchoConnections are the connections an Echo is bound to. Web is required.
type EchoConnections struct {
	Web network.Connection
	Log network.Connection
}

// Echo answers every payload from a web client with the payload itself.
type Echo struct {
	*network.ComponentBase

	recorder *logging.Recorder
}

func (e *Echo) receiver(ctx context.Context) error {
	ctx = logging.WithOp(logging.WithComponent(ctx, e.Name()), "receiver")

	return e.MustConnection(RoleWeb).Listen(ctx, e.echo)
}

func (e *Echo) echo(ctx context.Context, payload string) (string, error) {
	e.recorder.Recordf(ctx, "received from web: %s", payload)
	e.recorder.Recordf(ctx, "responding: %s", payload)

	return payload, nil
}

// EchoBuilder builds Echo components.
type EchoBuilder struct {
	logger *slog.Logger
}

// MakeEchoBuilder creates an EchoBuilder.
func MakeEchoBuilder() EchoBuilder {
	return EchoBuilder{}
}

// WithLogger sets the diagnostic logger.
func (b EchoBuilder) WithLogger(logger *slog.Logger) EchoBuilder {
	b.logger = logger
	return b
}

// Build creates an Echo.
func (b EchoBuilder) Build(name string, conns EchoConnections) (*Echo, error) {
	if conns.Web == nil {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrMissingConnection,
			name, "Build", "bind "+RoleWeb)
	}

	e := &Echo{
		ComponentBase: network.NewComponentBase(name, map[string]network.Connection{
			RoleWeb: conns.Web,
			RoleLog: conns.Log,
		}),
		recorder: logging.NewRecorder(conns.Log),
	}
	e.SetLogger(b.logger)

	if err := e.Register("receiver", e.receiver); err != nil {
		return nil, err
	}

	return e, nil
}
