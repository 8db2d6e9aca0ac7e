package pipeline

import (
	"context"
	"log/slog"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/logging"
	"github.com/pvbeek/componentnetwork/network"
)

// TerminalConnections are the connections a Terminal is bound to. In is
// required.
type TerminalConnections struct {
	In       network.Connection
	Feedback network.Connection
	Log      network.Connection
}

// Terminal acknowledges every payload and sends it back toward the Source on
// its feedback connection.
type Terminal struct {
	*network.ComponentBase

	recorder *logging.Recorder
}

func (t *Terminal) responder(ctx context.Context) error {
	ctx = logging.WithOp(logging.WithComponent(ctx, t.Name()), "responder")

	return t.MustConnection(RoleIn).Listen(ctx, t.respond)
}

func (t *Terminal) respond(ctx context.Context, payload string) (string, error) {
	t.recorder.Recordf(ctx, "received: %s", payload)

	if feedback, ok := t.Connection(RoleFeedback); ok {
		if _, err := feedback.Send(ctx, payload); err != nil {
			return "", cnerrors.Wrap(err, t.Name(), "responder", "send feedback")
		}

		t.recorder.Recordf(ctx, "feedback: %s", payload)
	}

	return "ack " + payload, nil
}

// TerminalBuilder builds Terminals.
type TerminalBuilder struct {
	logger *slog.Logger
}

// MakeTerminalBuilder creates a TerminalBuilder.
func MakeTerminalBuilder() TerminalBuilder {
	return TerminalBuilder{}
}

// WithLogger sets the diagnostic logger.
func (b TerminalBuilder) WithLogger(logger *slog.Logger) TerminalBuilder {
	b.logger = logger
	return b
}

// Build creates a Terminal.
func (b TerminalBuilder) Build(name string, conns TerminalConnections) (*Terminal, error) {
	if conns.In == nil {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrMissingConnection,
			name, "Build", "bind "+RoleIn)
	}

	t := &Terminal{
		ComponentBase: network.NewComponentBase(name, map[string]network.Connection{
			RoleIn:       conns.In,
			RoleFeedback: conns.Feedback,
			RoleLog:      conns.Log,
		}),
		recorder: logging.NewRecorder(conns.Log),
	}
	t.SetLogger(b.logger)

	if err := t.Register("responder", t.responder); err != nil {
		return nil, err
	}

	return t, nil
}
