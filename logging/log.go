package logging

import (
	"context"
	"log/slog"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/network"
)

// RoleLog is the role name of the connection a Log component listens on.
const RoleLog = "connection_log"

// Comp is the Log component. It listens on the log connection and renders
// every trace line it receives to its sinks.
type Comp struct {
	*network.ComponentBase

	sinks []Sink
}

func (c *Comp) listener(ctx context.Context) error {
	conn := c.MustConnection(RoleLog)

	return conn.Listen(ctx, func(_ context.Context, line string) (string, error) {
		for _, s := range c.sinks {
			if err := s.Write(line); err != nil {
				c.Logger().Warn("sink failed",
					"component", c.Name(),
					"error", err)
			}
		}

		return "", nil
	})
}

// Builder builds Log components.
type Builder struct {
	sinks  []Sink
	logger *slog.Logger
}

// MakeBuilder creates a Builder with no sinks.
func MakeBuilder() Builder {
	return Builder{}
}

// WithSink adds a sink.
func (b Builder) WithSink(s Sink) Builder {
	b.sinks = append(append([]Sink(nil), b.sinks...), s)
	return b
}

// WithLogger sets the diagnostic logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a Log component listening on conn.
func (b Builder) Build(name string, conn network.Connection) (*Comp, error) {
	if conn == nil {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrMissingConnection,
			name, "Build", "bind "+RoleLog)
	}

	c := &Comp{
		ComponentBase: network.NewComponentBase(name,
			map[string]network.Connection{RoleLog: conn}),
		sinks: b.sinks,
	}
	c.SetLogger(b.logger)

	if err := c.Register("listener", c.listener); err != nil {
		return nil, err
	}

	return c, nil
}
