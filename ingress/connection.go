package ingress

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pvbeek/componentnetwork/network"
)

// Connection is a network.Connection whose remote end is a web client. The
// client initiates every exchange by posting to the ingress server.
type Connection struct {
	network.HookableBase

	name          string
	handlerID     string
	bidirectional bool
	contract      network.Contract
	registry      *Registry
	logger        *slog.Logger

	stop chan struct{}
}

// Name returns the name of the connection.
func (c *Connection) Name() string {
	return c.name
}

// HandlerID returns the id the connection registers its handler under.
func (c *Connection) HandlerID() string {
	return c.handlerID
}

// Bidirectional tells whether handler replies are returned to the client.
func (c *Connection) Bidirectional() bool {
	return c.bidirectional
}

// Contract returns the data contract of the connection, or nil.
func (c *Connection) Contract() network.Contract {
	return c.contract
}

// Send returns data unchanged. The server never pushes to web clients.
func (c *Connection) Send(_ context.Context, data string) (string, error) {
	c.InvokeHook(network.HookCtx{Domain: c, Pos: network.HookPosConnSend, Item: data})

	return data, nil
}

// Listen registers handler with the registry and blocks until the context is
// done or StopListening is called. The handler is unregistered on return.
func (c *Connection) Listen(ctx context.Context, handler network.Handler) error {
	unregister := c.registry.Register(c.handlerID, c.wrap(ctx, handler), c.bidirectional)
	defer unregister()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return nil
	}
}

// wrap runs handler with the values of the listen context, such as the trace
// of the listening component, and the cancellation of the request.
func (c *Connection) wrap(listenCtx context.Context, handler network.Handler) network.Handler {
	return func(reqCtx context.Context, payload string) (string, error) {
		ctx, cancel := context.WithCancel(context.WithoutCancel(listenCtx))
		defer cancel()
		stopReq := context.AfterFunc(reqCtx, cancel)
		defer stopReq()
		stopListen := context.AfterFunc(listenCtx, cancel)
		defer stopListen()

		c.InvokeHook(network.HookCtx{
			Domain: c,
			Pos:    network.HookPosConnDeliver,
			Item:   payload,
		})

		reply, err := handler(ctx, payload)
		if err != nil {
			c.logger.Warn("handler failed",
				"connection", c.name,
				"error", err)
			c.InvokeHook(network.HookCtx{
				Domain: c,
				Pos:    network.HookPosHandlerError,
				Item:   payload,
				Detail: err,
			})
		}

		return reply, err
	}
}

// StopListening ends one blocked Listen. A stop issued while no one listens
// ends the next Listen at once.
func (c *Connection) StopListening() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// Builder builds ingress connections.
type Builder struct {
	registry      *Registry
	handlerID     string
	bidirectional bool
	contract      network.Contract
	logger        *slog.Logger
}

// MakeBuilder creates a Builder for bidirectional connections on registry.
func MakeBuilder(registry *Registry) Builder {
	return Builder{
		registry:      registry,
		bidirectional: true,
	}
}

// WithHandlerID sets the handler id. A random id is used when unset.
func (b Builder) WithHandlerID(id string) Builder {
	b.handlerID = id
	return b
}

// WithBidirectional sets whether replies go back to the client.
func (b Builder) WithBidirectional(bidirectional bool) Builder {
	b.bidirectional = bidirectional
	return b
}

// WithContract sets the data contract.
func (b Builder) WithContract(contract network.Contract) Builder {
	b.contract = contract
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a new Connection.
func (b Builder) Build(name string) *Connection {
	id := b.handlerID
	if id == "" {
		id = uuid.NewString()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		name:          name,
		handlerID:     id,
		bidirectional: b.bidirectional,
		contract:      b.contract,
		registry:      b.registry,
		logger:        logger,
		stop:          make(chan struct{}, 1),
	}
}
