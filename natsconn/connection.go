// Package natsconn carries connection traffic over NATS subjects.
package natsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/network"
)

// ErrorHeader carries a handler failure back to the requester.
const ErrorHeader = "Cnet-Error"

const subscriptionBuffer = 256

// Connection sends payloads as NATS messages on one subject. Bidirectional
// connections use request/reply; unidirectional ones publish. Listeners on a
// subject form a queue group so that each payload is handled once.
type Connection struct {
	network.HookableBase

	name          string
	subject       string
	bidirectional bool
	contract      network.Contract
	nc            *nats.Conn
	logger        *slog.Logger

	stop chan struct{}
}

// Name returns the name of the connection.
func (c *Connection) Name() string {
	return c.name
}

// Subject returns the NATS subject the connection uses.
func (c *Connection) Subject() string {
	return c.subject
}

// Bidirectional tells whether Send waits for a reply.
func (c *Connection) Bidirectional() bool {
	return c.bidirectional
}

// Contract returns the data contract of the connection, or nil.
func (c *Connection) Contract() network.Contract {
	return c.contract
}

// Send publishes data. A bidirectional Send waits for the listener's reply
// until ctx is done.
func (c *Connection) Send(ctx context.Context, data string) (string, error) {
	c.InvokeHook(network.HookCtx{Domain: c, Pos: network.HookPosConnSend, Item: data})

	if !c.bidirectional {
		if err := c.nc.Publish(c.subject, []byte(data)); err != nil {
			return "", cnerrors.WrapTransient(err, c.name, "Send", "publish")
		}
		return data, nil
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject, []byte(data))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", cnerrors.WrapTransient(err, c.name, "Send", "request")
	}

	c.InvokeHook(network.HookCtx{Domain: c, Pos: network.HookPosConnReply, Item: string(msg.Data)})

	if failure := msg.Header.Get(ErrorHeader); failure != "" {
		return "", fmt.Errorf("%w: %s", cnerrors.ErrHandlerFailed, failure)
	}

	return string(msg.Data), nil
}

// Listen handles messages on the subject until ctx is done or StopListening
// is called.
func (c *Connection) Listen(ctx context.Context, handler network.Handler) error {
	msgs := make(chan *nats.Msg, subscriptionBuffer)

	sub, err := c.nc.ChanQueueSubscribe(c.subject, c.name, msgs)
	if err != nil {
		return cnerrors.WrapTransient(err, c.name, "Listen", "subscribe "+c.subject)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case msg := <-msgs:
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Connection) handle(ctx context.Context, msg *nats.Msg, handler network.Handler) {
	payload := string(msg.Data)
	c.InvokeHook(network.HookCtx{Domain: c, Pos: network.HookPosConnDeliver, Item: payload})

	reply, err := invoke(ctx, handler, payload)
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

	if msg.Reply == "" {
		return
	}

	resp := nats.NewMsg(msg.Reply)
	resp.Data = []byte(reply)
	if err != nil {
		resp.Data = nil
		resp.Header.Set(ErrorHeader, err.Error())
	}

	if rerr := msg.RespondMsg(resp); rerr != nil && !errors.Is(rerr, nats.ErrConnectionClosed) {
		c.logger.Warn("reply failed",
			"connection", c.name,
			"error", rerr)
	}
}

func invoke(ctx context.Context, handler network.Handler, payload string) (reply string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", cnerrors.ErrHandlerFailed, p)
		}
	}()

	return handler(ctx, payload)
}

// StopListening ends one blocked Listen.
func (c *Connection) StopListening() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// Builder builds NATS connections.
type Builder struct {
	nc            *nats.Conn
	subject       string
	bidirectional bool
	contract      network.Contract
	logger        *slog.Logger
}

// MakeBuilder creates a Builder for bidirectional connections over nc.
func MakeBuilder(nc *nats.Conn) Builder {
	return Builder{nc: nc, bidirectional: true}
}

// WithSubject sets the subject. The connection name is used when unset.
func (b Builder) WithSubject(subject string) Builder {
	b.subject = subject
	return b
}

// WithBidirectional sets whether Send waits for a reply.
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
func (b Builder) Build(name string) (*Connection, error) {
	if b.nc == nil {
		return nil, cnerrors.WrapFatal(cnerrors.ErrMissingDependency,
			name, "Build", "nats connection")
	}

	subject := b.subject
	if subject == "" {
		subject = "cnet." + name
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		name:          name,
		subject:       subject,
		bidirectional: b.bidirectional,
		contract:      b.contract,
		nc:            b.nc,
		logger:        logger,
		stop:          make(chan struct{}, 1),
	}, nil
}
