package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

type envelope struct {
	payload string
	stop    bool
	pending *pendingReply
}

type reply struct {
	payload string
	err     error
}

// pendingReply is the slot the listener answers one request into. A sender
// that gives up marks it abandoned and the answer is dropped.
type pendingReply struct {
	lock      sync.Mutex
	ch        chan reply
	abandoned bool
}

func newPendingReply() *pendingReply {
	return &pendingReply{ch: make(chan reply, 1)}
}

// QueueConnection is an in-process connection backed by an unbounded FIFO
// queue of requests. On a bidirectional connection each request carries its
// own reply slot, so a reply can only reach the Send that asked for it.
type QueueConnection struct {
	HookableBase

	name          string
	bidirectional bool
	contract      Contract
	logger        *slog.Logger

	down *Queue[envelope]

	// replies counts answers produced and not yet taken by their sender.
	replies atomic.Int64
}

// Name returns the name of the connection.
func (c *QueueConnection) Name() string {
	return c.name
}

// Bidirectional tells whether senders wait for a reply.
func (c *QueueConnection) Bidirectional() bool {
	return c.bidirectional
}

// Contract returns the contract attached to the connection, or nil.
func (c *QueueConnection) Contract() Contract {
	return c.contract
}

// Send pushes data toward the listener. On a bidirectional connection it
// waits for the reply to this request; a handler failure is returned as an
// error wrapping ErrHandlerFailed. If ctx is done first, Send returns
// ctx.Err() and the reply, once produced, is dropped.
func (c *QueueConnection) Send(ctx context.Context, data string) (string, error) {
	env := envelope{payload: data}
	if c.bidirectional {
		env.pending = newPendingReply()
	}

	c.down.Push(env)
	c.InvokeHook(HookCtx{Domain: c, Pos: HookPosConnSend, Item: data})

	if !c.bidirectional {
		return data, nil
	}

	var r reply
	select {
	case r = <-env.pending.ch:
		c.replies.Add(-1)
	case <-ctx.Done():
		c.abandon(env.pending)
		return "", ctx.Err()
	}

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosConnReply,
		Item:   r.payload,
		Detail: r.err,
	})

	if r.err != nil {
		return "", r.err
	}

	return r.payload, nil
}

func (c *QueueConnection) abandon(p *pendingReply) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.abandoned = true

	select {
	case <-p.ch:
		c.replies.Add(-1)
	default:
	}
}

func (c *QueueConnection) answer(p *pendingReply, r reply) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.abandoned {
		c.logger.Debug("reply dropped, sender gone",
			"connection", c.name)
		return
	}

	c.replies.Add(1)
	p.ch <- r
}

// Listen hands every request to handler until StopListening is called or ctx
// is done. A failing handler invocation does not end the loop. Listen returns
// nil when stopped and ctx.Err() when cancelled.
func (c *QueueConnection) Listen(ctx context.Context, handler Handler) error {
	for {
		env, err := c.down.Pop(ctx)
		if err != nil {
			return err
		}

		if env.stop {
			return nil
		}

		c.InvokeHook(HookCtx{Domain: c, Pos: HookPosConnDeliver, Item: env.payload})

		out, err := c.invoke(ctx, handler, env.payload)
		if err != nil {
			c.logger.Warn("handler failed",
				"connection", c.name,
				"error", err)
			c.InvokeHook(HookCtx{
				Domain: c,
				Pos:    HookPosHandlerError,
				Item:   env.payload,
				Detail: err,
			})
		}

		if env.pending != nil {
			c.answer(env.pending, reply{payload: out, err: err})
		}
	}
}

func (c *QueueConnection) invoke(
	ctx context.Context,
	handler Handler,
	payload string,
) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = fmt.Errorf("%w: panic: %v", cnerrors.ErrHandlerFailed, r)
		}
	}()

	out, err = handler(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", cnerrors.ErrHandlerFailed, err)
	}

	return out, nil
}

// StopListening makes exactly one running Listen loop return once it has
// drained the requests queued before the call.
func (c *QueueConnection) StopListening() {
	c.down.Push(envelope{stop: true})
}

// QueueDepth returns the number of requests waiting for the listener and of
// replies waiting for their sender.
func (c *QueueConnection) QueueDepth() (requests, replies int) {
	return c.down.Size(), int(c.replies.Load())
}

// QueueBuilder builds QueueConnections.
type QueueBuilder struct {
	bidirectional bool
	contract      Contract
	logger        *slog.Logger
}

// MakeQueueBuilder creates a builder for bidirectional queue connections.
func MakeQueueBuilder() QueueBuilder {
	return QueueBuilder{bidirectional: true}
}

// WithBidirectional sets whether senders wait for replies.
func (b QueueBuilder) WithBidirectional(bidirectional bool) QueueBuilder {
	b.bidirectional = bidirectional
	return b
}

// WithContract attaches a contract to the connection.
func (b QueueBuilder) WithContract(contract Contract) QueueBuilder {
	b.contract = contract
	return b
}

// WithLogger sets the logger used to report handler failures.
func (b QueueBuilder) WithLogger(logger *slog.Logger) QueueBuilder {
	b.logger = logger
	return b
}

// Build creates a QueueConnection with the given name.
func (b QueueBuilder) Build(name string) *QueueConnection {
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &QueueConnection{
		name:          name,
		bidirectional: b.bidirectional,
		contract:      b.contract,
		logger:        logger,
		down:          NewQueue[envelope](name + ".Down"),
	}
}
