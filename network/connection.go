// Package network provides the building blocks of a component network:
// connections that carry string payloads between two components, the
// contracts that encode values onto a connection, and the harness that runs a
// component's tasks concurrently.
package network

import "context"

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Handler processes one payload received by a listener. The reply is handed
// back to the sender when the connection is bidirectional and ignored
// otherwise.
type Handler func(ctx context.Context, payload string) (string, error)

// A Contract converts application values to and from the string carried on a
// connection. Contracts are stateless.
type Contract interface {
	Serialize(v any) (string, error)
	Deserialize(s string) (any, error)
}

// A Connection links two components: one side sends, the other listens.
//
// On a bidirectional connection Send blocks until the listener's handler has
// produced the paired reply. On a unidirectional connection Send returns the
// payload unchanged without waiting for anyone.
//
// A connection is meant to be shared by exactly one sender and one listener.
// Every reply goes to the Send that made the request, even with several
// concurrent senders or a sender that gave up.
type Connection interface {
	Named
	Hookable

	Bidirectional() bool
	Contract() Contract

	Send(ctx context.Context, data string) (string, error)
	Listen(ctx context.Context, handler Handler) error
	StopListening()
}

// A DepthReporter exposes how many items wait in a connection's queues.
type DepthReporter interface {
	QueueDepth() (requests, replies int)
}

// HookPosConnSend marks a payload accepted by a connection for delivery.
var HookPosConnSend = &HookPos{Name: "Conn Send"}

// HookPosConnDeliver marks a payload handed to the listener's handler.
var HookPosConnDeliver = &HookPos{Name: "Conn Deliver"}

// HookPosConnReply marks a reply returned to a blocked sender.
var HookPosConnReply = &HookPos{Name: "Conn Reply"}

// HookPosHandlerError marks a handler invocation that failed. The Detail of
// the hook context holds the error.
var HookPosHandlerError = &HookPos{Name: "Handler Error"}
