// Package ingress accepts payloads from web clients over HTTP and hands them
// to the handlers registered by listening connections.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/network"
)

// Result is the outcome of dispatching one payload.
type Result struct {
	HandlerID     string
	Bidirectional bool
	Reply         string
}

type registration struct {
	id            string
	seq           uint64
	handler       network.Handler
	bidirectional bool
}

// Registry keeps the handlers registered by ingress connections and the
// servers bound for them. A Registry is shared by reference by every ingress
// connection of a process.
type Registry struct {
	lock    sync.Mutex
	entries []registration
	nextSeq uint64
	servers map[int]*Server
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[int]*Server),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger used by the registry and the servers it binds.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Register adds a handler under id. Registering an id again replaces the
// handler but keeps its original position. The returned function removes
// this registration, and does nothing if it has been replaced since.
func (r *Registry) Register(
	id string,
	handler network.Handler,
	bidirectional bool,
) (unregister func()) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.nextSeq++
	reg := registration{
		id:            id,
		seq:           r.nextSeq,
		handler:       handler,
		bidirectional: bidirectional,
	}

	replaced := false
	for i := range r.entries {
		if r.entries[i].id == id {
			r.entries[i] = reg
			replaced = true
			break
		}
	}
	if !replaced {
		r.entries = append(r.entries, reg)
	}

	return func() { r.remove(id, reg.seq) }
}

func (r *Registry) remove(id string, seq uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i, e := range r.entries {
		if e.id == id && e.seq == seq {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// HandlerIDs returns the registered ids in registration order.
func (r *Registry) HandlerIDs() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.id
	}

	return ids
}

// Dispatch calls the first registered handler with payload. Handlers
// registered later are never called while the first one stays registered.
func (r *Registry) Dispatch(ctx context.Context, payload string) (res Result, err error) {
	r.lock.Lock()
	if len(r.entries) == 0 {
		r.lock.Unlock()
		return Result{}, cnerrors.ErrNoHandler
	}
	first := r.entries[0]
	r.lock.Unlock()

	res = Result{HandlerID: first.id, Bidirectional: first.bidirectional}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", cnerrors.ErrHandlerFailed, p)
		}
	}()

	reply, err := first.handler(ctx, payload)
	if err != nil {
		return res, fmt.Errorf("%w: %w", cnerrors.ErrHandlerFailed, err)
	}

	res.Reply = reply

	return res, nil
}

// Bind makes sure a server listens on port, starting one if needed. Every
// connection that binds the same port shares the same server.
func (r *Registry) Bind(port int, cfg ServerConfig) (*Server, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if s, found := r.servers[port]; found {
		return s, nil
	}

	cfg.Port = port
	s := NewServer(r, cfg)
	if err := s.Start(); err != nil {
		return nil, err
	}

	r.servers[port] = s

	return s, nil
}

// Server returns the server bound on port.
func (r *Registry) Server(port int) (*Server, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, found := r.servers[port]
	return s, found
}

// Close stops every server bound through the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.lock.Lock()
	servers := r.servers
	r.servers = make(map[int]*Server)
	r.lock.Unlock()

	var firstErr error
	for _, s := range servers {
		if err := s.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
