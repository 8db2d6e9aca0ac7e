package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

// A Task is one concurrent routine of a component. Tasks normally run until
// their context is cancelled.
type Task func(ctx context.Context) error

// A Component is an element of the network that owns a set of connections and
// runs its tasks concurrently.
type Component interface {
	Named

	Start(ctx context.Context) error
	Stop() error
}

type lifecycleState int

const (
	stateCreated lifecycleState = iota
	stateStarted
	stateStopped
)

type namedTask struct {
	name string
	fn   Task
}

// ComponentBase provides the connection bookkeeping and the task harness that
// concrete components build on.
type ComponentBase struct {
	name        string
	connections map[string]Connection
	logger      *slog.Logger

	lock   sync.Mutex
	state  lifecycleState
	tasks  []namedTask
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewComponentBase creates a ComponentBase bound to the given connections,
// keyed by role name. Nil connections are left out so that an absent optional
// role and an unbound one look the same. The mapping cannot change later.
func NewComponentBase(name string, connections map[string]Connection) *ComponentBase {
	c := &ComponentBase{
		name:        name,
		connections: make(map[string]Connection, len(connections)),
		logger:      slog.Default(),
	}

	for role, conn := range connections {
		if conn != nil {
			c.connections[role] = conn
		}
	}

	return c
}

// Name returns the name of the component.
func (c *ComponentBase) Name() string {
	return c.name
}

// SetLogger replaces the logger used to report task failures.
func (c *ComponentBase) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Logger returns the component's logger.
func (c *ComponentBase) Logger() *slog.Logger {
	return c.logger
}

// Connection returns the connection bound to the role.
func (c *ComponentBase) Connection(role string) (Connection, bool) {
	conn, found := c.connections[role]
	return conn, found
}

// MustConnection returns the connection bound to the role and panics if there
// is none.
func (c *ComponentBase) MustConnection(role string) Connection {
	conn, found := c.connections[role]
	if !found {
		errMsg := fmt.Sprintf(
			"Connection %s is not bound on component %s.\n", role, c.name)
		errMsg += "Bound connections include:\n"
		for _, n := range c.Roles() {
			errMsg += fmt.Sprintf("\t%s\n", n)
		}
		fmt.Fprint(os.Stderr, errMsg)

		panic("connection not found")
	}

	return conn
}

// Roles returns the bound role names in sorted order.
func (c *ComponentBase) Roles() []string {
	roles := make([]string, 0, len(c.connections))
	for role := range c.connections {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	return roles
}

// Connections returns the connections bound to the component.
func (c *ComponentBase) Connections() []Connection {
	conns := make([]Connection, 0, len(c.connections))
	for _, role := range c.Roles() {
		conns = append(conns, c.connections[role])
	}

	return conns
}

// Register appends a task. Tasks must be registered before Start.
func (c *ComponentBase) Register(name string, task Task) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != stateCreated {
		return cnerrors.WrapInvalid(cnerrors.ErrAlreadyStarted,
			c.name, "Register", "register task "+name)
	}

	c.tasks = append(c.tasks, namedTask{name: name, fn: task})

	return nil
}

// TaskNames returns the names of the registered tasks in registration order.
func (c *ComponentBase) TaskNames() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	names := make([]string, len(c.tasks))
	for i, t := range c.tasks {
		names[i] = t.name
	}

	return names
}

// Start launches every registered task in its own goroutine and returns
// without waiting for them.
func (c *ComponentBase) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != stateCreated {
		return cnerrors.WrapInvalid(cnerrors.ErrAlreadyStarted,
			c.name, "Start", "start component")
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = stateStarted

	for _, t := range c.tasks {
		c.wg.Add(1)
		go c.run(taskCtx, t)
	}

	return nil
}

func (c *ComponentBase) run(ctx context.Context, t namedTask) {
	defer c.wg.Done()

	err := t.fn(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("task exited",
			"component", c.name,
			"task", t.name,
			"error", err)
	}
}

// Stop cancels every task and waits until all of them have returned. Tasks
// are not restarted. Stopping a stopped component does nothing.
func (c *ComponentBase) Stop() error {
	c.lock.Lock()

	switch c.state {
	case stateCreated:
		c.lock.Unlock()
		return cnerrors.WrapInvalid(cnerrors.ErrNotStarted,
			c.name, "Stop", "stop component")
	case stateStopped:
		c.lock.Unlock()
		return nil
	}

	c.state = stateStopped
	c.cancel()
	c.lock.Unlock()

	c.wg.Wait()

	return nil
}
