package network

import (
	"context"
	"sync"
)

// HookPosQueuePush marks when an element is pushed into a queue.
var HookPosQueuePush = &HookPos{Name: "Queue Push"}

// HookPosQueuePop marks when an element is popped from a queue.
var HookPosQueuePop = &HookPos{Name: "Queue Pop"}

// A Queue is an unbounded FIFO queue that is safe for concurrent use. Push
// never blocks; Pop blocks until an element is available or the context is
// done.
//
// There is no capacity: a producer that outpaces its consumer grows the queue
// without limit. Size reports the current depth.
type Queue[T any] struct {
	HookableBase

	name     string
	lock     sync.Mutex
	elements []T
	ready    chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any](name string) *Queue[T] {
	return &Queue[T]{
		name:  name,
		ready: make(chan struct{}, 1),
	}
}

// Name returns the name of the queue.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends an element at the tail of the queue.
func (q *Queue[T]) Push(e T) {
	q.lock.Lock()
	q.elements = append(q.elements, e)
	q.lock.Unlock()

	q.signal()

	if q.NumHooks() > 0 {
		q.InvokeHook(HookCtx{
			Domain: q,
			Pos:    HookPosQueuePush,
			Item:   e,
		})
	}
}

// Pop removes and returns the element at the head of the queue, waiting for
// one to arrive if the queue is empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		e, ok := q.TryPop()
		if ok {
			return e, nil
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes and returns the head element if there is one.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T

	q.lock.Lock()
	if len(q.elements) == 0 {
		q.lock.Unlock()
		return zero, false
	}

	e := q.elements[0]
	q.elements[0] = zero
	q.elements = q.elements[1:]
	remaining := len(q.elements)
	q.lock.Unlock()

	// Pass the wake-up on so that another waiter sees the remaining elements.
	if remaining > 0 {
		q.signal()
	}

	if q.NumHooks() > 0 {
		q.InvokeHook(HookCtx{
			Domain: q,
			Pos:    HookPosQueuePop,
			Item:   e,
		})
	}

	return e, true
}

// Size returns the number of elements waiting in the queue.
func (q *Queue[T]) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.elements)
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
