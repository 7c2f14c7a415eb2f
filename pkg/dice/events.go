package dice

import (
	"sync"

	"github.com/srg/dicelink/pkg/link"
)

// emitter fans a value out to registered handlers. Each handler runs in its
// own goroutine so a slow consumer cannot stall the caller; ordering between
// handlers is not guaranteed.
type emitter[T any] struct {
	mu       sync.Mutex
	handlers map[uint64]func(T)
	next     uint64
}

func (e *emitter[T]) subscribe(fn func(T)) link.Subscription {
	e.mu.Lock()
	if e.handlers == nil {
		e.handlers = make(map[uint64]func(T))
	}
	id := e.next
	e.next++
	e.handlers[id] = fn
	e.mu.Unlock()

	return link.NewSubscription(func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	})
}

func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	fns := make([]func(T), 0, len(e.handlers))
	for _, fn := range e.handlers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		go fn(v)
	}
}
