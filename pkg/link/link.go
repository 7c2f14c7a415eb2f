// Package link turns a single bidirectional BLE characteristic pair into a
// typed request/response-plus-broadcast messaging session.
package link

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/dicelink/pkg/message"
)

// Transport is the contract the link consumes from the BLE layer: opaque
// writes to the peripheral, a notification callback for inbound buffers, and
// a disconnect callback.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Write(data []byte) error
	Subscribe(fn func(data []byte)) error
	Unsubscribe() error
	SetDisconnectHandler(fn func())
}

// State is the connection state of a Link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Subscription is a persistent handler registration. The owner must call
// Cancel when it no longer wants deliveries.
type Subscription struct {
	cancel func()
}

// NewSubscription wraps a cancel function in a Subscription handle.
func NewSubscription(cancel func()) Subscription {
	return Subscription{cancel: cancel}
}

// Cancel removes the registration. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

type waiter struct {
	ch chan message.Message
}

// Link owns one logical connection to a die and demultiplexes inbound
// messages to either a pending one-shot waiter or to broadcast subscribers.
//
// Message dispatch works like this:
//  1. An inbound buffer is decoded against the registry.
//  2. If a waiter is queued for the decoded type, the oldest waiter consumes
//     the message exclusively.
//  3. Otherwise every subscriber for the type is invoked, each in its own
//     goroutine.
//
// The waiter queue is FIFO per type, which assumes replies arrive in send
// order immediately after the triggering request. Concurrent outstanding
// requests that share a response type are inherently ambiguous under this
// scheme; callers must avoid them.
type Link struct {
	registry  *message.Registry
	transport Transport
	logger    *logrus.Logger

	mu                 sync.Mutex
	state              State
	expectedDisconnect bool
	waiters            map[reflect.Type][]*waiter
	handlers           map[reflect.Type]map[uint64]func(message.Message)
	dropHandlers       map[uint64]func()
	nextSub            uint64
}

// New creates a Link over the given transport. The registry decides which
// packets the link understands.
func New(transport Transport, registry *message.Registry, logger *logrus.Logger) *Link {
	if logger == nil {
		logger = logrus.New()
	}

	l := &Link{
		registry:     registry,
		transport:    transport,
		logger:       logger,
		waiters:      make(map[reflect.Type][]*waiter),
		handlers:     make(map[reflect.Type]map[uint64]func(message.Message)),
		dropHandlers: make(map[uint64]func()),
	}
	transport.SetDisconnectHandler(l.onTransportDrop)
	return l
}

// Connect establishes the transport session and starts receiving
// notifications. Calling Connect while already connected is a caller error.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateDisconnected {
		l.mu.Unlock()
		return fmt.Errorf("link is %s, connect requires a disconnected link", l.state)
	}
	l.state = StateConnecting
	l.expectedDisconnect = false
	l.mu.Unlock()

	if err := l.transport.Connect(ctx); err != nil {
		l.setState(StateDisconnected)
		return &TransportError{Op: "connect", Err: err}
	}

	if err := l.transport.Subscribe(l.handleNotification); err != nil {
		if derr := l.transport.Disconnect(); derr != nil {
			l.logger.WithError(derr).Warn("Failed to tear down transport after subscribe failure")
		}
		l.setState(StateDisconnected)
		return &TransportError{Op: "subscribe", Err: err}
	}

	l.setState(StateConnected)
	l.logger.Debug("Link connected")
	return nil
}

// Disconnect marks the next transport drop as expected and tears the session
// down. Always safe to call, even on a link that never connected.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	l.expectedDisconnect = true
	l.mu.Unlock()

	if err := l.transport.Unsubscribe(); err != nil {
		l.logger.WithError(err).Warn("Failed to unsubscribe from notifications")
	}

	err := l.transport.Disconnect()
	l.setState(StateDisconnected)
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsConnected reports whether the link is currently connected.
func (l *Link) IsConnected() bool {
	return l.State() == StateConnected
}

// Send encodes and writes a message with no acknowledgement tracking.
func (l *Link) Send(msg message.Message) error {
	blob, err := l.registry.Encode(msg)
	if err != nil {
		return err
	}
	if err := l.transport.Write(blob); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// SendAndWait sends a message and suspends the caller until an inbound
// message of respType arrives. No timeout is imposed here; bound the wait
// through ctx. On cancellation the queued waiter is removed so a later
// unrelated reply cannot be misdelivered.
func (l *Link) SendAndWait(ctx context.Context, msg message.Message, respType reflect.Type) (message.Message, error) {
	w := &waiter{ch: make(chan message.Message, 1)}

	l.mu.Lock()
	l.waiters[respType] = append(l.waiters[respType], w)
	l.mu.Unlock()

	if err := l.Send(msg); err != nil {
		l.removeWaiter(respType, w)
		return nil, err
	}

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-ctx.Done():
		if !l.removeWaiter(respType, w) {
			// The reply landed between cancellation and removal.
			return <-w.ch, nil
		}
		return nil, ctx.Err()
	}
}

// Request is SendAndWait with a typed response.
func Request[T message.Message](ctx context.Context, l *Link, msg message.Message) (T, error) {
	resp, err := l.SendAndWait(ctx, msg, message.TypeOf[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return resp.(T), nil
}

// OnMessage registers a persistent subscriber for unsolicited messages of
// type T. Messages consumed by a waiter are not delivered to subscribers.
func OnMessage[T message.Message](l *Link, fn func(T)) Subscription {
	return l.subscribe(message.TypeOf[T](), func(m message.Message) { fn(m.(T)) })
}

// OnDisconnected registers a handler invoked when the transport drops
// without Disconnect having been called.
func (l *Link) OnDisconnected(fn func()) Subscription {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.dropHandlers[id] = fn
	l.mu.Unlock()

	return Subscription{cancel: func() {
		l.mu.Lock()
		delete(l.dropHandlers, id)
		l.mu.Unlock()
	}}
}

func (l *Link) subscribe(t reflect.Type, fn func(message.Message)) Subscription {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	m, ok := l.handlers[t]
	if !ok {
		m = make(map[uint64]func(message.Message))
		l.handlers[t] = m
	}
	m[id] = fn
	l.mu.Unlock()

	return Subscription{cancel: func() {
		l.mu.Lock()
		delete(l.handlers[t], id)
		l.mu.Unlock()
	}}
}

// handleNotification is the transport notification callback. It never blocks
// on application logic: waiters resolve through a buffered channel and
// subscriber invocations run in their own goroutines.
func (l *Link) handleNotification(data []byte) {
	msg, err := l.registry.Decode(data)
	if err != nil {
		l.logger.WithError(err).WithField("bytes", len(data)).Warn("Dropping undecodable packet")
		return
	}

	t := reflect.TypeOf(msg)
	l.logger.WithField("type", t.Name()).Debug("Dispatching message")

	l.mu.Lock()
	if q := l.waiters[t]; len(q) > 0 {
		w := q[0]
		l.waiters[t] = q[1:]
		l.mu.Unlock()
		w.ch <- msg
		return
	}
	fns := make([]func(message.Message), 0, len(l.handlers[t]))
	for _, fn := range l.handlers[t] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		go fn(msg)
	}
}

// removeWaiter pops w from the queue for t. Returns false when the waiter is
// no longer queued, meaning dispatch already resolved it.
func (l *Link) removeWaiter(t reflect.Type, w *waiter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.waiters[t]
	for i, cand := range q {
		if cand == w {
			l.waiters[t] = append(q[:i:i], q[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Link) onTransportDrop() {
	l.mu.Lock()
	l.state = StateDisconnected
	expected := l.expectedDisconnect
	var fns []func()
	if !expected {
		fns = make([]func(), 0, len(l.dropHandlers))
		for _, fn := range l.dropHandlers {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	if expected {
		return
	}

	l.logger.Info("Connection dropped unexpectedly")
	for _, fn := range fns {
		go fn()
	}
}
