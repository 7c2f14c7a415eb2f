// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, for streams where a slow consumer should see recent values
// rather than block the producer.
package ringchan

// RingChannel wraps a buffered channel so that producers never block: when
// the buffer is full the oldest element is discarded.
//
// Writers use ForceSend; readers range over C() until Close.
type RingChannel[T any] struct {
	ch chan T
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts an item, discarding the oldest buffered item if needed.
// It never blocks. Returns true when an item was dropped.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	dropped := false
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
			dropped = true
		default:
		}
		rc.ch <- v
	}
	return dropped
}

// Close closes the channel. Producers must not send after Close.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
