package watch

import "sync"

// Feed is a live query subscription: producers push a full, fresh value on
// every underlying change and report failures on a channel distinct from the
// data channel, so consumers can tell "no data yet" from "the feed is
// broken". Delivery is latest-wins: a slow consumer sees the newest value,
// never a backlog of stale ones.
type Feed[T any] struct {
	updates chan T
	errs    chan error

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewFeed creates a feed. Both channels are buffered with a single slot;
// Publish replaces an unconsumed value instead of blocking.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{
		updates: make(chan T, 1),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Updates returns the data channel.
func (f *Feed[T]) Updates() <-chan T { return f.updates }

// Errs returns the error channel. An error does not terminate the feed;
// producers keep publishing once their source recovers.
func (f *Feed[T]) Errs() <-chan error { return f.errs }

// Done is closed when the feed is stopped.
func (f *Feed[T]) Done() <-chan struct{} { return f.done }

// Publish delivers a fresh value, discarding any unconsumed previous one.
// Returns false if the feed has been stopped.
func (f *Feed[T]) Publish(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	select {
	case f.updates <- v:
	default:
		// Drop the stale value, then deliver the fresh one.
		select {
		case <-f.updates:
		default:
		}
		f.updates <- v
	}
	return true
}

// Fail reports a source failure without closing the data channel.
func (f *Feed[T]) Fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	select {
	case f.errs <- err:
	default:
		select {
		case <-f.errs:
		default:
		}
		f.errs <- err
	}
	return true
}

// Stop terminates the feed. Safe to call more than once; publishes after
// Stop are discarded.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	close(f.done)
}

// Stopped reports whether Stop has been called.
func (f *Feed[T]) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
