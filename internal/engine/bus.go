package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoSubscribers is returned by Publish when nobody is listening.
	ErrNoSubscribers = errors.New("engine: bus has no subscribers")
	// ErrBusClosed is returned after Close.
	ErrBusClosed = errors.New("engine: bus closed")
)

// LaggedError reports that a subscriber fell behind and Skipped of its oldest
// unread items were dropped. The subscription stays usable.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("engine: subscriber lagged, %d items skipped", e.Skipped)
}

// Bus is a broadcast channel. Every subscriber receives every item published
// after it subscribed, in publication order, through its own bounded buffer.
type Bus[T any] struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBus creates a bus whose subscribers buffer up to capacity items.
func NewBus[T any](capacity int) *Bus[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus[T]{
		capacity: capacity,
		subs:     make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		bus:   b,
		buf:   make([]T, b.capacity),
		ready: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every subscriber and returns how many received it.
// Publish never blocks; a full subscriber loses its oldest item instead.
func (b *Bus[T]) Publish(v T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBusClosed
	}
	if len(b.subs) == 0 {
		return 0, ErrNoSubscribers
	}
	for s := range b.subs {
		s.push(v)
	}
	return len(b.subs), nil
}

// Len returns the number of live subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close wakes every subscriber; buffered items can still be drained before
// Recv reports ErrBusClosed.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
	}
	b.subs = nil
}

func (b *Bus[T]) unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one subscriber's view of a Bus.
type Subscription[T any] struct {
	bus *Bus[T]

	mu     sync.Mutex
	buf    []T
	head   int
	size   int
	lagged uint64
	closed bool
	ready  chan struct{}
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.size == len(s.buf) {
		var zero T
		s.buf[s.head] = zero
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.lagged++
	}
	s.buf[(s.head+s.size)%len(s.buf)] = v
	s.size++
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Recv returns the next item. If items were dropped since the last call it
// first returns a *LaggedError and resumes with the oldest retained item on
// the following call.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.lagged > 0 {
			n := s.lagged
			s.lagged = 0
			s.mu.Unlock()
			return zero, &LaggedError{Skipped: n}
		}
		if s.size > 0 {
			v := s.buf[s.head]
			s.buf[s.head] = zero
			s.head = (s.head + 1) % len(s.buf)
			s.size--
			s.mu.Unlock()
			return v, nil
		}
		if s.closed {
			s.mu.Unlock()
			return zero, ErrBusClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.ready:
		}
	}
}

// Unsubscribe detaches the subscription from its bus.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.unsubscribe(s)
}
