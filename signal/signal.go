// Package signal implements synchronous one-to-many event fan-out.
//
// A Signal owns its listener list. Subscribers only ever see an Rx view and hold a
// Connection handle. A closed Signal refuses new connections.
package signal

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrSignalClosed is returned by Rx.Connect when the underlying signal is gone.
var ErrSignalClosed = errors.New("signal closed")

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Signal holds the listeners of one event stream.
type Signal[T any] struct {
	mu        sync.Mutex
	listeners []listener[T]
	nextID    uint64
	closed    bool
}

// New returns an open signal with no listeners.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Fire calls every listener in registration order on the caller's goroutine.
// Listeners may connect or disconnect while being fired; changes apply to the next Fire.
func (s *Signal[T]) Fire(v T) {
	s.mu.Lock()
	if s.closed || len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := make([]listener[T], len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Close drops every listener. Later Connect calls fail with ErrSignalClosed.
func (s *Signal[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = nil
}

// Len returns the number of connected listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Rx returns the subscribe-only view.
func (s *Signal[T]) Rx() Rx[T] {
	return Rx[T]{sig: s}
}

// Tx returns the fire-only view.
func (s *Signal[T]) Tx() Tx[T] {
	return Tx[T]{sig: s}
}

func (s *Signal[T]) connect(fn func(T)) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Connection{}, ErrSignalClosed
	}
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	return Connection{id: id, disconnect: s.disconnect}, nil
}

func (s *Signal[T]) disconnect(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Rx is the subscriber side of a Signal.
type Rx[T any] struct {
	sig *Signal[T]
}

// Connect registers fn. It fails instead of panicking when the view is empty or the
// signal has been closed.
func (r Rx[T]) Connect(fn func(T)) (Connection, error) {
	if r.sig == nil || fn == nil {
		return Connection{}, ErrSignalClosed
	}
	return r.sig.connect(fn)
}

// Tx is the publisher side of a Signal.
type Tx[T any] struct {
	sig *Signal[T]
}

// Fire forwards to Signal.Fire. Firing an empty view is a no-op.
func (t Tx[T]) Fire(v T) {
	if t.sig == nil {
		return
	}
	t.sig.Fire(v)
}

// Connection identifies one registered listener.
type Connection struct {
	id         uint64
	disconnect func(uint64)
}

// Disconnect removes the listener. Calling it more than once is harmless.
func (c Connection) Disconnect() {
	if c.disconnect == nil {
		return
	}
	c.disconnect(c.id)
}

// Connected reports whether the handle was issued by a successful Connect.
func (c Connection) Connected() bool {
	return c.disconnect != nil
}
