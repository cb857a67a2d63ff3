package robobus

import (
	"time"

	"github.com/LoveWonYoung/robobus/signal"
)

// MultiUpdatable holds the latest value of a field and keeps re-announcing it until Reset.
// It is the retransmission engine of the stream: a dirty value reaches subscribers at
// least once every timeout for as long as Tick keeps being called.
//
// Not safe for concurrent use.
type MultiUpdatable[T any] struct {
	value    T
	hasValue bool
	dirty    bool
	timer    time.Duration
	timeout  time.Duration
	refires  uint64
	updated  *signal.Signal[T]
}

func NewMultiUpdatable[T any](timeout time.Duration) *MultiUpdatable[T] {
	return &MultiUpdatable[T]{
		timeout: timeout,
		timer:   timeout,
		updated: signal.New[T](),
	}
}

// NewMultiUpdatableWith returns a clean (not dirty) updatable pre-seeded with initial.
func NewMultiUpdatableWith[T any](timeout time.Duration, initial T) *MultiUpdatable[T] {
	m := NewMultiUpdatable[T](timeout)
	m.value = initial
	m.hasValue = true
	return m
}

// Update stores v, marks it dirty and fires Updated once. The timer is cleared so the
// next Tick announces v again.
func (m *MultiUpdatable[T]) Update(v T) {
	m.value = v
	m.hasValue = true
	m.dirty = true
	m.timer = 0
	m.updated.Fire(v)
}

// Reset acknowledges the current value. It never fires.
func (m *MultiUpdatable[T]) Reset() {
	m.dirty = false
	m.timer = m.timeout
}

func (m *MultiUpdatable[T]) Tick(dt time.Duration) {
	if !m.dirty {
		return
	}
	m.timer -= dt
	if m.timer > 0 {
		return
	}
	m.timer = m.timeout
	m.refires++
	m.updated.Fire(m.value)
}

func (m *MultiUpdatable[T]) Value() (T, bool) {
	return m.value, m.hasValue
}

func (m *MultiUpdatable[T]) Dirty() bool {
	return m.dirty
}

// Refires counts announcements made by Tick, i.e. retransmissions.
func (m *MultiUpdatable[T]) Refires() uint64 {
	return m.refires
}

func (m *MultiUpdatable[T]) Updated() signal.Rx[T] {
	return m.updated.Rx()
}

func (m *MultiUpdatable[T]) close() {
	m.updated.Close()
}
