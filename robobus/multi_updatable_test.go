package robobus

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func collect[T any](t *testing.T, m *MultiUpdatable[T]) *[]T {
	t.Helper()
	var got []T
	_, err := m.Updated().Connect(func(v T) { got = append(got, v) })
	test.That(t, err, test.ShouldBeNil)
	return &got
}

func TestMultiUpdatableRefiresUntilReset(t *testing.T) {
	m := NewMultiUpdatable[int](50 * time.Millisecond)
	got := collect(t, m)

	m.Tick(time.Second)
	test.That(t, *got, test.ShouldBeEmpty)

	m.Update(7)
	test.That(t, *got, test.ShouldResemble, []int{7})
	test.That(t, m.Dirty(), test.ShouldBeTrue)

	// cleared timer: first tick announces again
	m.Tick(time.Millisecond)
	test.That(t, *got, test.ShouldResemble, []int{7, 7})

	for i := 0; i < 9; i++ {
		m.Tick(5 * time.Millisecond)
	}
	test.That(t, *got, test.ShouldHaveLength, 2)
	m.Tick(5 * time.Millisecond)
	test.That(t, *got, test.ShouldHaveLength, 3)
	test.That(t, m.Refires(), test.ShouldEqual, uint64(2))

	m.Reset()
	test.That(t, m.Dirty(), test.ShouldBeFalse)
	m.Tick(time.Second)
	test.That(t, *got, test.ShouldHaveLength, 3)

	v, ok := m.Value()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 7)
}

func TestMultiUpdatableLiveness(t *testing.T) {
	timeout := 50 * time.Millisecond
	m := NewMultiUpdatable[string](timeout)
	got := collect(t, m)
	m.Update("x")

	// any window of one timeout contains an announcement while dirty
	dt := 7 * time.Millisecond
	since := time.Duration(0)
	last := len(*got)
	for i := 0; i < 200; i++ {
		m.Tick(dt)
		since += dt
		if len(*got) != last {
			last = len(*got)
			since = 0
		}
		test.That(t, since, test.ShouldBeLessThanOrEqualTo, timeout)
	}
}

func TestMultiUpdatableSeeded(t *testing.T) {
	m := NewMultiUpdatableWith(10*time.Millisecond, 3)
	got := collect(t, m)

	v, ok := m.Value()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 3)
	test.That(t, m.Dirty(), test.ShouldBeFalse)

	m.Tick(time.Second)
	test.That(t, *got, test.ShouldBeEmpty)

	_, ok = NewMultiUpdatable[int](time.Second).Value()
	test.That(t, ok, test.ShouldBeFalse)
}
