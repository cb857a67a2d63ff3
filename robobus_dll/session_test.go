package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/LoveWonYoung/robobus/node"
	"github.com/LoveWonYoung/robobus/robobus"
)

var fastConfig = robobus.Config{
	RetryTimeout: 20 * time.Millisecond,
	TickInterval: 2 * time.Millisecond,
}

// linkedSessions wires two sessions back to back, the way two hosts sharing a bus would.
func linkedSessions(t *testing.T) (*session, *session) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	var peer atomic.Pointer[session]
	a, err := openSession(1, 2, robobus.RoleServer, fastConfig, func(id uint32, data []byte) {
		if b := peer.Load(); b != nil {
			b.bus.input(id, append([]byte(nil), data...))
		}
	}, logger.Named("a"))
	test.That(t, err, test.ShouldBeNil)
	b, err := openSession(2, 1, robobus.RoleClient, fastConfig, func(id uint32, data []byte) {
		a.bus.input(id, append([]byte(nil), data...))
	}, logger.Named("b"))
	test.That(t, err, test.ShouldBeNil)
	peer.Store(b)
	t.Cleanup(func() {
		test.That(t, a.close(), test.ShouldBeNil)
		test.That(t, b.close(), test.ShouldBeNil)
	})
	return a, b
}

func TestSessionRoundTrip(t *testing.T) {
	a, b := linkedSessions(t)

	test.That(t, a.send([]byte{0xDE, 0xAD}, 2*time.Second), test.ShouldBeNil)
	data, err := b.recv(time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0xDE, 0xAD})

	test.That(t, b.send([]byte{1}, 2*time.Second), test.ShouldBeNil)
	data, err = a.recv(time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{1})
}

func TestSessionStatus(t *testing.T) {
	a, _ := linkedSessions(t)

	_, err := a.recv(10 * time.Millisecond)
	test.That(t, statusOf(err), test.ShouldEqual, statusTimeout)

	test.That(t, statusOf(a.send(make([]byte, 9), time.Second)), test.ShouldEqual, statusInvalid)
	test.That(t, statusOf(a.send(nil, time.Second)), test.ShouldEqual, statusInvalid)
	test.That(t, statusOf(nil), test.ShouldEqual, statusOK)
	test.That(t, statusOf(node.ErrClosed), test.ShouldEqual, statusClosed)
	test.That(t, statusOf(context.DeadlineExceeded), test.ShouldEqual, statusTimeout)
}

func TestSessionSendTimesOutWithoutPeer(t *testing.T) {
	var sent int
	s, err := openSession(1, 2, robobus.RoleServer, fastConfig, func(uint32, []byte) { sent++ }, nil)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, statusOf(s.send([]byte{5}, 30*time.Millisecond)), test.ShouldEqual, statusTimeout)
	test.That(t, s.close(), test.ShouldBeNil)
	_, err = s.recv(time.Second)
	test.That(t, statusOf(err), test.ShouldEqual, statusClosed)
	test.That(t, sent, test.ShouldBeGreaterThan, 0)
}

func TestOpenSessionValidates(t *testing.T) {
	_, err := openSession(1, 1, robobus.RoleServer, fastConfig, func(uint32, []byte) {}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = openSession(1, 2, robobus.RoleServer, fastConfig, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = openSession(1, 2, robobus.RoleServer, robobus.Config{RetryTimeout: time.Millisecond, TickInterval: time.Second}, func(uint32, []byte) {}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
