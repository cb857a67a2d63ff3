package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/LoveWonYoung/robobus/driver"
	"github.com/LoveWonYoung/robobus/robobus"
)

var fastConfig = robobus.Config{
	RetryTimeout: 20 * time.Millisecond,
	TickInterval: 2 * time.Millisecond,
}

func newPair(t *testing.T, bus *driver.VirtualBus, opts Options) (*Node, *Node) {
	t.Helper()
	if opts.Config == (robobus.Config{}) {
		opts.Config = fastConfig
	}
	logger := zaptest.NewLogger(t).Sugar()

	a, err := New(bus.Endpoint("a"), robobus.ControlChannels(0, 1, robobus.RoleServer), opts, logger.Named("a"))
	test.That(t, err, test.ShouldBeNil)
	b, err := New(bus.Endpoint("b"), robobus.ControlChannels(1, 0, robobus.RoleClient), opts, logger.Named("b"))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, a.Close(), test.ShouldBeNil)
		test.That(t, b.Close(), test.ShouldBeNil)
	})
	return a, b
}

func newAutoBus() *driver.VirtualBus {
	bus := driver.NewVirtualBus(nil)
	bus.SetAutoDeliver(true)
	return bus
}

func receive(t *testing.T, n *Node) []byte {
	t.Helper()
	select {
	case data := <-n.Received():
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestSendDelivers(t *testing.T) {
	a, b := newPair(t, newAutoBus(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	test.That(t, a.Send(ctx, []byte{1, 2, 3}), test.ShouldBeNil)
	test.That(t, receive(t, b), test.ShouldResemble, []byte{1, 2, 3})

	test.That(t, b.Send(ctx, []byte{4}), test.ShouldBeNil)
	test.That(t, receive(t, a), test.ShouldResemble, []byte{4})

	stats := a.Stats()
	test.That(t, stats.TxAcked, test.ShouldEqual, uint64(1))
	test.That(t, stats.RxAccepted, test.ShouldEqual, uint64(1))
}

func TestPushSplitsIntoChunks(t *testing.T) {
	a, b := newPair(t, newAutoBus(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	test.That(t, a.Push(ctx, data), test.ShouldBeNil)

	var got []byte
	for i := 0; i < 3; i++ {
		got = append(got, receive(t, b)...)
	}
	test.That(t, got, test.ShouldResemble, data)
	test.That(t, a.Push(ctx, nil), test.ShouldBeNil)
}

func TestSendSurvivesLoss(t *testing.T) {
	bus := newAutoBus()
	drops := 0
	bus.SetFault(func(from string, msg robobus.CanMessage) bool {
		if from == "a" && drops < 3 {
			drops++
			return true
		}
		return false
	})
	a, b := newPair(t, bus, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	test.That(t, a.Send(ctx, []byte{0xAB}), test.ShouldBeNil)
	test.That(t, receive(t, b), test.ShouldResemble, []byte{0xAB})
	test.That(t, a.Stats().Retransmits, test.ShouldBeGreaterThan, uint64(0))
}

func TestSendRejectsBadPayloads(t *testing.T) {
	a, _ := newPair(t, newAutoBus(), Options{})
	ctx := context.Background()

	err := a.Send(ctx, make([]byte, 9))
	var tooLarge robobus.PayloadTooLargeError
	test.That(t, errors.As(err, &tooLarge), test.ShouldBeTrue)
	test.That(t, tooLarge.Size, test.ShouldEqual, 9)

	err = a.Send(ctx, nil)
	test.That(t, errors.As(err, &robobus.EmptyPayloadError{}), test.ShouldBeTrue)
}

func TestSendHonorsContext(t *testing.T) {
	bus := newAutoBus()
	// no peer: nothing is ever acknowledged
	a, err := New(bus.Endpoint("a"), robobus.ControlChannels(0, 1, robobus.RoleServer), Options{Config: fastConfig}, nil)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, a.Close(), test.ShouldBeNil) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	test.That(t, a.Send(ctx, []byte{1}), test.ShouldEqual, context.DeadlineExceeded)

	// still retransmitting the abandoned payload
	time.Sleep(100 * time.Millisecond)
	test.That(t, a.Stats().Retransmits, test.ShouldBeGreaterThan, uint64(0))
}

func TestCloseStopsNode(t *testing.T) {
	bus := newAutoBus()
	ep := bus.Endpoint("a")
	a, err := New(ep, robobus.ControlChannels(0, 1, robobus.RoleServer), Options{Config: fastConfig, CloseBus: true}, nil)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, a.Close(), test.ShouldBeNil)
	test.That(t, a.Close(), test.ShouldBeNil)
	test.That(t, a.Send(context.Background(), []byte{1}), test.ShouldEqual, ErrClosed)
	test.That(t, ep.Send(0x1, []byte{1}), test.ShouldEqual, driver.ErrEndpointClosed)

	_, ok := <-a.Received()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestNewValidates(t *testing.T) {
	bus := newAutoBus()
	_, err := New(nil, robobus.ControlChannels(0, 1, robobus.RoleServer), Options{}, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New(bus.Endpoint("a"), robobus.ControlChannels(0, 1, robobus.RoleServer),
		Options{Config: robobus.Config{RetryTimeout: time.Millisecond, TickInterval: time.Second}}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	var cfgErr robobus.InvalidConfigError
	test.That(t, errors.As(err, &cfgErr), test.ShouldBeTrue)
}

func TestRetransmissionFollowsClock(t *testing.T) {
	bus := newAutoBus()
	mock := clock.NewMock()
	bus.SetFault(func(from string, msg robobus.CanMessage) bool {
		return from == "a"
	})
	a, b := newPair(t, bus, Options{Config: robobus.DefaultConfig(), Clock: mock})

	result := make(chan error, 1)
	go func() {
		result <- a.Send(context.Background(), []byte{7})
	}()

	// nothing gets through while the wire drops a's frames
	time.Sleep(20 * time.Millisecond)
	test.That(t, a.Stats().TxChunks, test.ShouldEqual, uint64(1))
	bus.SetFault(nil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-result:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, receive(t, b), test.ShouldResemble, []byte{7})
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("send never completed")
		}
		mock.Add(robobus.DefaultConfig().TickInterval)
	}
}
