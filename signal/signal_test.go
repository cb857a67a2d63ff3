package signal

import (
	"testing"

	"go.viam.com/test"
)

func TestFireOrder(t *testing.T) {
	sig := New[int]()
	var got []string

	_, err := sig.Rx().Connect(func(v int) { got = append(got, "a") })
	test.That(t, err, test.ShouldBeNil)
	_, err = sig.Rx().Connect(func(v int) { got = append(got, "b") })
	test.That(t, err, test.ShouldBeNil)
	_, err = sig.Rx().Connect(func(v int) { got = append(got, "c") })
	test.That(t, err, test.ShouldBeNil)

	sig.Tx().Fire(1)
	test.That(t, got, test.ShouldResemble, []string{"a", "b", "c"})
}

func TestFireIsSynchronous(t *testing.T) {
	sig := New[[]byte]()
	var seen []byte
	_, err := sig.Rx().Connect(func(v []byte) { seen = v })
	test.That(t, err, test.ShouldBeNil)

	sig.Fire([]byte{1, 2, 3})
	// no waiting: the listener already ran on this goroutine
	test.That(t, seen, test.ShouldResemble, []byte{1, 2, 3})
}

func TestDisconnect(t *testing.T) {
	sig := New[int]()
	var a, b int
	connA, err := sig.Rx().Connect(func(v int) { a += v })
	test.That(t, err, test.ShouldBeNil)
	_, err = sig.Rx().Connect(func(v int) { b += v })
	test.That(t, err, test.ShouldBeNil)

	sig.Fire(1)
	connA.Disconnect()
	connA.Disconnect()
	sig.Fire(2)

	test.That(t, a, test.ShouldEqual, 1)
	test.That(t, b, test.ShouldEqual, 3)
	test.That(t, sig.Len(), test.ShouldEqual, 1)
}

func TestConnectAfterClose(t *testing.T) {
	sig := New[int]()
	rx := sig.Rx()
	fired := false
	_, err := rx.Connect(func(int) { fired = true })
	test.That(t, err, test.ShouldBeNil)

	sig.Close()
	sig.Fire(1)
	test.That(t, fired, test.ShouldBeFalse)

	conn, err := rx.Connect(func(int) {})
	test.That(t, err, test.ShouldEqual, ErrSignalClosed)
	test.That(t, conn.Connected(), test.ShouldBeFalse)
	conn.Disconnect()
}

func TestZeroViews(t *testing.T) {
	var rx Rx[int]
	_, err := rx.Connect(func(int) {})
	test.That(t, err, test.ShouldEqual, ErrSignalClosed)

	var tx Tx[int]
	tx.Fire(1)
}

func TestConnectDuringFire(t *testing.T) {
	sig := New[int]()
	calls := 0
	_, err := sig.Rx().Connect(func(int) {
		calls++
		_, err := sig.Rx().Connect(func(int) { calls += 10 })
		test.That(t, err, test.ShouldBeNil)
	})
	test.That(t, err, test.ShouldBeNil)

	sig.Fire(0)
	test.That(t, calls, test.ShouldEqual, 1)
	test.That(t, sig.Len(), test.ShouldEqual, 2)
}
