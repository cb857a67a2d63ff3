//go:build windows

package driver

import (
	"testing"

	"go.viam.com/test"
)

func TestToomossMsgConversion(t *testing.T) {
	f, err := NewFrame(0x04400002, []byte{1, 2, 3})
	test.That(t, err, test.ShouldBeNil)

	msg := newToomossMsg(f)
	test.That(t, msg.ExternFlag, test.ShouldEqual, byte(1))
	test.That(t, msg.DataLen, test.ShouldEqual, byte(3))

	back, ok := msg.frame()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, back, test.ShouldResemble, f)

	msg.RemoteFlag = 1
	_, ok = msg.frame()
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = toomossMsg{DataLen: 0}.frame()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestToomossRegistered(t *testing.T) {
	test.That(t, Interfaces(), test.ShouldContain, "toomoss")
	_, err := NewDriver("toomoss", Options{Channel: "can0"}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	dev, err := NewDriver("toomoss", Options{Channel: "1", Bitrate: 250000}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.(*Toomoss).channel, test.ShouldEqual, 1)
}
