package driver

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestEncodeSLCAN(t *testing.T) {
	f, err := NewFrame(0x05000102, []byte{0x01, 0xAB, 0x03})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, encodeSLCAN(f), test.ShouldEqual, "T0500010231AB03")

	std := Frame{ID: 0x7E0, DLC: 2, Data: [8]byte{0xDE, 0xAD}}
	test.That(t, encodeSLCAN(std), test.ShouldEqual, "t7E02DEAD")

	empty, err := NewFrame(0x1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, encodeSLCAN(empty), test.ShouldEqual, "T000000010")
}

func TestDecodeSLCAN(t *testing.T) {
	f, err := decodeSLCAN("T0500010231AB03")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.ID, test.ShouldEqual, uint32(0x05000102))
	test.That(t, f.Extended, test.ShouldBeTrue)
	test.That(t, f.Payload(), test.ShouldResemble, []byte{0x01, 0xAB, 0x03})

	f, err = decodeSLCAN("t7E02DEAD")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.ID, test.ShouldEqual, uint32(0x7E0))
	test.That(t, f.Extended, test.ShouldBeFalse)
	test.That(t, f.Payload(), test.ShouldResemble, []byte{0xDE, 0xAD})

	for _, bad := range []string{"", "x123", "T0500", "T050001029", "T0500010221", "tZZZ0", "T3000000010"} {
		_, err := decodeSLCAN(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestBitrateCommand(t *testing.T) {
	cmd, err := bitrateCommand(500000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldEqual, "S6")

	_, err = bitrateCommand(333)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSerialCANOverPipe(t *testing.T) {
	local, remote := net.Pipe()
	s := NewSerialCANWithPort(local, 250000, nil)

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		r := bufio.NewReader(remote)
		for {
			l, err := r.ReadString('\r')
			if err != nil {
				return
			}
			lines <- strings.TrimSuffix(l, "\r")
		}
	}()

	test.That(t, s.Init(), test.ShouldBeNil)
	test.That(t, <-lines, test.ShouldEqual, "C")
	test.That(t, <-lines, test.ShouldEqual, "S5")
	test.That(t, <-lines, test.ShouldEqual, "O")

	s.Start()
	test.That(t, s.Write(0x01000203, []byte{9, 8}), test.ShouldBeNil)
	test.That(t, <-lines, test.ShouldEqual, "T0100020320908")

	_, err := remote.Write([]byte("z\rT1FFFFFFF2ABCD\r"))
	test.That(t, err, test.ShouldBeNil)
	select {
	case f := <-s.RxChan():
		test.That(t, f.ID, test.ShouldEqual, uint32(0x1FFFFFFF))
		test.That(t, f.Payload(), test.ShouldResemble, []byte{0xAB, 0xCD})
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}

	s.Stop()
	var rest []string
	for l := range lines {
		rest = append(rest, l)
	}
	test.That(t, rest, test.ShouldResemble, []string{"C"})
}
