package robobus

import (
	"testing"

	"go.viam.com/test"
)

func TestDigestDeterministic(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	test.That(t, FromData(data), test.ShouldEqual, FromData(data))
	test.That(t, FromData(nil), test.ShouldEqual, SeedDigest)
}

func TestDigestAppendIsIncremental(t *testing.T) {
	a := []byte{0xDE, 0xAD}
	b := []byte{0xBE, 0xEF, 0x00}
	whole := append(append([]byte(nil), a...), b...)

	test.That(t, FromData(a).CopyAndAppend(b), test.ShouldEqual, FromData(whole))

	d := FromData(a)
	_ = d.CopyAndAppend(b)
	test.That(t, d, test.ShouldEqual, FromData(a))
}

func TestDigestDetectsSingleByteChange(t *testing.T) {
	base := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}
	want := FromData(base)
	for i := range base {
		for delta := 1; delta < 256; delta++ {
			mutated := append([]byte(nil), base...)
			mutated[i] += byte(delta)
			if FromData(mutated) == want {
				t.Fatalf("byte %d changed by %d left digest %s unchanged", i, delta, want)
			}
		}
	}
}

func TestDigestOrderMatters(t *testing.T) {
	test.That(t, FromData([]byte{1, 2}), test.ShouldNotEqual, FromData([]byte{2, 1}))
	test.That(t, FromData([]byte{0}), test.ShouldNotEqual, SeedDigest)
}

func TestDigestString(t *testing.T) {
	test.That(t, Digest(0x0A0B).String(), test.ShouldEqual, "0A0B")
}

func TestDigestKnownValues(t *testing.T) {
	test.That(t, FromData([]byte{0}), test.ShouldEqual, Digest(0x61C9))
	test.That(t, FromData([]byte{1, 2, 3}), test.ShouldEqual, Digest(0x2F40))
}
