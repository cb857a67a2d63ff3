package robobus

import (
	"fmt"
	"math/bits"
)

// Digest is an RD16 accumulator. The zero value is not the seed; start from FromData or
// SeedDigest.
type Digest uint16

const (
	// SeedDigest is the digest of an empty stream.
	SeedDigest Digest = 0xFFFF

	rd16Rotate     = 5
	rd16Multiplier = 0x9E37
)

// FromData folds buf into the seed.
func FromData(buf []byte) Digest {
	return SeedDigest.CopyAndAppend(buf)
}

// CopyAndAppend returns d with buf folded in. d itself is left unchanged, so a receiver
// can test a candidate chunk against history before committing it.
//
// Each step is a bijection of the state for a fixed input byte, so changing any single byte
// of buf always changes the result.
func (d Digest) CopyAndAppend(buf []byte) Digest {
	x := uint16(d)
	for _, b := range buf {
		x = (bits.RotateLeft16(x, rd16Rotate) ^ uint16(b)) * rd16Multiplier
	}
	return Digest(x)
}

func (d Digest) String() string {
	return fmt.Sprintf("%04X", uint16(d))
}
