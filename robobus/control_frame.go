package robobus

import "fmt"

const (
	// MaxPayloadSize is the classic CAN payload limit; one chunk never exceeds it.
	MaxPayloadSize = 8
	// ControlFrameSize is the fixed length of an encoded ControlData.
	ControlFrameSize = 8
)

// ControlData is the record each side keeps re-announcing on its ctrl channel.
//
// Wire layout, big-endian:
//
//	[0:2] ChunkSum   digest of the chunk numbered Seq
//	[2:4] StreamSum  local stream digest including that chunk
//	[4]   Seq        local sequence number
//	[5]   AckSeq     last peer sequence number accepted here
//	[6:8] AckSum     stream digest committed here for the peer's chunks
type ControlData struct {
	ChunkSum  Digest
	StreamSum Digest
	Seq       uint8
	AckSeq    uint8
	AckSum    Digest
}

func initialControlData() ControlData {
	return ControlData{
		ChunkSum:  SeedDigest,
		StreamSum: SeedDigest,
		AckSum:    SeedDigest,
	}
}

// Encode packs the record into a control frame.
func (c ControlData) Encode() [ControlFrameSize]byte {
	var b [ControlFrameSize]byte
	b[0] = byte(c.ChunkSum >> 8)
	b[1] = byte(c.ChunkSum)
	b[2] = byte(c.StreamSum >> 8)
	b[3] = byte(c.StreamSum)
	b[4] = c.Seq
	b[5] = c.AckSeq
	b[6] = byte(c.AckSum >> 8)
	b[7] = byte(c.AckSum)
	return b
}

// DecodeControlData unpacks a control frame.
func DecodeControlData(frame []byte) (ControlData, error) {
	if len(frame) != ControlFrameSize {
		return ControlData{}, InvalidControlFrameError{Size: len(frame)}
	}
	return ControlData{
		ChunkSum:  Digest(frame[0])<<8 | Digest(frame[1]),
		StreamSum: Digest(frame[2])<<8 | Digest(frame[3]),
		Seq:       frame[4],
		AckSeq:    frame[5],
		AckSum:    Digest(frame[6])<<8 | Digest(frame[7]),
	}, nil
}

func (c ControlData) String() string {
	return fmt.Sprintf("<ctrl seq=%d chunk=%s stream=%s ack=%d/%s>", c.Seq, c.ChunkSum, c.StreamSum, c.AckSeq, c.AckSum)
}
