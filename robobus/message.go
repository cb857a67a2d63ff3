package robobus

import (
	"encoding/hex"
	"fmt"
)

// Bus is the CAN driver the stream runs on. Send transmits one frame with an extended
// arbitration id; OnRx registers a callback for every received frame.
type Bus interface {
	Send(id uint32, data []byte) error
	OnRx(fn func(id uint32, data []byte))
}

// CanMessage is one classic CAN frame as seen by drivers and logs.
type CanMessage struct {
	ArbitrationID uint32
	Data          []byte
	IsExtendedID  bool
}

// String renders the frame the same way on every driver.
func (m *CanMessage) String() string {
	var idStr string
	if m.IsExtendedID {
		idStr = fmt.Sprintf("%08x", m.ArbitrationID)
	} else {
		idStr = fmt.Sprintf("%03x", m.ArbitrationID)
	}
	return fmt.Sprintf("<CanMessage %s [%d] \"%s\">", idStr, len(m.Data), hex.EncodeToString(m.Data))
}

// Clone returns a copy that does not share the data buffer.
func (m CanMessage) Clone() CanMessage {
	m.Data = append([]byte(nil), m.Data...)
	return m
}

// SplitBlock cuts data into consecutive chunks of at most blockSize bytes.
func SplitBlock(data []byte, blockSize int) [][]byte {
	var chunks [][]byte
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}
