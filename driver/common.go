package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/LoveWonYoung/robobus/robobus"
)

const (
	RxChannelBufferSize = 1024
	PollingInterval     = time.Millisecond
	MaxDataLength       = 8
)

// Frame is a classic CAN frame as a hardware driver hands it over.
type Frame struct {
	ID       uint32
	DLC      byte
	Data     [MaxDataLength]byte
	Extended bool
}

// Payload returns the valid bytes of the frame.
func (f Frame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return f.Data[:n]
}

// Message converts the frame for logging and the protocol layer.
func (f Frame) Message() robobus.CanMessage {
	return robobus.CanMessage{
		ArbitrationID: f.ID,
		Data:          append([]byte(nil), f.Payload()...),
		IsExtendedID:  f.Extended,
	}
}

// NewFrame builds an extended-id frame, validating id and length.
func NewFrame(id uint32, data []byte) (Frame, error) {
	if err := checkFrame(id, data); err != nil {
		return Frame{}, err
	}
	f := Frame{ID: id, DLC: byte(len(data)), Extended: true}
	copy(f.Data[:], data)
	return f, nil
}

func checkFrame(id uint32, data []byte) error {
	if id > robobus.MaxMessageID {
		return fmt.Errorf("arbitration id 0x%X exceeds 29 bits", id)
	}
	if len(data) > MaxDataLength {
		return fmt.Errorf("data length %d exceeds CAN maximum %d", len(data), MaxDataLength)
	}
	return nil
}

// CANDriver is the interface every hardware backend implements.
type CANDriver interface {
	Init() error
	Start()
	Stop()
	Write(id uint32, data []byte) error
	RxChan() <-chan Frame
	Context() context.Context
}
