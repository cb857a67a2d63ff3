package robobus

import "fmt"

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// RoboBusError is the base of every error the protocol layer returns.
type RoboBusError struct {
	msg string
}

func NewRoboBusError(msg string) RoboBusError {
	return RoboBusError{msg: msg}
}

func (e RoboBusError) Error() string {
	return messageOrDefault(e.msg, "robobus error")
}

// TxPendingError is returned by FeedTxData while the previous chunk is unacknowledged.
type TxPendingError struct {
	RoboBusError
	Seq uint8
}

func (e TxPendingError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("chunk %d still awaiting acknowledgment", e.Seq))
}

type PayloadTooLargeError struct {
	RoboBusError
	Size int
}

func (e PayloadTooLargeError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("payload of %d bytes exceeds the %d byte frame limit", e.Size, MaxPayloadSize))
}

type EmptyPayloadError struct {
	RoboBusError
}

func (e EmptyPayloadError) Error() string {
	return messageOrDefault(e.msg, "empty payload cannot be transmitted")
}

type InvalidControlFrameError struct {
	RoboBusError
	Size int
}

func (e InvalidControlFrameError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("control frame must be %d bytes, got %d", ControlFrameSize, e.Size))
}

// MessageIDRangeError reports a field or raw value that does not fit the id layout.
type MessageIDRangeError struct {
	RoboBusError
	Field string
	Value uint32
	Max   uint32
}

func (e MessageIDRangeError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("%s 0x%X exceeds maximum 0x%X", e.Field, e.Value, e.Max))
}

type LayoutVersionError struct {
	RoboBusError
	Version uint32
}

func (e LayoutVersionError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("message id layout version %d, expected %d", e.Version, LayoutVersion))
}

type DuplicateChannelError struct {
	RoboBusError
	ID MessageID
}

func (e DuplicateChannelError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("channel id %s used more than once", e.ID))
}

type InvalidConfigError struct {
	RoboBusError
}

func (e InvalidConfigError) Error() string {
	return messageOrDefault(e.msg, "invalid robobus config")
}
