package robobus

import "fmt"

// DeviceID identifies one participant on the bus.
type DeviceID uint8

func (d DeviceID) String() string {
	return fmt.Sprintf("0x%02X", uint8(d))
}

// MessageType is the traffic class carried in bits 24-25 of a MessageID.
type MessageType uint8

const (
	Control MessageType = iota
	P2P
	RawP2P
	Multicast
)

func (t MessageType) String() string {
	switch t {
	case Control:
		return "Control"
	case P2P:
		return "P2P"
	case RawP2P:
		return "RawP2P"
	case Multicast:
		return "Multicast"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// DataCtrlMarker tells data frames from control frames and the server side from the client side.
type DataCtrlMarker uint8

const (
	ServerData DataCtrlMarker = iota
	ServerCtrl
	ClientData
	ClientCtrl
)

func (m DataCtrlMarker) String() string {
	switch m {
	case ServerData:
		return "ServerData"
	case ServerCtrl:
		return "ServerCtrl"
	case ClientData:
		return "ClientData"
	case ClientCtrl:
		return "ClientCtrl"
	default:
		return fmt.Sprintf("DataCtrlMarker(%d)", uint8(m))
	}
}

// IsCtrl reports whether the marker names a control channel.
func (m DataCtrlMarker) IsCtrl() bool {
	return m == ServerCtrl || m == ClientCtrl
}

// Canonical id layout, 29-bit CAN extended identifier:
//
//	bits  0-7   sender device id
//	bits  8-15  receiver device id (RawP2P) or multicast session (Multicast)
//	bits  8-21  pipe id (P2P)
//	bits 22-23  data/ctrl marker (Control, P2P)
//	bits 24-25  traffic class
//	bits 26-28  layout version
//
// Both older 20 and 21 bit encodings leave the version field at zero, so they never
// decode as this layout.
const (
	LayoutVersion = 1

	offsetSender   = 0
	offsetReceiver = 8
	offsetSession  = 8
	offsetPipe     = 8
	offsetMarker   = 22
	offsetClass    = 24
	offsetVersion  = 26

	maskDevice  = 0xFF
	maskSession = 0xFF
	maskPipe    = 0x3FFF
	maskMarker  = 0x3
	maskClass   = 0x3
	maskVersion = 0x7

	// MaxMessageID is the largest value an extended CAN identifier can carry.
	MaxMessageID = 0x1FFFFFFF
	// MaxPipeID is the largest P2P pipe id.
	MaxPipeID = maskPipe
)

// MessageID is a bus arbitration id carrying RoboBus addressing.
type MessageID uint32

// NewMessageID validates raw arbitration bits.
func NewMessageID(bits uint32) (MessageID, error) {
	if bits > MaxMessageID {
		return 0, MessageIDRangeError{Field: "message id", Value: bits, Max: MaxMessageID}
	}
	if v := (bits >> offsetVersion) & maskVersion; v != LayoutVersion {
		return 0, LayoutVersionError{Version: v}
	}
	return MessageID(bits), nil
}

// MustMessageID is NewMessageID for constants; it panics on invalid input.
func MustMessageID(bits uint32) MessageID {
	id, err := NewMessageID(bits)
	if err != nil {
		panic(err)
	}
	return id
}

func compose(class MessageType, fields uint32) MessageID {
	return MessageID(LayoutVersion<<offsetVersion | uint32(class)<<offsetClass | fields)
}

func checkMarker(marker DataCtrlMarker) {
	if uint32(marker) > maskMarker {
		panic(MessageIDRangeError{Field: "data/ctrl marker", Value: uint32(marker), Max: maskMarker})
	}
}

// CreateControlTransfer builds the Control class id used by the handshake channels.
func CreateControlTransfer(sender DeviceID, marker DataCtrlMarker) MessageID {
	checkMarker(marker)
	return compose(Control, uint32(marker)<<offsetMarker|uint32(sender)<<offsetSender)
}

// NewP2PID builds a point-to-point id on the given pipe. It panics if pipe exceeds 14 bits.
func NewP2PID(sender DeviceID, pipe uint16, marker DataCtrlMarker) MessageID {
	checkMarker(marker)
	if uint32(pipe) > maskPipe {
		panic(MessageIDRangeError{Field: "pipe id", Value: uint32(pipe), Max: maskPipe})
	}
	return compose(P2P, uint32(marker)<<offsetMarker|uint32(pipe)<<offsetPipe|uint32(sender)<<offsetSender)
}

func NewRawP2PID(sender, receiver DeviceID) MessageID {
	return compose(RawP2P, uint32(receiver)<<offsetReceiver|uint32(sender)<<offsetSender)
}

func NewMulticastID(sender DeviceID, session uint8) MessageID {
	return compose(Multicast, uint32(session)<<offsetSession|uint32(sender)<<offsetSender)
}

// Bits returns the raw arbitration id.
func (m MessageID) Bits() uint32 {
	return uint32(m)
}

func (m MessageID) Version() uint8 {
	return uint8((uint32(m) >> offsetVersion) & maskVersion)
}

func (m MessageID) MessageType() MessageType {
	return MessageType((uint32(m) >> offsetClass) & maskClass)
}

// SenderDeviceID is defined for every traffic class.
func (m MessageID) SenderDeviceID() (DeviceID, bool) {
	return DeviceID((uint32(m) >> offsetSender) & maskDevice), true
}

func (m MessageID) ReceiverDeviceID() (DeviceID, bool) {
	if m.MessageType() != RawP2P {
		return 0, false
	}
	return DeviceID((uint32(m) >> offsetReceiver) & maskDevice), true
}

func (m MessageID) P2PPipeID() (uint16, bool) {
	if m.MessageType() != P2P {
		return 0, false
	}
	return uint16((uint32(m) >> offsetPipe) & maskPipe), true
}

func (m MessageID) MulticastSessionID() (uint8, bool) {
	if m.MessageType() != Multicast {
		return 0, false
	}
	return uint8((uint32(m) >> offsetSession) & maskSession), true
}

func (m MessageID) DataCtrlMarker() (DataCtrlMarker, bool) {
	switch m.MessageType() {
	case Control, P2P:
		return DataCtrlMarker((uint32(m) >> offsetMarker) & maskMarker), true
	default:
		return 0, false
	}
}

func (m MessageID) String() string {
	sender, _ := m.SenderDeviceID()
	switch m.MessageType() {
	case Control:
		marker, _ := m.DataCtrlMarker()
		return fmt.Sprintf("Control(sender=%s, %s)", sender, marker)
	case P2P:
		pipe, _ := m.P2PPipeID()
		marker, _ := m.DataCtrlMarker()
		return fmt.Sprintf("P2P(sender=%s, pipe=%d, %s)", sender, pipe, marker)
	case RawP2P:
		receiver, _ := m.ReceiverDeviceID()
		return fmt.Sprintf("RawP2P(sender=%s, receiver=%s)", sender, receiver)
	default:
		session, _ := m.MulticastSessionID()
		return fmt.Sprintf("Multicast(sender=%s, session=%d)", sender, session)
	}
}
