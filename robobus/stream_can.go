package robobus

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/robobus/signal"
)

// Role decides which markers a side transmits on. The two ends of a link must use
// opposite roles.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

func (r Role) peer() Role {
	if r == RoleClient {
		return RoleServer
	}
	return RoleClient
}

func (r Role) ctrlMarker() DataCtrlMarker {
	if r == RoleClient {
		return ClientCtrl
	}
	return ServerCtrl
}

func (r Role) dataMarker() DataCtrlMarker {
	if r == RoleClient {
		return ClientData
	}
	return ServerData
}

// Channels are the four arbitration ids one side of a link uses.
type Channels struct {
	TxCtrl MessageID
	RxCtrl MessageID
	TxData MessageID
	RxData MessageID
}

// ControlChannels builds the Control class ids for a link between local and remote.
func ControlChannels(local, remote DeviceID, role Role) Channels {
	return Channels{
		TxCtrl: CreateControlTransfer(local, role.ctrlMarker()),
		TxData: CreateControlTransfer(local, role.dataMarker()),
		RxCtrl: CreateControlTransfer(remote, role.peer().ctrlMarker()),
		RxData: CreateControlTransfer(remote, role.peer().dataMarker()),
	}
}

// PipeChannels builds P2P ids so several streams can share a pair of devices.
func PipeChannels(local, remote DeviceID, pipe uint16, role Role) Channels {
	return Channels{
		TxCtrl: NewP2PID(local, pipe, role.ctrlMarker()),
		TxData: NewP2PID(local, pipe, role.dataMarker()),
		RxCtrl: NewP2PID(remote, pipe, role.peer().ctrlMarker()),
		RxData: NewP2PID(remote, pipe, role.peer().dataMarker()),
	}
}

// Validate rejects channel sets that reuse an id.
func (c Channels) Validate() error {
	ids := []MessageID{c.TxCtrl, c.RxCtrl, c.TxData, c.RxData}
	seen := make(map[MessageID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return DuplicateChannelError{ID: id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ControlStreamOnCAN binds a ControlStreamCore to a Bus: outbound ctrl records and data
// leave on TxCtrl and TxData, and received frames are routed by arbitration id.
type ControlStreamOnCAN struct {
	core     *ControlStreamCore
	bus      Bus
	channels Channels
	logger   *zap.SugaredLogger
	conns    []signal.Connection
	closed   atomic.Bool
}

// NewControlStreamOnCAN wires a fresh stream to bus. The bus must deliver frames from
// the same goroutine that drives the stream.
func NewControlStreamOnCAN(bus Bus, channels Channels, cfg Config, logger *zap.SugaredLogger) (*ControlStreamOnCAN, error) {
	if err := channels.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	core, err := NewControlStreamCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &ControlStreamOnCAN{
		core:     core,
		bus:      bus,
		channels: channels,
		logger:   logger,
	}

	ctrlConn, errCtrl := core.TxCtrl().Connect(func(cd ControlData) {
		frame := cd.Encode()
		s.send(channels.TxCtrl, frame[:])
	})
	dataConn, errData := core.TxData().Connect(func(data []byte) {
		s.send(channels.TxData, data)
	})
	if err := multierr.Combine(errCtrl, errData); err != nil {
		return nil, err
	}
	s.conns = []signal.Connection{ctrlConn, dataConn}

	bus.OnRx(s.HandleFrame)
	logger.Debugw("control stream bound", "tx_ctrl", channels.TxCtrl, "rx_ctrl", channels.RxCtrl,
		"tx_data", channels.TxData, "rx_data", channels.RxData)
	return s, nil
}

func (s *ControlStreamOnCAN) send(id MessageID, data []byte) {
	if s.closed.Load() {
		return
	}
	if err := s.bus.Send(id.Bits(), data); err != nil {
		s.core.stats.sendErrors.Inc()
		s.logger.Warnw("failed to send frame", "id", id, "error", err)
	}
}

// HandleFrame routes one received frame. Frames on ids outside this link are counted
// and ignored.
func (s *ControlStreamOnCAN) HandleFrame(id uint32, data []byte) {
	if s.closed.Load() {
		return
	}
	switch MessageID(id) {
	case s.channels.RxCtrl:
		if err := s.core.FeedRxCtrl(data); err != nil {
			s.logger.Debugw("dropping ctrl frame", "id", s.channels.RxCtrl, "error", err)
		}
	case s.channels.RxData:
		if err := s.core.FeedRxData(data); err != nil {
			s.logger.Debugw("dropping data frame", "id", s.channels.RxData, "error", err)
		}
	default:
		s.core.stats.unroutable.Inc()
	}
}

func (s *ControlStreamOnCAN) FeedTxData(payload []byte) error {
	return s.core.FeedTxData(payload)
}

func (s *ControlStreamOnCAN) Tick(dt time.Duration) {
	s.core.Tick(dt)
}

func (s *ControlStreamOnCAN) Pending() bool {
	return s.core.Pending()
}

func (s *ControlStreamOnCAN) Stats() Stats {
	return s.core.Stats()
}

func (s *ControlStreamOnCAN) Channels() Channels {
	return s.channels
}

// Core exposes the underlying state machine.
func (s *ControlStreamOnCAN) Core() *ControlStreamCore {
	return s.core
}

func (s *ControlStreamOnCAN) DataAccepted() signal.Rx[[]byte] {
	return s.core.DataAccepted()
}

func (s *ControlStreamOnCAN) TxEmpty() signal.Rx[uint8] {
	return s.core.TxEmpty()
}

// Close stops transmitting and ignores further frames. It does not close the bus.
func (s *ControlStreamOnCAN) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for _, c := range s.conns {
		c.Disconnect()
	}
	s.core.Close()
}
