//go:build !linux

package driver

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SocketCAN is only backed by hardware on Linux.
type SocketCAN struct {
	iface  string
	rxChan chan Frame
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSocketCAN(iface string, logger *zap.SugaredLogger) *SocketCAN {
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketCAN{iface: iface, rxChan: make(chan Frame), ctx: ctx, cancel: cancel}
}

func (s *SocketCAN) Init() error {
	return errors.Errorf("SocketCAN interface %q is only supported on linux", s.iface)
}

func (s *SocketCAN) Start() {}

func (s *SocketCAN) Stop() {
	s.cancel()
}

func (s *SocketCAN) Write(id uint32, data []byte) error {
	return errors.New("SocketCAN is only supported on linux")
}

func (s *SocketCAN) RxChan() <-chan Frame {
	return s.rxChan
}

func (s *SocketCAN) Context() context.Context {
	return s.ctx
}
