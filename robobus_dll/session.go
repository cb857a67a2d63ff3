package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/robobus/node"
	"github.com/LoveWonYoung/robobus/robobus"
)

// Status codes returned across the C boundary.
const (
	statusOK             = 0
	statusTimeout        = -1
	statusInvalid        = -2
	statusClosed         = -3
	statusBufferTooSmall = -4
	statusNotOpen        = -5
)

// frameSink hands an outbound frame to the host.
type frameSink func(id uint32, data []byte)

// hostBus is a robobus.Bus whose wire belongs to the host application.
type hostBus struct {
	tx frameSink

	mu       sync.Mutex
	handlers []func(id uint32, data []byte)
}

func (b *hostBus) Send(id uint32, data []byte) error {
	b.tx(id, data)
	return nil
}

func (b *hostBus) OnRx(fn func(id uint32, data []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// input delivers a frame the host received.
func (b *hostBus) input(id uint32, data []byte) {
	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()
	for _, h := range handlers {
		h(id, data)
	}
}

// session is one RoboBus link driven by the host.
type session struct {
	bus  *hostBus
	node *node.Node
}

func openSession(
	local, remote robobus.DeviceID,
	role robobus.Role,
	cfg robobus.Config,
	tx frameSink,
	logger *zap.SugaredLogger,
) (*session, error) {
	if tx == nil {
		return nil, errors.New("transmit callback cannot be nil")
	}
	if local == remote {
		return nil, errors.Errorf("local and remote device ids are both %s", local)
	}
	bus := &hostBus{tx: tx}
	n, err := node.New(bus, robobus.ControlChannels(local, remote, role), node.Options{Config: cfg}, logger)
	if err != nil {
		return nil, err
	}
	return &session{bus: bus, node: n}, nil
}

func (s *session) send(payload []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.node.Send(ctx, payload)
}

// recv waits up to timeout for the next accepted payload.
func (s *session) recv(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data, ok := <-s.node.Received():
		if !ok {
			return nil, node.ErrClosed
		}
		return data, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

func (s *session) close() error {
	return s.node.Close()
}

func statusOf(err error) int {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, context.DeadlineExceeded):
		return statusTimeout
	case errors.Is(err, node.ErrClosed):
		return statusClosed
	default:
		return statusInvalid
	}
}
