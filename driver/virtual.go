package driver

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/robobus/robobus"
	"github.com/LoveWonYoung/robobus/signal"
)

// maxFlushFrames bounds one Flush so two chatty endpoints cannot spin forever.
const maxFlushFrames = 100000

// FaultFunc decides whether a frame sent by the named endpoint is lost on the wire.
type FaultFunc func(from string, msg robobus.CanMessage) (drop bool)

// ErrEndpointClosed is returned when sending from a closed endpoint.
var ErrEndpointClosed = errors.New("virtual bus endpoint is closed")

type delivery struct {
	from *Endpoint
	msg  robobus.CanMessage
}

// VirtualBus is an in-memory CAN segment. Every frame an endpoint sends reaches every
// other endpoint; the sender does not hear its own frames.
//
// In manual mode (the default) frames queue until Flush. In auto mode Send delivers
// synchronously before returning.
type VirtualBus struct {
	logger *zap.SugaredLogger

	mu        sync.Mutex
	endpoints []*Endpoint
	queue     []delivery
	auto      bool
	fault     FaultFunc
	history   []robobus.CanMessage
	dropped   int
}

func NewVirtualBus(logger *zap.SugaredLogger) *VirtualBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &VirtualBus{logger: logger}
}

// SetAutoDeliver switches between synchronous delivery and queue-until-Flush.
func (b *VirtualBus) SetAutoDeliver(auto bool) {
	b.mu.Lock()
	b.auto = auto
	b.mu.Unlock()
}

// SetFault installs a loss model. nil disables it.
func (b *VirtualBus) SetFault(f FaultFunc) {
	b.mu.Lock()
	b.fault = f
	b.mu.Unlock()
}

// Endpoint attaches a new node to the bus.
func (b *VirtualBus) Endpoint(name string) *Endpoint {
	e := &Endpoint{name: name, bus: b, rx: signal.New[robobus.CanMessage]()}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mu.Unlock()
	return e
}

// WriteLog returns every frame put on the wire so far, dropped ones included.
func (b *VirtualBus) WriteLog() []robobus.CanMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]robobus.CanMessage, len(b.history))
	copy(out, b.history)
	return out
}

// Dropped counts frames discarded by the fault model.
func (b *VirtualBus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Pending returns the number of queued, undelivered frames.
func (b *VirtualBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush delivers queued frames, including the ones sent in reaction to them, until the
// bus is quiet. It returns the number of frames delivered.
func (b *VirtualBus) Flush() int {
	delivered := 0
	for delivered < maxFlushFrames {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return delivered
		}
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.deliver(d)
		delivered++
	}
	b.logger.Warnw("flush stopped before the bus went quiet", "delivered", delivered)
	return delivered
}

func (b *VirtualBus) send(from *Endpoint, id uint32, data []byte) error {
	if err := checkFrame(id, data); err != nil {
		return err
	}
	msg := robobus.CanMessage{ArbitrationID: id, Data: append([]byte(nil), data...), IsExtendedID: true}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if b.fault != nil && b.fault(from.name, msg) {
		b.dropped++
		b.mu.Unlock()
		b.logger.Debugw("frame dropped", "from", from.name, "msg", msg.String())
		return nil
	}
	d := delivery{from: from, msg: msg}
	if !b.auto {
		b.queue = append(b.queue, d)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.deliver(d)
	return nil
}

func (b *VirtualBus) deliver(d delivery) {
	b.mu.Lock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e != d.from {
			targets = append(targets, e)
		}
	}
	b.mu.Unlock()

	for _, e := range targets {
		// each receiver gets its own buffer
		e.rx.Fire(d.msg.Clone())
	}
}

// Endpoint is one node's attachment to a VirtualBus. It implements robobus.Bus.
type Endpoint struct {
	name string
	bus  *VirtualBus
	rx   *signal.Signal[robobus.CanMessage]

	mu     sync.Mutex
	closed bool
}

func (e *Endpoint) Name() string {
	return e.name
}

// Send implements robobus.Bus.
func (e *Endpoint) Send(id uint32, data []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}
	return e.bus.send(e, id, data)
}

// OnRx implements robobus.Bus.
func (e *Endpoint) OnRx(fn func(id uint32, data []byte)) {
	if _, err := e.rx.Rx().Connect(func(m robobus.CanMessage) {
		fn(m.ArbitrationID, m.Data)
	}); err != nil {
		e.bus.logger.Debugw("rx handler not registered", "endpoint", e.name, "error", err)
	}
}

// Close detaches the endpoint; it neither sends nor receives afterwards.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.rx.Close()
	return nil
}
