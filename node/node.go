// Package node runs a control stream on its own goroutine so callers on any goroutine
// can send and receive payloads.
package node

import (
	"context"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/LoveWonYoung/robobus/robobus"
)

const (
	defaultRxQueueSize    = 64
	defaultFrameQueueSize = 256
)

// ErrClosed is returned by Send and Push once the node has been closed.
var ErrClosed = errors.New("node is closed")

// Options tune a Node. Zero values select defaults.
type Options struct {
	Config robobus.Config
	Clock  clock.Clock
	// RxQueueSize bounds the queue behind Received.
	RxQueueSize int
	// CloseBus closes the bus on Close when it implements io.Closer.
	CloseBus bool
}

func (o *Options) populateDefaults() {
	if o.Config == (robobus.Config{}) {
		o.Config = robobus.DefaultConfig()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.RxQueueSize <= 0 {
		o.RxQueueSize = defaultRxQueueSize
	}
}

type txRequest struct {
	payload []byte
	result  chan error
}

type frame struct {
	id   uint32
	data []byte
}

// loopBus hands frames to the stream only from the node goroutine.
type loopBus struct {
	bus      robobus.Bus
	handlers []func(id uint32, data []byte)
}

func (l *loopBus) Send(id uint32, data []byte) error {
	return l.bus.Send(id, data)
}

func (l *loopBus) OnRx(fn func(id uint32, data []byte)) {
	l.handlers = append(l.handlers, fn)
}

func (l *loopBus) dispatch(f frame) {
	for _, h := range l.handlers {
		h(f.id, f.data)
	}
}

// Node owns one ControlStreamOnCAN and the goroutine that drives it.
type Node struct {
	opts   Options
	bus    robobus.Bus
	loop   *loopBus
	stream *robobus.ControlStreamOnCAN
	logger *zap.SugaredLogger

	frames   chan frame
	requests chan *txRequest
	received chan []byte

	// touched only by the loop goroutine
	inFlight *txRequest

	cancel    context.CancelFunc
	done      chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New binds a stream to bus on channels and starts the node loop.
func New(bus robobus.Bus, channels robobus.Channels, opts Options, logger *zap.SugaredLogger) (*Node, error) {
	if bus == nil {
		return nil, errors.New("bus cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts.populateDefaults()

	loop := &loopBus{bus: bus}
	stream, err := robobus.NewControlStreamOnCAN(loop, channels, opts.Config, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create control stream")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		opts:     opts,
		bus:      bus,
		loop:     loop,
		stream:   stream,
		logger:   logger,
		frames:   make(chan frame, defaultFrameQueueSize),
		requests: make(chan *txRequest),
		received: make(chan []byte, opts.RxQueueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	_, errAccepted := stream.DataAccepted().Connect(n.onAccepted)
	_, errEmpty := stream.TxEmpty().Connect(n.onTxEmpty)
	if err := multierr.Combine(errAccepted, errEmpty); err != nil {
		cancel()
		stream.Close()
		return nil, err
	}
	bus.OnRx(n.enqueueFrame)

	n.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer n.workers.Done()
		n.run(ctx)
	})
	logger.Infow("node started", "tx_ctrl", channels.TxCtrl, "rx_ctrl", channels.RxCtrl,
		"retry_timeout", opts.Config.RetryTimeout, "tick_interval", opts.Config.TickInterval)
	return n, nil
}

// enqueueFrame runs on the driver's goroutine.
func (n *Node) enqueueFrame(id uint32, data []byte) {
	f := frame{id: id, data: append([]byte(nil), data...)}
	select {
	case <-n.done:
	case n.frames <- f:
	default:
		n.logger.Warnw("frame queue full, frame dropped", "id", robobus.MessageID(id))
	}
}

func (n *Node) run(ctx context.Context) {
	defer close(n.done)
	defer close(n.received)

	ticker := n.opts.Clock.Ticker(n.opts.Config.TickInterval)
	defer ticker.Stop()
	last := n.opts.Clock.Now()

	for {
		// only take a new payload while nothing is in flight
		var requests <-chan *txRequest
		if n.inFlight == nil && !n.stream.Pending() {
			requests = n.requests
		}

		select {
		case <-ctx.Done():
			if n.inFlight != nil {
				n.inFlight.result <- ErrClosed
				n.inFlight = nil
			}
			return

		case f := <-n.frames:
			n.loop.dispatch(f)

		case req := <-requests:
			if err := n.stream.FeedTxData(req.payload); err != nil {
				req.result <- err
				continue
			}
			n.inFlight = req

		case <-ticker.C:
			now := n.opts.Clock.Now()
			n.stream.Tick(now.Sub(last))
			last = now
		}
	}
}

func (n *Node) onAccepted(data []byte) {
	select {
	case n.received <- data:
	default:
		n.logger.Warnw("receive queue full, payload dropped", "size", len(data))
	}
}

func (n *Node) onTxEmpty(seq uint8) {
	if n.inFlight == nil {
		return
	}
	n.inFlight.result <- nil
	n.inFlight = nil
}

// Send transmits one payload of at most 8 bytes and blocks until the peer has
// acknowledged it. If ctx ends first the payload stays in flight and ctx.Err() is
// returned.
func (n *Node) Send(ctx context.Context, payload []byte) error {
	req := &txRequest{
		payload: append([]byte(nil), payload...),
		result:  make(chan error, 1),
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return ErrClosed
	case n.requests <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		// the loop may have answered before exiting
		select {
		case err := <-req.result:
			return err
		default:
			return ErrClosed
		}
	case err := <-req.result:
		return err
	}
}

// Push splits data into frame-sized chunks and sends them in order.
func (n *Node) Push(ctx context.Context, data []byte) error {
	chunks := robobus.SplitBlock(data, robobus.MaxPayloadSize)
	for i, chunk := range chunks {
		if err := n.Send(ctx, chunk); err != nil {
			return errors.Wrapf(err, "chunk %d of %d", i+1, len(chunks))
		}
	}
	return nil
}

// Received delivers accepted payloads. It is closed when the node stops.
func (n *Node) Received() <-chan []byte {
	return n.received
}

func (n *Node) Stats() robobus.Stats {
	return n.stream.Stats()
}

func (n *Node) Channels() robobus.Channels {
	return n.stream.Channels()
}

// Close stops the loop and releases the stream. The bus is closed only when
// Options.CloseBus is set.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		n.workers.Wait()
		n.stream.Close()
		if closer, ok := n.bus.(io.Closer); ok && n.opts.CloseBus {
			n.closeErr = multierr.Combine(n.closeErr, errors.Wrap(closer.Close(), "failed to close bus"))
		}
		n.logger.Infow("node stopped", "stats", n.stream.Stats())
	})
	return n.closeErr
}
