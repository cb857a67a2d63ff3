package driver

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

// Adapter exposes a CANDriver as a robobus.Bus. Received frames are handed to every
// registered callback from the adapter's own goroutine.
type Adapter struct {
	driver CANDriver
	logger *zap.SugaredLogger

	mu       sync.Mutex
	handlers []func(id uint32, data []byte)

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewAdapter initializes and starts dev, then begins pumping its receive channel.
func NewAdapter(dev CANDriver, logger *zap.SugaredLogger) (*Adapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := dev.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize CAN device")
	}
	dev.Start()

	ctx, cancel := context.WithCancel(dev.Context())
	a := &Adapter{
		driver: dev,
		logger: logger,
		cancel: cancel,
	}
	a.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer a.workers.Done()
		a.pump(ctx)
	})
	logger.Debug("CAN adapter started")
	return a, nil
}

func (a *Adapter) pump(ctx context.Context) {
	rx := a.driver.RxChan()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-rx:
			if !ok {
				return
			}
			a.dispatch(f)
		}
	}
}

func (a *Adapter) dispatch(f Frame) {
	a.mu.Lock()
	handlers := append([]func(uint32, []byte){}, a.handlers...)
	a.mu.Unlock()
	for _, h := range handlers {
		h(f.ID, f.Payload())
	}
}

// Send implements robobus.Bus.
func (a *Adapter) Send(id uint32, data []byte) error {
	return a.driver.Write(id, data)
}

// OnRx implements robobus.Bus.
func (a *Adapter) OnRx(fn func(id uint32, data []byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, fn)
}

// Close stops the pump and the driver.
func (a *Adapter) Close() error {
	a.logger.Debug("closing CAN adapter")
	a.cancel()
	a.driver.Stop()
	a.workers.Wait()
	return nil
}
