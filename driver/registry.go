package driver

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options select and parameterize a hardware backend.
type Options struct {
	// Channel is the interface name for socketcan or the serial device for slcan.
	Channel  string
	Bitrate  int
	BaudRate uint
}

// NewDriverFunc constructs a backend; Init is left to the caller.
type NewDriverFunc func(opts Options, logger *zap.SugaredLogger) (CANDriver, error)

var (
	registryMu sync.Mutex
	registry   = map[string]NewDriverFunc{}
)

// RegisterInterface makes a backend available to NewDriver under name.
func RegisterInterface(name string, fn NewDriverFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Interfaces lists the registered backend names.
func Interfaces() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDriver builds the backend registered under kind.
func NewDriver(kind string, opts Options, logger *zap.SugaredLogger) (CANDriver, error) {
	registryMu.Lock()
	fn, ok := registry[kind]
	registryMu.Unlock()
	if !ok {
		return nil, errors.Errorf("unsupported CAN interface %q", kind)
	}
	if opts.Channel == "" {
		return nil, errors.Errorf("CAN interface %q needs a channel", kind)
	}
	return fn(opts, logger)
}

func init() {
	RegisterInterface("socketcan", func(opts Options, logger *zap.SugaredLogger) (CANDriver, error) {
		return NewSocketCAN(opts.Channel, logger), nil
	})
	RegisterInterface("slcan", func(opts Options, logger *zap.SugaredLogger) (CANDriver, error) {
		if _, err := bitrateCommand(opts.Bitrate); opts.Bitrate != 0 && err != nil {
			return nil, err
		}
		return NewSerialCAN(SerialCANConfig{Port: opts.Channel, BaudRate: opts.BaudRate, Bitrate: opts.Bitrate}, logger), nil
	})
}
