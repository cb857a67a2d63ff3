package robobus

import (
	"fmt"
	"time"
)

// Config defines the timing of a control stream.
type Config struct {
	// RetryTimeout is how often an unacknowledged chunk and the ctrl record are re-announced.
	RetryTimeout time.Duration

	// TickInterval is the cadence at which the owner calls Tick. It must be well below
	// RetryTimeout; coarser ticks only add retransmission latency.
	TickInterval time.Duration
}

// DefaultConfig returns the timing used on the robot buses.
func DefaultConfig() Config {
	return Config{
		RetryTimeout: 50 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
	}
}

// Validate checks if the configuration parameters are valid.
func (c *Config) Validate() error {
	if c.RetryTimeout <= 0 {
		return InvalidConfigError{RoboBusError: NewRoboBusError("retry timeout must be positive")}
	}
	if c.TickInterval <= 0 {
		return InvalidConfigError{RoboBusError: NewRoboBusError("tick interval must be positive")}
	}
	if c.TickInterval >= c.RetryTimeout {
		return InvalidConfigError{RoboBusError: NewRoboBusError(
			fmt.Sprintf("tick interval %v must be smaller than retry timeout %v", c.TickInterval, c.RetryTimeout),
		)}
	}
	return nil
}
