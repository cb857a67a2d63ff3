package main

import (
	"encoding/json"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/LoveWonYoung/robobus/driver"
	"github.com/LoveWonYoung/robobus/logrecorder"
	"github.com/LoveWonYoung/robobus/robobus"
)

const (
	busVirtual   = "virtual"
	busSocketCAN = "socketcan"
	busSLCAN     = "slcan"
)

// Config is the JSON configuration of the robobus tool.
type Config struct {
	LocalID  *int   `json:"local_id"`
	RemoteID *int   `json:"remote_id"`
	Role     string `json:"role"`
	// Pipe selects P2P channels instead of the Control class ones.
	Pipe *int `json:"pipe,omitempty"`

	RetryTimeoutMs int `json:"retry_timeout_ms"`
	TickIntervalMs int `json:"tick_interval_ms"`

	Bus BusConfig `json:"bus"`
	Log LogConfig `json:"log"`
}

// BusConfig selects the CAN backend.
type BusConfig struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	Bitrate  int    `json:"bitrate"`
	BaudRate uint   `json:"baud_rate"`
}

type LogConfig struct {
	Debug      bool   `json:"debug"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// ReadConfig parses the JSON file at path.
func ReadConfig(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return &cfg, nil
}

func (cfg *Config) populateDefaults() {
	if cfg.Role == "" {
		cfg.Role = robobus.RoleServer.String()
	}
	defaults := robobus.DefaultConfig()
	if cfg.RetryTimeoutMs == 0 {
		cfg.RetryTimeoutMs = int(defaults.RetryTimeout / time.Millisecond)
	}
	if cfg.TickIntervalMs == 0 {
		cfg.TickIntervalMs = int(defaults.TickInterval / time.Millisecond)
	}
	if cfg.Bus.Type == "" {
		cfg.Bus.Type = busSocketCAN
	}
	if cfg.Bus.Type == busSocketCAN && cfg.Bus.Channel == "" {
		cfg.Bus.Channel = "can0"
	}
}

func checkDeviceID(path, field string, v *int) error {
	if v == nil {
		return goutils.NewConfigValidationFieldRequiredError(path, field)
	}
	if *v < 0 || *v > 0xFF {
		return goutils.NewConfigValidationError(path, errors.Errorf("%s %d out of range 0-255", field, *v))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if err := checkDeviceID(path, "local_id", cfg.LocalID); err != nil {
		return err
	}
	if err := checkDeviceID(path, "remote_id", cfg.RemoteID); err != nil {
		return err
	}
	if *cfg.LocalID == *cfg.RemoteID {
		return goutils.NewConfigValidationError(path, errors.New("local_id and remote_id must differ"))
	}
	if _, err := cfg.role(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if cfg.Pipe != nil && (*cfg.Pipe < 0 || *cfg.Pipe > robobus.MaxPipeID) {
		return goutils.NewConfigValidationError(path, errors.Errorf("pipe %d out of range 0-%d", *cfg.Pipe, robobus.MaxPipeID))
	}
	streamCfg := cfg.streamConfig()
	if err := streamCfg.Validate(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return cfg.Bus.Validate(path + ".bus")
}

// Validate accepts the virtual bus and any backend registered with the driver package.
func (b *BusConfig) Validate(path string) error {
	if b.Type == busVirtual {
		return nil
	}
	if !slices.Contains(driver.Interfaces(), b.Type) {
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown bus type %q, have %v", b.Type, driver.Interfaces()))
	}
	if b.Channel == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "channel")
	}
	return nil
}

func (cfg *Config) role() (robobus.Role, error) {
	switch strings.ToLower(cfg.Role) {
	case "server":
		return robobus.RoleServer, nil
	case "client":
		return robobus.RoleClient, nil
	default:
		return 0, errors.Errorf("role must be server or client, got %q", cfg.Role)
	}
}

func (cfg *Config) streamConfig() robobus.Config {
	return robobus.Config{
		RetryTimeout: time.Duration(cfg.RetryTimeoutMs) * time.Millisecond,
		TickInterval: time.Duration(cfg.TickIntervalMs) * time.Millisecond,
	}
}

// channels must only be called on a validated config.
func (cfg *Config) channels() robobus.Channels {
	role, _ := cfg.role()
	local, remote := robobus.DeviceID(*cfg.LocalID), robobus.DeviceID(*cfg.RemoteID)
	if cfg.Pipe != nil {
		return robobus.PipeChannels(local, remote, uint16(*cfg.Pipe), role)
	}
	return robobus.ControlChannels(local, remote, role)
}

func (cfg *Config) driverOptions() driver.Options {
	return driver.Options{
		Channel:  cfg.Bus.Channel,
		Bitrate:  cfg.Bus.Bitrate,
		BaudRate: cfg.Bus.BaudRate,
	}
}

func (cfg *Config) recorderConfig() logrecorder.Config {
	return logrecorder.Config{
		Debug:      cfg.Log.Debug,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
}
