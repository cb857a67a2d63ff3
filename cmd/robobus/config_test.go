package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/LoveWonYoung/robobus/robobus"
)

func intRef(v int) *int {
	return &v
}

func validConfig() *Config {
	cfg := &Config{LocalID: intRef(1), RemoteID: intRef(2)}
	cfg.populateDefaults()
	return cfg
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robobus.json")
	err := os.WriteFile(path, []byte(`{
		"local_id": 3,
		"remote_id": 4,
		"role": "client",
		"pipe": 12,
		"retry_timeout_ms": 80,
		"bus": {"type": "slcan", "channel": "/dev/ttyACM0", "bitrate": 250000},
		"log": {"debug": true}
	}`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	cfg.populateDefaults()
	test.That(t, cfg.Validate("robobus"), test.ShouldBeNil)

	test.That(t, *cfg.LocalID, test.ShouldEqual, 3)
	test.That(t, cfg.Bus.Type, test.ShouldEqual, busSLCAN)
	test.That(t, cfg.driverOptions().Bitrate, test.ShouldEqual, 250000)
	test.That(t, cfg.recorderConfig().Debug, test.ShouldBeTrue)
	test.That(t, cfg.streamConfig(), test.ShouldResemble, robobus.Config{
		RetryTimeout: 80 * time.Millisecond,
		TickInterval: robobus.DefaultConfig().TickInterval,
	})
	test.That(t, cfg.channels(), test.ShouldResemble, robobus.PipeChannels(3, 4, 12, robobus.RoleClient))

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(bad, []byte("{"), 0o600), test.ShouldBeNil)
	_, err = ReadConfig(bad)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to parse config")
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig()
	test.That(t, cfg.Role, test.ShouldEqual, "server")
	test.That(t, cfg.Bus.Type, test.ShouldEqual, busSocketCAN)
	test.That(t, cfg.Bus.Channel, test.ShouldEqual, "can0")
	test.That(t, cfg.streamConfig(), test.ShouldResemble, robobus.DefaultConfig())
	test.That(t, cfg.channels(), test.ShouldResemble, robobus.ControlChannels(1, 2, robobus.RoleServer))
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{"missing local", func(c *Config) { c.LocalID = nil }, "local_id"},
		{"missing remote", func(c *Config) { c.RemoteID = nil }, "remote_id"},
		{"local out of range", func(c *Config) { c.LocalID = intRef(256) }, "local_id 256 out of range"},
		{"same ids", func(c *Config) { c.RemoteID = intRef(1) }, "must differ"},
		{"bad role", func(c *Config) { c.Role = "peer" }, "role must be server or client"},
		{"pipe out of range", func(c *Config) { c.Pipe = intRef(robobus.MaxPipeID + 1) }, "pipe 16384 out of range"},
		{"bad timing", func(c *Config) { c.TickIntervalMs = c.RetryTimeoutMs }, "must be smaller than retry timeout"},
		{"unknown bus", func(c *Config) { c.Bus.Type = "pcan" }, `unknown bus type "pcan"`},
		{"missing channel", func(c *Config) { c.Bus = BusConfig{Type: busSLCAN} }, "channel"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(cfg)
			err := cfg.Validate("robobus")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}

	cfg := validConfig()
	cfg.Role = "CLIENT"
	cfg.Bus = BusConfig{Type: busVirtual}
	test.That(t, cfg.Validate("robobus"), test.ShouldBeNil)
}
