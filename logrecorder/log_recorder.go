// Package logrecorder builds the zap loggers used by the robobus tools, optionally
// recording to a rotating file.
package logrecorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	goutils "go.viam.com/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects console verbosity and the optional log file.
type Config struct {
	Debug bool
	// File is the log file path. A bare name is placed in a directory named after today's date.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

func (c *Config) populateDefaults() {
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
}

// Recorder owns a logger and the file it may write to.
type Recorder struct {
	Logger *zap.SugaredLogger
	file   *lumberjack.Logger
}

// NowString returns the current time as "20060102_1504".
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// DateDir returns a directory under root named after today's date, e.g. 2025_04_25,
// creating it if needed.
func DateDir(root string) (string, error) {
	now := time.Now()
	dir := filepath.Join(root, fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create log directory")
	}
	return dir, nil
}

func resolvePath(file string) (string, error) {
	if filepath.Base(file) != file {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return "", errors.Wrap(err, "failed to create log directory")
		}
		return file, nil
	}
	dir, err := DateDir(".")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, file), nil
}

// NewRecorder builds a console logger, teeing JSON records to a rotating file when
// cfg.File is set.
func NewRecorder(cfg Config) (*Recorder, error) {
	cfg.populateDefaults()
	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)

	r := &Recorder{}
	if cfg.File != "" {
		path, err := resolvePath(cfg.File)
		if err != nil {
			return nil, err
		}
		r.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(r.file),
			zap.DebugLevel,
		)
		core = zapcore.NewTee(core, fileCore)
	}
	r.Logger = zap.New(core).Sugar()
	return r, nil
}

// Close flushes the logger and closes the log file.
func (r *Recorder) Close() error {
	// stderr may refuse Sync
	goutils.UncheckedError(r.Logger.Sync())
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
