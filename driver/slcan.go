package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

// SLCAN command characters.
const (
	slcanExtended = 'T'
	slcanStandard = 't'
	slcanCR       = '\r'
	slcanBell     = '\a'
)

var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// SerialCANConfig describes a serial-line CAN adapter speaking the SLCAN (Lawicel) protocol.
type SerialCANConfig struct {
	Port     string
	BaudRate uint
	Bitrate  int
}

func (c *SerialCANConfig) populateDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.Bitrate == 0 {
		c.Bitrate = 500000
	}
}

// SerialCAN drives an SLCAN adapter over a serial port.
type SerialCAN struct {
	cfg    SerialCANConfig
	logger *zap.SugaredLogger

	port    io.ReadWriteCloser
	writeMu sync.Mutex
	rxChan  chan Frame
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewSerialCAN returns a driver that opens cfg.Port on Init.
func NewSerialCAN(cfg SerialCANConfig, logger *zap.SugaredLogger) *SerialCAN {
	cfg.populateDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SerialCAN{
		cfg:    cfg,
		logger: logger,
		rxChan: make(chan Frame, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewSerialCANWithPort uses an already open port, e.g. a pipe in tests.
func NewSerialCANWithPort(port io.ReadWriteCloser, bitrate int, logger *zap.SugaredLogger) *SerialCAN {
	s := NewSerialCAN(SerialCANConfig{Bitrate: bitrate}, logger)
	s.port = port
	return s
}

func (s *SerialCAN) Init() error {
	cmd, err := bitrateCommand(s.cfg.Bitrate)
	if err != nil {
		return err
	}
	if s.port == nil {
		port, err := serial.Open(serial.OpenOptions{
			PortName:        s.cfg.Port,
			BaudRate:        s.cfg.BaudRate,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
		})
		if err != nil {
			return errors.Wrapf(err, "open serial port %s", s.cfg.Port)
		}
		s.port = port
	}
	// close any channel left open, set the bitrate, then open
	for _, c := range []string{"C", cmd, "O"} {
		if err := s.writeLine(c); err != nil {
			return errors.Wrapf(err, "SLCAN command %q", c)
		}
	}
	s.logger.Infow("SLCAN adapter opened", "port", s.cfg.Port, "bitrate", s.cfg.Bitrate)
	return nil
}

func (s *SerialCAN) Start() {
	s.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer s.workers.Done()
		s.readLoop()
	})
}

func (s *SerialCAN) Stop() {
	s.cancel()
	if s.port != nil {
		goutils.UncheckedError(s.writeLine("C"))
		// unblocks the reader
		goutils.UncheckedError(s.port.Close())
	}
	s.workers.Wait()
	s.logger.Debugw("SLCAN adapter closed", "port", s.cfg.Port)
}

func (s *SerialCAN) readLoop() {
	r := bufio.NewReader(s.port)
	var line strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Errorw("SLCAN read failed", "error", err)
			}
			return
		}
		switch b {
		case slcanBell:
			s.logger.Warn("SLCAN adapter rejected a command")
			line.Reset()
		case slcanCR:
			s.handleLine(line.String())
			line.Reset()
		default:
			line.WriteByte(b)
		}
	}
}

func (s *SerialCAN) handleLine(line string) {
	if line == "" || line[0] != slcanExtended && line[0] != slcanStandard {
		// command acknowledgments
		return
	}
	f, err := decodeSLCAN(line)
	if err != nil {
		s.logger.Debugw("malformed SLCAN frame", "line", line, "error", err)
		return
	}
	select {
	case s.rxChan <- f:
	case <-s.ctx.Done():
	default:
		s.logger.Warnw("receive channel full, frame dropped", "id", f.ID)
	}
}

func (s *SerialCAN) Write(id uint32, data []byte) error {
	f, err := NewFrame(id, data)
	if err != nil {
		return err
	}
	return s.writeLine(encodeSLCAN(f))
}

func (s *SerialCAN) writeLine(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.port, cmd+string(rune(slcanCR)))
	return err
}

func (s *SerialCAN) RxChan() <-chan Frame {
	return s.rxChan
}

func (s *SerialCAN) Context() context.Context {
	return s.ctx
}

func bitrateCommand(bitrate int) (string, error) {
	cmd, ok := slcanBitrates[bitrate]
	if !ok {
		return "", errors.Errorf("unsupported SLCAN bitrate %d", bitrate)
	}
	return cmd, nil
}

// encodeSLCAN renders f without the trailing carriage return.
func encodeSLCAN(f Frame) string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%c%08X", slcanExtended, f.ID)
	} else {
		fmt.Fprintf(&sb, "%c%03X", slcanStandard, f.ID)
	}
	fmt.Fprintf(&sb, "%d", f.DLC)
	for _, b := range f.Payload() {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func decodeSLCAN(line string) (Frame, error) {
	var f Frame
	idLen := 3
	switch {
	case line == "":
		return f, errors.New("empty line")
	case line[0] == slcanExtended:
		idLen = 8
		f.Extended = true
	case line[0] != slcanStandard:
		return f, errors.Errorf("unexpected frame type %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return f, errors.New("frame too short")
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return f, errors.Wrap(err, "arbitration id")
	}
	dlc := line[1+idLen] - '0'
	if dlc > MaxDataLength {
		return f, errors.Errorf("invalid DLC %q", line[1+idLen])
	}
	data := line[2+idLen:]
	if len(data) != 2*int(dlc) {
		return f, errors.Errorf("expected %d data bytes, got %d hex digits", dlc, len(data))
	}
	for i := 0; i < int(dlc); i++ {
		b, err := strconv.ParseUint(data[2*i:2*i+2], 16, 8)
		if err != nil {
			return f, errors.Wrap(err, "data byte")
		}
		f.Data[i] = byte(b)
	}
	f.ID = uint32(id)
	f.DLC = dlc
	if err := checkFrame(f.ID, f.Payload()); err != nil {
		return Frame{}, err
	}
	return f, nil
}
