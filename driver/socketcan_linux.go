//go:build linux

package driver

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
	"golang.org/x/sys/unix"
)

const (
	canFrameSize  = 16
	socketTimeout = 100 * time.Millisecond
)

// SocketCAN talks to a Linux CAN interface such as can0 or vcan0 through a raw socket.
type SocketCAN struct {
	iface  string
	logger *zap.SugaredLogger

	fd      int
	writeMu sync.Mutex
	rxChan  chan Frame
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func NewSocketCAN(iface string, logger *zap.SugaredLogger) *SocketCAN {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketCAN{
		iface:  iface,
		logger: logger,
		fd:     -1,
		rxChan: make(chan Frame, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *SocketCAN) Init() error {
	ifi, err := net.InterfaceByName(s.iface)
	if err != nil {
		return errors.Wrapf(err, "CAN interface %q", s.iface)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return errors.Wrap(err, "open CAN_RAW socket")
	}
	// bounded reads let the read loop notice Stop
	tv := unix.NsecToTimeval(socketTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		goutils.UncheckedError(unix.Close(fd))
		return errors.Wrap(err, "set socket read timeout")
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		goutils.UncheckedError(unix.Close(fd))
		return errors.Wrapf(err, "bind to %s", s.iface)
	}
	s.fd = fd
	s.logger.Infow("SocketCAN interface opened", "iface", s.iface, "index", ifi.Index)
	return nil
}

func (s *SocketCAN) Start() {
	s.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer s.workers.Done()
		s.readLoop()
	})
}

func (s *SocketCAN) Stop() {
	s.cancel()
	s.workers.Wait()
	if s.fd >= 0 {
		goutils.UncheckedError(unix.Close(s.fd))
		s.fd = -1
	}
	s.logger.Debugw("SocketCAN interface closed", "iface", s.iface)
}

func (s *SocketCAN) readLoop() {
	var buf [canFrameSize]byte
	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := unix.Read(s.fd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			s.logger.Errorw("SocketCAN read failed", "iface", s.iface, "error", err)
			return
		}
		f, ok := decodeCANFrame(buf[:n])
		if !ok {
			continue
		}
		select {
		case s.rxChan <- f:
		default:
			s.logger.Warnw("receive channel full, frame dropped", "id", f.ID)
		}
	}
}

func (s *SocketCAN) Write(id uint32, data []byte) error {
	f, err := NewFrame(id, data)
	if err != nil {
		return err
	}
	buf := encodeCANFrame(f)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := unix.Write(s.fd, buf[:]); err != nil {
		return errors.Wrapf(err, "write to %s", s.iface)
	}
	return nil
}

func (s *SocketCAN) RxChan() <-chan Frame {
	return s.rxChan
}

func (s *SocketCAN) Context() context.Context {
	return s.ctx
}

// encodeCANFrame lays f out as struct can_frame.
func encodeCANFrame(f Frame) [canFrameSize]byte {
	var buf [canFrameSize]byte
	id := f.ID & unix.CAN_SFF_MASK
	if f.Extended {
		id = f.ID&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG
	}
	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = f.DLC
	copy(buf[8:], f.Payload())
	return buf
}

// decodeCANFrame parses struct can_frame. Remote and error frames are skipped.
func decodeCANFrame(buf []byte) (Frame, bool) {
	if len(buf) != canFrameSize {
		return Frame{}, false
	}
	raw := binary.NativeEndian.Uint32(buf[0:4])
	if raw&(unix.CAN_RTR_FLAG|unix.CAN_ERR_FLAG) != 0 {
		return Frame{}, false
	}
	f := Frame{DLC: buf[4]}
	if f.DLC > MaxDataLength {
		return Frame{}, false
	}
	if raw&unix.CAN_EFF_FLAG != 0 {
		f.ID = raw & unix.CAN_EFF_MASK
		f.Extended = true
	} else {
		f.ID = raw & unix.CAN_SFF_MASK
	}
	copy(f.Data[:], buf[8:8+int(f.DLC)])
	return f, true
}
