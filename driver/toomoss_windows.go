//go:build windows

package driver

import (
	"context"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
	"golang.org/x/sys/windows"
)

const (
	toomossMsgBufferSize  = 1024
	toomossPollInterval   = 3 * time.Millisecond
	toomossDefaultBitrate = 500_000
	toomossSuccess        = 0
)

// toomossMsg mirrors CAN_MSG of USB2XXX.dll.
type toomossMsg struct {
	ID            uint32
	TimeStamp     uint32
	RemoteFlag    byte
	ExternFlag    byte
	DataLen       byte
	Data          [8]byte
	TimeStampHigh byte
}

// toomossInitConfig mirrors CAN_INIT_CONFIG; CAN_GetCANSpeedArg fills in the timing.
type toomossInitConfig struct {
	BRP  uint32
	SJW  byte
	BS1  byte
	BS2  byte
	Mode byte
	ABOM byte
	NART byte
	RFLM byte
	TXFP byte
}

func (m toomossMsg) frame() (Frame, bool) {
	if m.RemoteFlag != 0 || m.DataLen == 0 || m.DataLen > MaxDataLength {
		return Frame{}, false
	}
	f := Frame{ID: m.ID, DLC: m.DataLen, Data: m.Data, Extended: m.ExternFlag != 0}
	return f, true
}

func newToomossMsg(f Frame) toomossMsg {
	m := toomossMsg{ID: f.ID, DataLen: f.DLC, Data: f.Data}
	if f.Extended {
		m.ExternFlag = 1
	}
	return m
}

type toomossLib struct {
	deps        *windows.LazyDLL
	dll         *windows.LazyDLL
	scan        *windows.LazyProc
	open        *windows.LazyProc
	close       *windows.LazyProc
	speedArg    *windows.LazyProc
	canInit     *windows.LazyProc
	startGetMsg *windows.LazyProc
	getMsg      *windows.LazyProc
	sendMsg     *windows.LazyProc
}

// the vendor DLLs ship next to the executable, one directory per architecture
func newToomossLib() *toomossLib {
	dir := filepath.Join("DLLs", "windows_x64")
	if runtime.GOARCH == "386" {
		dir = filepath.Join("DLLs", "windows_x86")
	}
	dll := windows.NewLazyDLL(filepath.Join(dir, "USB2XXX.dll"))
	return &toomossLib{
		deps:        windows.NewLazyDLL(filepath.Join(dir, "libusb-1.0.dll")),
		dll:         dll,
		scan:        dll.NewProc("USB_ScanDevice"),
		open:        dll.NewProc("USB_OpenDevice"),
		close:       dll.NewProc("USB_CloseDevice"),
		speedArg:    dll.NewProc("CAN_GetCANSpeedArg"),
		canInit:     dll.NewProc("CAN_Init"),
		startGetMsg: dll.NewProc("CAN_StartGetMsg"),
		getMsg:      dll.NewProc("CAN_GetMsg"),
		sendMsg:     dll.NewProc("CAN_SendMsg"),
	}
}

func (l *toomossLib) load() error {
	if err := l.deps.Load(); err != nil {
		return errors.Wrap(err, "failed to load libusb")
	}
	if err := l.dll.Load(); err != nil {
		return errors.Wrap(err, "failed to load USB2XXX")
	}
	return nil
}

// Toomoss drives a Toomoss USB2XXX adapter through the vendor DLL.
type Toomoss struct {
	channel int
	bitrate int
	logger  *zap.SugaredLogger
	lib     *toomossLib

	handles [10]int32
	handle  uintptr
	opened  bool

	writeMu sync.Mutex
	rxChan  chan Frame
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func NewToomoss(channel, bitrate int, logger *zap.SugaredLogger) *Toomoss {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if bitrate == 0 {
		bitrate = toomossDefaultBitrate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Toomoss{
		channel: channel,
		bitrate: bitrate,
		logger:  logger,
		lib:     newToomossLib(),
		rxChan:  make(chan Frame, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (t *Toomoss) Init() error {
	if err := t.lib.load(); err != nil {
		return err
	}
	n, _, _ := t.lib.scan.Call(uintptr(unsafe.Pointer(&t.handles[0])))
	if int32(n) <= 0 {
		return errors.New("no Toomoss adapter found")
	}
	t.handle = uintptr(t.handles[0])
	if r, _, _ := t.lib.open.Call(t.handle); int32(r) < 1 {
		return errors.Errorf("failed to open Toomoss adapter 0x%X", t.handle)
	}
	t.opened = true

	cfg := toomossInitConfig{NART: 1, TXFP: 1}
	ch := uintptr(t.channel)
	if r, _, _ := t.lib.speedArg.Call(t.handle, uintptr(unsafe.Pointer(&cfg)), uintptr(t.bitrate)); int32(r) != toomossSuccess {
		return errors.Errorf("unsupported bitrate %d (code %d)", t.bitrate, int32(r))
	}
	if r, _, _ := t.lib.canInit.Call(t.handle, ch, uintptr(unsafe.Pointer(&cfg))); int32(r) != toomossSuccess {
		return errors.Errorf("CAN_Init failed with code %d", int32(r))
	}
	if r, _, _ := t.lib.startGetMsg.Call(t.handle, ch); int32(r) != toomossSuccess {
		return errors.Errorf("CAN_StartGetMsg failed with code %d", int32(r))
	}
	t.logger.Infow("Toomoss adapter opened", "handle", t.handle, "channel", t.channel, "bitrate", t.bitrate)
	return nil
}

func (t *Toomoss) Start() {
	t.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer t.workers.Done()
		t.readLoop()
	})
}

func (t *Toomoss) Stop() {
	t.cancel()
	t.workers.Wait()
	if t.opened {
		t.lib.close.Call(t.handle) //nolint:errcheck
		t.opened = false
	}
	t.logger.Debugw("Toomoss adapter closed", "handle", t.handle)
}

func (t *Toomoss) readLoop() {
	ticker := time.NewTicker(toomossPollInterval)
	defer ticker.Stop()
	var buf [toomossMsgBufferSize]toomossMsg
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
		r, _, _ := t.lib.getMsg.Call(t.handle, uintptr(t.channel), uintptr(unsafe.Pointer(&buf[0])))
		n := int(int32(r))
		if n < 0 {
			t.logger.Errorw("Toomoss read failed", "code", n)
			continue
		}
		for i := 0; i < n && i < len(buf); i++ {
			f, ok := buf[i].frame()
			if !ok {
				continue
			}
			select {
			case t.rxChan <- f:
			default:
				t.logger.Warnw("receive channel full, frame dropped", "id", f.ID)
			}
		}
	}
}

func (t *Toomoss) Write(id uint32, data []byte) error {
	f, err := NewFrame(id, data)
	if err != nil {
		return err
	}
	msgs := [1]toomossMsg{newToomossMsg(f)}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	r, _, _ := t.lib.sendMsg.Call(t.handle, uintptr(t.channel), uintptr(unsafe.Pointer(&msgs[0])), uintptr(len(msgs)))
	if int(int32(r)) != len(msgs) {
		return errors.Errorf("CAN_SendMsg failed for id 0x%08X (code %d)", id, int32(r))
	}
	return nil
}

func (t *Toomoss) RxChan() <-chan Frame {
	return t.rxChan
}

func (t *Toomoss) Context() context.Context {
	return t.ctx
}

func init() {
	RegisterInterface("toomoss", func(opts Options, logger *zap.SugaredLogger) (CANDriver, error) {
		channel, err := strconv.Atoi(opts.Channel)
		if err != nil || channel < 0 {
			return nil, errors.Errorf("toomoss channel must be a CAN index such as 0, got %q", opts.Channel)
		}
		return NewToomoss(channel, opts.Bitrate, logger), nil
	})
}
