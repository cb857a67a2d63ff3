// Command robobus_dll builds RoboBus as a C shared library:
//
//	go build -buildmode=c-shared -o robobus.dll ./robobus_dll
//
// The host owns the CAN hardware. It passes every received frame to RoboBusInputFrame
// and transmits whatever the library hands to its TxCallback.
package main

/*
#include <stdint.h>
#include <stdbool.h>

// id: extended CAN id, data: frame payload, len: payload length (0-8)
typedef void (*TxCallback)(uint32_t id, uint8_t* data, int len);

static void call_tx_callback(TxCallback cb, uint32_t id, uint8_t* data, int len) {
    if (cb != NULL) {
        cb(id, data, len);
    }
}
*/
import "C"

import (
	"sync"
	"time"
	"unsafe"

	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/LoveWonYoung/robobus/logrecorder"
	"github.com/LoveWonYoung/robobus/robobus"
)

var (
	mu      sync.Mutex
	current *session
	rec     *logrecorder.Recorder
)

func activeSession() *session {
	mu.Lock()
	defer mu.Unlock()
	return current
}

func logger() *zap.SugaredLogger {
	if rec == nil {
		r, err := logrecorder.NewRecorder(logrecorder.Config{})
		if err != nil {
			return zap.NewNop().Sugar()
		}
		rec = r
	}
	return rec.Logger
}

// RoboBusOpen starts a link between local and remote. A previously open link is closed
// first. retryMs and tickMs of 0 select the defaults. It returns 0 on success.
//
//export RoboBusOpen
func RoboBusOpen(local, remote C.uint8_t, client C.bool, retryMs, tickMs C.int, cb C.TxCallback) C.int {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		goutils.UncheckedError(current.close())
		current = nil
	}

	cfg := robobus.DefaultConfig()
	if retryMs > 0 {
		cfg.RetryTimeout = time.Duration(retryMs) * time.Millisecond
	}
	if tickMs > 0 {
		cfg.TickInterval = time.Duration(tickMs) * time.Millisecond
	}
	role := robobus.RoleServer
	if bool(client) {
		role = robobus.RoleClient
	}
	tx := func(id uint32, data []byte) {
		if len(data) == 0 {
			C.call_tx_callback(cb, C.uint32_t(id), nil, 0)
			return
		}
		C.call_tx_callback(cb, C.uint32_t(id), (*C.uint8_t)(unsafe.Pointer(&data[0])), C.int(len(data)))
	}

	log := logger().Named("dll")
	s, err := openSession(robobus.DeviceID(local), robobus.DeviceID(remote), role, cfg, tx, log)
	if err != nil {
		log.Errorw("failed to open link", "error", err)
		return C.int(statusOf(err))
	}
	current = s
	return statusOK
}

// RoboBusInputFrame passes a frame received by the host to the open link.
//
//export RoboBusInputFrame
func RoboBusInputFrame(id C.uint32_t, data *C.uint8_t, length C.int) {
	s := activeSession()
	if s == nil || length < 0 {
		return
	}
	s.bus.input(uint32(id), C.GoBytes(unsafe.Pointer(data), length))
}

// RoboBusSend blocks until the peer acknowledges the payload of at most 8 bytes or
// timeoutMs passes.
//
//export RoboBusSend
func RoboBusSend(data *C.uint8_t, length C.int, timeoutMs C.int) C.int {
	s := activeSession()
	if s == nil {
		return statusNotOpen
	}
	if length < 0 {
		return statusInvalid
	}
	payload := C.GoBytes(unsafe.Pointer(data), length)
	return C.int(statusOf(s.send(payload, time.Duration(timeoutMs)*time.Millisecond)))
}

// RoboBusRecv copies the next accepted payload into buffer and returns its length, or a
// negative status.
//
//export RoboBusRecv
func RoboBusRecv(buffer *C.uint8_t, capacity C.int, timeoutMs C.int) C.int {
	s := activeSession()
	if s == nil {
		return statusNotOpen
	}
	data, err := s.recv(time.Duration(timeoutMs) * time.Millisecond)
	if err != nil {
		return C.int(statusOf(err))
	}
	if len(data) > int(capacity) {
		return statusBufferTooSmall
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(capacity)), data)
	return C.int(len(data))
}

//export RoboBusClose
func RoboBusClose() {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		goutils.UncheckedError(current.close())
		current = nil
	}
	if rec != nil {
		goutils.UncheckedError(rec.Close())
		rec = nil
	}
}

func main() {}
