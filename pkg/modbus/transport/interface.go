// Package transport implements the per-role RX/TX worker state machine
// shared by the RTU and TCP interfaces: a single cooperative loop that
// serializes one outgoing frame at a time against an inbound byte stream
// and fans decoded frames out to registered receive callbacks.
package transport

import (
	"context"
	"sync"

	"github.com/edgeflow/modbus/pkg/modbus"
)

// MaxReceiveCallbacks bounds the number of receive callbacks an Interface
// will hold, matching the spec's MAX_RCV_CALLBACKS (>= 5).
const MaxReceiveCallbacks = 8

// Result is the outcome an Interface hands back to its caller, mirroring
// the shared Interface result enum.
type Result int

const (
	Success Result = iota
	NoData
	ErrInitFailed
	ErrInvalidFrame
	ErrBusy
	ErrRxFailed
	ErrSendFailed
	ErrInvalidMsgType
	ErrInvalidTransactionID
	ErrTimeout
	ErrInvalidRole
	ErrTooManyCallbacks
	ErrNoCallbacks
	ErrNotInitialized
	ErrConnectionFailed
	ErrConfigFailed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case NoData:
		return "NODATA"
	case ErrInitFailed:
		return "ERR_INIT_FAILED"
	case ErrInvalidFrame:
		return "ERR_INVALID_FRAME"
	case ErrBusy:
		return "ERR_BUSY"
	case ErrRxFailed:
		return "ERR_RX_FAILED"
	case ErrSendFailed:
		return "ERR_SEND_FAILED"
	case ErrInvalidMsgType:
		return "ERR_INVALID_MSG_TYPE"
	case ErrInvalidTransactionID:
		return "ERR_INVALID_TRANSACTION_ID"
	case ErrTimeout:
		return "ERR_TIMEOUT"
	case ErrInvalidRole:
		return "ERR_INVALID_ROLE"
	case ErrTooManyCallbacks:
		return "ERR_TOO_MANY_CALLBACKS"
	case ErrNoCallbacks:
		return "ERR_NO_CALLBACKS"
	case ErrNotInitialized:
		return "ERR_NOT_INITIALIZED"
	case ErrConnectionFailed:
		return "ERR_CONNECTION_FAILED"
	case ErrConfigFailed:
		return "ERR_CONFIG_FAILED"
	default:
		return "UNKNOWN"
	}
}

// TxCallback is invoked exactly once by the worker after it has attempted
// to put an encoded frame on the wire. Implementations must not block.
type TxCallback func(result Result)

// ReceiveCallback is invoked by the worker for every successfully decoded
// frame, in decode order. Implementations must not block: the worker
// invokes callbacks synchronously, one at a time, before processing the
// next event.
type ReceiveCallback func(f *modbus.Frame)

// Interface is the common contract every transport (RTU, TCP) implements.
// It owns a single RX/TX worker goroutine and accepts at most one
// outstanding SendFrame at a time.
type Interface interface {
	// Begin starts the worker and opens the underlying transport. Returns
	// ErrInitFailed if the role is unset or the transport refuses to open.
	Begin() Result

	// SendFrame encodes f and hands the bytes to the transport. The RTU
	// interface enqueues them and invokes callback later from its worker
	// goroutine; the TCP interface writes them on the caller's goroutine
	// and invokes callback before SendFrame returns. Returns ErrBusy if a
	// TX is already in flight, ErrInvalidFrame on encoding failure.
	SendFrame(f *modbus.Frame, callback TxCallback, ctx context.Context) Result

	// IsReady reports whether the worker is initialized and idle.
	IsReady() bool

	// SetReceiveCallback registers fn as one of at most MaxReceiveCallbacks
	// receive callbacks.
	SetReceiveCallback(fn ReceiveCallback) Result

	// AbortCurrentTransaction is a transport-specific hook the Client calls
	// on timeout. The default is a no-op.
	AbortCurrentTransaction()

	// Role reports whether this Interface plays CLIENT or SERVER.
	Role() modbus.Role

	// AcceptsAnySlaveID reports whether this Interface is a catch-all
	// (true only for a TCP SERVER).
	AcceptsAnySlaveID() bool

	// Close stops the worker and releases the underlying transport.
	Close() error
}

// callbackRegistry is the mutex-guarded receive-callback list shared by
// the RTU and TCP interfaces.
type callbackRegistry struct {
	mu        sync.Mutex
	callbacks []ReceiveCallback
}

func (r *callbackRegistry) add(fn ReceiveCallback) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.callbacks) >= MaxReceiveCallbacks {
		return ErrTooManyCallbacks
	}
	r.callbacks = append(r.callbacks, fn)
	return Success
}

func (r *callbackRegistry) dispatch(f *modbus.Frame) {
	r.mu.Lock()
	cbs := make([]ReceiveCallback, len(r.callbacks))
	copy(cbs, r.callbacks)
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(f)
	}
}

func (r *callbackRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// txRequest is the one-slot TX queue entry the worker selects against
// alongside inbound transport events.
type txRequest struct {
	frame    modbus.Frame
	wire     []byte
	callback TxCallback
}
