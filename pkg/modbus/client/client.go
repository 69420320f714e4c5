// Package client implements the Modbus Client (master) transaction
// manager: exactly one in-flight PendingRequest at a time, an
// epoch-guarded timeout timer safe against cancellation races, and both
// synchronous (tracker) and asynchronous (callback) completion delivery.
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/transport"

	"github.com/edgeflow/modbus/internal/logger"
	"github.com/edgeflow/modbus/internal/metrics"
)

// Result mirrors the Client result enum from the shared contract.
type Result int

const (
	Success Result = iota
	NoData
	ErrInvalidFrame
	ErrBusy
	ErrTxFailed
	ErrTimeout
	ErrInvalidResponse
	ErrNotInitialized
	ErrInitFailed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case NoData:
		return "NODATA"
	case ErrInvalidFrame:
		return "ERR_INVALID_FRAME"
	case ErrBusy:
		return "ERR_BUSY"
	case ErrTxFailed:
		return "ERR_TX_FAILED"
	case ErrTimeout:
		return "ERR_TIMEOUT"
	case ErrInvalidResponse:
		return "ERR_INVALID_RESPONSE"
	case ErrNotInitialized:
		return "ERR_NOT_INITIALIZED"
	case ErrInitFailed:
		return "ERR_INIT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Tracker lets an async caller poll a request's outcome without blocking;
// SendRequest sets *tracker = NoData immediately upon arming and updates
// it exactly once upon completion.
type Tracker = Result

// OnComplete is invoked exactly once, outside any internal lock, when a
// callback-style request finalises.
type OnComplete func(result Result, response *modbus.Frame)

// pendingRequest is the Client's single in-flight transaction record.
// Mutations are serialised by Client.mu; everything else treats a
// snapshot taken under that mutex as immutable.
type pendingRequest struct {
	active bool
	epoch  uint64

	reqFC      modbus.FunctionCode
	reqSlaveID byte
	reqAddr    uint16
	reqCount   uint16
	broadcast  bool

	responseBuf *modbus.Frame
	tracker     *Tracker
	onComplete  OnComplete

	startedAt  time.Time
	timer      *time.Timer
	lastResult Result
}

// Client owns exactly one PendingRequest against a single Interface.
type Client struct {
	iface          transport.Interface
	requestTimeout time.Duration

	mu  sync.Mutex
	req pendingRequest

	syncCh chan struct{} // signalled exactly once per transaction, for sync waiters

	metrics *metrics.Metrics
}

// New constructs a Client bound to iface, using requestTimeout as the
// default PendingRequest timeout (spec default 1000ms when zero). m may be
// nil.
func New(iface transport.Interface, requestTimeout time.Duration, m *metrics.Metrics) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 1000 * time.Millisecond
	}
	c := &Client{iface: iface, requestTimeout: requestTimeout, metrics: m}
	iface.SetReceiveCallback(c.onReceive)
	return c
}

// IsReady reports whether the underlying Interface is initialized and no
// transaction is currently armed.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	busy := c.req.active
	c.mu.Unlock()
	return c.iface.IsReady() && !busy
}

// SendRequest arms req synchronously (tracker == nil) or asynchronously
// (tracker != nil) against responseBuf. Synchronous calls block until the
// transaction finalises or the internal timeout elapses with a safety
// margin; asynchronous calls return immediately after the request is
// accepted by the Interface.
func (c *Client) SendRequest(req *modbus.Frame, responseBuf *modbus.Frame, tracker *Tracker) Result {
	if req.Type != modbus.Request {
		return ErrInvalidFrame
	}
	if err := validateRequest(req); err != nil {
		return ErrInvalidFrame
	}
	if !c.iface.IsReady() {
		return ErrNotInitialized
	}

	c.mu.Lock()
	if c.req.active {
		c.mu.Unlock()
		return ErrBusy
	}

	c.req.active = true
	c.req.epoch++
	epoch := c.req.epoch
	c.req.reqFC = req.FC
	c.req.reqSlaveID = req.SlaveID
	c.req.reqAddr = req.RegAddress
	c.req.reqCount = req.RegCount
	c.req.broadcast = req.IsBroadcast()
	c.req.responseBuf = responseBuf
	c.req.onComplete = nil
	c.req.startedAt = time.Now()

	var syncMode bool
	var syncCh chan struct{}
	if tracker != nil {
		*tracker = NoData
		c.req.tracker = tracker
	} else {
		syncMode = true
		c.req.tracker = nil
		c.syncCh = make(chan struct{}, 1)
		syncCh = c.syncCh
	}

	c.armTimer(epoch)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncrementRequestsSent()
	}

	sendResult := c.iface.SendFrame(req, c.onTxResult, context.Background())
	if sendResult == transport.ErrBusy {
		c.cancelArm(epoch)
		return ErrBusy
	}
	if sendResult == transport.ErrInvalidFrame {
		c.cancelArm(epoch)
		return ErrInvalidFrame
	}
	if sendResult != transport.Success {
		c.cancelArm(epoch)
		return ErrNotInitialized
	}

	if !syncMode {
		return Success
	}

	waitFor := c.requestTimeout + 250*time.Millisecond
	select {
	case <-syncCh:
		c.mu.Lock()
		result := c.req.lastResult
		c.mu.Unlock()
		return result
	case <-time.After(waitFor):
		return ErrTimeout
	}
}

// SendRequestAsync arms req for callback-exclusive completion delivery; no
// response buffer is stored.
func (c *Client) SendRequestAsync(req *modbus.Frame, onComplete OnComplete) Result {
	if req.Type != modbus.Request {
		return ErrInvalidFrame
	}
	if err := validateRequest(req); err != nil {
		return ErrInvalidFrame
	}
	if !c.iface.IsReady() {
		return ErrNotInitialized
	}

	c.mu.Lock()
	if c.req.active {
		c.mu.Unlock()
		return ErrBusy
	}

	c.req.active = true
	c.req.epoch++
	epoch := c.req.epoch
	c.req.reqFC = req.FC
	c.req.reqSlaveID = req.SlaveID
	c.req.reqAddr = req.RegAddress
	c.req.reqCount = req.RegCount
	c.req.broadcast = req.IsBroadcast()
	c.req.responseBuf = nil
	c.req.tracker = nil
	c.req.onComplete = onComplete
	c.req.startedAt = time.Now()

	c.armTimer(epoch)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncrementRequestsSent()
	}

	sendResult := c.iface.SendFrame(req, c.onTxResult, context.Background())
	if sendResult != transport.Success {
		c.cancelArm(epoch)
		switch sendResult {
		case transport.ErrBusy:
			return ErrBusy
		case transport.ErrInvalidFrame:
			return ErrInvalidFrame
		default:
			return ErrNotInitialized
		}
	}
	return Success
}

func validateRequest(req *modbus.Frame) error {
	// Frame-level validation (fc support, reg_count bounds, data length)
	// is performed by the codec at encode time; the Client only needs to
	// reject the cases the codec can't see before encoding, i.e. none at
	// present. Kept as a seam for future request-shape checks.
	return nil
}

// armTimer starts the epoch-tagged timeout timer for the currently held
// lock's transaction. Caller must hold c.mu.
func (c *Client) armTimer(epoch uint64) {
	c.req.timer = time.AfterFunc(c.requestTimeout, func() {
		c.onTimerFire(epoch)
	})
}

// cancelArm best-effort disarms a transaction that failed to leave the
// Interface in a send-accepted state, e.g. because SendFrame itself
// rejected it. Only takes effect if the epoch still matches, mirroring the
// timer's own guard.
func (c *Client) cancelArm(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.req.active && c.req.epoch == epoch {
		if c.req.timer != nil {
			c.req.timer.Stop()
		}
		c.req.active = false
	}
}

// onTimerFire is the epoch-guarded fire handler: it proceeds only if the
// transaction is still active under the same epoch it was armed with.
func (c *Client) onTimerFire(epoch uint64) {
	c.mu.Lock()
	if !c.req.active || c.req.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.iface.AbortCurrentTransaction()
	c.finalize(epoch, ErrTimeout, nil)
}

// onTxResult is the Interface's TX callback.
func (c *Client) onTxResult(result transport.Result) {
	c.mu.Lock()
	epoch := c.req.epoch
	active := c.req.active
	broadcast := c.req.broadcast
	c.mu.Unlock()

	if !active {
		return
	}

	if result == transport.ErrSendFailed {
		c.finalize(epoch, ErrTxFailed, nil)
		return
	}
	if result == transport.Success && broadcast {
		empty := modbus.Frame{Type: modbus.Response}
		c.finalize(epoch, Success, &empty)
		return
	}
	// Otherwise wait for the RX path; nothing to do here.
}

// onReceive is registered as the Interface's receive callback.
func (c *Client) onReceive(resp *modbus.Frame) {
	c.mu.Lock()
	if !c.req.active {
		c.mu.Unlock()
		return
	}
	epoch := c.req.epoch
	reqFC := c.req.reqFC
	reqSlaveID := c.req.reqSlaveID
	reqAddr := c.req.reqAddr
	reqCount := c.req.reqCount
	catchAll := c.iface.AcceptsAnySlaveID()
	c.mu.Unlock()

	if resp.Type == modbus.Request {
		return
	}
	if resp.SlaveID == modbus.BroadcastSlaveID {
		return
	}
	if !catchAll && resp.SlaveID != reqSlaveID {
		return
	}
	if resp.FC.WithoutException() != reqFC.WithoutException() {
		return
	}

	out := *resp
	out.RegAddress = reqAddr
	out.RegCount = reqCount
	c.finalize(epoch, Success, &out)
}

// finalize runs at most once per transaction (guarded by epoch). It
// snapshots the delivery target under the mutex, releases, stops the
// timer best-effort, and invokes the callback/signals the sync waiter
// outside the lock.
func (c *Client) finalize(epoch uint64, result Result, response *modbus.Frame) {
	c.mu.Lock()
	if !c.req.active || c.req.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.req.active = false
	c.req.lastResult = result
	timer := c.req.timer
	tracker := c.req.tracker
	responseBuf := c.req.responseBuf
	onComplete := c.req.onComplete
	syncCh := c.syncCh
	c.syncCh = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	if response != nil && responseBuf != nil {
		*responseBuf = *response
	}
	if tracker != nil {
		*tracker = result
	}
	if onComplete != nil {
		onComplete(result, response)
	}
	if syncCh != nil {
		select {
		case syncCh <- struct{}{}:
		default:
		}
	}

	if c.metrics != nil {
		switch result {
		case Success:
			c.metrics.IncrementResponsesOK()
		case ErrTimeout:
			c.metrics.IncrementTimeouts()
		case ErrTxFailed:
			c.metrics.IncrementTxFailures()
		case ErrInvalidResponse:
			c.metrics.IncrementInvalidResponse()
		}
	}

	logger.Debug("client transaction finalised", zap.Stringer("result", result))
}
