package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/codec"

	"github.com/edgeflow/modbus/internal/hal"
	"github.com/edgeflow/modbus/internal/logger"
	"github.com/edgeflow/modbus/internal/metrics"
)

// RTUConfig describes one RTU Interface's serial line and timing.
type RTUConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits

	// DEPin, if >= 0, is the BCM GPIO pin driving an RS-485 transceiver's
	// driver-enable line. -1 means no DE pin (full-duplex wiring or a
	// transceiver with automatic direction control).
	DEPin int

	// SilenceUs overrides the inter-frame silence interval. 0 means
	// derive it from BaudRate per Modbus's 3.5-character-time rule.
	SilenceUs int64
}

// rxEvent is what the background reader goroutine feeds to the worker:
// either a chunk of bytes or a silence marker.
type rxEvent struct {
	data    []byte
	silence bool
	rxErr   error
}

// RTUInterface is the RTU realization of Interface: a serial port plus
// half-duplex DE-pin timing and slave-id based request/response framing.
type RTUInterface struct {
	cfg      RTUConfig
	role     modbus.Role
	slaveID  byte
	silence  time.Duration
	gpio     hal.GPIOProvider
	metrics  *metrics.Metrics

	port serial.Port

	callbacks callbackRegistry

	mu      sync.Mutex
	ready   bool
	busy    bool
	closed  bool
	txCh    chan txRequest
	rxCh    chan rxEvent
	doneCh  chan struct{}
	lastTxNs int64 // atomic, unix nanos of the last TX byte written
}

// NewRTUInterface constructs an RTU Interface in the given role. slaveID is
// this Server's own address (ignored for a CLIENT interface, which decodes
// every response regardless of slave_id since it already knows what it
// sent). m may be nil.
func NewRTUInterface(cfg RTUConfig, role modbus.Role, slaveID byte, gpio hal.GPIOProvider, m *metrics.Metrics) *RTUInterface {
	return &RTUInterface{
		cfg:     cfg,
		role:    role,
		slaveID: slaveID,
		silence: silenceFor(cfg),
		gpio:    gpio,
		metrics: m,
	}
}

// silenceFor derives the inter-frame silence window per Modbus's rule: for
// baud <= 19200, 3.5 character times (11 bits/char at start/stop/parity);
// above 19200, a fixed 1750us, since character time becomes too short to
// reliably detect at high baud rates.
func silenceFor(cfg RTUConfig) time.Duration {
	if cfg.SilenceUs > 0 {
		return time.Duration(cfg.SilenceUs) * time.Microsecond
	}
	if cfg.BaudRate <= 19200 {
		charTimeNs := float64(11) / float64(cfg.BaudRate) * float64(time.Second)
		return time.Duration(charTimeNs * 3.5)
	}
	return 1750 * time.Microsecond
}

func (r *RTUInterface) Begin() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.role != modbus.RoleClient && r.role != modbus.RoleServer {
		return ErrInitFailed
	}

	mode := &serial.Mode{
		BaudRate: r.cfg.BaudRate,
		DataBits: r.cfg.DataBits,
		Parity:   r.cfg.Parity,
		StopBits: r.cfg.StopBits,
	}
	port, err := serial.Open(r.cfg.Device, mode)
	if err != nil {
		logger.Error("rtu interface open failed", zap.String("device", r.cfg.Device), zap.Error(err))
		return ErrInitFailed
	}
	// Short read timeout so the reader goroutine can observe silence
	// without a dedicated OS timer; shorter than the silence window so it
	// never itself masks a real silence event.
	readTimeout := r.silence / 2
	if readTimeout < time.Millisecond {
		readTimeout = time.Millisecond
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return ErrInitFailed
	}

	if r.gpio != nil && r.cfg.DEPin >= 0 {
		if err := r.gpio.SetMode(r.cfg.DEPin, hal.Output); err != nil {
			port.Close()
			return ErrInitFailed
		}
		_ = r.gpio.DigitalWrite(r.cfg.DEPin, false) // start in receive mode
	}

	r.port = port
	r.txCh = make(chan txRequest, 1)
	r.rxCh = make(chan rxEvent, 8)
	r.doneCh = make(chan struct{})
	r.ready = true

	go r.readLoop()
	go r.worker()

	return Success
}

// readLoop performs the blocking serial reads and turns them into rxEvents,
// synthesizing a silence event whenever a read times out with no bytes.
func (r *RTUInterface) readLoop() {
	buf := make([]byte, 256)
	for {
		select {
		case <-r.doneCh:
			return
		default:
		}

		n, err := r.port.Read(buf)
		if err != nil {
			select {
			case r.rxCh <- rxEvent{rxErr: err}:
			case <-r.doneCh:
			}
			return
		}
		if n == 0 {
			select {
			case r.rxCh <- rxEvent{silence: true}:
			case <-r.doneCh:
				return
			}
			continue
		}
		if r.metrics != nil {
			r.metrics.AddBytesRX(n)
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case r.rxCh <- rxEvent{data: chunk}:
		case <-r.doneCh:
			return
		}
	}
}

// worker is the cooperative RX/TX loop: it multiplexes inbound byte events
// against the one-slot TX queue.
func (r *RTUInterface) worker() {
	var accumulator []byte

	for {
		select {
		case <-r.doneCh:
			return

		case ev := <-r.rxCh:
			if ev.rxErr != nil {
				logger.Warn("rtu read failed", zap.String("device", r.cfg.Device), zap.Error(ev.rxErr))
				accumulator = accumulator[:0]
				continue
			}
			if ev.silence {
				if len(accumulator) > 0 {
					r.decodeAndDispatch(accumulator)
					accumulator = accumulator[:0]
				}
				continue
			}
			accumulator = append(accumulator, ev.data...)

		case tx := <-r.txCh:
			r.transmit(tx)
		}
	}
}

func (r *RTUInterface) decodeAndDispatch(raw []byte) {
	expected := modbus.Response
	if r.role == modbus.RoleServer {
		expected = modbus.Request
	}

	f, err := codec.DecodeRTU(raw, expected)
	if err != nil {
		logger.Debug("rtu decode failed, dropping accumulator", zap.Error(err))
		if r.metrics != nil {
			r.metrics.IncrementFramesDropped()
		}
		return
	}

	if r.role == modbus.RoleServer {
		if f.SlaveID != r.slaveID && f.SlaveID != modbus.BroadcastSlaveID {
			return
		}
	}

	r.callbacks.dispatch(&f)
}

func (r *RTUInterface) transmit(tx txRequest) {
	if r.gpio != nil && r.cfg.DEPin >= 0 {
		wait := r.silence - time.Since(time.Unix(0, atomic.LoadInt64(&r.lastTxNs)))
		if wait > 0 {
			time.Sleep(wait)
		}
		_ = r.gpio.DigitalWrite(r.cfg.DEPin, true)
	}

	n, err := r.port.Write(tx.wire)

	if r.gpio != nil && r.cfg.DEPin >= 0 {
		_ = r.gpio.DigitalWrite(r.cfg.DEPin, false)
	}
	atomic.StoreInt64(&r.lastTxNs, time.Now().UnixNano())

	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()

	if r.metrics != nil && n > 0 {
		r.metrics.AddBytesTX(n)
	}

	if err != nil {
		tx.callback(ErrSendFailed)
		return
	}
	tx.callback(Success)
}

func (r *RTUInterface) SendFrame(f *modbus.Frame, callback TxCallback, _ context.Context) Result {
	r.mu.Lock()
	if !r.ready || r.closed {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	if r.busy {
		r.mu.Unlock()
		return ErrBusy
	}

	wire, err := codec.EncodeRTU(f)
	if err != nil {
		r.mu.Unlock()
		return ErrInvalidFrame
	}
	r.busy = true
	r.mu.Unlock()

	select {
	case r.txCh <- txRequest{frame: *f, wire: wire, callback: callback}:
		return Success
	default:
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
		return ErrBusy
	}
}

func (r *RTUInterface) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready && !r.closed && !r.busy
}

func (r *RTUInterface) SetReceiveCallback(fn ReceiveCallback) Result {
	return r.callbacks.add(fn)
}

// AbortCurrentTransaction is a no-op for RTU: there is no long-lived socket
// to tear down, only the next silence event matters.
func (r *RTUInterface) AbortCurrentTransaction() {}

func (r *RTUInterface) Role() modbus.Role { return r.role }

func (r *RTUInterface) AcceptsAnySlaveID() bool { return false }

func (r *RTUInterface) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.ready = false
	r.mu.Unlock()

	close(r.doneCh)
	if r.port != nil {
		return r.port.Close()
	}
	return nil
}

var _ Interface = (*RTUInterface)(nil)

func init() {
	// Guard against MaxReceiveCallbacks being configured below the spec's
	// floor of 5 by a future edit.
	if MaxReceiveCallbacks < 5 {
		panic(fmt.Sprintf("transport: MaxReceiveCallbacks must be >= 5, got %d", MaxReceiveCallbacks))
	}
}
