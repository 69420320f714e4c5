package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/codec"

	"github.com/edgeflow/modbus/internal/logger"
	"github.com/edgeflow/modbus/internal/metrics"
)

// DefaultTxnSafetyTimeout is the fallback interval after which an
// in-flight TCP transaction that received no response is abandoned at the
// interface level, independent of whatever request timeout the Client
// layer itself enforces.
const DefaultTxnSafetyTimeout = 5000 * time.Millisecond

// TCPConfig describes one TCP Interface's socket configuration.
type TCPConfig struct {
	// ListenAddr, when non-empty, puts this Interface in SERVER mode,
	// listening for inbound connections.
	ListenAddr string
	// RemoteAddr, when ListenAddr is empty, is the CLIENT's dial target.
	RemoteAddr string
	// TxnSafetyTimeout overrides DefaultTxnSafetyTimeout when non-zero.
	TxnSafetyTimeout time.Duration
}

// TCPInterface is the TCP realization of Interface: MBAP framing over a
// persistent CLIENT connection, or a multi-socket SERVER listener that
// processes one transaction at a time.
type TCPInterface struct {
	cfg     TCPConfig
	role    modbus.Role
	metrics *metrics.Metrics

	callbacks callbackRegistry

	mu     sync.Mutex
	ready  bool
	busy   bool
	closed bool
	doneCh chan struct{}

	// CLIENT state
	conn          net.Conn
	nextTxnID     uint32
	expectTxnID   uint32
	expectValid   bool
	safetyTimerID int64

	// SERVER state
	listener         net.Listener
	dispatchMu       sync.Mutex
	respConn         net.Conn
	lastRequestTxnID uint16
}

// NewTCPInterface constructs a TCP Interface. A non-empty cfg.ListenAddr
// selects SERVER mode; otherwise role must be RoleClient and cfg.RemoteAddr
// names the dial target. m may be nil.
func NewTCPInterface(cfg TCPConfig, role modbus.Role, m *metrics.Metrics) *TCPInterface {
	if cfg.TxnSafetyTimeout <= 0 {
		cfg.TxnSafetyTimeout = DefaultTxnSafetyTimeout
	}
	return &TCPInterface{cfg: cfg, role: role, metrics: m}
}

func (t *TCPInterface) Begin() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.role != modbus.RoleClient && t.role != modbus.RoleServer {
		return ErrInitFailed
	}

	t.doneCh = make(chan struct{})

	if t.role == modbus.RoleServer {
		ln, err := net.Listen("tcp", t.cfg.ListenAddr)
		if err != nil {
			logger.Error("tcp interface listen failed", zap.String("addr", t.cfg.ListenAddr), zap.Error(err))
			return ErrInitFailed
		}
		t.listener = ln
		t.ready = true
		go t.acceptLoop()
		return Success
	}

	// CLIENT: ready immediately; the first SendFrame dials lazily.
	t.ready = true
	return Success
}

func (t *TCPInterface) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.doneCh:
				return
			default:
				logger.Warn("tcp interface accept failed", zap.Error(err))
				return
			}
		}
		go t.serverReadLoop(conn)
	}
}

func (t *TCPInterface) serverReadLoop(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)

	for {
		n, err := conn.Read(tmp)
		if err != nil {
			return
		}
		if t.metrics != nil {
			t.metrics.AddBytesRX(n)
		}
		buf = append(buf, tmp[:n]...)

		for {
			need := codec.TCPMessageLength(buf)
			if need == 0 || len(buf) < need {
				break
			}
			msg := buf[:need]
			buf = buf[need:]

			tf, err := codec.DecodeTCP(msg, modbus.Request)
			if err != nil {
				logger.Debug("tcp server decode failed", zap.Error(err))
				if t.metrics != nil {
					t.metrics.IncrementFramesDropped()
				}
				continue
			}

			t.dispatchMu.Lock()
			t.respConn = conn
			t.lastRequestTxnID = tf.TransactionID
			t.callbacks.dispatch(&tf.Frame)
			t.dispatchMu.Unlock()
		}
	}
}

func (t *TCPInterface) dialClient() error {
	conn, err := net.DialTimeout("tcp", t.cfg.RemoteAddr, 5*time.Second)
	if err != nil {
		return err
	}
	t.conn = conn
	go t.clientReadLoop(conn)
	return nil
}

func (t *TCPInterface) clientReadLoop(conn net.Conn) {
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)

	for {
		n, err := conn.Read(tmp)
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			return
		}
		if t.metrics != nil {
			t.metrics.AddBytesRX(n)
		}
		buf = append(buf, tmp[:n]...)

		for {
			need := codec.TCPMessageLength(buf)
			if need == 0 || len(buf) < need {
				break
			}
			msg := buf[:need]
			buf = buf[need:]

			tf, err := codec.DecodeTCP(msg, modbus.Response)
			if err != nil {
				logger.Debug("tcp client decode failed", zap.Error(err))
				if t.metrics != nil {
					t.metrics.IncrementFramesDropped()
				}
				continue
			}

			t.mu.Lock()
			expected := t.expectValid && tf.TransactionID == t.expectTxnID
			if expected {
				t.expectValid = false
			}
			t.mu.Unlock()

			if !expected {
				logger.Debug("tcp client dropping response with unexpected transaction id",
					zap.Uint32("transaction_id", uint32(tf.TransactionID)))
				continue
			}
			t.callbacks.dispatch(&tf.Frame)
		}
	}
}

func (t *TCPInterface) SendFrame(f *modbus.Frame, callback TxCallback, ctx context.Context) Result {
	if t.role == modbus.RoleServer {
		return t.sendServerResponse(f, callback)
	}
	return t.sendClientRequest(f, callback, ctx)
}

func (t *TCPInterface) sendClientRequest(f *modbus.Frame, callback TxCallback, _ context.Context) Result {
	t.mu.Lock()
	if !t.ready || t.closed {
		t.mu.Unlock()
		return ErrNotInitialized
	}
	if t.busy {
		t.mu.Unlock()
		return ErrBusy
	}

	if t.conn == nil {
		if err := t.dialClient(); err != nil {
			t.mu.Unlock()
			logger.Warn("tcp client lazy reconnect failed", zap.Error(err))
			return ErrConnectionFailed
		}
	}

	txnID := uint32(uint16(atomic.AddUint32(&t.nextTxnID, 1)))
	wire, err := codec.EncodeTCP(uint16(txnID), f)
	if err != nil {
		t.mu.Unlock()
		return ErrInvalidFrame
	}

	t.busy = true
	t.expectTxnID = txnID
	t.expectValid = true
	conn := t.conn
	t.mu.Unlock()

	go t.armSafetyTimeout(txnID)

	n, werr := conn.Write(wire)

	t.mu.Lock()
	t.busy = false
	t.mu.Unlock()

	if t.metrics != nil && n > 0 {
		t.metrics.AddBytesTX(n)
	}

	if werr != nil {
		callback(ErrSendFailed)
		return Success
	}
	callback(Success)
	return Success
}

// armSafetyTimeout expires a CLIENT transaction's expected-response window
// independently of the Client layer's own request_timeout_ms, matching the
// TCP Interface's transaction_safety_timeout.
func (t *TCPInterface) armSafetyTimeout(txnID uint32) {
	timer := time.NewTimer(t.cfg.TxnSafetyTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		t.mu.Lock()
		if t.expectValid && t.expectTxnID == txnID {
			t.expectValid = false
		}
		t.mu.Unlock()
	case <-t.doneCh:
	}
}

// sendServerResponse encodes and writes a response on the connection that
// delivered the request currently being answered, echoing that request's
// MBAP transaction id. It relies on the caller (Server/Bridge) responding
// to a request from within the same synchronous call stack that received
// it, which callbackRegistry.dispatch guarantees by invoking receive
// callbacks one at a time.
func (t *TCPInterface) sendServerResponse(f *modbus.Frame, callback TxCallback) Result {
	t.mu.Lock()
	if !t.ready || t.closed {
		t.mu.Unlock()
		return ErrNotInitialized
	}
	t.mu.Unlock()

	t.dispatchMu.Lock()
	conn := t.respConn
	txnID := t.lastRequestTxnID
	t.dispatchMu.Unlock()

	wire, err := codec.EncodeTCP(txnID, f)
	if err != nil {
		return ErrInvalidFrame
	}
	if conn == nil {
		callback(ErrSendFailed)
		return Success
	}

	n, werr := conn.Write(wire)
	if t.metrics != nil && n > 0 {
		t.metrics.AddBytesTX(n)
	}
	if werr != nil {
		callback(ErrSendFailed)
		return Success
	}
	callback(Success)
	return Success
}

func (t *TCPInterface) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready && !t.closed && !t.busy
}

func (t *TCPInterface) SetReceiveCallback(fn ReceiveCallback) Result {
	return t.callbacks.add(fn)
}

func (t *TCPInterface) AbortCurrentTransaction() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expectValid = false
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *TCPInterface) Role() modbus.Role { return t.role }

func (t *TCPInterface) AcceptsAnySlaveID() bool { return t.role == modbus.RoleServer }

func (t *TCPInterface) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.ready = false
	t.mu.Unlock()

	close(t.doneCh)
	if t.conn != nil {
		t.conn.Close()
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

var _ Interface = (*TCPInterface)(nil)
