package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/transport"

	"github.com/edgeflow/modbus/internal/logger"
	"github.com/edgeflow/modbus/internal/metrics"
)

// Result mirrors the Server result enum from the shared contract.
type Result int

const (
	Success Result = iota
	ErrNotInitialized
	ErrInitFailed
)

// ReqMutexBlock and ReqMutexTryLock are the two named req_mutex_timeout
// policies; any positive duration is a finite wait.
const (
	ReqMutexBlock   time.Duration = -1
	ReqMutexTryLock time.Duration = 0
)

// Config holds the Server's construction-time parameters.
type Config struct {
	SlaveID          byte
	RejectUndefined  bool // true: uncovered addresses get ILLEGAL_DATA_ADDRESS; false (the zero value): they read as 0 and writes to them are dropped
	ReqMutexTimeout  time.Duration
	WordStoreCap     int
}

// Server owns a WordStore and dispatches REQUEST frames received from one
// or more bound Interfaces, serialising multi-interface access through a
// single req_mutex.
type Server struct {
	cfg   Config
	store *WordStore

	interfaces []transport.Interface
	reqSem     chan struct{} // capacity-1 semaphore backing req_mutex

	metrics *metrics.Metrics
}

// New constructs a Server with its own WordStore. Metrics may be nil.
func New(cfg Config, m *metrics.Metrics) *Server {
	if cfg.WordStoreCap <= 0 {
		cfg.WordStoreCap = 1024
	}
	return &Server{
		cfg:     cfg,
		store:   NewWordStore(cfg.WordStoreCap),
		reqSem:  make(chan struct{}, 1),
		metrics: m,
	}
}

// AddWord registers w with the Server's WordStore.
func (s *Server) AddWord(w *Word) error { return s.store.AddWord(w) }

// AddWords registers batch atomically.
func (s *Server) AddWords(batch []*Word) error { return s.store.AddWords(batch) }

// WordCount reports how many Words are registered, for health checks.
func (s *Server) WordCount() int { return s.store.Count() }

// Words returns a read-only snapshot of every registered Word's address
// range, for introspection endpoints.
func (s *Server) Words() []WordInfo { return s.store.Snapshot() }

// Bind attaches iface to this Server, registering a receive callback that
// routes inbound REQUEST frames through dispatch(). Bind before Begin.
func (s *Server) Bind(iface transport.Interface) {
	s.interfaces = append(s.interfaces, iface)
	iface.SetReceiveCallback(func(f *modbus.Frame) {
		s.onReceive(iface, f)
	})
}

// Begin finalises the WordStore (sort + overlap check) and starts every
// bound Interface's worker.
func (s *Server) Begin() Result {
	if err := s.store.Begin(); err != nil {
		logger.Error("server word store begin failed", zap.Error(err))
		return ErrInitFailed
	}
	for _, iface := range s.interfaces {
		if iface.Begin() != transport.Success {
			return ErrInitFailed
		}
	}
	return Success
}

func (s *Server) onReceive(iface transport.Interface, req *modbus.Frame) {
	if req.Type != modbus.Request {
		return
	}
	if !iface.AcceptsAnySlaveID() {
		if req.SlaveID != s.cfg.SlaveID && req.SlaveID != modbus.BroadcastSlaveID {
			return
		}
	}

	broadcast := req.IsBroadcast()
	if broadcast && !req.FC.IsWrite() {
		return
	}

	if len(s.interfaces) > 1 {
		if !s.acquireReqMutex() {
			if s.metrics != nil {
				s.metrics.IncrementBusyResponses()
			}
			if !broadcast {
				s.respond(iface, req, nil, modbus.ExceptionSlaveDeviceBusy)
			}
			return
		}
		defer s.releaseReqMutex()
	}

	dispatchStart := time.Now()
	data, exc := s.dispatch(req)

	if s.metrics != nil {
		s.metrics.RecordDispatchLatency(time.Since(dispatchStart))
		s.metrics.IncrementRequestsServed()
		if exc != modbus.ExceptionNone {
			s.metrics.IncrementExceptionsSent()
		}
	}

	if broadcast {
		return
	}
	s.respond(iface, req, data, exc)
}

// acquireReqMutex applies the configured wait policy: ReqMutexBlock waits
// indefinitely, ReqMutexTryLock never waits, any positive duration waits
// up to that long.
func (s *Server) acquireReqMutex() bool {
	switch {
	case s.cfg.ReqMutexTimeout == ReqMutexBlock:
		s.reqSem <- struct{}{}
		return true
	case s.cfg.ReqMutexTimeout == ReqMutexTryLock:
		select {
		case s.reqSem <- struct{}{}:
			return true
		default:
			return false
		}
	default:
		select {
		case s.reqSem <- struct{}{}:
			return true
		case <-time.After(s.cfg.ReqMutexTimeout):
			return false
		}
	}
}

func (s *Server) releaseReqMutex() {
	<-s.reqSem
}

// dispatch runs the function-permitted check, range lookup, partial-word
// atomicity check, undefined-register policy and read/write execution for
// a single request. It returns the response data words (reads only) and an
// exception code (ExceptionNone on success).
//
// Partial multi-word writes that fail midway are not rolled back: the
// first non-zero exception returned by a handler stops further handlers
// and is returned to the client, but registers already written by prior
// handlers in the same request stay written. The source this library was
// built from leaves rollback semantics unspecified; inventing one here
// would be indistinguishable from a bug to a caller who didn't ask for it.
func (s *Server) dispatch(req *modbus.Frame) ([]uint16, modbus.ExceptionCode) {
	regType := modbus.FunctionCodeRegisterType(req.FC)
	if !regType.FunctionPermitted(req.FC) {
		return nil, modbus.ExceptionIllegalFunction
	}

	words := s.store.lookupRange(regType, req.RegAddress, req.RegCount)

	reqEnd := req.RegAddress + req.RegCount
	for _, w := range words {
		if w.StartAddr < req.RegAddress || w.endAddr() > reqEnd {
			return nil, modbus.ExceptionIllegalDataAddress
		}
	}

	if s.cfg.RejectUndefined {
		if hasGap(words, req.RegAddress, reqEnd) {
			return nil, modbus.ExceptionIllegalDataAddress
		}
	}

	if req.FC.IsWrite() {
		return nil, s.executeWrite(req, words)
	}
	return s.executeRead(req, words)
}

// hasGap reports whether any address in [start, end) is not covered by one
// of the (sorted, ascending) words.
func hasGap(words []*Word, start, end uint16) bool {
	cursor := start
	for _, w := range words {
		if w.StartAddr > cursor {
			return true
		}
		if w.endAddr() > cursor {
			cursor = w.endAddr()
		}
	}
	return cursor < end
}

func (s *Server) executeRead(req *modbus.Frame, words []*Word) ([]uint16, modbus.ExceptionCode) {
	out := make([]uint16, req.RegCount)
	for _, w := range words {
		values, exc := w.read(w.StartAddr, w.NbRegs)
		if exc != modbus.ExceptionNone {
			return nil, exc
		}
		offset := w.StartAddr - req.RegAddress
		copy(out[offset:], values)
	}
	return out, modbus.ExceptionNone
}

func (s *Server) executeWrite(req *modbus.Frame, words []*Word) modbus.ExceptionCode {
	data := req.DataSlice()
	for _, w := range words {
		offset := w.StartAddr - req.RegAddress
		values := data[offset : offset+w.NbRegs]
		if exc := w.write(w.StartAddr, values); exc != modbus.ExceptionNone {
			return exc
		}
	}
	return modbus.ExceptionNone
}

// respond builds and emits a RESPONSE frame (success or exception) on the
// interface the request arrived on.
func (s *Server) respond(iface transport.Interface, req *modbus.Frame, data []uint16, exc modbus.ExceptionCode) {
	resp := modbus.Frame{
		Type:       modbus.Response,
		SlaveID:    req.SlaveID,
		RegAddress: req.RegAddress,
		RegCount:   req.RegCount,
	}

	if exc != modbus.ExceptionNone {
		resp.FC = req.FC.WithException()
		resp.ExceptionCode = exc
	} else {
		resp.FC = req.FC
		if !req.FC.IsWrite() {
			resp.SetData(data)
		}
	}

	result := iface.SendFrame(&resp, func(r transport.Result) {
		if r != transport.Success {
			logger.Warn("server response transmission failed", zap.Stringer("result", r))
		}
	}, context.Background())
	if result != transport.Success {
		logger.Warn("server could not enqueue response", zap.Stringer("result", result))
	}
}
