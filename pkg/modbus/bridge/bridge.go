// Package bridge implements the transparent Modbus gateway: bidirectional
// request/response forwarding between one CLIENT interface and one SERVER
// interface, preserving TCP transaction/unit-id correlation and surfacing
// a timed-out inner transaction as a GATEWAY_TARGET_FAILED_TO_RESPOND
// exception to the origin.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/transport"

	"github.com/edgeflow/modbus/internal/logger"
	"github.com/edgeflow/modbus/internal/metrics"
)

// Result mirrors the shared Interface-style result enum the Bridge's
// lifecycle calls surface.
type Result int

const (
	Success Result = iota
	ErrInitFailed
	ErrInvalidRole
)

// DefaultForwardTimeout bounds how long the Bridge waits for a response on
// the inner CLIENT interface before answering the origin with
// GATEWAY_TARGET_FAILED_TO_RESPOND.
const DefaultForwardTimeout = 1500 * time.Millisecond

// inFlight is the Bridge's single forwarded transaction record.
type inFlight struct {
	originIface transport.Interface
	originReq   modbus.Frame
	doneCh      chan struct{}

	// corrID ties together this flight's server-side request and
	// client-side forward log lines, since they land on two different
	// interfaces' goroutines.
	corrID string
}

// Bridge holds a complementary CLIENT/SERVER interface pair and forwards
// exactly one transaction at a time between them.
type Bridge struct {
	clientIface transport.Interface
	serverIface transport.Interface

	forwardTimeout time.Duration
	metrics        *metrics.Metrics

	mu       sync.Mutex
	current  *inFlight
}

// New constructs a Bridge. clientIface must report Role() == RoleClient and
// serverIface must report Role() == RoleServer.
func New(clientIface, serverIface transport.Interface, forwardTimeout time.Duration, m *metrics.Metrics) (*Bridge, error) {
	if clientIface.Role() != modbus.RoleClient {
		return nil, modbus.ErrInvalidRole
	}
	if serverIface.Role() != modbus.RoleServer {
		return nil, modbus.ErrInvalidRole
	}
	if forwardTimeout <= 0 {
		forwardTimeout = DefaultForwardTimeout
	}
	return &Bridge{
		clientIface:    clientIface,
		serverIface:    serverIface,
		forwardTimeout: forwardTimeout,
		metrics:        m,
	}, nil
}

// Begin starts both interfaces' workers and registers the forwarding
// callbacks.
func (b *Bridge) Begin() Result {
	b.serverIface.SetReceiveCallback(b.onServerRequest)
	b.clientIface.SetReceiveCallback(b.onClientResponse)

	if b.serverIface.Begin() != transport.Success {
		return ErrInitFailed
	}
	if b.clientIface.Begin() != transport.Success {
		return ErrInitFailed
	}
	return Success
}

// onServerRequest receives an inbound REQUEST on the SERVER interface and
// forwards it through the CLIENT interface, remembering correlation
// context so the eventual RESPONSE can be routed back to the originating
// caller with its original addressing restored.
func (b *Bridge) onServerRequest(req *modbus.Frame) {
	b.mu.Lock()
	if b.current != nil {
		b.mu.Unlock()
		b.respondBusy(req)
		return
	}

	flight := &inFlight{
		originIface: b.serverIface,
		originReq:   *req,
		doneCh:      make(chan struct{}, 1),
		corrID:      uuid.NewString(),
	}
	b.current = flight
	b.mu.Unlock()

	logger.WithTransaction(flight.corrID).Debug("bridge forwarding request",
		zap.Uint8("unit_id", req.SlaveID), zap.Uint8("fc", byte(req.FC)))

	forwardReq := *req
	result := b.clientIface.SendFrame(&forwardReq, func(r transport.Result) {
		if flight.originReq.IsBroadcast() {
			// A broadcast gets no response: end the flight once TX is done.
			b.mu.Lock()
			if b.current == flight {
				b.current = nil
			}
			b.mu.Unlock()
			select {
			case flight.doneCh <- struct{}{}:
			default:
			}
			return
		}
		if r != transport.Success {
			b.finishWithException(flight, modbus.ExceptionGatewayTargetFailed)
		}
	}, context.Background())

	if result != transport.Success {
		b.finishWithException(flight, modbus.ExceptionGatewayTargetFailed)
		return
	}

	go b.armForwardTimeout(flight)
}

func (b *Bridge) armForwardTimeout(flight *inFlight) {
	timer := time.NewTimer(b.forwardTimeout)
	defer timer.Stop()

	select {
	case <-flight.doneCh:
	case <-timer.C:
		b.finishWithException(flight, modbus.ExceptionGatewayTargetFailed)
	}
}

// onClientResponse receives the RESPONSE arriving on the inner CLIENT
// interface and forwards it back through the originating SERVER interface.
func (b *Bridge) onClientResponse(resp *modbus.Frame) {
	b.mu.Lock()
	flight := b.current
	b.mu.Unlock()
	if flight == nil {
		return
	}

	out := *resp
	out.SlaveID = flight.originReq.SlaveID
	b.finish(flight, &out)
}

func (b *Bridge) finish(flight *inFlight, resp *modbus.Frame) {
	b.mu.Lock()
	if b.current != flight {
		b.mu.Unlock()
		return
	}
	b.current = nil
	b.mu.Unlock()

	logger.WithTransaction(flight.corrID).Debug("bridge forward complete",
		zap.Uint8("exception", byte(resp.ExceptionCode)))

	select {
	case flight.doneCh <- struct{}{}:
	default:
	}

	result := flight.originIface.SendFrame(resp, func(r transport.Result) {
		if r != transport.Success {
			logger.Warn("bridge could not forward response to origin", zap.Stringer("result", r))
		}
	}, context.Background())
	if result != transport.Success {
		logger.Warn("bridge response enqueue failed", zap.Stringer("result", result))
	}
}

func (b *Bridge) finishWithException(flight *inFlight, exc modbus.ExceptionCode) {
	resp := modbus.Frame{
		Type:          modbus.Response,
		SlaveID:       flight.originReq.SlaveID,
		FC:            flight.originReq.FC.WithException(),
		ExceptionCode: exc,
	}
	if b.metrics != nil {
		b.metrics.IncrementExceptionsSent()
	}
	b.finish(flight, &resp)
}

// respondBusy answers an inbound request that arrived while another
// transaction is already in flight across the bridge.
func (b *Bridge) respondBusy(req *modbus.Frame) {
	if req.IsBroadcast() {
		return
	}
	resp := modbus.Frame{
		Type:          modbus.Response,
		SlaveID:       req.SlaveID,
		FC:            req.FC.WithException(),
		ExceptionCode: modbus.ExceptionSlaveDeviceBusy,
	}
	if b.metrics != nil {
		b.metrics.IncrementBusyResponses()
	}
	b.serverIface.SendFrame(&resp, func(transport.Result) {}, context.Background())
}
