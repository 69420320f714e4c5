package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/transport"

	"github.com/edgeflow/modbus/internal/metrics"
)

// fakeInterface is a minimal transport.Interface test double that lets
// tests control exactly when TX completes and when a response arrives.
type fakeInterface struct {
	mu       sync.Mutex
	ready    bool
	busy     bool
	role     modbus.Role
	catchAll bool
	callback transport.ReceiveCallback

	sendResult transport.Result // what SendFrame itself returns
	txResult   transport.Result // what the tx callback reports, when autoTX is set
	autoTX     bool             // if true, invokes the tx callback synchronously with txResult
}

func newFakeInterface() *fakeInterface {
	return &fakeInterface{
		ready:      true,
		role:       modbus.RoleClient,
		sendResult: transport.Success,
		txResult:   transport.Success,
		autoTX:     true,
	}
}

func (f *fakeInterface) Begin() transport.Result { return transport.Success }

func (f *fakeInterface) SendFrame(frame *modbus.Frame, cb transport.TxCallback, _ context.Context) transport.Result {
	f.mu.Lock()
	sendRes, txRes, auto := f.sendResult, f.txResult, f.autoTX
	f.mu.Unlock()
	if sendRes != transport.Success {
		return sendRes
	}
	if auto {
		cb(txRes)
	}
	return transport.Success
}

func (f *fakeInterface) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && !f.busy
}

func (f *fakeInterface) SetReceiveCallback(fn transport.ReceiveCallback) transport.Result {
	f.callback = fn
	return transport.Success
}

func (f *fakeInterface) AbortCurrentTransaction() {}

func (f *fakeInterface) Role() modbus.Role { return f.role }

func (f *fakeInterface) AcceptsAnySlaveID() bool { return f.catchAll }

func (f *fakeInterface) Close() error { return nil }

func (f *fakeInterface) deliver(resp *modbus.Frame) {
	if f.callback != nil {
		f.callback(resp)
	}
}

var _ transport.Interface = (*fakeInterface)(nil)

func TestClientSyncReadSuccess(t *testing.T) {
	iface := newFakeInterface()
	iface.autoTX = false // we deliver the response ourselves after SendFrame returns
	c := New(iface, 500*time.Millisecond, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		resp := modbus.Frame{Type: modbus.Response, SlaveID: 1, FC: modbus.FuncReadHoldingRegisters}
		resp.SetData([]uint16{1000})
		iface.deliver(&resp)
	}()

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 100, 1)
	var respBuf modbus.Frame
	result := c.SendRequest(&req, &respBuf, nil)
	if result != Success {
		t.Fatalf("SendRequest = %v, want Success", result)
	}
	if respBuf.Data[0] != 1000 {
		t.Fatalf("response data = %d, want 1000", respBuf.Data[0])
	}
	if respBuf.RegAddress != 100 || respBuf.RegCount != 1 {
		t.Fatalf("reinjected addr/count = %d/%d, want 100/1", respBuf.RegAddress, respBuf.RegCount)
	}
}

func TestClientBusyWhileInFlight(t *testing.T) {
	iface := newFakeInterface()
	iface.autoTX = false
	c := New(iface, 500*time.Millisecond, nil)

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	var tracker Tracker
	if result := c.SendRequest(&req, &modbus.Frame{}, &tracker); result != Success {
		t.Fatalf("first SendRequest = %v, want Success", result)
	}

	var respBuf modbus.Frame
	if result := c.SendRequest(&req, &respBuf, nil); result != ErrBusy {
		t.Fatalf("second SendRequest while busy = %v, want ErrBusy", result)
	}
}

func TestClientTimeoutAndReuse(t *testing.T) {
	iface := newFakeInterface()
	iface.autoTX = false // no TX completion, no response: the transaction must time out
	c := New(iface, 60*time.Millisecond, nil)

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	var respBuf modbus.Frame
	start := time.Now()
	result := c.SendRequest(&req, &respBuf, nil)
	elapsed := time.Since(start)

	if result != ErrTimeout {
		t.Fatalf("SendRequest = %v, want ErrTimeout", result)
	}
	if elapsed < 60*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}

	// The Client must accept a new SendRequest immediately after finalisation.
	iface.autoTX = true
	var respBuf2 modbus.Frame
	if result := c.SendRequest(&req, &respBuf2, nil); result != ErrTimeout {
		// With autoTX true but no response delivered, it will still time out,
		// but critically it must not report ErrBusy.
		if result == ErrBusy {
			t.Fatalf("client did not accept reuse after timeout: got ErrBusy")
		}
	}
}

func TestClientEpochGuardIgnoresStaleFire(t *testing.T) {
	iface := newFakeInterface()
	iface.autoTX = false
	c := New(iface, 30*time.Millisecond, nil)

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)

	// First transaction: deliver a response quickly so it finalises with
	// Success well before its own timer would fire.
	go func() {
		time.Sleep(5 * time.Millisecond)
		resp := modbus.Frame{Type: modbus.Response, SlaveID: 1, FC: modbus.FuncReadHoldingRegisters}
		resp.SetData([]uint16{42})
		iface.deliver(&resp)
	}()
	var respBuf modbus.Frame
	if result := c.SendRequest(&req, &respBuf, nil); result != Success {
		t.Fatalf("first SendRequest = %v, want Success", result)
	}

	// A second transaction starts immediately; the first timer (now stale)
	// must not be able to finalise it early or corrupt its state.
	var respBuf2 modbus.Frame
	go func() {
		time.Sleep(5 * time.Millisecond)
		resp := modbus.Frame{Type: modbus.Response, SlaveID: 1, FC: modbus.FuncReadHoldingRegisters}
		resp.SetData([]uint16{99})
		iface.deliver(&resp)
	}()
	if result := c.SendRequest(&req, &respBuf2, nil); result != Success {
		t.Fatalf("second SendRequest = %v, want Success", result)
	}
	if respBuf2.Data[0] != 99 {
		t.Fatalf("second response data = %d, want 99 (stale epoch must not have clobbered it)", respBuf2.Data[0])
	}
}

func TestClientBroadcastSynthesizesSuccess(t *testing.T) {
	iface := newFakeInterface()
	c := New(iface, 200*time.Millisecond, nil)

	req := modbus.NewRequest(modbus.BroadcastSlaveID, modbus.FuncWriteSingleRegister, 0, 1)
	req.SetData([]uint16{7})

	var respBuf modbus.Frame
	result := c.SendRequest(&req, &respBuf, nil)
	if result != Success {
		t.Fatalf("broadcast SendRequest = %v, want Success", result)
	}
	if respBuf.ExceptionCode != modbus.ExceptionNone {
		t.Fatalf("broadcast response exception = %v, want none", respBuf.ExceptionCode)
	}
}

func TestClientTxFailure(t *testing.T) {
	iface := newFakeInterface()
	iface.txResult = transport.ErrSendFailed // worker reports the write itself failed
	c := New(iface, 200*time.Millisecond, nil)

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	var respBuf modbus.Frame
	if result := c.SendRequest(&req, &respBuf, nil); result != ErrTxFailed {
		t.Fatalf("SendRequest = %v, want ErrTxFailed", result)
	}
}

func TestClientRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics()

	iface := newFakeInterface()
	iface.autoTX = false
	c := New(iface, 200*time.Millisecond, m)

	go func() {
		time.Sleep(5 * time.Millisecond)
		resp := modbus.Frame{Type: modbus.Response, SlaveID: 1, FC: modbus.FuncReadHoldingRegisters}
		resp.SetData([]uint16{1})
		iface.deliver(&resp)
	}()

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	var respBuf modbus.Frame
	if result := c.SendRequest(&req, &respBuf, nil); result != Success {
		t.Fatalf("SendRequest = %v, want Success", result)
	}

	snapshot := m.GetMetrics()
	clientMetrics := snapshot["client"].(map[string]interface{})
	if clientMetrics["requests_sent"] != int64(1) {
		t.Fatalf("requests_sent = %v, want 1", clientMetrics["requests_sent"])
	}
	if clientMetrics["responses_ok"] != int64(1) {
		t.Fatalf("responses_ok = %v, want 1", clientMetrics["responses_ok"])
	}

	iface2 := newFakeInterface()
	iface2.autoTX = false
	c2 := New(iface2, 20*time.Millisecond, m)
	var respBuf2 modbus.Frame
	if result := c2.SendRequest(&req, &respBuf2, nil); result != ErrTimeout {
		t.Fatalf("SendRequest = %v, want ErrTimeout", result)
	}
	snapshot = m.GetMetrics()
	clientMetrics = snapshot["client"].(map[string]interface{})
	if clientMetrics["timeouts"] != int64(1) {
		t.Fatalf("timeouts = %v, want 1", clientMetrics["timeouts"])
	}
}
