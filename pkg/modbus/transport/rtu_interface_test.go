package transport

import (
	"testing"
	"time"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/codec"
)

func TestSilenceForLowBaudIs3Point5CharTimes(t *testing.T) {
	got := silenceFor(RTUConfig{BaudRate: 9600})
	charTime := time.Duration(float64(11) / 9600 * float64(time.Second))
	want := time.Duration(float64(charTime) * 3.5)
	if got != want {
		t.Fatalf("silenceFor(9600) = %v, want %v", got, want)
	}
}

func TestSilenceForHighBaudIsFixed1750us(t *testing.T) {
	got := silenceFor(RTUConfig{BaudRate: 115200})
	if got != 1750*time.Microsecond {
		t.Fatalf("silenceFor(115200) = %v, want 1750us", got)
	}
}

func TestSilenceForExplicitOverrideWins(t *testing.T) {
	got := silenceFor(RTUConfig{BaudRate: 9600, SilenceUs: 500})
	if got != 500*time.Microsecond {
		t.Fatalf("silenceFor with override = %v, want 500us", got)
	}
}

// newBareRTUInterface builds an RTUInterface with just enough internal
// state wired up to exercise decodeAndDispatch/SendFrame's queuing logic
// without opening a real serial port (Begin() is not called).
func newBareRTUInterface(role modbus.Role, slaveID byte) *RTUInterface {
	return &RTUInterface{
		cfg:     RTUConfig{BaudRate: 9600},
		role:    role,
		slaveID: slaveID,
		silence: silenceFor(RTUConfig{BaudRate: 9600}),
		ready:   true,
		txCh:    make(chan txRequest, 1),
		rxCh:    make(chan rxEvent, 8),
		doneCh:  make(chan struct{}),
	}
}

func TestRTUInterfaceServerFiltersBySlaveID(t *testing.T) {
	r := newBareRTUInterface(modbus.RoleServer, 5)

	var received []*modbus.Frame
	r.SetReceiveCallback(func(f *modbus.Frame) { received = append(received, f) })

	req := modbus.NewRequest(5, modbus.FuncReadHoldingRegisters, 0, 1)
	wireMine, err := codec.EncodeRTU(&req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r.decodeAndDispatch(wireMine)
	if len(received) != 1 {
		t.Fatalf("expected 1 dispatched frame for matching slave id, got %d", len(received))
	}

	foreign := modbus.NewRequest(9, modbus.FuncReadHoldingRegisters, 0, 1)
	wireForeign, err := codec.EncodeRTU(&foreign)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r.decodeAndDispatch(wireForeign)
	if len(received) != 1 {
		t.Fatalf("foreign slave id must not be dispatched, got %d frames", len(received))
	}
}

func TestRTUInterfaceServerAcceptsBroadcast(t *testing.T) {
	r := newBareRTUInterface(modbus.RoleServer, 5)

	var received []*modbus.Frame
	r.SetReceiveCallback(func(f *modbus.Frame) { received = append(received, f) })

	req := modbus.NewRequest(modbus.BroadcastSlaveID, modbus.FuncWriteSingleRegister, 0, 1)
	req.SetData([]uint16{1})
	wire, err := codec.EncodeRTU(&req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r.decodeAndDispatch(wire)
	if len(received) != 1 {
		t.Fatalf("broadcast must be dispatched regardless of slave id, got %d frames", len(received))
	}
}

func TestRTUInterfaceSendFrameBusyWhileTxQueued(t *testing.T) {
	r := newBareRTUInterface(modbus.RoleClient, 0)

	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	if result := r.SendFrame(&req, func(Result) {}, nil); result != Success {
		t.Fatalf("first SendFrame = %v, want Success", result)
	}
	if result := r.SendFrame(&req, func(Result) {}, nil); result != ErrBusy {
		t.Fatalf("second SendFrame while queued = %v, want ErrBusy", result)
	}
}

func TestRTUInterfaceSendFrameRejectsUnencodableFrame(t *testing.T) {
	r := newBareRTUInterface(modbus.RoleClient, 0)

	bad := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 0) // zero count rejected by codec
	if result := r.SendFrame(&bad, func(Result) {}, nil); result != ErrInvalidFrame {
		t.Fatalf("SendFrame with invalid frame = %v, want ErrInvalidFrame", result)
	}
}
