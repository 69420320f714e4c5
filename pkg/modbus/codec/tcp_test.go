package codec

import (
	"bytes"
	"testing"

	"github.com/edgeflow/modbus/pkg/modbus"
)

func TestTCPRoundTrip(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 100, 1)

	wire, err := EncodeTCP(42, &req)
	if err != nil {
		t.Fatalf("EncodeTCP: %v", err)
	}

	tf, err := DecodeTCP(wire, modbus.Request)
	if err != nil {
		t.Fatalf("DecodeTCP: %v", err)
	}
	if tf.TransactionID != 42 {
		t.Fatalf("transaction id = %d, want 42", tf.TransactionID)
	}
	if tf.Frame.SlaveID != req.SlaveID || tf.Frame.RegAddress != req.RegAddress {
		t.Fatalf("round trip mismatch: got %+v", tf.Frame)
	}
}

func TestTCPScenario2AsyncWriteMultipleRegisters(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncWriteMultipleRegs, 400, 2)
	req.SetData([]uint16{225, 450})

	const txnID = 0x1234
	wire, err := EncodeTCP(txnID, &req)
	if err != nil {
		t.Fatalf("EncodeTCP: %v", err)
	}

	want := []byte{
		0x12, 0x34, // transaction id
		0x00, 0x00, // protocol id
		0x00, 0x0B, // length = 11
		0x01,       // unit id
		0x10,       // fc
		0x01, 0x90, // addr 400
		0x00, 0x02, // count 2
		0x04,       // byte count
		0x00, 0xE1, // 225
		0x01, 0xC2, // 450
	}
	if !bytes.Equal(wire, want) {
		t.Fatalf("request wire = % X, want % X", wire, want)
	}

	respFrame := modbus.Frame{
		Type:       modbus.Response,
		SlaveID:    1,
		FC:         modbus.FuncWriteMultipleRegs,
		RegAddress: 400,
		RegCount:   2,
	}
	respWire, err := EncodeTCP(txnID, &respFrame)
	if err != nil {
		t.Fatalf("EncodeTCP response: %v", err)
	}
	wantResp := []byte{
		0x12, 0x34,
		0x00, 0x00,
		0x00, 0x06,
		0x01,
		0x10,
		0x01, 0x90,
		0x00, 0x02,
	}
	if !bytes.Equal(respWire, wantResp) {
		t.Fatalf("response wire = % X, want % X", respWire, wantResp)
	}
}

func TestTCPProtocolIDMismatchRejected(t *testing.T) {
	// A complete read-holding request whose only defect is protocol id 1.
	raw := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	if _, err := DecodeTCP(raw, modbus.Request); err == nil {
		t.Fatalf("expected rejection for non-zero protocol id")
	}
}

func TestTCPMessageLength(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	wire, err := EncodeTCP(1, &req)
	if err != nil {
		t.Fatalf("EncodeTCP: %v", err)
	}

	if got := TCPMessageLength(wire[:MBAPHeaderLen-1]); got != 0 {
		t.Fatalf("incomplete header should report 0, got %d", got)
	}
	if got := TCPMessageLength(wire); got != len(wire) {
		t.Fatalf("TCPMessageLength = %d, want %d", got, len(wire))
	}

	// A second frame immediately following should not affect the first
	// message's reported length.
	concatenated := append(append([]byte{}, wire...), wire...)
	if got := TCPMessageLength(concatenated); got != len(wire) {
		t.Fatalf("TCPMessageLength over concatenated stream = %d, want %d", got, len(wire))
	}
}

func TestTCPLengthMismatchRejected(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 1)
	wire, err := EncodeTCP(1, &req)
	if err != nil {
		t.Fatalf("EncodeTCP: %v", err)
	}
	// Corrupt the length field to disagree with the actual PDU size.
	corrupted := make([]byte, len(wire))
	copy(corrupted, wire)
	corrupted[5] += 1

	if _, err := DecodeTCP(corrupted, modbus.Request); err == nil {
		t.Fatalf("expected rejection for MBAP length mismatch")
	}
}
