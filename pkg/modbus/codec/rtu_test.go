package codec

import (
	"bytes"
	"testing"

	"github.com/edgeflow/modbus/pkg/modbus"
)

func TestCRC16KnownVector(t *testing.T) {
	// 01 03 00 00 00 0A is a textbook Modbus RTU request (read 10 holding
	// registers from addr 0, slave 1); the full wire frame is widely quoted
	// as ending in C5 CD (low byte first), i.e. crc16() == 0xCDC5.
	got := crc16([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	if got != 0xCDC5 {
		t.Fatalf("crc16 = 0x%04X, want 0xCDC5", got)
	}
}

func TestRTURoundTripReadHoldingRequest(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 100, 1)

	wire, err := EncodeRTU(&req)
	if err != nil {
		t.Fatalf("EncodeRTU: %v", err)
	}

	got, err := DecodeRTU(wire, modbus.Request)
	if err != nil {
		t.Fatalf("DecodeRTU: %v", err)
	}
	if got.SlaveID != req.SlaveID || got.FC != req.FC || got.RegAddress != req.RegAddress || got.RegCount != req.RegCount {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestRTUScenario1SyncReadSingle(t *testing.T) {
	// End-to-end scenario 1: slave 1, read holding, addr 100, count 1.
	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 100, 1)
	wire, err := EncodeRTU(&req)
	if err != nil {
		t.Fatalf("EncodeRTU: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x64, 0x00, 0x01}
	want = appendCRC(want)
	if !bytes.Equal(wire, want) {
		t.Fatalf("request wire = % X, want % X", wire, want)
	}

	var resp modbus.Frame
	resp.Type = modbus.Response
	resp.SlaveID = 1
	resp.FC = modbus.FuncReadHoldingRegisters
	resp.RegCount = 1
	resp.SetData([]uint16{1000})

	respWire, err := EncodeRTU(&resp)
	if err != nil {
		t.Fatalf("EncodeRTU response: %v", err)
	}
	wantResp := []byte{0x01, 0x03, 0x02, 0x03, 0xE8}
	wantResp = appendCRC(wantResp)
	if !bytes.Equal(respWire, wantResp) {
		t.Fatalf("response wire = % X, want % X", respWire, wantResp)
	}

	decoded, err := DecodeRTU(respWire, modbus.Response)
	if err != nil {
		t.Fatalf("DecodeRTU response: %v", err)
	}
	if decoded.Data[0] != 1000 {
		t.Fatalf("decoded.Data[0] = %d, want 1000", decoded.Data[0])
	}
}

func TestRTUCRCBitFlipRejected(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 100, 1)
	wire, err := EncodeRTU(&req)
	if err != nil {
		t.Fatalf("EncodeRTU: %v", err)
	}

	for bit := 0; bit < 8; bit++ {
		flipped := make([]byte, len(wire))
		copy(flipped, wire)
		flipped[0] ^= 1 << uint(bit)

		if _, err := DecodeRTU(flipped, modbus.Request); err == nil {
			t.Fatalf("bit %d: expected CRC mismatch to be rejected", bit)
		}
	}
}

func TestRTUFramesShorterThan4BytesRejected(t *testing.T) {
	for n := 0; n <= 3; n++ {
		if _, err := DecodeRTU(make([]byte, n), modbus.Request); err == nil {
			t.Fatalf("length %d: expected rejection", n)
		}
	}
}

func TestRTUWriteSingleCoil(t *testing.T) {
	req := modbus.NewRequest(5, modbus.FuncWriteSingleCoil, 10, 1)
	req.SetData([]uint16{1})

	wire, err := EncodeRTU(&req)
	if err != nil {
		t.Fatalf("EncodeRTU: %v", err)
	}

	decoded, err := DecodeRTU(wire, modbus.Request)
	if err != nil {
		t.Fatalf("DecodeRTU: %v", err)
	}
	if decoded.Data[0] != 1 {
		t.Fatalf("decoded coil value = %d, want 1", decoded.Data[0])
	}
}

func TestRTUWriteMultipleRegisters(t *testing.T) {
	req := modbus.NewRequest(1, modbus.FuncWriteMultipleRegs, 400, 2)
	req.SetData([]uint16{225, 450})

	wire, err := EncodeRTU(&req)
	if err != nil {
		t.Fatalf("EncodeRTU: %v", err)
	}

	decoded, err := DecodeRTU(wire, modbus.Request)
	if err != nil {
		t.Fatalf("DecodeRTU: %v", err)
	}
	if decoded.Data[0] != 225 || decoded.Data[1] != 450 {
		t.Fatalf("decoded data = %v, want [225 450]", decoded.DataSlice())
	}
}

func TestRTUExceptionResponse(t *testing.T) {
	resp := modbus.Frame{
		Type:          modbus.Response,
		SlaveID:       1,
		FC:            modbus.FuncReadHoldingRegisters.WithException(),
		ExceptionCode: modbus.ExceptionIllegalDataAddress,
	}

	wire, err := EncodeRTU(&resp)
	if err != nil {
		t.Fatalf("EncodeRTU: %v", err)
	}
	decoded, err := DecodeRTU(wire, modbus.Response)
	if err != nil {
		t.Fatalf("DecodeRTU: %v", err)
	}
	if !decoded.FC.IsException() || decoded.ExceptionCode != modbus.ExceptionIllegalDataAddress {
		t.Fatalf("decoded exception = %+v", decoded)
	}
}

func TestRegisterCountBoundaries(t *testing.T) {
	ok := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 125)
	if _, err := EncodeRTU(&ok); err != nil {
		t.Fatalf("count 125 should be accepted: %v", err)
	}

	tooMany := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 126)
	if _, err := EncodeRTU(&tooMany); err == nil {
		t.Fatalf("count 126 should be rejected")
	}

	coilsOK := modbus.NewRequest(1, modbus.FuncReadCoils, 0, 2000)
	if _, err := EncodeRTU(&coilsOK); err != nil {
		t.Fatalf("coil count 2000 should be accepted: %v", err)
	}
	coilsTooMany := modbus.NewRequest(1, modbus.FuncReadCoils, 0, 2001)
	if _, err := EncodeRTU(&coilsTooMany); err == nil {
		t.Fatalf("coil count 2001 should be rejected")
	}

	zero := modbus.NewRequest(1, modbus.FuncReadHoldingRegisters, 0, 0)
	if _, err := EncodeRTU(&zero); err == nil {
		t.Fatalf("zero count should be rejected")
	}
}
