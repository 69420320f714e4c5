// Package modbus defines the shared Modbus PDU representation, function
// codes and exception codes used by the codec, transport, client, server
// and bridge packages.
package modbus

import "fmt"

// FrameType distinguishes a request from a response PDU.
type FrameType int

const (
	Request FrameType = iota
	Response
)

func (t FrameType) String() string {
	if t == Request {
		return "REQUEST"
	}
	return "RESPONSE"
}

// FunctionCode is one of the Modbus function codes this library supports.
type FunctionCode byte

const (
	FuncReadCoils            FunctionCode = 0x01
	FuncReadDiscreteInputs   FunctionCode = 0x02
	FuncReadHoldingRegisters FunctionCode = 0x03
	FuncReadInputRegisters   FunctionCode = 0x04
	FuncWriteSingleCoil      FunctionCode = 0x05
	FuncWriteSingleRegister  FunctionCode = 0x06
	FuncWriteMultipleCoils   FunctionCode = 0x0F
	FuncWriteMultipleRegs    FunctionCode = 0x10

	exceptionBit FunctionCode = 0x80
)

// IsException reports whether fc has the exception bit (0x80) set.
func (fc FunctionCode) IsException() bool {
	return fc&exceptionBit != 0
}

// WithException returns fc with the exception bit set.
func (fc FunctionCode) WithException() FunctionCode {
	return fc | exceptionBit
}

// WithoutException returns fc with the exception bit cleared.
func (fc FunctionCode) WithoutException() FunctionCode {
	return fc &^ exceptionBit
}

// Supported reports whether fc (exception bit cleared) is one of the eight
// function codes this library implements.
func (fc FunctionCode) Supported() bool {
	switch fc.WithoutException() {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncWriteSingleCoil, FuncWriteSingleRegister,
		FuncWriteMultipleCoils, FuncWriteMultipleRegs:
		return true
	}
	return false
}

// IsWrite reports whether fc is one of the write function codes, the only
// ones a broadcast (slave_id == 0) request is permitted to use.
func (fc FunctionCode) IsWrite() bool {
	switch fc.WithoutException() {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegs:
		return true
	}
	return false
}

// IsCoilFC reports whether fc operates on coils/discrete inputs (one word
// per bit) as opposed to registers (one word per 16-bit register).
func (fc FunctionCode) IsCoilFC() bool {
	switch fc.WithoutException() {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncWriteSingleCoil, FuncWriteMultipleCoils:
		return true
	}
	return false
}

// MaxCount returns the maximum reg_count this function code permits.
func (fc FunctionCode) MaxCount() uint16 {
	switch fc.WithoutException() {
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		return 125
	case FuncWriteMultipleRegs:
		return 123
	case FuncReadCoils, FuncReadDiscreteInputs:
		return 2000
	case FuncWriteMultipleCoils:
		return 1968
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		return 1
	}
	return 0
}

// ExceptionCode is a Modbus protocol exception carried in a RESPONSE frame.
type ExceptionCode byte

const (
	ExceptionNone                ExceptionCode = 0x00
	ExceptionIllegalFunction     ExceptionCode = 0x01
	ExceptionIllegalDataAddress  ExceptionCode = 0x02
	ExceptionIllegalDataValue    ExceptionCode = 0x03
	ExceptionSlaveDeviceFailure  ExceptionCode = 0x04
	ExceptionSlaveDeviceBusy     ExceptionCode = 0x06
	ExceptionGatewayTargetFailed ExceptionCode = 0x0B
)

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionNone:
		return "none"
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionSlaveDeviceFailure:
		return "slave device failure"
	case ExceptionSlaveDeviceBusy:
		return "slave device busy"
	case ExceptionGatewayTargetFailed:
		return "gateway target failed to respond"
	default:
		return fmt.Sprintf("exception 0x%02X", byte(e))
	}
}

// MaxDataWords is the data container's fixed capacity: 125 sixteen-bit
// words, matching the largest legal register read (FuncReadHoldingRegisters
// / FuncReadInputRegisters with reg_count == 125).
const MaxDataWords = 125

// BroadcastSlaveID is the reserved slave/unit id meaning "no response
// expected", valid only on REQUEST frames carrying a write function code.
const BroadcastSlaveID = 0

// Frame is a logical Modbus PDU plus addressing, shared by RTU and TCP.
// Data is a fixed-capacity array rather than a slice so that encoding and
// decoding never allocate on the hot path; Len reports how many of its
// 125 slots are populated.
type Frame struct {
	Type          FrameType
	SlaveID       byte
	FC            FunctionCode
	RegAddress    uint16
	RegCount      uint16
	Data          [MaxDataWords]uint16
	Len           int
	ExceptionCode ExceptionCode
}

// NewRequest builds a REQUEST frame with no data words set.
func NewRequest(slaveID byte, fc FunctionCode, regAddress, regCount uint16) Frame {
	return Frame{
		Type:       Request,
		SlaveID:    slaveID,
		FC:         fc,
		RegAddress: regAddress,
		RegCount:   regCount,
	}
}

// SetData copies words into the frame's data container, truncating to
// MaxDataWords and updating Len.
func (f *Frame) SetData(words []uint16) {
	n := len(words)
	if n > MaxDataWords {
		n = MaxDataWords
	}
	copy(f.Data[:n], words[:n])
	f.Len = n
}

// DataSlice returns the frame's populated data words as a slice view.
func (f *Frame) DataSlice() []uint16 {
	return f.Data[:f.Len]
}

// IsBroadcast reports whether this is a REQUEST addressed to the broadcast
// slave id.
func (f *Frame) IsBroadcast() bool {
	return f.Type == Request && f.SlaveID == BroadcastSlaveID
}
