package modbus

import "errors"

// Error sentinels shared across the packages: the codec wraps
// ErrInvalidFrame, WordStore registration returns the ErrWord* values and
// bridge.New returns ErrInvalidRole. Interface.SendFrame, the Client and
// the Server report their outcomes through their own Result enums instead.
// Modbus protocol exceptions are NOT represented here — they travel inside
// a successfully decoded Frame's ExceptionCode field.
var (
	// Shared / Interface
	ErrInvalidFrame     = errors.New("modbus: invalid frame")
	ErrBusy             = errors.New("modbus: busy")
	ErrNotInitialized   = errors.New("modbus: not initialized")
	ErrInitFailed       = errors.New("modbus: initialization failed")
	ErrRxFailed         = errors.New("modbus: rx failed")
	ErrSendFailed       = errors.New("modbus: send failed")
	ErrInvalidMsgType   = errors.New("modbus: invalid message type")
	ErrInvalidTxnID     = errors.New("modbus: invalid transaction id")
	ErrInvalidRole      = errors.New("modbus: invalid role")
	ErrTooManyCallbacks = errors.New("modbus: too many receive callbacks")
	ErrNoCallbacks      = errors.New("modbus: no receive callbacks registered")
	ErrConnectionFailed = errors.New("modbus: connection failed")
	ErrConfigFailed     = errors.New("modbus: configuration failed")

	// Client
	ErrTxFailed         = errors.New("modbus: transmission failed")
	ErrTimeout          = errors.New("modbus: request timed out")
	ErrInvalidResponse  = errors.New("modbus: invalid response")

	// Server word registration
	ErrWordInvalid   = errors.New("modbus: invalid word definition")
	ErrWordDirectPtr = errors.New("modbus: direct pointer mode invalid for this word")
	ErrWordHandler   = errors.New("modbus: handler presence invalid for this word's register type")
	ErrWordOverlap   = errors.New("modbus: word overlaps an existing word of the same register type")
	ErrWordOverflow  = errors.New("modbus: word store at capacity")
)

// Role is an Interface's application role.
type Role int

const (
	RoleClient Role = iota // MASTER
	RoleServer             // SLAVE
)

func (r Role) String() string {
	if r == RoleClient {
		return "CLIENT"
	}
	return "SERVER"
}

// RegisterType is a Server Word's address space: coils, discrete inputs,
// holding registers or input registers each occupy an independent address
// axis.
type RegisterType int

const (
	Coil RegisterType = iota
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (t RegisterType) String() string {
	switch t {
	case Coil:
		return "COIL"
	case DiscreteInput:
		return "DISCRETE_INPUT"
	case HoldingRegister:
		return "HOLDING_REGISTER"
	case InputRegister:
		return "INPUT_REGISTER"
	default:
		return "UNKNOWN"
	}
}

// ReadOnly reports whether values of this register type can only be read,
// never written by a client (DISCRETE_INPUT, INPUT_REGISTER).
func (t RegisterType) ReadOnly() bool {
	return t == DiscreteInput || t == InputRegister
}

// FunctionPermitted reports whether fc is legal against this register type.
func (t RegisterType) FunctionPermitted(fc FunctionCode) bool {
	switch t {
	case Coil:
		switch fc.WithoutException() {
		case FuncReadCoils, FuncWriteSingleCoil, FuncWriteMultipleCoils:
			return true
		}
	case DiscreteInput:
		return fc.WithoutException() == FuncReadDiscreteInputs
	case HoldingRegister:
		switch fc.WithoutException() {
		case FuncReadHoldingRegisters, FuncWriteSingleRegister, FuncWriteMultipleRegs:
			return true
		}
	case InputRegister:
		return fc.WithoutException() == FuncReadInputRegisters
	}
	return false
}

// FunctionCodeRegisterType maps a function code to the register type it
// addresses.
func FunctionCodeRegisterType(fc FunctionCode) RegisterType {
	switch fc.WithoutException() {
	case FuncReadCoils, FuncWriteSingleCoil, FuncWriteMultipleCoils:
		return Coil
	case FuncReadDiscreteInputs:
		return DiscreteInput
	case FuncReadHoldingRegisters, FuncWriteSingleRegister, FuncWriteMultipleRegs:
		return HoldingRegister
	case FuncReadInputRegisters:
		return InputRegister
	}
	return HoldingRegister
}
