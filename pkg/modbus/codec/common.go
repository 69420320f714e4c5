// Package codec implements the pure, stateless Modbus RTU and TCP framing
// functions shared by every Interface: encoding/decoding a Frame to/from
// wire bytes, CRC-16, and the coil/register/byte-order helpers callers use
// to interpret a Frame's Data words.
package codec

import (
	"fmt"
	"math"

	"github.com/edgeflow/modbus/pkg/modbus"
)

// Validate enforces the shared is_valid_frame predicate: supported fc,
// reg_count within the function code's limit, broadcast slave id only on
// write REQUESTs, exception codes only on RESPONSE, and a Data length
// consistent with fc/reg_count.
func Validate(f *modbus.Frame) error {
	fc := f.FC
	if !fc.Supported() {
		return fmt.Errorf("%w: unsupported function code 0x%02X", modbus.ErrInvalidFrame, byte(fc.WithoutException()))
	}

	if f.Type == modbus.Response && fc.IsException() {
		if f.ExceptionCode == modbus.ExceptionNone {
			return fmt.Errorf("%w: exception response with no exception code", modbus.ErrInvalidFrame)
		}
		return nil
	}
	if f.Type == modbus.Request && fc.IsException() {
		return fmt.Errorf("%w: request frame cannot carry the exception bit", modbus.ErrInvalidFrame)
	}
	if f.ExceptionCode != modbus.ExceptionNone {
		return fmt.Errorf("%w: exception code set on a non-exception frame", modbus.ErrInvalidFrame)
	}

	if f.SlaveID == modbus.BroadcastSlaveID {
		if f.Type != modbus.Request || !fc.IsWrite() {
			return fmt.Errorf("%w: broadcast slave id only valid on write requests", modbus.ErrInvalidFrame)
		}
	}

	if f.RegCount == 0 {
		return fmt.Errorf("%w: reg_count must be at least 1", modbus.ErrInvalidFrame)
	}
	if max := fc.MaxCount(); f.RegCount > max {
		return fmt.Errorf("%w: reg_count %d exceeds limit %d for fc 0x%02X", modbus.ErrInvalidFrame, f.RegCount, max, byte(fc.WithoutException()))
	}

	return validateDataLength(f)
}

func validateDataLength(f *modbus.Frame) error {
	fc := f.FC.WithoutException()
	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if f.Type == modbus.Request {
			return nil // request carries no data, only addr+count
		}
		if f.Len != int(f.RegCount) {
			return fmt.Errorf("%w: response data length %d != reg_count %d", modbus.ErrInvalidFrame, f.Len, f.RegCount)
		}
	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister:
		if f.Len != 1 {
			return fmt.Errorf("%w: single write must carry exactly 1 data word", modbus.ErrInvalidFrame)
		}
	case modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegs:
		if f.Type == modbus.Request {
			if f.Len != int(f.RegCount) {
				return fmt.Errorf("%w: write request data length %d != reg_count %d", modbus.ErrInvalidFrame, f.Len, f.RegCount)
			}
		}
		// response to a multi-write just echoes addr+count, no data
	}
	return nil
}

// PackCoils packs up to 8 coil words per byte, LSB first, matching the
// wire bitfield layout used by FuncReadCoils/FuncReadDiscreteInputs
// responses and FuncWriteMultipleCoils requests.
func PackCoils(coils []uint16) []byte {
	byteCount := (len(coils) + 7) / 8
	out := make([]byte, byteCount)
	for i, v := range coils {
		if v != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackCoils unpacks a wire bitfield into count coil words (0 or 1 each).
func UnpackCoils(data []byte, count int) []uint16 {
	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		if byteIdx >= len(data) {
			break
		}
		if data[byteIdx]&(1<<bitIdx) != 0 {
			out[i] = 1
		}
	}
	return out
}

// PackRegisters serializes registers as big-endian 16-bit words, matching
// the Modbus wire order.
func PackRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, v := range regs {
		out[i*2] = byte(v >> 8)
		out[i*2+1] = byte(v)
	}
	return out
}

// UnpackRegisters deserializes count big-endian 16-bit words.
func UnpackRegisters(data []byte, count int) []uint16 {
	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		off := i * 2
		if off+1 >= len(data) {
			break
		}
		out[i] = uint16(data[off])<<8 | uint16(data[off+1])
	}
	return out
}

// RegistersToFloat32 decodes two consecutive big-endian 16-bit words
// (word order: high register first, per spec.md's big-endian word order)
// as an IEEE-754 single-precision float.
func RegistersToFloat32(hi, lo uint16) float32 {
	bits := uint32(hi)<<16 | uint32(lo)
	return math.Float32frombits(bits)
}

// Float32ToRegisters encodes an IEEE-754 single-precision float as two
// big-endian 16-bit words (high register first).
func Float32ToRegisters(f float32) (hi, lo uint16) {
	bits := math.Float32bits(f)
	return uint16(bits >> 16), uint16(bits)
}

// ByteOrder is one of the six 16/32-bit word-and-byte orderings the wire
// helpers support when a register pair encodes a larger value than the
// Modbus spec itself defines (vendor-specific float/int32 layouts).
type ByteOrder int

const (
	AB   ByteOrder = iota // 16-bit, big-endian (wire-native)
	BA                    // 16-bit, byte-swapped
	ABCD                  // 32-bit, big-endian words and bytes (wire-native)
	CDAB                  // 32-bit, word-swapped
	BADC                  // 32-bit, byte-swapped within each word
	DCBA                  // 32-bit, fully little-endian
)

// Swap16 reorders a single register's two bytes per order (AB is a no-op,
// BA swaps them). Orders outside {AB, BA} are meaningless for a 16-bit
// value and return v unchanged.
func Swap16(v uint16, order ByteOrder) uint16 {
	if order == BA {
		return v>>8 | v<<8
	}
	return v
}

// Combine32 assembles two registers (as transmitted on the wire, hi then
// lo) into a 32-bit value per the requested byte order.
func Combine32(hi, lo uint16, order ByteOrder) uint32 {
	switch order {
	case CDAB:
		hi, lo = lo, hi
	case BADC:
		hi, lo = Swap16(hi, BA), Swap16(lo, BA)
	case DCBA:
		hi, lo = Swap16(lo, BA), Swap16(hi, BA)
	}
	return uint32(hi)<<16 | uint32(lo)
}

// Split32 is the inverse of Combine32: given a 32-bit value and a byte
// order, returns the two registers (hi, lo) as they should appear on the
// wire.
func Split32(v uint32, order ByteOrder) (hi, lo uint16) {
	hi, lo = uint16(v>>16), uint16(v)
	switch order {
	case CDAB:
		return lo, hi
	case BADC:
		return Swap16(hi, BA), Swap16(lo, BA)
	case DCBA:
		return Swap16(lo, BA), Swap16(hi, BA)
	}
	return hi, lo
}
