package codec

import (
	"fmt"

	"github.com/edgeflow/modbus/pkg/modbus"
)

// MinRTUFrameLen is the shortest byte string that could possibly be a valid
// RTU frame: slave_id(1) + fc(1) + crc(2). Anything shorter is noise.
const MinRTUFrameLen = 4

// crcTable-free bit-shift CRC-16/MODBUS, matching the teacher's
// modbus_rtu.go calculateCRC: poly 0xA001, seed 0xFFFF, LSB-first.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func appendCRC(frame []byte) []byte {
	crc := crc16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

func verifyCRC(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	body, want := frame[:len(frame)-2], frame[len(frame)-2:]
	crc := crc16(body)
	return want[0] == byte(crc) && want[1] == byte(crc>>8)
}

// EncodeRTU serializes f to an RTU wire frame: slave_id | PDU | CRC16
// (little-endian, low byte first).
func EncodeRTU(f *modbus.Frame) ([]byte, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 2+4+f.Len*2)
	buf = append(buf, f.SlaveID, byte(f.FC))

	switch {
	case f.Type == modbus.Response && f.FC.IsException():
		buf = append(buf, byte(f.ExceptionCode))

	case f.Type == modbus.Request:
		buf = appendRequestPDU(buf, f)

	default: // Response, non-exception
		buf = appendResponsePDU(buf, f)
	}

	return appendCRC(buf), nil
}

func appendRequestPDU(buf []byte, f *modbus.Frame) []byte {
	buf = append(buf, byte(f.RegAddress>>8), byte(f.RegAddress))
	switch f.FC.WithoutException() {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		buf = append(buf, byte(f.RegCount>>8), byte(f.RegCount))

	case modbus.FuncWriteSingleCoil:
		v := uint16(0)
		if f.Data[0] != 0 {
			v = 0xFF00
		}
		buf = append(buf, byte(v>>8), byte(v))

	case modbus.FuncWriteSingleRegister:
		buf = append(buf, byte(f.Data[0]>>8), byte(f.Data[0]))

	case modbus.FuncWriteMultipleCoils:
		buf = append(buf, byte(f.RegCount>>8), byte(f.RegCount))
		packed := PackCoils(f.DataSlice())
		buf = append(buf, byte(len(packed)))
		buf = append(buf, packed...)

	case modbus.FuncWriteMultipleRegs:
		buf = append(buf, byte(f.RegCount>>8), byte(f.RegCount))
		packed := PackRegisters(f.DataSlice())
		buf = append(buf, byte(len(packed)))
		buf = append(buf, packed...)
	}
	return buf
}

func appendResponsePDU(buf []byte, f *modbus.Frame) []byte {
	switch f.FC.WithoutException() {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		packed := PackCoils(f.DataSlice())
		buf = append(buf, byte(len(packed)))
		buf = append(buf, packed...)

	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		packed := PackRegisters(f.DataSlice())
		buf = append(buf, byte(len(packed)))
		buf = append(buf, packed...)

	case modbus.FuncWriteSingleCoil:
		v := uint16(0)
		if f.Data[0] != 0 {
			v = 0xFF00
		}
		buf = append(buf, byte(f.RegAddress>>8), byte(f.RegAddress), byte(v>>8), byte(v))

	case modbus.FuncWriteSingleRegister:
		buf = append(buf, byte(f.RegAddress>>8), byte(f.RegAddress), byte(f.Data[0]>>8), byte(f.Data[0]))

	case modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegs:
		buf = append(buf, byte(f.RegAddress>>8), byte(f.RegAddress), byte(f.RegCount>>8), byte(f.RegCount))
	}
	return buf
}

// DecodeRTU parses an RTU wire frame. expected tells the decoder which side
// of the exchange it is parsing: a CLIENT decodes RESPONSE bytes, a SERVER
// decodes REQUEST bytes.
func DecodeRTU(raw []byte, expected modbus.FrameType) (modbus.Frame, error) {
	var f modbus.Frame

	if len(raw) < MinRTUFrameLen {
		return f, fmt.Errorf("%w: frame too short (%d bytes)", modbus.ErrInvalidFrame, len(raw))
	}
	if !verifyCRC(raw) {
		return f, fmt.Errorf("%w: CRC mismatch", modbus.ErrInvalidFrame)
	}

	body := raw[:len(raw)-2]
	f.Type = expected
	f.SlaveID = body[0]
	fc := modbus.FunctionCode(body[1])
	pdu := body[2:]

	if expected == modbus.Response && fc.IsException() {
		if len(pdu) < 1 {
			return f, fmt.Errorf("%w: exception response missing exception code", modbus.ErrInvalidFrame)
		}
		f.FC = fc
		f.ExceptionCode = modbus.ExceptionCode(pdu[0])
		return f, Validate(&f)
	}
	if fc.IsException() {
		return f, fmt.Errorf("%w: request frame cannot carry the exception bit", modbus.ErrInvalidFrame)
	}
	if !fc.Supported() {
		return f, fmt.Errorf("%w: unsupported function code 0x%02X", modbus.ErrInvalidFrame, byte(fc))
	}
	f.FC = fc

	var err error
	if expected == modbus.Request {
		err = decodeRequestPDU(&f, pdu)
	} else {
		err = decodeResponsePDU(&f, pdu)
	}
	if err != nil {
		return f, err
	}
	return f, Validate(&f)
}

func decodeRequestPDU(f *modbus.Frame, pdu []byte) error {
	if len(pdu) < 4 {
		return fmt.Errorf("%w: request PDU too short", modbus.ErrInvalidFrame)
	}
	f.RegAddress = uint16(pdu[0])<<8 | uint16(pdu[1])

	switch f.FC {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		f.RegCount = uint16(pdu[2])<<8 | uint16(pdu[3])

	case modbus.FuncWriteSingleCoil:
		f.RegCount = 1
		v := uint16(pdu[2])<<8 | uint16(pdu[3])
		coil := uint16(0)
		if v == 0xFF00 {
			coil = 1
		} else if v != 0x0000 {
			return fmt.Errorf("%w: write single coil value must be 0x0000 or 0xFF00", modbus.ErrInvalidFrame)
		}
		f.SetData([]uint16{coil})

	case modbus.FuncWriteSingleRegister:
		f.RegCount = 1
		f.SetData([]uint16{uint16(pdu[2])<<8 | uint16(pdu[3])})

	case modbus.FuncWriteMultipleCoils:
		if len(pdu) < 5 {
			return fmt.Errorf("%w: write multiple coils PDU too short", modbus.ErrInvalidFrame)
		}
		f.RegCount = uint16(pdu[2])<<8 | uint16(pdu[3])
		byteCount := int(pdu[4])
		if len(pdu) < 5+byteCount {
			return fmt.Errorf("%w: write multiple coils byte count mismatch", modbus.ErrInvalidFrame)
		}
		f.SetData(UnpackCoils(pdu[5:5+byteCount], int(f.RegCount)))

	case modbus.FuncWriteMultipleRegs:
		if len(pdu) < 5 {
			return fmt.Errorf("%w: write multiple registers PDU too short", modbus.ErrInvalidFrame)
		}
		f.RegCount = uint16(pdu[2])<<8 | uint16(pdu[3])
		byteCount := int(pdu[4])
		if len(pdu) < 5+byteCount {
			return fmt.Errorf("%w: write multiple registers byte count mismatch", modbus.ErrInvalidFrame)
		}
		f.SetData(UnpackRegisters(pdu[5:5+byteCount], int(f.RegCount)))
	}
	return nil
}

func decodeResponsePDU(f *modbus.Frame, pdu []byte) error {
	switch f.FC {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		if len(pdu) < 1 {
			return fmt.Errorf("%w: read coils response missing byte count", modbus.ErrInvalidFrame)
		}
		byteCount := int(pdu[0])
		if len(pdu) < 1+byteCount {
			return fmt.Errorf("%w: read coils response byte count mismatch", modbus.ErrInvalidFrame)
		}
		count := byteCount * 8
		if count > modbus.MaxDataWords {
			count = modbus.MaxDataWords
		}
		f.RegCount = uint16(count)
		f.SetData(UnpackCoils(pdu[1:1+byteCount], count))

	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if len(pdu) < 1 {
			return fmt.Errorf("%w: read registers response missing byte count", modbus.ErrInvalidFrame)
		}
		byteCount := int(pdu[0])
		if len(pdu) < 1+byteCount || byteCount%2 != 0 {
			return fmt.Errorf("%w: read registers response byte count mismatch", modbus.ErrInvalidFrame)
		}
		count := byteCount / 2
		f.RegCount = uint16(count)
		f.SetData(UnpackRegisters(pdu[1:1+byteCount], count))

	case modbus.FuncWriteSingleCoil:
		if len(pdu) < 4 {
			return fmt.Errorf("%w: write single coil response too short", modbus.ErrInvalidFrame)
		}
		f.RegAddress = uint16(pdu[0])<<8 | uint16(pdu[1])
		f.RegCount = 1
		v := uint16(pdu[2])<<8 | uint16(pdu[3])
		coil := uint16(0)
		if v == 0xFF00 {
			coil = 1
		}
		f.SetData([]uint16{coil})

	case modbus.FuncWriteSingleRegister:
		if len(pdu) < 4 {
			return fmt.Errorf("%w: write single register response too short", modbus.ErrInvalidFrame)
		}
		f.RegAddress = uint16(pdu[0])<<8 | uint16(pdu[1])
		f.RegCount = 1
		f.SetData([]uint16{uint16(pdu[2])<<8 | uint16(pdu[3])})

	case modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegs:
		if len(pdu) < 4 {
			return fmt.Errorf("%w: write multiple response too short", modbus.ErrInvalidFrame)
		}
		f.RegAddress = uint16(pdu[0])<<8 | uint16(pdu[1])
		f.RegCount = uint16(pdu[2])<<8 | uint16(pdu[3])
	}
	return nil
}
