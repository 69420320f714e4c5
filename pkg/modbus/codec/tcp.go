package codec

import (
	"fmt"

	"github.com/edgeflow/modbus/pkg/modbus"
)

// MBAPHeaderLen is the fixed 7-byte Modbus Application Protocol header:
// transaction_id(2) + protocol_id(2) + length(2) + unit_id(1).
const MBAPHeaderLen = 7

// TCPFrame pairs a decoded Frame with the MBAP transaction id that
// correlates a TCP request to its response; unit_id lives on Frame.SlaveID.
type TCPFrame struct {
	TransactionID uint16
	Frame         modbus.Frame
}

// EncodeTCP serializes f into a full MBAP-framed TCP message: header
// (transaction_id, protocol_id=0, length, unit_id) followed by the PDU.
// It reuses the RTU PDU builders since the PDU itself is identical between
// RTU and TCP; only the framing differs.
func EncodeTCP(txnID uint16, f *modbus.Frame) ([]byte, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	pdu := []byte{byte(f.FC)}
	switch {
	case f.Type == modbus.Response && f.FC.IsException():
		pdu = append(pdu, byte(f.ExceptionCode))
	case f.Type == modbus.Request:
		pdu = appendRequestPDU(pdu, f)
	default:
		pdu = appendResponsePDU(pdu, f)
	}

	length := uint16(len(pdu) + 1) // +1 for unit_id, per MBAP's length field definition
	out := make([]byte, 0, MBAPHeaderLen+len(pdu))
	out = append(out,
		byte(txnID>>8), byte(txnID),
		0x00, 0x00, // protocol_id, always 0 for Modbus
		byte(length>>8), byte(length),
		f.SlaveID,
	)
	out = append(out, pdu...)
	return out, nil
}

// DecodeTCP parses a full MBAP-framed TCP message. expected tells the
// decoder which side of the exchange it is parsing.
func DecodeTCP(raw []byte, expected modbus.FrameType) (TCPFrame, error) {
	var out TCPFrame

	if len(raw) < MBAPHeaderLen+2 {
		return out, fmt.Errorf("%w: message shorter than MBAP header plus function code", modbus.ErrInvalidFrame)
	}

	txnID := uint16(raw[0])<<8 | uint16(raw[1])
	protocolID := uint16(raw[2])<<8 | uint16(raw[3])
	length := uint16(raw[4])<<8 | uint16(raw[5])
	unitID := raw[6]

	if protocolID != 0 {
		return out, fmt.Errorf("%w: protocol id %d != 0", modbus.ErrInvalidFrame, protocolID)
	}

	pduBytes := raw[MBAPHeaderLen:]
	if int(length) != len(pduBytes)+1 {
		return out, fmt.Errorf("%w: MBAP length %d does not match %d PDU bytes", modbus.ErrInvalidFrame, length, len(pduBytes))
	}

	var f modbus.Frame
	f.Type = expected
	f.SlaveID = unitID
	fc := modbus.FunctionCode(pduBytes[0])
	pdu := pduBytes[1:]

	if expected == modbus.Response && fc.IsException() {
		if len(pdu) < 1 {
			return out, fmt.Errorf("%w: exception response missing exception code", modbus.ErrInvalidFrame)
		}
		f.FC = fc
		f.ExceptionCode = modbus.ExceptionCode(pdu[0])
		if err := Validate(&f); err != nil {
			return out, err
		}
		out.TransactionID, out.Frame = txnID, f
		return out, nil
	}
	if fc.IsException() {
		return out, fmt.Errorf("%w: request frame cannot carry the exception bit", modbus.ErrInvalidFrame)
	}
	if !fc.Supported() {
		return out, fmt.Errorf("%w: unsupported function code 0x%02X", modbus.ErrInvalidFrame, byte(fc))
	}
	f.FC = fc

	var err error
	if expected == modbus.Request {
		err = decodeRequestPDU(&f, pdu)
	} else {
		err = decodeResponsePDU(&f, pdu)
	}
	if err != nil {
		return out, err
	}
	if err := Validate(&f); err != nil {
		return out, err
	}

	out.TransactionID, out.Frame = txnID, f
	return out, nil
}

// TCPMessageLength inspects a buffered byte stream and reports how many
// total bytes the next complete MBAP message occupies, or 0 if the header
// itself hasn't arrived yet. Callers use this to know when to stop
// accumulating from the socket and hand a complete message to DecodeTCP.
func TCPMessageLength(buffered []byte) int {
	if len(buffered) < MBAPHeaderLen {
		return 0
	}
	length := uint16(buffered[4])<<8 | uint16(buffered[5])
	return MBAPHeaderLen - 1 + int(length)
}
