package codec

import "testing"

func TestPackUnpackCoils(t *testing.T) {
	coils := []uint16{1, 0, 1, 1, 0, 0, 0, 1, 1}
	packed := PackCoils(coils)
	if len(packed) != 2 {
		t.Fatalf("packed length = %d, want 2", len(packed))
	}
	unpacked := UnpackCoils(packed, len(coils))
	for i, v := range coils {
		if unpacked[i] != v {
			t.Fatalf("coil %d = %d, want %d", i, unpacked[i], v)
		}
	}
}

func TestPackUnpackRegisters(t *testing.T) {
	regs := []uint16{0x0102, 0xABCD, 0}
	packed := PackRegisters(regs)
	unpacked := UnpackRegisters(packed, len(regs))
	for i, v := range regs {
		if unpacked[i] != v {
			t.Fatalf("register %d = 0x%04X, want 0x%04X", i, unpacked[i], v)
		}
	}
}

func TestFloat32RegisterRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 3.14159, -273.15}
	for _, v := range values {
		hi, lo := Float32ToRegisters(v)
		got := RegistersToFloat32(hi, lo)
		if got != v {
			t.Fatalf("float round trip: got %v, want %v", got, v)
		}
	}
}

func TestByteOrderSwap(t *testing.T) {
	if got := Swap16(0x1234, BA); got != 0x3412 {
		t.Fatalf("Swap16 BA = 0x%04X, want 0x3412", got)
	}
	if got := Swap16(0x1234, AB); got != 0x1234 {
		t.Fatalf("Swap16 AB = 0x%04X, want 0x1234", got)
	}
}

func TestCombineSplit32RoundTrip(t *testing.T) {
	orders := []ByteOrder{ABCD, CDAB, BADC, DCBA}
	value := uint32(0x12345678)
	for _, order := range orders {
		hi, lo := Split32(value, order)
		got := Combine32(hi, lo, order)
		if got != value {
			t.Fatalf("order %v: round trip = 0x%08X, want 0x%08X", order, got, value)
		}
	}
}
