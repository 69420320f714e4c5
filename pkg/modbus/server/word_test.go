package server

import (
	"testing"

	"github.com/edgeflow/modbus/pkg/modbus"
)

func TestWordValidateDirectPtrRejectsMultiReg(t *testing.T) {
	var v uint16
	w := &Word{RegType: modbus.HoldingRegister, StartAddr: 0, NbRegs: 2, DirectPtr: &v}
	if err := w.validate(); err != modbus.ErrWordDirectPtr {
		t.Fatalf("err = %v, want ErrWordDirectPtr", err)
	}
}

func TestWordValidateRequiresReadHandler(t *testing.T) {
	w := &Word{RegType: modbus.HoldingRegister, StartAddr: 0, NbRegs: 1}
	if err := w.validate(); err != modbus.ErrWordHandler {
		t.Fatalf("err = %v, want ErrWordHandler", err)
	}
}

func TestWordValidateRejectsWriteHandlerOnReadOnlyType(t *testing.T) {
	w := &Word{
		RegType:   modbus.InputRegister,
		StartAddr: 0,
		NbRegs:    1,
		ReadFn:    func(uint16, uint16, interface{}) ([]uint16, modbus.ExceptionCode) { return []uint16{0}, modbus.ExceptionNone },
		WriteFn:   func(uint16, []uint16, interface{}) modbus.ExceptionCode { return modbus.ExceptionNone },
	}
	if err := w.validate(); err != modbus.ErrWordHandler {
		t.Fatalf("err = %v, want ErrWordHandler", err)
	}
}

func TestWordStoreOverlapRejected(t *testing.T) {
	s := NewWordStore(0)
	var v uint16
	a := &Word{RegType: modbus.HoldingRegister, StartAddr: 100, NbRegs: 2, DirectPtr: &v}
	b := &Word{RegType: modbus.HoldingRegister, StartAddr: 101, NbRegs: 1, DirectPtr: &v}

	if err := s.AddWord(a); err != nil {
		t.Fatalf("AddWord a: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.AddWord(b); err != modbus.ErrWordOverlap {
		t.Fatalf("AddWord b overlap = %v, want ErrWordOverlap", err)
	}
}

func TestWordStoreBeginDetectsPreexistingOverlap(t *testing.T) {
	s := NewWordStore(0)
	var v uint16
	a := &Word{RegType: modbus.Coil, StartAddr: 0, NbRegs: 4, DirectPtr: nil,
		ReadFn:  func(uint16, uint16, interface{}) ([]uint16, modbus.ExceptionCode) { return make([]uint16, 4), modbus.ExceptionNone },
		WriteFn: func(uint16, []uint16, interface{}) modbus.ExceptionCode { return modbus.ExceptionNone },
	}
	b := &Word{RegType: modbus.Coil, StartAddr: 2, NbRegs: 1, DirectPtr: &v}

	if err := s.AddWord(a); err != nil {
		t.Fatalf("AddWord a: %v", err)
	}
	if err := s.AddWord(b); err != nil {
		t.Fatalf("AddWord b (pre-Begin, unsorted append): %v", err)
	}
	if err := s.Begin(); err != modbus.ErrWordOverlap {
		t.Fatalf("Begin = %v, want ErrWordOverlap", err)
	}
}

func TestWordStoreAddWordsAtomicRollback(t *testing.T) {
	s := NewWordStore(0)
	var v1, v2 uint16
	good := &Word{RegType: modbus.HoldingRegister, StartAddr: 0, NbRegs: 1, DirectPtr: &v1}
	bad := &Word{RegType: modbus.HoldingRegister, StartAddr: 0, NbRegs: 1, DirectPtr: &v2} // duplicate key

	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.AddWords([]*Word{good, bad}); err == nil {
		t.Fatalf("expected AddWords batch failure")
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after rollback", s.Count())
	}
}

func TestWordStoreLookupRangeOrdersByAddress(t *testing.T) {
	s := NewWordStore(0)
	var a, b, c uint16
	wa := &Word{RegType: modbus.HoldingRegister, StartAddr: 0, NbRegs: 1, DirectPtr: &a}
	wb := &Word{RegType: modbus.HoldingRegister, StartAddr: 1, NbRegs: 1, DirectPtr: &b}
	wc := &Word{RegType: modbus.HoldingRegister, StartAddr: 2, NbRegs: 1, DirectPtr: &c}
	if err := s.AddWords([]*Word{wc, wa, wb}); err != nil {
		t.Fatalf("AddWords: %v", err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	found := s.lookupRange(modbus.HoldingRegister, 0, 3)
	if len(found) != 3 {
		t.Fatalf("lookupRange len = %d, want 3", len(found))
	}
	if found[0] != wa || found[1] != wb || found[2] != wc {
		t.Fatalf("lookupRange not in address order")
	}
}
