package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/server"
)

// WordSpec is one YAML-declared register range for a Server's WordStore.
// A single-register Word is backed by a direct pointer; a multi-register
// Word is backed by an in-memory bank with generated read/write handlers.
// Words computed from external sensors or other live state are still
// registered in code, not YAML.
type WordSpec struct {
	RegType      string `yaml:"reg_type"` // "coil", "discrete_input", "holding_register", "input_register"
	StartAddr    uint16 `yaml:"start_addr"`
	NbRegs       uint16 `yaml:"nb_regs"`
	InitialValue uint16 `yaml:"initial_value"`
}

func parseRegisterType(s string) (modbus.RegisterType, error) {
	switch s {
	case "coil":
		return modbus.Coil, nil
	case "discrete_input":
		return modbus.DiscreteInput, nil
	case "holding_register":
		return modbus.HoldingRegister, nil
	case "input_register":
		return modbus.InputRegister, nil
	default:
		return 0, fmt.Errorf("unknown reg_type %q", s)
	}
}

// ToWord builds a server.Word for this spec. NbRegs == 1 uses a direct
// pointer into a heap-allocated cell; NbRegs > 1 uses an in-memory bank
// addressed through generated handlers, since DirectPtr only supports a
// single register.
func (ws WordSpec) ToWord() (*server.Word, error) {
	regType, err := parseRegisterType(ws.RegType)
	if err != nil {
		return nil, err
	}
	if ws.NbRegs < 1 {
		return nil, fmt.Errorf("word at %s:%d has nb_regs < 1", ws.RegType, ws.StartAddr)
	}

	if ws.NbRegs == 1 {
		v := ws.InitialValue
		return &server.Word{RegType: regType, StartAddr: ws.StartAddr, NbRegs: 1, DirectPtr: &v}, nil
	}

	bank := make([]uint16, ws.NbRegs)
	for i := range bank {
		bank[i] = ws.InitialValue
	}
	var mu sync.Mutex
	w := &server.Word{
		RegType:   regType,
		StartAddr: ws.StartAddr,
		NbRegs:    ws.NbRegs,
		ReadFn: func(addr, nbRegs uint16, _ interface{}) ([]uint16, modbus.ExceptionCode) {
			mu.Lock()
			defer mu.Unlock()
			offset := addr - ws.StartAddr
			out := make([]uint16, nbRegs)
			copy(out, bank[offset:offset+nbRegs])
			return out, modbus.ExceptionNone
		},
	}
	if !regType.ReadOnly() {
		w.WriteFn = func(addr uint16, values []uint16, _ interface{}) modbus.ExceptionCode {
			mu.Lock()
			defer mu.Unlock()
			offset := addr - ws.StartAddr
			copy(bank[offset:offset+uint16(len(values))], values)
			return modbus.ExceptionNone
		}
	}
	return w, nil
}

// WordMap is the top-level shape of a word-map YAML file.
type WordMap struct {
	Words []WordSpec `yaml:"words"`
}

// LoadWordMap reads and parses a word-map YAML file. A missing file is not
// an error: it yields an empty WordMap, letting a Server start with no
// pre-declared Words and register them entirely in code.
func LoadWordMap(path string) (*WordMap, error) {
	if path == "" {
		return &WordMap{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &WordMap{}, nil
		}
		return nil, fmt.Errorf("failed to read word map: %w", err)
	}

	var wm WordMap
	if err := yaml.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("failed to parse word map: %w", err)
	}
	return &wm, nil
}
