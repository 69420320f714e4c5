package hal

import (
	"fmt"
	"sync"
)

// PinMode pin mode
type PinMode int

const (
	Input PinMode = iota
	Output
)

// GPIOProvider is the minimal digital-IO surface the RTU Interface needs
// to drive an RS-485 transceiver's DE (driver enable) pin.
type GPIOProvider interface {
	// SetMode sets pin mode
	SetMode(pin int, mode PinMode) error
	// DigitalRead reads the pin's current level
	DigitalRead(pin int) (bool, error)
	// DigitalWrite drives the pin high or low
	DigitalWrite(pin int, value bool) error
	// ActivePins returns a map of currently configured pins and their modes
	ActivePins() map[int]PinMode
	// Close releases the underlying GPIO chip/mmap
	Close() error
}

// HAL is the hardware abstraction layer handle for a single board.
type HAL interface {
	// GPIO returns the GPIO provider
	GPIO() GPIOProvider
	// Info returns board information
	Info() BoardInfo
	// Close closes the HAL
	Close() error
}

// genericHAL adapts any GPIOProvider (e.g. PeriphGPIO) plus a BoardInfo into
// a full HAL, for backends that don't own board metadata themselves.
type genericHAL struct {
	gpio GPIOProvider
	info BoardInfo
}

// NewGenericHAL wraps gpio as a HAL reporting info, letting a GPIOProvider
// built independently of board detection (periph.io's pin registry, a test
// double) stand in wherever a HAL is expected.
func NewGenericHAL(gpio GPIOProvider, info BoardInfo) HAL {
	return &genericHAL{gpio: gpio, info: info}
}

func (h *genericHAL) GPIO() GPIOProvider { return h.gpio }
func (h *genericHAL) Info() BoardInfo    { return h.info }
func (h *genericHAL) Close() error       { return h.gpio.Close() }

var (
	globalHAL HAL
	halMu     sync.RWMutex
)

// SetGlobalHAL sets the process-wide HAL instance.
func SetGlobalHAL(h HAL) {
	halMu.Lock()
	defer halMu.Unlock()
	globalHAL = h
}

// GetGlobalHAL returns the process-wide HAL instance.
func GetGlobalHAL() (HAL, error) {
	halMu.RLock()
	defer halMu.RUnlock()
	if globalHAL == nil {
		return nil, fmt.Errorf("HAL not initialized")
	}
	return globalHAL, nil
}
