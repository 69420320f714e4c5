package hal

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// RaspberryPiHAL drives DE-pin GPIO through go-rpio's direct /dev/gpiomem
// mmap, which gives lower and more predictable latency than the character
// device path used by the periph.io backend (PeriphGPIO) — worth the tradeoff on RTU lines where
// the DE pin must flip within a handful of bit-times of the last TX byte.
type RaspberryPiHAL struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
	info BoardInfo
}

// NewRaspberryPiHAL opens the go-rpio /dev/gpiomem mapping.
func NewRaspberryPiHAL(info BoardInfo) (*RaspberryPiHAL, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w", err)
	}

	return &RaspberryPiHAL{
		pins: make(map[int]rpio.Pin),
		info: info,
	}, nil
}

func (h *RaspberryPiHAL) GPIO() GPIOProvider { return h }
func (h *RaspberryPiHAL) Info() BoardInfo    { return h.info }

func (h *RaspberryPiHAL) SetMode(pin int, mode PinMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := rpio.Pin(pin)
	h.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unsupported pin mode: %v", mode)
	}

	return nil
}

func (h *RaspberryPiHAL) DigitalWrite(pin int, value bool) error {
	h.mu.Lock()
	p, ok := h.pins[pin]
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}

	if value {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (h *RaspberryPiHAL) DigitalRead(pin int) (bool, error) {
	h.mu.Lock()
	p, ok := h.pins[pin]
	h.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}

	return p.Read() == rpio.High, nil
}

func (h *RaspberryPiHAL) ActivePins() map[int]PinMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int]PinMode, len(h.pins))
	for pin := range h.pins {
		out[pin] = Output
	}
	return out
}

func (h *RaspberryPiHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return rpio.Close()
}
