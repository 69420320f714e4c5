//go:build linux
// +build linux

package hal

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphGPIO implements GPIOProvider via periph.io's generic pin registry,
// which works across Pi, BeagleBone and Jetson boards without a board-specific
// build, unlike RaspberryPiHAL's go-rpio /dev/gpiomem path.
type PeriphGPIO struct {
	mu       sync.Mutex
	pins     map[int]gpio.PinIO
	pinModes map[int]PinMode
}

// NewPeriphGPIO initializes the periph.io host drivers and returns a
// GPIOProvider backed by its pin registry.
func NewPeriphGPIO() (*PeriphGPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	return &PeriphGPIO{
		pins:     make(map[int]gpio.PinIO),
		pinModes: make(map[int]PinMode),
	}, nil
}

func (g *PeriphGPIO) lookup(pin int) (gpio.PinIO, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, fmt.Errorf("pin %d not found in periph.io registry", pin)
	}
	return p, nil
}

func (g *PeriphGPIO) SetMode(pin int, mode PinMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.lookup(pin)
	if err != nil {
		return err
	}

	switch mode {
	case Input:
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("failed to set pin %d as input: %w", pin, err)
		}
	case Output:
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("failed to set pin %d as output: %w", pin, err)
		}
	default:
		return fmt.Errorf("unsupported pin mode: %v", mode)
	}

	g.pins[pin] = p
	g.pinModes[pin] = mode
	return nil
}

func (g *PeriphGPIO) DigitalRead(pin int) (bool, error) {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("pin %d not initialized", pin)
	}
	return p.Read() == gpio.High, nil
}

func (g *PeriphGPIO) DigitalWrite(pin int, value bool) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("pin %d not initialized", pin)
	}

	level := gpio.Low
	if value {
		level = gpio.High
	}
	if err := p.Out(level); err != nil {
		return fmt.Errorf("failed to write pin %d: %w", pin, err)
	}
	return nil
}

func (g *PeriphGPIO) ActivePins() map[int]PinMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]PinMode, len(g.pinModes))
	for pin, mode := range g.pinModes {
		out[pin] = mode
	}
	return out
}

func (g *PeriphGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins = make(map[int]gpio.PinIO)
	g.pinModes = make(map[int]PinMode)
	return nil
}
