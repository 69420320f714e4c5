//go:build !linux
// +build !linux

package hal

import "fmt"

// PeriphGPIO is a stub for non-Linux platforms; periph.io's sysfs/gpiomem
// backends only register pins on Linux.
type PeriphGPIO struct{}

func NewPeriphGPIO() (*PeriphGPIO, error) {
	return &PeriphGPIO{}, nil
}

func (g *PeriphGPIO) SetMode(pin int, mode PinMode) error {
	return fmt.Errorf("GPIO not supported on this platform")
}

func (g *PeriphGPIO) DigitalRead(pin int) (bool, error) {
	return false, fmt.Errorf("GPIO not supported on this platform")
}

func (g *PeriphGPIO) DigitalWrite(pin int, value bool) error {
	return fmt.Errorf("GPIO not supported on this platform")
}

func (g *PeriphGPIO) ActivePins() map[int]PinMode {
	return nil
}

func (g *PeriphGPIO) Close() error {
	return nil
}
