package hal

import "fmt"

// PinCapability flags what a physical header pin can be used for.
// ValidateDEPin checks a pin against these bits; the gateway's RTU setup
// does not call it, so a configured de_pin reaches DigitalWrite unchecked.
// The bit set is kept wide enough to flag a pin that's dedicated to
// I2C/SPI/UART and would be a configuration mistake to wire an RS-485 DE
// line to.
type PinCapability int

const (
	CapGPIO PinCapability = 1 << iota
	CapI2C
	CapSPI
	CapUART
)

type PinInfo struct {
	Physical     int
	BCM          int
	Name         string
	Capabilities PinCapability
}

var RaspberryPiPinMap = map[int]*PinInfo{
	3:  {Physical: 3, BCM: 2, Name: "GPIO2 (SDA1)", Capabilities: CapGPIO | CapI2C},
	5:  {Physical: 5, BCM: 3, Name: "GPIO3 (SCL1)", Capabilities: CapGPIO | CapI2C},
	7:  {Physical: 7, BCM: 4, Name: "GPIO4", Capabilities: CapGPIO},
	8:  {Physical: 8, BCM: 14, Name: "GPIO14 (TXD0)", Capabilities: CapGPIO | CapUART},
	10: {Physical: 10, BCM: 15, Name: "GPIO15 (RXD0)", Capabilities: CapGPIO | CapUART},
	11: {Physical: 11, BCM: 17, Name: "GPIO17", Capabilities: CapGPIO},
	12: {Physical: 12, BCM: 18, Name: "GPIO18", Capabilities: CapGPIO},
	13: {Physical: 13, BCM: 27, Name: "GPIO27", Capabilities: CapGPIO},
	15: {Physical: 15, BCM: 22, Name: "GPIO22", Capabilities: CapGPIO},
	16: {Physical: 16, BCM: 23, Name: "GPIO23", Capabilities: CapGPIO},
	18: {Physical: 18, BCM: 24, Name: "GPIO24", Capabilities: CapGPIO},
	19: {Physical: 19, BCM: 10, Name: "GPIO10 (MOSI)", Capabilities: CapGPIO | CapSPI},
	21: {Physical: 21, BCM: 9, Name: "GPIO9 (MISO)", Capabilities: CapGPIO | CapSPI},
	22: {Physical: 22, BCM: 25, Name: "GPIO25", Capabilities: CapGPIO},
	23: {Physical: 23, BCM: 11, Name: "GPIO11 (SCLK)", Capabilities: CapGPIO | CapSPI},
	24: {Physical: 24, BCM: 8, Name: "GPIO8 (CE0)", Capabilities: CapGPIO | CapSPI},
	26: {Physical: 26, BCM: 7, Name: "GPIO7 (CE1)", Capabilities: CapGPIO | CapSPI},
	29: {Physical: 29, BCM: 5, Name: "GPIO5", Capabilities: CapGPIO},
	31: {Physical: 31, BCM: 6, Name: "GPIO6", Capabilities: CapGPIO},
	32: {Physical: 32, BCM: 12, Name: "GPIO12", Capabilities: CapGPIO},
	33: {Physical: 33, BCM: 13, Name: "GPIO13", Capabilities: CapGPIO},
	35: {Physical: 35, BCM: 19, Name: "GPIO19", Capabilities: CapGPIO},
	36: {Physical: 36, BCM: 16, Name: "GPIO16", Capabilities: CapGPIO},
	37: {Physical: 37, BCM: 26, Name: "GPIO26", Capabilities: CapGPIO},
	38: {Physical: 38, BCM: 20, Name: "GPIO20", Capabilities: CapGPIO},
	40: {Physical: 40, BCM: 21, Name: "GPIO21", Capabilities: CapGPIO},
}

func GetPinInfo(physical int) *PinInfo {
	return RaspberryPiPinMap[physical]
}

func GetPinByBCM(bcm int) *PinInfo {
	for _, pin := range RaspberryPiPinMap {
		if pin.BCM == bcm {
			return pin
		}
	}
	return nil
}

func HasCapability(physical int, cap PinCapability) bool {
	pin := GetPinInfo(physical)
	if pin == nil {
		return false
	}
	return pin.Capabilities&cap != 0
}

// ValidateDEPin returns an error if the given BCM pin number is dedicated
// to I2C, SPI, or UART and therefore unsafe to drive as an RS-485 DE line.
func ValidateDEPin(bcm int) error {
	pin := GetPinByBCM(bcm)
	if pin == nil {
		return nil // unknown pin, e.g. a non-header GPIO expander line
	}
	if pin.Capabilities&(CapI2C|CapSPI|CapUART) != 0 {
		return errDEPinReserved(pin.Name)
	}
	return nil
}

func errDEPinReserved(name string) error {
	return fmt.Errorf("pin %s is reserved for a peripheral bus and should not be used as a DE pin", name)
}
