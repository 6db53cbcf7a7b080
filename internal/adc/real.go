//go:build linux

package adc

import (
	"fmt"

	"github.com/reef-pi/rpi/i2c"
)

// NewRealADS1115 opens the Raspberry Pi I2C bus and returns an ADS1115 at
// address.
func NewRealADS1115(address byte) (*ADS1115, error) {
	bus, err := i2c.New()
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	return NewADS1115(bus, address), nil
}
