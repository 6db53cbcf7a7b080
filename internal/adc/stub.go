//go:build !linux

package adc

import "errors"

// NewRealADS1115 returns an error on non-Linux platforms.
func NewRealADS1115(address byte) (*ADS1115, error) {
	return nil, errors.New("adc: not supported on this platform (requires Linux)")
}
