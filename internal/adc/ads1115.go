package adc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Bus is the subset of an I2C bus the ADS1115 needs.
// github.com/reef-pi/rpi/i2c.Bus satisfies it.
type Bus interface {
	ReadFromReg(addr, reg byte, buf []byte) error
	WriteToReg(addr, reg byte, buf []byte) error
	Close() error
}

// ADS1115 registers and config bits.
const (
	regConversion = 0x00
	regConfig     = 0x01

	configOsSingle   uint16 = 0x8000
	configModeSingle uint16 = 0x0100
	configGain4V096  uint16 = 0x0200 // +/-4.096 V covers a 3.3 V probe output
	configRate860    uint16 = 0x00E0
	configCompQueue  uint16 = 0x0003 // comparator disabled

	// DefaultAddress is the ADS1115 address with ADDR tied to GND.
	DefaultAddress = 0x48

	convTimeout  = 20 * time.Millisecond
	convPollWait = 1 * time.Millisecond
)

// singleEndedMux maps AIN0..AIN3 (vs GND) to their mux bits.
var singleEndedMux = [4]uint16{0x4000, 0x5000, 0x6000, 0x7000}

// ADS1115 performs single-shot conversions on a TI ADS1115.
type ADS1115 struct {
	bus     Bus
	address byte
}

// NewADS1115 wraps an already-open bus.
func NewADS1115(bus Bus, address byte) *ADS1115 {
	if address == 0 {
		address = DefaultAddress
	}
	return &ADS1115{bus: bus, address: address}
}

// Read converts channel and scales the signed 16-bit result to 12 bits.
// Negative results (input slightly below ground) read as 0.
func (a *ADS1115) Read(channel int) (int, error) {
	if channel < 0 || channel >= len(singleEndedMux) {
		return 0, fmt.Errorf("ads1115: invalid channel %d", channel)
	}

	config := configOsSingle | configModeSingle | configGain4V096 | configRate860 |
		configCompQueue | singleEndedMux[channel]
	if err := a.bus.WriteToReg(a.address, regConfig, []byte{byte(config >> 8), byte(config)}); err != nil {
		return 0, fmt.Errorf("ads1115: write config: %w", err)
	}

	deadline := time.Now().Add(convTimeout)
	buf := make([]byte, 2)
	for {
		if err := a.bus.ReadFromReg(a.address, regConfig, buf); err != nil {
			return 0, fmt.Errorf("ads1115: read config: %w", err)
		}
		if binary.BigEndian.Uint16(buf)&configOsSingle != 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("ads1115: conversion timeout on channel %d", channel)
		}
		time.Sleep(convPollWait)
	}

	if err := a.bus.ReadFromReg(a.address, regConversion, buf); err != nil {
		return 0, fmt.Errorf("ads1115: read conversion: %w", err)
	}
	return scale12(int16(binary.BigEndian.Uint16(buf))), nil
}

// Close releases the bus.
func (a *ADS1115) Close() error {
	return a.bus.Close()
}

func scale12(raw int16) int {
	if raw < 0 {
		return 0
	}
	return int(raw) >> 3
}
