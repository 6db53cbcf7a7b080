//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealChip opens output lines on actual hardware using the Linux GPIO
// character device.
type RealChip struct {
	chip *gpiocdev.Chip
}

// NewRealChip opens the named gpiochip.
func NewRealChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &RealChip{chip: chip}, nil
}

// Output requests pin as an output driven low, so a pump never starts on
// process startup.
func (c *RealChip) Output(pin int) (Line, error) {
	line, err := c.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	return &RealLine{pin: pin, line: line}, nil
}

// Close releases the chip.
func (c *RealChip) Close() error {
	if err := c.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return nil
}

// RealLine is a requested output line.
type RealLine struct {
	pin  int
	line *gpiocdev.Line
}

// SetValue drives the line.
func (l *RealLine) SetValue(v int) error {
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", l.pin, err)
	}
	return nil
}

// Close drives the line low, then reconfigures it to input with pull-down
// (matching Pi boot defaults) so relay boards stay off across a reboot.
func (l *RealLine) Close() error {
	var errs []error
	if err := l.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive pin %d low: %w", l.pin, err))
	}
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", l.pin, err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", l.pin, err))
	}
	return errors.Join(errs...)
}
