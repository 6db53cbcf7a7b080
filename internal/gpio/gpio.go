// Package gpio drives pump output lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Line is a single output line. Each pump owns exactly one.
type Line interface {
	// SetValue drives the line: 1 = pump on, 0 = pump off.
	SetValue(v int) error

	// Close releases the line, leaving it in a safe (off) state.
	Close() error
}

// Chip hands out output lines.
type Chip interface {
	// Output requests pin as an output, initially low.
	Output(pin int) (Line, error)

	// Close releases the chip. Lines must be closed first.
	Close() error
}

// DefaultChip is the gpiochip on a Raspberry Pi.
const DefaultChip = "gpiochip0"
