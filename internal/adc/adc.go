// Package adc reads raw analog samples for the pH and TDS probes.
//
// Readers report counts on a 12-bit scale (0..MaxRaw) regardless of the
// converter's native resolution, so probe calibrations carry over between
// boards.
package adc

// MaxRaw is the largest valid count.
const MaxRaw = 4095

// Reader samples single-ended analog inputs.
type Reader interface {
	// Read performs one conversion on channel and returns the raw count.
	Read(channel int) (int, error)

	// Close releases the converter.
	Close() error
}

// ValidRaw reports whether v is inside the converter range.
func ValidRaw(v int) bool {
	return v >= 0 && v <= MaxRaw
}
