package gpio

import "fmt"

// FakeChip is a test double that hands out recording lines.
type FakeChip struct {
	// Lines holds every line handed out, by pin.
	Lines map[int]*FakeLine

	// OutputError, if set, will be returned by Output()
	OutputError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeChip creates an empty FakeChip.
func NewFakeChip() *FakeChip {
	return &FakeChip{Lines: make(map[int]*FakeLine)}
}

// Output returns a new FakeLine for pin. Requesting a pin twice fails, like
// the kernel does for a line that is already held.
func (c *FakeChip) Output(pin int) (Line, error) {
	if c.OutputError != nil {
		return nil, c.OutputError
	}
	if _, ok := c.Lines[pin]; ok {
		return nil, fmt.Errorf("request output pin %d: device or resource busy", pin)
	}
	l := &FakeLine{Pin: pin}
	c.Lines[pin] = l
	return l, nil
}

// Close marks the chip as closed.
func (c *FakeChip) Close() error {
	c.Closed = true
	return nil
}

// FakeLine records every value written to it.
type FakeLine struct {
	Pin int

	// Value is the last value successfully written.
	Value int

	// History holds every value successfully written, in order.
	History []int

	// SetError, if set, will be returned by SetValue() without changing Value.
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// SetValue records v.
func (l *FakeLine) SetValue(v int) error {
	if l.SetError != nil {
		return l.SetError
	}
	l.Value = v
	l.History = append(l.History, v)
	return nil
}

// Close drives the line low and marks it closed.
func (l *FakeLine) Close() error {
	l.Value = 0
	l.Closed = true
	return nil
}
