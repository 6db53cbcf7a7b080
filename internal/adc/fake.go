package adc

import "errors"

// FakeReader is a test double that returns scripted counts per channel.
type FakeReader struct {
	// Samples contains scripted counts per channel. Each call to Read()
	// consumes the next one; once exhausted the last is repeated.
	Samples map[int][]int

	index map[int]int

	// Reads counts calls per channel.
	Reads map[int]int

	// ReadError, if set, will be returned by Read()
	ReadError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeReader creates a FakeReader with no samples.
func NewFakeReader() *FakeReader {
	return &FakeReader{
		Samples: make(map[int][]int),
		index:   make(map[int]int),
		Reads:   make(map[int]int),
	}
}

// Set replaces the scripted samples for channel.
func (f *FakeReader) Set(channel int, samples ...int) {
	f.Samples[channel] = samples
	f.index[channel] = 0
}

// Read returns the next scripted count for channel.
func (f *FakeReader) Read(channel int) (int, error) {
	f.Reads[channel]++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	s := f.Samples[channel]
	if len(s) == 0 {
		return 0, errors.New("no samples configured")
	}
	i := f.index[channel]
	if i < len(s)-1 {
		f.index[channel] = i + 1
	}
	return s[i], nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}
