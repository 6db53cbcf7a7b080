package adc

import (
	"errors"
	"testing"
)

// fakeBus emulates the ADS1115 register file closely enough for single-shot
// conversions.
type fakeBus struct {
	config     uint16
	conversion int16
	writes     [][]byte
	busyPolls  int
	writeErr   error
	closed     bool
}

func (b *fakeBus) WriteToReg(addr, reg byte, buf []byte) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	if reg == regConfig {
		b.config = uint16(buf[0])<<8 | uint16(buf[1])
		b.writes = append(b.writes, append([]byte(nil), buf...))
	}
	return nil
}

func (b *fakeBus) ReadFromReg(addr, reg byte, buf []byte) error {
	switch reg {
	case regConfig:
		v := b.config &^ configOsSingle
		if b.busyPolls > 0 {
			b.busyPolls--
		} else {
			v |= configOsSingle
		}
		buf[0], buf[1] = byte(v>>8), byte(v)
	case regConversion:
		buf[0], buf[1] = byte(uint16(b.conversion)>>8), byte(uint16(b.conversion))
	}
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func TestADS1115ReadScalesTo12Bit(t *testing.T) {
	cases := []struct {
		raw  int16
		want int
	}{
		{0, 0},
		{32767, 4095},
		{18016, 2252},
		{-12, 0},
	}
	for _, tc := range cases {
		bus := &fakeBus{conversion: tc.raw}
		a := NewADS1115(bus, 0)
		got, err := a.Read(0)
		if err != nil {
			t.Fatalf("raw %d: unexpected error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("raw %d: expected %d, got %d", tc.raw, tc.want, got)
		}
	}
}

func TestADS1115SelectsChannelMux(t *testing.T) {
	bus := &fakeBus{busyPolls: 2}
	a := NewADS1115(bus, DefaultAddress)
	if _, err := a.Read(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bus.writes) != 1 {
		t.Fatalf("expected 1 config write, got %d", len(bus.writes))
	}
	cfg := uint16(bus.writes[0][0])<<8 | uint16(bus.writes[0][1])
	if cfg&0x7000 != 0x5000 {
		t.Errorf("expected AIN1 mux 0x5000, got 0x%04X", cfg&0x7000)
	}
	if cfg&configOsSingle == 0 {
		t.Error("expected single-shot start bit set")
	}
}

func TestADS1115InvalidChannel(t *testing.T) {
	a := NewADS1115(&fakeBus{}, 0)
	if _, err := a.Read(4); err == nil {
		t.Error("expected error for channel 4")
	}
}

func TestADS1115WriteError(t *testing.T) {
	a := NewADS1115(&fakeBus{writeErr: errors.New("nack")}, 0)
	if _, err := a.Read(0); err == nil {
		t.Error("expected error")
	}
}

func TestADS1115Close(t *testing.T) {
	bus := &fakeBus{}
	_ = NewADS1115(bus, 0).Close()
	if !bus.closed {
		t.Error("expected bus closed")
	}
}

func TestFakeReaderRepeatsLastSample(t *testing.T) {
	f := NewFakeReader()
	f.Set(0, 1, 2)
	for i, want := range []int{1, 2, 2} {
		got, err := f.Read(0)
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Errorf("read %d: expected %d, got %d", i, want, got)
		}
	}
	if f.Reads[0] != 3 {
		t.Errorf("expected 3 reads, got %d", f.Reads[0])
	}
	if _, err := f.Read(3); err == nil {
		t.Error("expected error for unconfigured channel")
	}
}

func TestValidRaw(t *testing.T) {
	if !ValidRaw(0) || !ValidRaw(MaxRaw) {
		t.Error("expected bounds valid")
	}
	if ValidRaw(-1) || ValidRaw(MaxRaw+1) {
		t.Error("expected out of range invalid")
	}
}
