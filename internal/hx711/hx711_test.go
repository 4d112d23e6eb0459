package hx711

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// scriptPin returns a fixed sequence of levels, one per Read call, then
// holds low. Models the HX711 data line: a ready indication followed by
// the 24 sample bits.
type scriptPin struct {
	gpiotest.Pin
	levels []gpio.Level
	idx    int
}

func (p *scriptPin) Read() gpio.Level {
	if p.idx >= len(p.levels) {
		return gpio.Low
	}
	l := p.levels[p.idx]
	p.idx++
	return l
}

// stuckHighPin models a chip that never becomes ready.
type stuckHighPin struct {
	gpiotest.Pin
}

func (p *stuckHighPin) Read() gpio.Level { return gpio.High }

func dataScriptFor(word uint32) []gpio.Level {
	// First read is the ready check (low = ready), then 24 bits MSB first.
	levels := []gpio.Level{gpio.Low}
	for bit := 23; bit >= 0; bit-- {
		levels = append(levels, gpio.Level(word&(1<<uint(bit)) != 0))
	}
	return levels
}

func TestSignExtend24(t *testing.T) {
	cases := []struct {
		word uint32
		want int32
	}{
		{0x800000, -8388608},
		{0x7FFFFF, 8388607},
		{0x000001, 1},
		{0x000000, 0},
		{0xFFFFFF, -1},
	}
	for _, c := range cases {
		if got := signExtend24(c.word); got != c.want {
			t.Errorf("signExtend24(0x%06X) = %d; want %d", c.word, got, c.want)
		}
	}
}

func TestReadDecodesWord(t *testing.T) {
	for _, word := range []uint32{0x2AAAAA, 0x000001, 0x7FFFFF, 0x800000, 0xFFFFFF} {
		data := &scriptPin{
			Pin:    gpiotest.Pin{N: "data"},
			levels: dataScriptFor(word),
		}
		clock := &gpiotest.Pin{N: "clock"}

		hx, err := New(data, clock)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := hx.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if want := signExtend24(word); got != want {
			t.Errorf("word 0x%06X: Read = %d; want %d", word, got, want)
		}
		// Clock must be left low so the chip does not power down.
		if clock.L != gpio.Low {
			t.Errorf("word 0x%06X: clock left high after read", word)
		}
	}
}

func TestReadTimeout(t *testing.T) {
	data := &stuckHighPin{Pin: gpiotest.Pin{N: "data"}}
	clock := &gpiotest.Pin{N: "clock"}

	hx, err := New(data, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = hx.ReadTimeout(5 * time.Millisecond)
	if !errors.Is(err, ErrReadyTimeout) {
		t.Fatalf("ReadTimeout = %v; want ErrReadyTimeout", err)
	}
}

func TestPowerDownUp(t *testing.T) {
	data := &scriptPin{Pin: gpiotest.Pin{N: "data"}}
	clock := &gpiotest.Pin{N: "clock"}

	hx, err := New(data, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := hx.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if clock.L != gpio.High {
		t.Error("PowerDown did not hold clock high")
	}
	if err := hx.PowerUp(); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if clock.L != gpio.Low {
		t.Error("PowerUp did not release clock")
	}
}
