// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package hx711 drives the HX711 24-bit load cell ADC over two GPIO lines.
//
// The chip has no register interface: it signals a finished conversion by
// pulling the data line low, then shifts the sample out MSB-first, one bit
// per clock pulse. A 25th pulse selects channel A / gain 128 for the next
// conversion, which is the only mode this rig uses.
package hx711

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ErrReadyTimeout is returned by ReadTimeout when the data line never goes
// low within the bound. Recoverable: power-cycle the chip and retry.
var ErrReadyTimeout = errors.New("hx711: timeout waiting for chip ready")

const (
	// readyPollInterval paces the ready wait so it is not a busy spin.
	readyPollInterval = time.Millisecond

	// powerSettle is the minimum time the clock line must be held high to
	// enter low-power mode (datasheet: 60us).
	powerSettle = 60 * time.Microsecond

	// ConversionPeriod is one full conversion at the 10Hz output rate. The
	// first sample after a wake is not trustworthy before this has elapsed.
	ConversionPeriod = 100 * time.Millisecond
)

// HX711 is the bit-serial protocol client. The clock and data lines are a
// single shared resource, so only one Read may be in flight at a time; the
// internal mutex enforces that.
type HX711 struct {
	data  gpio.PinIO
	clock gpio.PinIO
	mu    sync.Mutex

	// Verbose traces ready-wait duration and raw words. Set before the
	// sampler loop starts.
	Verbose bool
}

// New requests input direction on the data line and drives the clock line
// low. Acquisition or direction errors are fatal to the caller: no motion
// must be commanded with an unreadable load cell.
func New(data, clock gpio.PinIO) (*HX711, error) {
	if err := data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hx711: data line %s as input: %w", data, err)
	}
	if err := clock.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hx711: clock line %s as output: %w", clock, err)
	}
	return &HX711{data: data, clock: clock}, nil
}

// Read blocks until the chip is ready, then returns one signed 24-bit
// sample. The wait is unbounded; use ReadTimeout when the caller needs to
// detect a wedged chip.
func (h *HX711) Read() (int32, error) {
	return h.read(0)
}

// ReadTimeout is Read with a bounded ready wait. Returns ErrReadyTimeout
// if the data line is still high after the given duration.
func (h *HX711) ReadTimeout(timeout time.Duration) (int32, error) {
	return h.read(timeout)
}

func (h *HX711) read(timeout time.Duration) (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.waitReady(timeout); err != nil {
		return 0, err
	}

	var word uint32
	for i := 0; i < 24; i++ {
		if err := h.clock.Out(gpio.High); err != nil {
			return 0, fmt.Errorf("hx711: clock high: %w", err)
		}
		word <<= 1
		if err := h.clock.Out(gpio.Low); err != nil {
			return 0, fmt.Errorf("hx711: clock low: %w", err)
		}
		if h.data.Read() == gpio.High {
			word |= 1
		}
	}

	// 25th pulse: channel A, gain 128 for the next conversion.
	if err := h.clock.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("hx711: gain pulse high: %w", err)
	}
	if err := h.clock.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("hx711: gain pulse low: %w", err)
	}

	value := signExtend24(word)
	if h.Verbose {
		log.Printf("hx711: raw word 0x%06X -> %d", word, value)
	}
	return value, nil
}

// waitReady polls the data line until the chip deasserts it. timeout <= 0
// waits unboundedly.
func (h *HX711) waitReady(timeout time.Duration) error {
	start := time.Now()
	for h.data.Read() == gpio.High {
		if timeout > 0 && time.Since(start) >= timeout {
			return ErrReadyTimeout
		}
		time.Sleep(readyPollInterval)
	}
	if h.Verbose {
		log.Printf("hx711: ready after %v", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// PowerDown holds the clock line high, putting the chip in low-power mode.
func (h *HX711) PowerDown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.clock.Out(gpio.High); err != nil {
		return fmt.Errorf("hx711: power down: %w", err)
	}
	time.Sleep(powerSettle)
	return nil
}

// PowerUp wakes the chip by releasing the clock line. The sample
// immediately after a wake is not guaranteed valid until ConversionPeriod
// has elapsed; PowerCycle handles that wait, direct callers must delay or
// discard themselves.
func (h *HX711) PowerUp() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.clock.Out(gpio.Low); err != nil {
		return fmt.Errorf("hx711: power up: %w", err)
	}
	time.Sleep(powerSettle)
	return nil
}

// PowerCycle power-downs, waits, wakes the chip and waits out one full
// conversion so the next Read returns a valid sample. Used to recover a
// wedged chip after a ready timeout.
func (h *HX711) PowerCycle() error {
	if err := h.PowerDown(); err != nil {
		return err
	}
	time.Sleep(ConversionPeriod)
	if err := h.PowerUp(); err != nil {
		return err
	}
	time.Sleep(ConversionPeriod)
	return nil
}

// signExtend24 interprets the low 24 bits of word as two's complement.
func signExtend24(word uint32) int32 {
	if word&0x800000 != 0 {
		return int32(word | 0xFF000000)
	}
	return int32(word & 0x7FFFFF)
}
