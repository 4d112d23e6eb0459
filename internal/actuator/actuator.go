// Package actuator drives a linear actuator through an IBT-2 H-bridge
// using software PWM on plain GPIO lines. RPWM moves the rod in (retract),
// LPWM moves it out (extend); asserting both at once is forbidden by the
// bridge, so every path that touches one line forces the other low first.
package actuator

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
)

type Actuator struct {
	rpwm   gpio.PinIO
	lpwm   gpio.PinIO
	enable gpio.PinIO
}

// New requests output direction, low, on all three lines. A line that
// cannot be driven is fatal to the caller.
func New(rpwm, lpwm, enable gpio.PinIO) (*Actuator, error) {
	for _, p := range []gpio.PinIO{rpwm, lpwm, enable} {
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("actuator: line %s as output: %w", p, err)
		}
	}
	return &Actuator{rpwm: rpwm, lpwm: lpwm, enable: enable}, nil
}

// Enable asserts the driver enable line. The actuator does not move until
// a direction line is pulsed.
func (a *Actuator) Enable() error {
	if err := a.enable.Out(gpio.High); err != nil {
		return fmt.Errorf("actuator: enable: %w", err)
	}
	log.Println("actuator: driver enabled (EN high)")
	return nil
}

// Disable is the fail-safe stop: both direction lines are forced low
// before the enable line is deasserted, regardless of any in-progress PWM
// cycle. Safe to call repeatedly.
func (a *Actuator) Disable() error {
	log.Println("actuator: stopping and disabling driver")
	if err := a.bothLow(); err != nil {
		return err
	}
	if err := a.enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("actuator: disable: %w", err)
	}
	return nil
}

// Stop forces both direction lines low without releasing the driver. Used
// for transient pauses between feedback runs.
func (a *Actuator) Stop() error {
	return a.bothLow()
}

func (a *Actuator) bothLow() error {
	if err := a.rpwm.Out(gpio.Low); err != nil {
		return fmt.Errorf("actuator: rpwm low: %w", err)
	}
	if err := a.lpwm.Out(gpio.Low); err != nil {
		return fmt.Errorf("actuator: lpwm low: %w", err)
	}
	return nil
}

// Extend drives the rod out at the given duty cycle for the given
// duration, emitting duration*freq software PWM cycles.
func (a *Actuator) Extend(duty float64, duration time.Duration, freqHz int) error {
	log.Printf("actuator: extending at %.0f%% duty for %v", clampDuty(duty)*100, duration)
	return a.drive(a.lpwm, a.rpwm, duty, duration, freqHz)
}

// Retract drives the rod in at the given duty cycle for the given duration.
func (a *Actuator) Retract(duty float64, duration time.Duration, freqHz int) error {
	log.Printf("actuator: retracting at %.0f%% duty for %v", clampDuty(duty)*100, duration)
	return a.drive(a.rpwm, a.lpwm, duty, duration, freqHz)
}

func (a *Actuator) drive(active, idle gpio.PinIO, duty float64, duration time.Duration, freqHz int) error {
	if freqHz < 1 {
		return fmt.Errorf("actuator: invalid PWM frequency %d", freqHz)
	}
	period := time.Second / time.Duration(freqHz)
	cycles := int(duration / period)
	for i := 0; i < cycles; i++ {
		if err := a.pulse(active, idle, duty, period); err != nil {
			return err
		}
	}
	return nil
}

// PulseExtend emits exactly one PWM period on the extend line. Used by the
// motion loop; no logging or locking happens in this path.
func (a *Actuator) PulseExtend(duty float64, period time.Duration) error {
	return a.pulse(a.lpwm, a.rpwm, duty, period)
}

// PulseRetract emits exactly one PWM period on the retract line.
func (a *Actuator) PulseRetract(duty float64, period time.Duration) error {
	return a.pulse(a.rpwm, a.lpwm, duty, period)
}

// pulse emits one period: active line high for period*duty, then both
// lines low for the remainder. The other direction line is forced low
// before the active one is raised.
func (a *Actuator) pulse(active, idle gpio.PinIO, duty float64, period time.Duration) error {
	duty = clampDuty(duty)
	if duty == 0 {
		if err := a.bothLow(); err != nil {
			return err
		}
		time.Sleep(period)
		return nil
	}

	high := time.Duration(float64(period) * duty)
	low := period - high

	if err := idle.Out(gpio.Low); err != nil {
		return fmt.Errorf("actuator: idle line low: %w", err)
	}
	if err := active.Out(gpio.High); err != nil {
		return fmt.Errorf("actuator: active line high: %w", err)
	}
	time.Sleep(high)
	if err := active.Out(gpio.Low); err != nil {
		return fmt.Errorf("actuator: active line low: %w", err)
	}
	time.Sleep(low)
	return nil
}

func clampDuty(duty float64) float64 {
	if duty < 0 {
		return 0
	}
	if duty > 1 {
		return 1
	}
	return duty
}
