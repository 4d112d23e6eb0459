package rig

import (
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/relabs-tech/autopusher/internal/actuator"
)

// spyPin remembers whether the line was ever driven high.
type spyPin struct {
	gpiotest.Pin

	mu       sync.Mutex
	everHigh bool
}

func (p *spyPin) Out(l gpio.Level) error {
	if l == gpio.High {
		p.mu.Lock()
		p.everHigh = true
		p.mu.Unlock()
	}
	return p.Pin.Out(l)
}

func (p *spyPin) wentHigh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.everHigh
}

func newMotionFixture(t *testing.T) (*actuator.Actuator, *spyPin, *spyPin) {
	t.Helper()
	rpwm := &spyPin{Pin: gpiotest.Pin{N: "rpwm"}}
	lpwm := &spyPin{Pin: gpiotest.Pin{N: "lpwm"}}
	enable := &spyPin{Pin: gpiotest.Pin{N: "enable"}}
	act, err := actuator.New(rpwm, lpwm, enable)
	if err != nil {
		t.Fatalf("actuator.New: %v", err)
	}
	return act, rpwm, lpwm
}

// A force reading beyond the threshold must beat a concurrently written
// full-duty extend command: the emitted cycle is full-duty retract and the
// override is visible to other readers of the command state.
func TestSafetyOverrideBeatsController(t *testing.T) {
	act, rpwm, lpwm := newMotionFixture(t)

	state := NewState()
	state.SetForce(-150)
	state.SetCommand(1.0, Extend) // stale controller command

	trips := 0
	m := &Motion{
		Actuator:     act,
		State:        state,
		Config:       MotionConfig{FrequencyHz: 200, SafetyThreshold: -100},
		OnSafetyTrip: func(float64) { trips++ },
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Run(stop)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	close(stop)
	<-done

	duty, dir := state.Command()
	if duty != 1.0 || dir != Retract {
		t.Errorf("command after override = (%v, %v); want (1, retract)", duty, dir)
	}
	if !rpwm.wentHigh() {
		t.Error("retract line never pulsed during override")
	}
	if lpwm.wentHigh() {
		t.Error("extend line pulsed despite safety override")
	}
	if trips != 1 {
		t.Errorf("OnSafetyTrip fired %d times; want 1 (transition only)", trips)
	}
}

func TestNeutralCommandHoldsLinesLow(t *testing.T) {
	act, rpwm, lpwm := newMotionFixture(t)

	state := NewState() // neutral command, zero force
	m := &Motion{
		Actuator: act,
		State:    state,
		Config:   MotionConfig{FrequencyHz: 200, SafetyThreshold: -100},
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Run(stop)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(stop)
	<-done

	if rpwm.wentHigh() || lpwm.wentHigh() {
		t.Error("direction line driven while command was neutral")
	}
}

// A zero-value config must not crash the loop: the frequency falls back to
// the default instead of dividing by zero.
func TestZeroFrequencyFallsBackToDefault(t *testing.T) {
	act, _, _ := newMotionFixture(t)

	state := NewState()
	m := &Motion{
		Actuator: act,
		State:    state,
		Config:   MotionConfig{SafetyThreshold: -100}, // FrequencyHz unset
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Run(stop)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("motion loop did not exit")
	}
}

func TestCommandedExtendPulsesExtendLine(t *testing.T) {
	act, rpwm, lpwm := newMotionFixture(t)

	state := NewState()
	state.SetCommand(0.5, Extend)
	m := &Motion{
		Actuator: act,
		State:    state,
		Config:   MotionConfig{FrequencyHz: 200, SafetyThreshold: -100},
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Run(stop)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(stop)
	<-done

	if !lpwm.wentHigh() {
		t.Error("extend line never pulsed")
	}
	if rpwm.wentHigh() {
		t.Error("retract line pulsed during extend")
	}
}
