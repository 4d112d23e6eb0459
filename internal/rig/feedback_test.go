package rig

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/relabs-tech/autopusher/internal/actuator"
)

func newFeedbackFixture(t *testing.T) (*actuator.Actuator, *gpiotest.Pin, *gpiotest.Pin) {
	t.Helper()
	rpwm := &gpiotest.Pin{N: "rpwm"}
	lpwm := &gpiotest.Pin{N: "lpwm"}
	enable := &gpiotest.Pin{N: "enable"}
	act, err := actuator.New(rpwm, lpwm, enable)
	if err != nil {
		t.Fatalf("actuator.New: %v", err)
	}
	return act, rpwm, lpwm
}

func TestFeedbackImmediateSuccess(t *testing.T) {
	act, rpwm, lpwm := newFeedbackFixture(t)
	state := NewState() // force already 0

	fb := Feedback{
		Target:                 0,
		Tolerance:              0.05,
		PollInterval:           time.Millisecond,
		MaxDuration:            time.Second,
		Kp:                     0.005,
		RetractOnPositiveError: true,
	}
	if got := fb.Run(act, state, nil); got != OutcomeSuccess {
		t.Fatalf("outcome = %v; want success", got)
	}

	duty, dir := state.Command()
	if duty != 0 || dir != Stop {
		t.Errorf("command left (%v, %v); want neutral", duty, dir)
	}
	if rpwm.L != gpio.Low || lpwm.L != gpio.Low {
		t.Error("direction lines not left low")
	}
}

func TestFeedbackTimeoutLeavesNeutral(t *testing.T) {
	act, _, _ := newFeedbackFixture(t)
	state := NewState() // force frozen at 0, far from target

	fb := Feedback{
		Target:                 -5,
		Tolerance:              0.05,
		PollInterval:           time.Millisecond,
		MaxDuration:            10 * time.Millisecond,
		Kp:                     0.005,
		RetractOnPositiveError: true,
	}
	if got := fb.Run(act, state, nil); got != OutcomeTimeout {
		t.Fatalf("outcome = %v; want timeout", got)
	}

	duty, dir := state.Command()
	if duty != 0 || dir != Stop {
		t.Errorf("command left (%v, %v); want neutral", duty, dir)
	}
}

func TestFeedbackStopLeavesNeutral(t *testing.T) {
	act, rpwm, lpwm := newFeedbackFixture(t)
	state := NewState() // force frozen at 0, far from target

	fb := Feedback{
		Target:                 -5,
		Tolerance:              0.05,
		PollInterval:           time.Millisecond,
		MaxDuration:            time.Hour, // only stop can end this run
		Kp:                     0.005,
		RetractOnPositiveError: true,
	}
	stop := make(chan struct{})
	done := make(chan Outcome, 1)
	go func() { done <- fb.Run(act, state, stop) }()

	waitForCommand(t, state)
	close(stop)

	select {
	case got := <-done:
		if got != OutcomeStopped {
			t.Fatalf("outcome = %v; want stopped", got)
		}
	case <-time.After(time.Second):
		t.Fatal("controller did not exit after stop was closed")
	}

	duty, dir := state.Command()
	if duty != 0 || dir != Stop {
		t.Errorf("command left (%v, %v); want neutral", duty, dir)
	}
	if rpwm.L != gpio.Low || lpwm.L != gpio.Low {
		t.Error("direction lines not left low")
	}
}

// waitForCommand polls until the controller writes a non-neutral command.
func waitForCommand(t *testing.T, state *State) (float64, Direction) {
	t.Helper()
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		duty, dir := state.Command()
		if dir != Stop {
			return duty, dir
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("controller never wrote a drive command")
	return 0, Stop
}

func TestFeedbackPolarityMapping(t *testing.T) {
	cases := []struct {
		name    string
		target  float64
		wantDir Direction
	}{
		// Force frozen at 0. Negative target: error < 0 -> extend (the rig
		// pushes, compression goes negative).
		{"negative target extends", -5, Extend},
		// Positive target: error > 0 -> retract.
		{"positive target retracts", 5, Retract},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			act, _, _ := newFeedbackFixture(t)
			state := NewState()

			fb := Feedback{
				Target:                 c.target,
				Tolerance:              0.05,
				PollInterval:           5 * time.Millisecond,
				MaxDuration:            60 * time.Millisecond,
				Kp:                     0.1,
				RetractOnPositiveError: true,
			}
			done := make(chan Outcome, 1)
			go func() { done <- fb.Run(act, state, nil) }()

			duty, dir := waitForCommand(t, state)
			if dir != c.wantDir {
				t.Errorf("direction = %v; want %v", dir, c.wantDir)
			}
			if want := 0.5; duty != want { // Kp*|error| = 0.1*5
				t.Errorf("duty = %v; want %v", duty, want)
			}

			if got := <-done; got != OutcomeTimeout {
				t.Errorf("outcome = %v; want timeout (force frozen)", got)
			}
		})
	}
}
