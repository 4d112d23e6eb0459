package rig

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/relabs-tech/autopusher/internal/actuator"
	"github.com/relabs-tech/autopusher/internal/recorder"
)

func newSequenceFixture(t *testing.T) (*actuator.Actuator, *State) {
	t.Helper()
	act, err := actuator.New(
		&gpiotest.Pin{N: "rpwm"},
		&gpiotest.Pin{N: "lpwm"},
		&gpiotest.Pin{N: "enable"},
	)
	if err != nil {
		t.Fatalf("actuator.New: %v", err)
	}
	return act, NewState()
}

func TestSequenceRunsAllRepetitions(t *testing.T) {
	act, state := newSequenceFixture(t)

	// Force sits at 0 and both targets are 0, so every feedback run
	// converges immediately.
	seq := &Sequence{
		Targets:     []float64{0, 0},
		Repetitions: 2,
		LogInterval: time.Millisecond,
		Feedback: Feedback{
			Tolerance:              0.05,
			PollInterval:           time.Millisecond,
			MaxDuration:            50 * time.Millisecond,
			Kp:                     0.005,
			RetractOnPositiveError: true,
		},
	}

	var reps []int
	sink := func(rep int, rec *recorder.Record) error {
		reps = append(reps, rep)
		if len(rec.Rows()) == 0 {
			t.Errorf("repetition %d produced an empty record", rep)
		}
		return nil
	}

	if err := seq.Run(act, state, sink, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reps) != 2 || reps[0] != 1 || reps[1] != 2 {
		t.Errorf("sink saw repetitions %v; want [1 2]", reps)
	}
	if _, ok := state.Target(); ok {
		t.Error("target still active after sequence")
	}
	if duty, dir := state.Command(); duty != 0 || dir != Stop {
		t.Errorf("command left (%v, %v); want neutral", duty, dir)
	}
}

func TestSequenceContinuesPastTimeout(t *testing.T) {
	act, state := newSequenceFixture(t)

	seq := &Sequence{
		// First target unreachable (force frozen at 0), second converges.
		Targets:     []float64{-5, 0},
		Repetitions: 1,
		LogInterval: time.Millisecond,
		Feedback: Feedback{
			Tolerance:              0.05,
			PollInterval:           time.Millisecond,
			MaxDuration:            10 * time.Millisecond,
			Kp:                     0.005,
			RetractOnPositiveError: true,
		},
	}

	var timeouts []float64
	seq.OnTimeout = func(rep int, target float64) {
		timeouts = append(timeouts, target)
	}

	sinkCalled := false
	sink := func(rep int, rec *recorder.Record) error {
		sinkCalled = true
		return nil
	}

	if err := seq.Run(act, state, sink, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(timeouts) != 1 || timeouts[0] != -5 {
		t.Errorf("OnTimeout saw %v; want [-5]", timeouts)
	}
	if !sinkCalled {
		t.Error("sequence aborted instead of continuing past the timeout")
	}
}

func TestSequenceStopEndsRunBeforeShutdown(t *testing.T) {
	rpwm := &gpiotest.Pin{N: "rpwm"}
	lpwm := &gpiotest.Pin{N: "lpwm"}
	enable := &gpiotest.Pin{N: "enable"}
	act, err := actuator.New(rpwm, lpwm, enable)
	if err != nil {
		t.Fatalf("actuator.New: %v", err)
	}
	state := NewState()

	// Every target is unreachable (force frozen at 0) and the controller
	// budget is effectively unbounded, so only stop can end the run.
	seq := &Sequence{
		Targets:     []float64{-5, -5},
		Repetitions: 100,
		LogInterval: time.Millisecond,
		Feedback: Feedback{
			Tolerance:              0.05,
			PollInterval:           time.Millisecond,
			MaxDuration:            time.Hour,
			Kp:                     0.005,
			RetractOnPositiveError: true,
		},
	}

	sinkCalls := 0
	sink := func(rep int, rec *recorder.Record) error {
		sinkCalls++
		return nil
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- seq.Run(act, state, sink, stop) }()

	time.Sleep(20 * time.Millisecond)
	close(stop)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sequence did not exit after stop was closed")
	}

	// The shutdown path disables the bridge only after the run has drained,
	// so nothing may re-assert the enable line afterwards.
	if err := act.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if enable.L != gpio.Low {
		t.Error("enable line asserted after shutdown disable")
	}
	if sinkCalls != 0 {
		t.Errorf("sink called %d times for an interrupted repetition; want 0", sinkCalls)
	}
	if duty, dir := state.Command(); duty != 0 || dir != Stop {
		t.Errorf("command left (%v, %v); want neutral", duty, dir)
	}
}

func TestSequenceSinkErrorAborts(t *testing.T) {
	act, state := newSequenceFixture(t)

	seq := &Sequence{
		Targets:     []float64{0},
		Repetitions: 3,
		LogInterval: time.Millisecond,
		Feedback: Feedback{
			Tolerance:              0.05,
			PollInterval:           time.Millisecond,
			MaxDuration:            10 * time.Millisecond,
			Kp:                     0.005,
			RetractOnPositiveError: true,
		},
	}

	sinkErr := errors.New("disk full")
	calls := 0
	sink := func(rep int, rec *recorder.Record) error {
		calls++
		return sinkErr
	}

	if err := seq.Run(act, state, sink, nil); !errors.Is(err, sinkErr) {
		t.Fatalf("Run = %v; want sink error", err)
	}
	if calls != 1 {
		t.Errorf("sink called %d times after failing; want 1", calls)
	}
}
