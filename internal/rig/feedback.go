package rig

import (
	"log"
	"math"
	"time"

	"github.com/relabs-tech/autopusher/internal/actuator"
)

// Outcome of one feedback run. Timeout is a reported condition, not a
// failure: the sequence proceeds to the next setpoint.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "stopped"
	}
}

// Feedback holds the parameters of one bounded proportional-control run.
// Unlike the sampler and motion loops it is not perpetual: it blocks the
// caller until convergence or timeout.
type Feedback struct {
	// Target force in pounds (negative = compressive).
	Target float64
	// Tolerance around Target that counts as converged.
	Tolerance float64
	// PollInterval between control updates.
	PollInterval time.Duration
	// MaxDuration bounds the run.
	MaxDuration time.Duration
	// Kp is the proportional gain applied to |error| to produce duty.
	Kp float64
	// RetractOnPositiveError selects the polarity mapping between error
	// sign and drive direction. The default (true) matches this rig's
	// wiring, where compressive force is negative; it is a calibration
	// setting, confirmed experimentally, not a constant.
	RetractOnPositiveError bool
}

// Run enables the actuator and drives toward Target until convergence,
// timeout, or stop is closed. On every exit path the command is reset to
// neutral and the direction lines are stopped, so the rig is never left in
// a driving state.
func (f Feedback) Run(act *actuator.Actuator, state *State, stop <-chan struct{}) Outcome {
	if err := act.Enable(); err != nil {
		log.Printf("[feedback] enable: %v", err)
	}
	log.Printf("[feedback] driving toward %.2f lb (Kp=%g)", f.Target, f.Kp)

	start := time.Now()
	defer func() {
		state.Neutral()
		if err := act.Stop(); err != nil {
			log.Printf("[feedback] stop lines: %v", err)
		}
	}()

	for {
		select {
		case <-stop:
			state.Neutral()
			log.Printf("[feedback] stopped before reaching %.2f lb", f.Target)
			return OutcomeStopped
		default:
		}

		errLb := f.Target - state.Force()

		if math.Abs(errLb) <= f.Tolerance {
			state.Neutral()
			log.Printf("[feedback] target reached: %.2f lb", state.Force())
			return OutcomeSuccess
		}
		if time.Since(start) > f.MaxDuration {
			state.Neutral()
			log.Printf("[feedback] timeout after %v, stopping", f.MaxDuration)
			return OutcomeTimeout
		}

		duty := math.Min(1.0, f.Kp*math.Abs(errLb))
		dir := Extend
		if (errLb > 0) == f.RetractOnPositiveError {
			dir = Retract
		}
		state.SetCommand(duty, dir)
		time.Sleep(f.PollInterval)
	}
}
