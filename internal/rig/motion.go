package rig

import (
	"log"
	"time"

	"github.com/relabs-tech/autopusher/internal/actuator"
)

// MotionConfig fixes the motion loop's own cadence and the safety floor.
type MotionConfig struct {
	// FrequencyHz is the software PWM frequency; one command snapshot and
	// one emitted period per cycle.
	FrequencyHz int
	// SafetyThreshold is the force floor in pounds (negative = compressive).
	// Any reading below it forces a full-duty retract for that cycle.
	SafetyThreshold float64
}

// defaultPWMFrequencyHz is used when the configured frequency is not a
// positive number of cycles per second.
const defaultPWMFrequencyHz = 50

// Motion is the perpetual background loop that turns the shared command
// into PWM pulses. Per-cycle drive state is derived fresh from the State
// every period and never persisted across cycles.
type Motion struct {
	Actuator *actuator.Actuator
	State    *State
	Config   MotionConfig

	// OnSafetyTrip, when set, observes the transition into a safety
	// override (not every overridden cycle). Wired to telemetry.
	OnSafetyTrip func(force float64)
}

// Run loops until stop is closed. Cancellation is cooperative: the check
// happens at the top of each cycle, so an in-progress pulse always
// completes and the bridge is never left mid-cycle.
func (m *Motion) Run(stop <-chan struct{}) {
	freq := m.Config.FrequencyHz
	if freq < 1 {
		log.Printf("motion: invalid PWM frequency %d, using %dHz", freq, defaultPWMFrequencyHz)
		freq = defaultPWMFrequencyHz
	}
	period := time.Second / time.Duration(freq)
	log.Printf("motion: starting (PWM %dHz, safety threshold %.2f lb)", freq, m.Config.SafetyThreshold)

	tripped := false
	for {
		select {
		case <-stop:
			log.Println("motion: stop signal received")
			return
		default:
		}

		duty, dir := m.State.Command()
		force := m.State.Force()

		// Safety override: happens-before the pulse below, so a stale
		// controller command can never be driven once a breach has been
		// observed this cycle. Written back so the controller and logger
		// observe it too.
		if force < m.Config.SafetyThreshold {
			log.Printf("[SAFETY] force %.2f lb beyond %.2f lb threshold, retracting", force, m.Config.SafetyThreshold)
			m.State.SetCommand(1.0, Retract)
			duty, dir = 1.0, Retract
			if !tripped && m.OnSafetyTrip != nil {
				m.OnSafetyTrip(force)
			}
			tripped = true
		} else {
			tripped = false
		}

		if duty <= 0 || dir == Stop {
			if err := m.Actuator.Stop(); err != nil {
				log.Printf("motion: stop lines: %v", err)
			}
			time.Sleep(period)
			continue
		}

		var err error
		if dir == Extend {
			err = m.Actuator.PulseExtend(duty, period)
		} else {
			err = m.Actuator.PulseRetract(duty, period)
		}
		if err != nil {
			// Transient line fault: hold off one period and keep looping.
			log.Printf("motion: pulse: %v", err)
			time.Sleep(period)
		}
	}
}
