// Package rig contains the concurrent core of the autopusher test stand:
// the shared state, the force sampler and motion driver background loops,
// the proportional feedback controller and the sequence runner.
package rig

import "sync"

// Direction of actuator motion.
type Direction int

const (
	Retract Direction = -1
	Stop    Direction = 0
	Extend  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Retract:
		return "retract"
	case Extend:
		return "extend"
	default:
		return "stop"
	}
}

// State is the shared context passed to every component. Three field
// groups, each guarded by its own lock so unrelated readers never contend:
//
//   - force: latest calibrated reading; sole writer is the Sampler.
//   - command: (duty, direction) pair, always read and written together;
//     writers are the feedback controller and the motion loop's safety
//     override, reader is the motion loop.
//   - target: the setpoint currently being chased; writer is the sequence
//     runner, readers are the per-repetition logger and telemetry.
type State struct {
	forceMu sync.RWMutex
	force   float64

	cmdMu sync.Mutex
	duty  float64
	dir   Direction

	targetMu   sync.RWMutex
	target     float64
	haveTarget bool
}

// NewState returns a State with no load, a neutral command and no target.
func NewState() *State {
	return &State{}
}

// Force returns the most recent calibrated reading in pounds.
func (s *State) Force() float64 {
	s.forceMu.RLock()
	defer s.forceMu.RUnlock()
	return s.force
}

// SetForce publishes a new reading. Only the Sampler may call this.
func (s *State) SetForce(force float64) {
	s.forceMu.Lock()
	s.force = force
	s.forceMu.Unlock()
}

// Command returns the commanded (duty, direction) pair as a consistent
// snapshot.
func (s *State) Command() (float64, Direction) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.duty, s.dir
}

// SetCommand updates both command fields under one lock so no reader can
// observe duty from one write paired with direction from another. Duty is
// clamped to [0,1].
func (s *State) SetCommand(duty float64, dir Direction) {
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	s.cmdMu.Lock()
	s.duty = duty
	s.dir = dir
	s.cmdMu.Unlock()
}

// Neutral resets the command to (0, Stop). Called on every exit path of
// the feedback controller and at shutdown.
func (s *State) Neutral() {
	s.SetCommand(0, Stop)
}

// SetTarget records the setpoint the controller is currently chasing.
func (s *State) SetTarget(target float64) {
	s.targetMu.Lock()
	s.target = target
	s.haveTarget = true
	s.targetMu.Unlock()
}

// ClearTarget marks that no setpoint is active.
func (s *State) ClearTarget() {
	s.targetMu.Lock()
	s.haveTarget = false
	s.targetMu.Unlock()
}

// Target returns the active setpoint, if any.
func (s *State) Target() (float64, bool) {
	s.targetMu.RLock()
	defer s.targetMu.RUnlock()
	return s.target, s.haveTarget
}
