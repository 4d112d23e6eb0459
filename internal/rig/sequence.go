package rig

import (
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/autopusher/internal/actuator"
	"github.com/relabs-tech/autopusher/internal/recorder"
)

// Sink receives each repetition's finished record. A sink error aborts the
// remaining repetitions (persistence is the point of the run).
type Sink func(rep int, rec *recorder.Record) error

// Sequence runs the configured setpoint list for a number of repetitions,
// logging force and active target at a fixed cadence while each repetition
// is in flight.
type Sequence struct {
	// Targets is the ordered setpoint list for one repetition.
	Targets []float64
	// Repetitions is the number of times the full list is run.
	Repetitions int
	// LogInterval is the logger cadence.
	LogInterval time.Duration
	// Feedback is the controller template; Target is filled per setpoint.
	Feedback Feedback

	// OnTimeout, when set, observes controller timeouts (non-fatal).
	OnTimeout func(rep int, target float64)
}

// Run executes all repetitions and hands each finished record to sink.
// The controller runs synchronously: the sequence advances only after it
// returns, and it advances regardless of success or timeout. Closing stop
// ends the run at the next setpoint boundary; an interrupted repetition's
// partial record is not sunk.
func (q *Sequence) Run(act *actuator.Actuator, state *State, sink Sink, stop <-chan struct{}) error {
	for rep := 1; rep <= q.Repetitions; rep++ {
		select {
		case <-stop:
			log.Printf("[sequence] stopped before repetition %d", rep)
			return nil
		default:
		}
		log.Printf("=== starting repetition %d/%d (sequential targets) ===", rep, q.Repetitions)
		rec, done := q.runRepetition(rep, act, state, stop)
		if !done {
			log.Printf("[sequence] repetition %d interrupted, discarding partial record", rep)
			return nil
		}
		if err := sink(rep, rec); err != nil {
			return err
		}
	}
	return nil
}

func (q *Sequence) runRepetition(rep int, act *actuator.Actuator, state *State, stop <-chan struct{}) (*recorder.Record, bool) {
	rec := recorder.NewRecord(time.Now())

	logStop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.logLoop(state, rec, logStop)
	}()

	done := true
	for _, target := range q.Targets {
		state.SetTarget(target)
		log.Printf("[sequence] moving to target %.2f lb", target)

		fb := q.Feedback
		fb.Target = target
		switch fb.Run(act, state, stop) {
		case OutcomeTimeout:
			log.Printf("[sequence] target %.2f lb not reached in time, moving on", target)
			if q.OnTimeout != nil {
				q.OnTimeout(rep, target)
			}
		case OutcomeStopped:
			done = false
		}
		if !done {
			break
		}
	}

	close(logStop)
	wg.Wait()
	state.ClearTarget()
	return rec, done
}

// logLoop appends (elapsed, force, active target) rows until stopped. It
// only reads shared state, never writes it.
func (q *Sequence) logLoop(state *State, rec *recorder.Record, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		target, ok := state.Target()
		rec.Append(state.Force(), target, ok)
		time.Sleep(q.LogInterval)
	}
}
