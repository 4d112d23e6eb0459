// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/autopusher/internal/actuator"
	"github.com/relabs-tech/autopusher/internal/config"
	"github.com/relabs-tech/autopusher/internal/hx711"
	"github.com/relabs-tech/autopusher/internal/recorder"
	"github.com/relabs-tech/autopusher/internal/rig"
	"github.com/relabs-tech/autopusher/internal/telemetry"
)

// RunRig wires the full closed-loop test stand and runs the configured
// setpoint sequence. Line acquisition failures abort before any motion is
// commanded; the shutdown sequence (loops stopped, bridge disabled, sensor
// powered down) runs on every exit, interrupt included.
func RunRig() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}

	data, err := pinByName(cfg.DataPin)
	if err != nil {
		return err
	}
	clock, err := pinByName(cfg.ClockPin)
	if err != nil {
		return err
	}
	rpwm, err := pinByName(cfg.RPWMPin)
	if err != nil {
		return err
	}
	lpwm, err := pinByName(cfg.LPWMPin)
	if err != nil {
		return err
	}
	enable, err := pinByName(cfg.EnablePin)
	if err != nil {
		return err
	}

	hx, err := hx711.New(data, clock)
	if err != nil {
		return err
	}
	hx.Verbose = cfg.HX711Verbose

	act, err := actuator.New(rpwm, lpwm, enable)
	if err != nil {
		return err
	}

	// Telemetry is optional: a broker outage never blocks the rig.
	pub, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDRig, cfg.TopicForce, cfg.TopicStatus)
	if err != nil {
		log.Printf("telemetry unavailable, continuing without: %v", err)
		pub = nil
	}

	state := rig.NewState()

	sampler := &rig.Sampler{
		ADC:   hx,
		State: state,
		Config: rig.SamplerConfig{
			Samples:           cfg.SamplesPerReading,
			Scale:             cfg.CalibrationScale,
			Offset:            cfg.CalibrationOffset,
			NoiseFactor:       cfg.NoiseFactor,
			Period:            time.Duration(cfg.SamplePeriodMS) * time.Millisecond,
			ReadyTimeout:      time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond,
			PowerCycleRetries: cfg.PowerCycleRetries,
		},
		OnSample: pub.PublishForce,
	}

	motion := &rig.Motion{
		Actuator: act,
		State:    state,
		Config: rig.MotionConfig{
			FrequencyHz:     cfg.PWMFrequencyHz,
			SafetyThreshold: cfg.SafetyThresholdLb,
		},
		OnSafetyTrip: func(force float64) {
			pub.PublishStatus(telemetry.StatusEvent{
				Kind:    telemetry.KindSafetyOverride,
				Message: fmt.Sprintf("force %.2f lb beyond %.2f lb, retracting", force, cfg.SafetyThresholdLb),
				ForceLb: force,
			})
		},
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sampler.Run(stop)
	}()
	go func() {
		defer wg.Done()
		motion.Run(stop)
	}()

	seq := &rig.Sequence{
		Targets:     cfg.TargetForcesLb,
		Repetitions: cfg.Repetitions,
		LogInterval: time.Duration(cfg.LogIntervalMS) * time.Millisecond,
		Feedback: rig.Feedback{
			Tolerance:              cfg.FeedbackToleranceLb,
			PollInterval:           time.Duration(cfg.FeedbackPollIntervalMS) * time.Millisecond,
			MaxDuration:            time.Duration(cfg.FeedbackMaxSeconds * float64(time.Second)),
			Kp:                     cfg.FeedbackKp,
			RetractOnPositiveError: cfg.FeedbackRetractOnPositiveErr,
		},
		OnTimeout: func(rep int, target float64) {
			t := target
			pub.PublishStatus(telemetry.StatusEvent{
				Kind:     telemetry.KindControllerTimeout,
				Message:  fmt.Sprintf("target %.2f lb not reached within %gs", target, cfg.FeedbackMaxSeconds),
				TargetLb: &t,
				Rep:      rep,
			})
		},
	}

	sink := func(rep int, rec *recorder.Record) error {
		path, err := recorder.WriteCSV(cfg.OutputDir, rep, rec)
		if err != nil {
			return err
		}
		log.Printf("[sequence] repetition %d: %d rows written to %s", rep, len(rec.Rows()), path)
		return nil
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- seq.Run(act, state, sink, stop)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	interrupted := false
	select {
	case runErr = <-runDone:
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
		interrupted = true
	}

	// Mandatory shutdown sequence, not best-effort: stop both loops and the
	// sequence, force the bridge off, power the sensor down. The sequence
	// must be drained before Disable, or a controller still in flight could
	// re-assert the enable line.
	close(stop)
	if interrupted {
		runErr = <-runDone
	}
	wg.Wait()
	if runErr != nil {
		log.Printf("fatal: %v", runErr)
		pub.PublishStatus(telemetry.StatusEvent{
			Kind:    telemetry.KindFatal,
			Message: runErr.Error(),
		})
	}
	state.Neutral()
	if err := act.Disable(); err != nil {
		log.Printf("shutdown: actuator disable: %v", err)
	}
	if err := hx.PowerDown(); err != nil {
		log.Printf("shutdown: sensor power down: %v", err)
	}
	pub.Disconnect()
	log.Println("rig shut down")
	return runErr
}

// pinByName resolves a GPIO line from the periph registry. A missing line
// is an acquisition failure: fatal at startup, before any motion.
func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("GPIO line %q not found", name)
	}
	return p, nil
}
