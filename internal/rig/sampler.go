package rig

import (
	"errors"
	"log"
	"time"

	"github.com/relabs-tech/autopusher/internal/hx711"
)

// ADC is the raw sample source consumed by the Sampler. Implemented by
// hx711.HX711; tests substitute a stub.
type ADC interface {
	Read() (int32, error)
	ReadTimeout(timeout time.Duration) (int32, error)
	PowerCycle() error
}

// SamplerConfig fixes the calibration and pacing of the force sampler for
// one run.
type SamplerConfig struct {
	// Samples per published reading; averaged to reduce mechanical noise.
	Samples int
	// force = (avgRaw - Offset) / (Scale * NoiseFactor)
	Scale       float64
	Offset      float64
	NoiseFactor float64
	// Period between published readings.
	Period time.Duration
	// ReadyTimeout bounds each chip ready wait; 0 waits unboundedly and
	// disables the power-cycle recovery path.
	ReadyTimeout time.Duration
	// PowerCycleRetries bounds recovery attempts per read.
	PowerCycleRetries int
}

// Sampler is the perpetual background loop that reads the ADC and
// publishes calibrated force into the shared State. It is the only writer
// of the force slot.
type Sampler struct {
	ADC    ADC
	State  *State
	Config SamplerConfig

	// OnSample, when set, observes every published reading. Wired to
	// telemetry by the app layer. Must not block for long.
	OnSample func(force float64)
}

// Run loops until stop is closed, checked once per iteration: an in-flight
// sample always completes. Transient faults are retried in place and never
// terminate the loop.
func (s *Sampler) Run(stop <-chan struct{}) {
	log.Printf("sampler: starting (period %v, %d sample(s)/reading)", s.Config.Period, s.Config.Samples)
	for {
		select {
		case <-stop:
			log.Println("sampler: stop signal received")
			return
		default:
		}

		avg, err := s.readAveraged()
		if err != nil {
			log.Printf("sampler: read failed, will retry: %v", err)
			time.Sleep(s.Config.Period)
			continue
		}

		force := (avg - s.Config.Offset) / (s.Config.Scale * s.Config.NoiseFactor)
		s.State.SetForce(force)
		if s.OnSample != nil {
			s.OnSample(force)
		}
		time.Sleep(s.Config.Period)
	}
}

func (s *Sampler) readAveraged() (float64, error) {
	n := s.Config.Samples
	if n < 1 {
		n = 1
	}
	var sum int64
	for i := 0; i < n; i++ {
		raw, err := s.readRaw()
		if err != nil {
			return 0, err
		}
		sum += int64(raw)
	}
	return float64(sum) / float64(n), nil
}

// readRaw reads one sample, recovering a wedged chip by power-cycling up
// to the configured retry count.
func (s *Sampler) readRaw() (int32, error) {
	if s.Config.ReadyTimeout <= 0 {
		return s.ADC.Read()
	}

	raw, err := s.ADC.ReadTimeout(s.Config.ReadyTimeout)
	for attempt := 1; errors.Is(err, hx711.ErrReadyTimeout) && attempt <= s.Config.PowerCycleRetries; attempt++ {
		log.Printf("sampler: chip not ready, power cycling (attempt %d/%d)", attempt, s.Config.PowerCycleRetries)
		if cerr := s.ADC.PowerCycle(); cerr != nil {
			return 0, cerr
		}
		raw, err = s.ADC.ReadTimeout(s.Config.ReadyTimeout)
	}
	return raw, err
}
