package app

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/host/v3"

	"github.com/relabs-tech/autopusher/internal/actuator"
	"github.com/relabs-tech/autopusher/internal/config"
)

// RunActuatorTrial exercises the H-bridge manually: a half-duty extend, a
// pause, a half-duty retract, then the fail-safe disable. Used to confirm
// wiring and travel direction before closed-loop runs.
func RunActuatorTrial() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
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

	act, err := actuator.New(rpwm, lpwm, enable)
	if err != nil {
		return err
	}
	defer func() {
		if err := act.Disable(); err != nil {
			log.Printf("actuator_trial: disable: %v", err)
		}
	}()

	if err := act.Enable(); err != nil {
		return err
	}

	if err := act.Extend(0.5, 2*time.Second, cfg.PWMFrequencyHz); err != nil {
		return err
	}
	if err := act.Stop(); err != nil {
		return err
	}
	time.Sleep(time.Second)

	if err := act.Retract(0.5, 2*time.Second, cfg.PWMFrequencyHz); err != nil {
		return err
	}

	log.Println("actuator trial complete")
	return nil
}
