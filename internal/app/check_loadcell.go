package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/host/v3"

	"github.com/relabs-tech/autopusher/internal/config"
	"github.com/relabs-tech/autopusher/internal/hx711"
)

// RunCheckLoadcell continuously reads the load cell and prints raw count
// and calibrated force, power-cycling the chip on read faults. Used to
// verify wiring and calibration before a real run; no actuator lines are
// touched.
func RunCheckLoadcell() error {
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

	hx, err := hx711.New(data, clock)
	if err != nil {
		return err
	}
	hx.Verbose = cfg.HX711Verbose
	defer func() {
		if err := hx.PowerDown(); err != nil {
			log.Printf("check_loadcell: power down: %v", err)
		}
	}()

	readyTimeout := time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond
	if readyTimeout <= 0 {
		readyTimeout = time.Second
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Println("load cell reader started, Ctrl+C to stop")
	fmt.Printf("%-14s %-12s %-12s\n", "Time", "Raw", "Force (lb)")

	for {
		select {
		case <-sigCh:
			log.Println("check_loadcell: stopping")
			return nil
		default:
		}

		raw, err := hx.ReadTimeout(readyTimeout)
		if err != nil {
			log.Printf("check_loadcell: read error: %v, power cycling", err)
			if cerr := hx.PowerCycle(); cerr != nil {
				log.Printf("check_loadcell: power cycle: %v", cerr)
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		force := (float64(raw) - cfg.CalibrationOffset) / (cfg.CalibrationScale * cfg.NoiseFactor)
		fmt.Printf("%-14s %-12d %-12.3f\n", time.Now().Format("15:04:05.000"), raw, force)

		// The chip produces ~10 samples/s; pacing keeps the terminal sane.
		time.Sleep(150 * time.Millisecond)
	}
}
