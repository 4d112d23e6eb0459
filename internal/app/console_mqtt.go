package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/autopusher/internal/config"
	"github.com/relabs-tech/autopusher/internal/telemetry"
)

// RunConsoleMQTT subscribes to the rig's force and status topics and
// prints them, one line per message. Read-only observer: it never touches
// the hardware.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	forceToken := client.Subscribe(cfg.TopicForce, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.ForceSample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: force unmarshal error: %v", err)
			return
		}
		fmt.Printf("[FORCE ] %8.3f lb  %s\n", s.ForceLb, s.Time.Format("15:04:05.000"))
	})
	forceToken.Wait()
	if forceToken.Error() != nil {
		return forceToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicForce)

	statusToken := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev telemetry.StatusEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		target := ""
		if ev.TargetLb != nil {
			target = fmt.Sprintf("  target=%.2f lb", *ev.TargetLb)
		}
		fmt.Printf("[STATUS] %-18s %s%s\n", ev.Kind, ev.Message, target)
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
