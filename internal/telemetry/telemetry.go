// Package telemetry publishes force samples and structured status events
// to MQTT. The rig never depends on the broker: a nil *Publisher (no
// broker configured) is a valid no-op and all methods are nil-safe.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Status event kinds.
const (
	KindSafetyOverride    = "safety_override"
	KindControllerTimeout = "controller_timeout"
	KindFatal             = "fatal"
)

// ForceSample is one calibrated reading.
type ForceSample struct {
	ForceLb float64   `json:"force_lb"`
	Time    time.Time `json:"time"`
}

// StatusEvent is a structured status emission: one per safety trip, per
// controller timeout, and one fatal message before shutdown.
type StatusEvent struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message,omitempty"`
	ForceLb  float64   `json:"force_lb,omitempty"`
	TargetLb *float64  `json:"target_lb,omitempty"`
	Rep      int       `json:"rep,omitempty"`
	Time     time.Time `json:"time"`
}

type Publisher struct {
	client      mqtt.Client
	topicForce  string
	topicStatus string
}

// Connect dials the broker and returns a Publisher. An empty broker URL
// returns (nil, nil): telemetry disabled.
func Connect(broker, clientID, topicForce, topicStatus string) (*Publisher, error) {
	if broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: MQTT connect: %w", token.Error())
	}
	log.Printf("telemetry: connected to MQTT broker at %s", broker)

	return &Publisher{
		client:      client,
		topicForce:  topicForce,
		topicStatus: topicStatus,
	}, nil
}

// PublishForce publishes a retained force sample. Fire-and-forget: the
// sampler loop must not block on the broker.
func (p *Publisher) PublishForce(force float64) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(ForceSample{ForceLb: force, Time: time.Now()})
	if err != nil {
		log.Printf("telemetry: force marshal error: %v", err)
		return
	}
	p.client.Publish(p.topicForce, 0, true, payload)
}

// PublishStatus publishes a status event. Fire-and-forget.
func (p *Publisher) PublishStatus(ev StatusEvent) {
	if p == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("telemetry: status marshal error: %v", err)
		return
	}
	p.client.Publish(p.topicStatus, 0, false, payload)
}

// Disconnect flushes and closes the MQTT connection.
func (p *Publisher) Disconnect() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}
