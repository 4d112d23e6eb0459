// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/autopusher/internal/config"
	"github.com/relabs-tech/autopusher/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsHub fans incoming telemetry out to every connected websocket client.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]bool)}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.Close()
}

// broadcast sends v as JSON to every client, dropping clients whose
// connection errors.
func (h *wsHub) broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if err := c.WriteJSON(v); err != nil {
			log.Printf("web: websocket write error, dropping client: %v", err)
			delete(h.conns, c)
			c.Close()
		}
	}
}

// wsFrame is one message pushed over the live stream.
type wsFrame struct {
	Type   string                 `json:"type"` // "force" or "status"
	Force  *telemetry.ForceSample `json:"force,omitempty"`
	Status *telemetry.StatusEvent `json:"status,omitempty"`
}

// RunWeb serves the live force monitor: a JSON API for the latest sample,
// a websocket push stream for force and status, and static files from
// ./web. Fed entirely from MQTT; read-only with respect to the rig.
func RunWeb() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}

	var (
		mu        sync.RWMutex
		lastForce telemetry.ForceSample
		haveForce bool
	)
	hub := newWSHub()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	forceToken := client.Subscribe(cfg.TopicForce, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.ForceSample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("web: force unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastForce = s
		haveForce = true
		mu.Unlock()
		hub.broadcast(wsFrame{Type: "force", Force: &s})
	})
	forceToken.Wait()
	if forceToken.Error() != nil {
		return forceToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicForce)

	statusToken := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev telemetry.StatusEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("web: status unmarshal error: %v", err)
			return
		}
		hub.broadcast(wsFrame{Type: "status", Status: &ev})
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicStatus)

	// JSON API endpoint: latest force sample
	http.HandleFunc("/api/force", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()

		if !haveForce {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastForce); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// Live push stream
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		hub.add(conn)
		// Drain client messages so pings are handled; drop on error.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hub.remove(conn)
					return
				}
			}
		}()
	})

	// Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
