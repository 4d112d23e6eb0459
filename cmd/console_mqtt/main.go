package main

import (
	"log"

	"github.com/relabs-tech/autopusher/internal/app"
	"github.com/relabs-tech/autopusher/internal/config"
)

func main() {
	log.Println("starting autopusher console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal("autopusher_config.txt"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
