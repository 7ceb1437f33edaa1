package main

import (
	"flag"
	"log"
	"os"

	"EnigmaHub/internal/di"
	"EnigmaHub/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s storage=%s", cfg.Environment, cfg.Storage.Type)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.Bridge.Enabled {
		log.Printf("bridge: %s", cfg.Bridge.URL)
	}
	if cfg.Kafka.Enabled {
		log.Printf("kafka: brokers=%v signals_topic=%s", cfg.Kafka.Brokers, cfg.Kafka.SignalsTopic)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
