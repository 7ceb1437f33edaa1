package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
environment: test
control:
  auth_token: tok
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("storage.type = %s, want sqlite", cfg.Storage.Type)
	}
	if cfg.Classifier.BuyThreshold != 50 || cfg.Classifier.RedBelow != 30 || cfg.Classifier.GreenAbove != 70 {
		t.Errorf("classifier thresholds = %d/%d/%d, want 50/30/70",
			cfg.Classifier.BuyThreshold, cfg.Classifier.RedBelow, cfg.Classifier.GreenAbove)
	}
	if cfg.Classifier.ConfidenceDivisor != 100 {
		t.Errorf("confidence_divisor = %v, want 100", cfg.Classifier.ConfidenceDivisor)
	}
	if cfg.Hub.SendBufferSize != 64 {
		t.Errorf("hub.send_buffer_size = %d, want 64", cfg.Hub.SendBufferSize)
	}
}

func TestLoadMissingAuthToken(t *testing.T) {
	_, err := Load(writeConfig(t, "environment: test\n"))
	if err == nil {
		t.Fatal("expected error for missing control.auth_token")
	}
}

func TestLoadBadStorageType(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
storage:
  type: postgres
`))
	if err == nil {
		t.Fatal("expected error for unsupported storage type")
	}
}

func TestLoadBridgeRequiresURL(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
bridge:
  enabled: true
`))
	if err == nil {
		t.Fatal("expected error for bridge enabled without url")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("CONTROL_AUTH_TOKEN", "env-token")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")

	cfg, err := LoadWithEnv(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Control.AuthToken != "env-token" {
		t.Errorf("auth token = %s, want env-token", cfg.Control.AuthToken)
	}
	if cfg.Storage.SQLite.Path != "/tmp/override.db" {
		t.Errorf("sqlite path = %s", cfg.Storage.SQLite.Path)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "b1:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}
