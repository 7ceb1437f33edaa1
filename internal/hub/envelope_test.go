package hub

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{"type":"heartbeat","data":{"client_id":"abc"},"timestamp":"2025-03-14T15:09:26Z"}`)
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != TypeHeartbeat {
		t.Errorf("type = %s, want heartbeat", env.Type)
	}
	want := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	if !env.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", env.Timestamp.Time, want)
	}
}

func TestParseEnvelopeEpochTimestamp(t *testing.T) {
	raw := []byte(`{"type":"heartbeat","timestamp":1741964966}`)
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Timestamp.Unix() != 1741964966 {
		t.Errorf("timestamp = %d, want 1741964966", env.Timestamp.Unix())
	}

	// Fractional epoch seconds are accepted too.
	raw = []byte(`{"type":"heartbeat","timestamp":1741964966.5}`)
	env, err = ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse fractional: %v", err)
	}
	if env.Timestamp.Unix() != 1741964966 {
		t.Errorf("fractional timestamp = %d, want 1741964966", env.Timestamp.Unix())
	}
}

func TestParseEnvelopeMissingType(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"data":{}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestNewEnvelopeShape(t *testing.T) {
	b, err := NewEnvelope(TypeWelcome, map[string]string{"client_id": "abc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var env struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypeWelcome {
		t.Errorf("type = %s, want welcome", env.Type)
	}
	if !strings.Contains(string(env.Data), `"client_id":"abc"`) {
		t.Errorf("data = %s", env.Data)
	}
	if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", env.Timestamp, err)
	}
}

func TestNewEnvelopeNilData(t *testing.T) {
	b, err := NewEnvelope(TypeHeartbeatResponse, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(string(b), `"data"`) {
		t.Errorf("nil payload should omit data field: %s", b)
	}
}
