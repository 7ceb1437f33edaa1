package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"EnigmaHub/pkg/util"
)

// Envelope is the wire frame shared by every message on a hub connection.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp WireTime        `json:"timestamp"`
}

// Inbound message types.
const (
	TypeIdentification = "client_identification"
	TypeHeartbeat      = "heartbeat"
	TypeStatusRequest  = "status_request"
	TypeEnigmaUpdate   = "enigma_update"
	TypeTradeUpdate    = "trade_update"
	TypeMobileCommand  = "mobile_command"
	TypeSubscribe      = "subscribe"
)

// Outbound message types.
const (
	TypeWelcome           = "welcome"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeStatusResponse    = "status_response"
	TypeSignalProcessed   = "signal_processed"
	TypeAcknowledged      = "message_acknowledged"
	TypeEmergencyStop     = "emergency_stop"
	TypePriceUpdate       = "price_update"
	TypeError             = "error"
)

// WireTime tolerates both RFC3339 strings and unix epoch numbers on input,
// and always serializes as RFC3339.
type WireTime struct {
	time.Time
}

func (t WireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *WireTime) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if parsed, ok := util.ParseTime(s); ok {
			t.Time = parsed
		}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	t.Time = time.Unix(sec, nsec)
	return nil
}

// NewEnvelope builds a wire frame around the given payload.
func NewEnvelope(msgType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		raw = b
	}
	return json.Marshal(Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: WireTime{time.Now()},
	})
}

// ParseEnvelope decodes a wire frame. A frame without a type is rejected.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}
