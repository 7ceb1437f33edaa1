package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"EnigmaHub/internal/classifier"
	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/hub"
	"EnigmaHub/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type stubStore struct{}

func (stubStore) Init(ctx context.Context) error                           { return nil }
func (stubStore) AppendSignal(ctx context.Context, s *models.Signal) error { return nil }
func (stubStore) AppendRawMessage(ctx context.Context, clientID, msgType string, payload []byte) error {
	return nil
}
func (stubStore) AppendMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	return nil
}
func (stubStore) AppendConnectionEvent(ctx context.Context, info *models.ConnectionInfo, event string) error {
	return nil
}
func (stubStore) MarkSignalClosed(ctx context.Context, signalID string, exitTime time.Time, exitPrice *float64) (bool, error) {
	return false, nil
}
func (stubStore) GetSignal(ctx context.Context, signalID string) (*models.Signal, error) {
	return nil, nil
}
func (stubStore) RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	return nil, nil
}
func (stubStore) Stats(ctx context.Context) (*models.SignalStats, error) {
	return &models.SignalStats{
		ByColor: make(map[models.ColorState]int64),
		ByLevel: make(map[string]int64),
	}, nil
}
func (stubStore) Health(ctx context.Context) error { return nil }
func (stubStore) Close() error                     { return nil }

type stubMetrics struct{}

func (stubMetrics) RecordMessageReceived(string)    {}
func (stubMetrics) RecordSignal(string, string)     {}
func (stubMetrics) RecordBroadcast(string)          {}
func (stubMetrics) RecordError(string)              {}
func (stubMetrics) RecordConnections(string, int)   {}
func (stubMetrics) RecordLastPrice(string, float64) {}
func (stubMetrics) RecordLatency(string, float64)   {}

func newTestEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	reg := hub.NewRegistry(16, l, stubMetrics{})
	h := hub.New(reg, stubStore{}, classifier.New(classifier.Config{}), stubMetrics{}, l)

	e := echo.New()
	NewHandler(h, l, 0).RegisterRoutes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) *hub.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", msgType, err)
		}
		env, err := hub.ParseEnvelope(raw)
		if err != nil {
			t.Fatalf("bad frame waiting for %s: %v", msgType, err)
		}
		if env.Type == msgType {
			return env
		}
	}
	t.Fatalf("no %s frame received", msgType)
	return nil
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	payload, err := hub.NewEnvelope(msgType, data)
	if err != nil {
		t.Fatalf("build %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func TestWelcomeOnConnect(t *testing.T) {
	srv := newTestEndpoint(t)
	conn := dial(t, srv, "/ws")

	env := readUntil(t, conn, hub.TypeWelcome)
	var data struct {
		ClientID string `json:"client_id"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if data.ClientID == "" {
		t.Fatalf("welcome missing client_id: %s", env.Data)
	}
	if data.Role != string(models.RoleUnspecified) {
		t.Fatalf("role = %s, want %s", data.Role, models.RoleUnspecified)
	}
}

func TestPathAliasAssignsRole(t *testing.T) {
	cases := []struct {
		path string
		role models.Role
	}{
		{"/ws/ninja", models.RoleDashboard},
		{"/ws/mobile", models.RoleMobile},
		{"/ws/admin", models.RoleAdmin},
		{"/ws/bridge", models.RoleBridge},
	}

	srv := newTestEndpoint(t)
	for _, tc := range cases {
		conn := dial(t, srv, tc.path)
		env := readUntil(t, conn, hub.TypeWelcome)
		var data struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode welcome: %v", err)
		}
		if data.Role != string(tc.role) {
			t.Fatalf("%s: role = %s, want %s", tc.path, data.Role, tc.role)
		}
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	srv := newTestEndpoint(t)
	conn := dial(t, srv, "/ws")
	readUntil(t, conn, hub.TypeWelcome)

	writeEnvelope(t, conn, hub.TypeHeartbeat, nil)
	env := readUntil(t, conn, hub.TypeHeartbeatResponse)
	var data struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode heartbeat_response: %v", err)
	}
	if data.ClientID == "" {
		t.Fatalf("heartbeat_response missing client_id")
	}
}

func TestSignalBroadcastAcrossConnections(t *testing.T) {
	srv := newTestEndpoint(t)
	producer := dial(t, srv, "/ws/ninja")
	watcher := dial(t, srv, "/ws/mobile")
	readUntil(t, producer, hub.TypeWelcome)
	readUntil(t, watcher, hub.TypeWelcome)

	writeEnvelope(t, producer, hub.TypeEnigmaUpdate, map[string]any{
		"symbol":      "NQ",
		"power_score": 85,
	})

	env := readUntil(t, watcher, hub.TypeSignalProcessed)
	var sig models.Signal
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if sig.Symbol != "NQ" || sig.PowerScore != 85 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
	if sig.Color != models.ColorGreen {
		t.Fatalf("color = %s, want GREEN", sig.Color)
	}
}

func TestInvalidFrameGetsErrorReply(t *testing.T) {
	srv := newTestEndpoint(t)
	conn := dial(t, srv, "/ws")
	readUntil(t, conn, hub.TypeWelcome)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, hub.TypeError)
}
