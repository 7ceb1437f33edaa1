package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"EnigmaHub/internal/classifier"
	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/hub"
	"EnigmaHub/pkg/logger"

	"github.com/labstack/echo/v4"
)

type stubStore struct {
	signals []*models.Signal
}

func (s *stubStore) Init(ctx context.Context) error { return nil }
func (s *stubStore) AppendSignal(ctx context.Context, sig *models.Signal) error {
	s.signals = append(s.signals, sig)
	return nil
}
func (s *stubStore) AppendRawMessage(ctx context.Context, clientID, msgType string, payload []byte) error {
	return nil
}
func (s *stubStore) AppendMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	return nil
}
func (s *stubStore) AppendConnectionEvent(ctx context.Context, info *models.ConnectionInfo, event string) error {
	return nil
}
func (s *stubStore) MarkSignalClosed(ctx context.Context, signalID string, exitTime time.Time, exitPrice *float64) (bool, error) {
	return false, nil
}
func (s *stubStore) GetSignal(ctx context.Context, signalID string) (*models.Signal, error) {
	return nil, nil
}
func (s *stubStore) RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	if limit > len(s.signals) {
		limit = len(s.signals)
	}
	return s.signals[:limit], nil
}
func (s *stubStore) Stats(ctx context.Context) (*models.SignalStats, error) {
	return &models.SignalStats{
		ByColor: make(map[models.ColorState]int64),
		ByLevel: make(map[string]int64),
	}, nil
}
func (s *stubStore) Health(ctx context.Context) error { return nil }
func (s *stubStore) Close() error                     { return nil }

type stubMetrics struct{}

func (stubMetrics) RecordMessageReceived(string)    {}
func (stubMetrics) RecordSignal(string, string)     {}
func (stubMetrics) RecordBroadcast(string)          {}
func (stubMetrics) RecordError(string)              {}
func (stubMetrics) RecordConnections(string, int)   {}
func (stubMetrics) RecordLastPrice(string, float64) {}
func (stubMetrics) RecordLatency(string, float64)   {}

type stubBridge struct {
	closedInstrument string
	closeErr         error
	account          map[string]any
}

func (b *stubBridge) ClosePosition(instrument string) error {
	b.closedInstrument = instrument
	return b.closeErr
}
func (b *stubBridge) ConnectionStatus() map[string]any {
	return map[string]any{"state": "READY"}
}
func (b *stubBridge) AccountInfo() (map[string]any, bool) {
	if b.account == nil {
		return nil, false
	}
	return b.account, true
}

const testToken = "secret-token"

func newTestServer(t *testing.T, store *stubStore, opts ...ControlOption) (*echo.Echo, *hub.Hub) {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	reg := hub.NewRegistry(16, l, stubMetrics{})
	h := hub.New(reg, store, classifier.New(classifier.Config{}), stubMetrics{}, l)

	e := echo.New()
	NewControlHandler(h, store, testToken, l, opts...).RegisterRoutes(e)
	return e, h
}

func doRequest(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Status int            `json:"status"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Data
}

func TestHealthUnauthenticated(t *testing.T) {
	e, _ := newTestServer(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["status"] != "healthy" {
		t.Fatalf("unexpected health payload: %v", data)
	}
}

func TestAuthRequired(t *testing.T) {
	e, _ := newTestServer(t, &stubStore{})

	for _, token := range []string{"", "wrong-token"} {
		rec := doRequest(e, http.MethodGet, "/status", token)
		var body struct {
			Status int `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Status != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401 payload, got %d", token, body.Status)
		}
	}

	rec := doRequest(e, http.MethodGet, "/status", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token rejected: %d", rec.Code)
	}
}

func TestTradingToggle(t *testing.T) {
	e, h := newTestServer(t, &stubStore{})

	doRequest(e, http.MethodPost, "/trading/disable", testToken)
	if h.TradingEnabled() {
		t.Fatalf("trading should be disabled")
	}

	rec := doRequest(e, http.MethodGet, "/status", testToken)
	data := decodeData(t, rec)
	if data["trading_enabled"] != false {
		t.Fatalf("status should report trading disabled: %v", data)
	}

	doRequest(e, http.MethodPost, "/trading/enable", testToken)
	if !h.TradingEnabled() {
		t.Fatalf("trading should be enabled")
	}
}

func TestEmergencyStop(t *testing.T) {
	bridge := &stubBridge{}
	e, h := newTestServer(t, &stubStore{}, WithBridge(bridge))

	rec := doRequest(e, http.MethodPost, "/emergency/stop", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency stop failed: %d", rec.Code)
	}
	if h.TradingEnabled() {
		t.Fatalf("trading should be disabled after emergency stop")
	}
	if bridge.closedInstrument != "ALL" {
		t.Fatalf("bridge close not invoked: %q", bridge.closedInstrument)
	}
	data := decodeData(t, rec)
	if data["positions_closed"] != true {
		t.Fatalf("expected positions_closed: %v", data)
	}
}

func TestEmergencyStopBridgeFailure(t *testing.T) {
	bridge := &stubBridge{closeErr: fmt.Errorf("bridge down")}
	e, h := newTestServer(t, &stubStore{}, WithBridge(bridge))

	rec := doRequest(e, http.MethodPost, "/emergency/stop", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency stop should still succeed: %d", rec.Code)
	}
	if h.TradingEnabled() {
		t.Fatalf("trading must be disabled even when bridge close fails")
	}
	data := decodeData(t, rec)
	if data["positions_closed"] != false {
		t.Fatalf("expected positions_closed false: %v", data)
	}
}

func TestAccountStatusUnavailable(t *testing.T) {
	e, _ := newTestServer(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/account/status", testToken)
	data := decodeData(t, rec)
	if data["available"] != false {
		t.Fatalf("expected unavailable account status: %v", data)
	}
}

func TestAccountStatusPassThrough(t *testing.T) {
	bridge := &stubBridge{account: map[string]any{"balance": 25000.0}}
	e, _ := newTestServer(t, &stubStore{}, WithBridge(bridge))

	rec := doRequest(e, http.MethodGet, "/account/status", testToken)
	data := decodeData(t, rec)
	if data["available"] != true {
		t.Fatalf("expected available account status: %v", data)
	}
	account, ok := data["account"].(map[string]any)
	if !ok || account["balance"] != 25000.0 {
		t.Fatalf("account payload not passed through: %v", data)
	}
}

func TestRecentSignalsLimitValidation(t *testing.T) {
	store := &stubStore{}
	for i := 0; i < 5; i++ {
		store.signals = append(store.signals, &models.Signal{ID: fmt.Sprintf("sig-%d", i)})
	}
	e, _ := newTestServer(t, store)

	rec := doRequest(e, http.MethodGet, "/signals/recent?limit=3", testToken)
	var body struct {
		Data struct {
			Rows  []models.Signal `json:"rows"`
			Total int64           `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(body.Data.Rows))
	}

	rec = doRequest(e, http.MethodGet, "/signals/recent?limit=10000", testToken)
	var errBody struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if errBody.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit, got %d", errBody.Status)
	}
}
