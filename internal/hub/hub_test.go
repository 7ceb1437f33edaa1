package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"EnigmaHub/internal/classifier"
	"EnigmaHub/internal/domain/models"
	"EnigmaHub/pkg/logger"
)

// fakeSocket records frames written by the registry writer goroutine.
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("socket closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) find(msgType string) *Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, frame := range f.frames {
		env, err := ParseEnvelope(frame)
		if err == nil && env.Type == msgType {
			return env
		}
	}
	return nil
}

func (f *fakeSocket) countType(msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, frame := range f.frames {
		env, err := ParseEnvelope(frame)
		if err == nil && env.Type == msgType {
			n++
		}
	}
	return n
}

func (f *fakeSocket) waitFor(t *testing.T, msgType string) *Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env := f.find(msgType); env != nil {
			return env
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s frame", msgType)
	return nil
}

// nopMetrics satisfies the Metrics interface without Prometheus registration.
type nopMetrics struct{}

func (nopMetrics) RecordMessageReceived(string)    {}
func (nopMetrics) RecordSignal(string, string)     {}
func (nopMetrics) RecordBroadcast(string)          {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordConnections(string, int)   {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64)   {}

// memStore is an in-memory EventStore for hub tests.
type memStore struct {
	mu         sync.Mutex
	signals    map[string]*models.Signal
	raw        int
	failAppend bool
}

func newMemStore() *memStore {
	return &memStore{signals: make(map[string]*models.Signal)}
}

func (m *memStore) Init(ctx context.Context) error { return nil }

func (m *memStore) AppendSignal(ctx context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return fmt.Errorf("append failed")
	}
	cp := *s
	m.signals[s.ID] = &cp
	return nil
}

func (m *memStore) AppendRawMessage(ctx context.Context, clientID, msgType string, payload []byte) error {
	m.mu.Lock()
	m.raw++
	m.mu.Unlock()
	return nil
}

func (m *memStore) AppendMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	return nil
}

func (m *memStore) AppendConnectionEvent(ctx context.Context, info *models.ConnectionInfo, event string) error {
	return nil
}

func (m *memStore) MarkSignalClosed(ctx context.Context, signalID string, exitTime time.Time, exitPrice *float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[signalID]
	if !ok || s.Status != models.StatusActive {
		return false, nil
	}
	s.Status = models.StatusClosed
	s.ExitTime = &exitTime
	if exitPrice != nil {
		s.ExitPrice = exitPrice
	}
	return true, nil
}

func (m *memStore) GetSignal(ctx context.Context, signalID string) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[signalID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Signal, 0, len(m.signals))
	for _, s := range m.signals {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Stats(ctx context.Context) (*models.SignalStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.SignalStats{
		ByColor: make(map[models.ColorState]int64),
		ByLevel: make(map[string]int64),
	}
	for _, s := range m.signals {
		stats.TotalSignals++
		if s.Status == models.StatusActive {
			stats.ActiveSignals++
		} else {
			stats.ClosedSignals++
		}
	}
	return stats, nil
}

func (m *memStore) Health(ctx context.Context) error { return nil }
func (m *memStore) Close() error                     { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestHub(t *testing.T, store *memStore, opts ...Option) *Hub {
	t.Helper()
	reg := NewRegistry(64, testLogger(t), nopMetrics{})
	return New(reg, store, classifier.New(classifier.Config{}), nopMetrics{}, testLogger(t), opts...)
}

func envelope(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	raw, err := NewEnvelope(msgType, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return raw
}

func TestIdentificationIdempotent(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleUnspecified)
	ws.waitFor(t, TypeWelcome)

	h.HandleMessage(ctx, c, envelope(t, TypeIdentification, map[string]string{"client_type": "dashboard"}))
	if got := c.Role(); got != models.RoleDashboard {
		t.Fatalf("expected dashboard role, got %s", got)
	}

	// second identification must not change the assigned role
	h.HandleMessage(ctx, c, envelope(t, TypeIdentification, map[string]string{"client_type": "admin"}))
	if got := c.Role(); got != models.RoleDashboard {
		t.Fatalf("role changed on repeat identification: %s", got)
	}
}

func TestHeartbeat(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleUnspecified)

	h.HandleMessage(ctx, c, envelope(t, TypeHeartbeat, nil))
	env := ws.waitFor(t, TypeHeartbeatResponse)

	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode heartbeat_response: %v", err)
	}
	if data["client_id"] != c.ID {
		t.Fatalf("heartbeat_response missing client id: %v", data)
	}
}

func TestEnigmaUpdateBroadcast(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, store)
	ctx := context.Background()

	sender := &fakeSocket{}
	receiver := &fakeSocket{}
	sc := h.Attach(ctx, sender, "127.0.0.1:1000", models.RoleDashboard)
	h.Attach(ctx, receiver, "127.0.0.1:1001", models.RoleMobile)

	h.HandleMessage(ctx, sc, envelope(t, TypeEnigmaUpdate, map[string]any{
		"enigma_data": map[string]any{"power_score": 85, "confluence_level": "L4"},
	}))

	env := receiver.waitFor(t, TypeSignalProcessed)
	var sig models.Signal
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if sig.Direction != models.DirectionBuy || sig.Color != models.ColorGreen {
		t.Fatalf("unexpected classification: %+v", sig)
	}
	sender.waitFor(t, TypeSignalProcessed)

	stored, err := store.GetSignal(ctx, sig.ID)
	if err != nil || stored == nil {
		t.Fatalf("signal not persisted: %v", err)
	}

	snap := h.Status(ctx)
	if snap.Signals.TotalSignals != 1 || snap.Signals.ActiveSignals != 1 {
		t.Fatalf("aggregate not updated: %+v", snap.Signals)
	}
	if snap.Signals.BuySignals != 1 {
		t.Fatalf("expected one buy signal: %+v", snap.Signals)
	}
}

func TestTradeUpdateClosesSignal(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, store)
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleDashboard)

	h.HandleMessage(ctx, c, envelope(t, TypeEnigmaUpdate, map[string]any{"power_score": 60}))
	env := ws.waitFor(t, TypeSignalProcessed)
	var sig models.Signal
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}

	price := 18542.25
	h.HandleMessage(ctx, c, envelope(t, TypeTradeUpdate, map[string]any{
		"signal_id":  sig.ID,
		"exit_price": price,
	}))
	ack := ws.waitFor(t, TypeAcknowledged)
	var ackData map[string]any
	if err := json.Unmarshal(ack.Data, &ackData); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackData["closed"] != true {
		t.Fatalf("expected closed ack, got %v", ackData)
	}

	stored, _ := store.GetSignal(ctx, sig.ID)
	if stored.Status != models.StatusClosed {
		t.Fatalf("signal not closed: %s", stored.Status)
	}
	if stored.ExitPrice == nil || *stored.ExitPrice != price {
		t.Fatalf("exit price not recorded: %v", stored.ExitPrice)
	}

	snap := h.Status(ctx)
	if snap.Signals.ActiveSignals != 0 || snap.Signals.ClosedSignals != 1 {
		t.Fatalf("aggregate close not applied: %+v", snap.Signals)
	}
}

func TestTradeUpdateUnknownSignal(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleDashboard)

	h.HandleMessage(ctx, c, envelope(t, TypeTradeUpdate, map[string]any{"signal_id": "nope"}))
	ack := ws.waitFor(t, TypeAcknowledged)
	var ackData map[string]any
	if err := json.Unmarshal(ack.Data, &ackData); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackData["closed"] != false {
		t.Fatalf("unknown signal should be a no-op: %v", ackData)
	}
}

func TestUnknownTypeKeepsConnection(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleDashboard)

	h.HandleMessage(ctx, c, envelope(t, "mystery_frame", map[string]any{"x": 1}))
	ws.waitFor(t, TypeError)

	// the connection still works
	h.HandleMessage(ctx, c, envelope(t, TypeHeartbeat, nil))
	ws.waitFor(t, TypeHeartbeatResponse)
}

func TestMalformedJSON(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleDashboard)

	h.HandleMessage(ctx, c, []byte("{not json"))
	ws.waitFor(t, TypeError)

	h.HandleMessage(ctx, c, envelope(t, TypeHeartbeat, nil))
	ws.waitFor(t, TypeHeartbeatResponse)
}

func TestStoreFailureTolerated(t *testing.T) {
	store := newMemStore()
	store.failAppend = true
	h := newTestHub(t, store)
	ctx := context.Background()

	sender := &fakeSocket{}
	receiver := &fakeSocket{}
	sc := h.Attach(ctx, sender, "127.0.0.1:1000", models.RoleDashboard)
	h.Attach(ctx, receiver, "127.0.0.1:1001", models.RoleMobile)

	h.HandleMessage(ctx, sc, envelope(t, TypeEnigmaUpdate, map[string]any{"power_score": 90}))

	// broadcast still happens despite the failed append
	receiver.waitFor(t, TypeSignalProcessed)

	snap := h.Status(ctx)
	if snap.Performance.StorageHealthy {
		t.Fatalf("expected degraded storage flag")
	}
	if snap.Signals.TotalSignals != 1 {
		t.Fatalf("aggregate should still count the signal: %+v", snap.Signals)
	}
}

func TestEmergencyStopBroadcast(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleMobile)

	if !h.TradingEnabled() {
		t.Fatalf("trading should start enabled")
	}
	h.EmergencyStop(ctx, "manual stop", "admin")
	if h.TradingEnabled() {
		t.Fatalf("trading should be disabled after emergency stop")
	}
	env := ws.waitFor(t, TypeEmergencyStop)
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode emergency_stop: %v", err)
	}
	if data["reason"] != "manual stop" || data["triggered_by"] != "admin" {
		t.Fatalf("unexpected payload: %v", data)
	}
}

func TestConcurrentSendersAndReceivers(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, store)
	ctx := context.Background()

	const senders = 4
	const receivers = 3
	const perSender = 10

	recvSockets := make([]*fakeSocket, receivers)
	for i := range recvSockets {
		recvSockets[i] = &fakeSocket{}
		h.Attach(ctx, recvSockets[i], "127.0.0.1:2000", models.RoleMobile)
	}

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		ws := &fakeSocket{}
		c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleDashboard)
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				h.HandleMessage(ctx, c, envelope(t, TypeEnigmaUpdate, map[string]any{"power_score": 40 + j}))
			}
		}(c)
	}
	wg.Wait()

	want := senders * perSender
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		done := true
		for _, ws := range recvSockets {
			if ws.countType(TypeSignalProcessed) < want {
				done = false
				break
			}
		}
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i, ws := range recvSockets {
		if got := ws.countType(TypeSignalProcessed); got != want {
			t.Fatalf("receiver %d got %d broadcasts, want %d", i, got, want)
		}
	}

	snap := h.Status(ctx)
	if snap.Signals.TotalSignals != int64(want) {
		t.Fatalf("aggregate total %d, want %d", snap.Signals.TotalSignals, want)
	}
}

func TestMobileCommandEmergencyStop(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	phone := &fakeSocket{}
	peer := &fakeSocket{}
	pc := h.Attach(ctx, phone, "127.0.0.1:1000", models.RoleMobile)
	h.Attach(ctx, peer, "127.0.0.1:1001", models.RoleDashboard)

	h.HandleMessage(ctx, pc, envelope(t, TypeMobileCommand, map[string]any{
		"command": "emergency_stop",
		"reason":  "phone panic button",
	}))

	if h.TradingEnabled() {
		t.Fatalf("trading should be disabled by mobile emergency stop")
	}
	env := peer.waitFor(t, TypeEmergencyStop)
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode emergency_stop: %v", err)
	}
	if data["reason"] != "phone panic button" || data["triggered_by"] != pc.ID {
		t.Fatalf("unexpected payload: %v", data)
	}
	phone.waitFor(t, TypeAcknowledged)
}

func TestMobileCommandGetStatus(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleMobile)

	h.HandleMessage(ctx, c, envelope(t, TypeMobileCommand, map[string]any{
		"command": "get_status",
	}))
	ws.waitFor(t, TypeStatusResponse)
}

func TestMobileCommandUnknown(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleMobile)

	h.HandleMessage(ctx, c, envelope(t, TypeMobileCommand, map[string]any{
		"command": "reboot",
	}))
	ws.waitFor(t, TypeError)
	if !h.TradingEnabled() {
		t.Fatalf("unknown command must not change trading state")
	}
}

func TestSubscribeNarrowsBroadcast(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	producer := &fakeSocket{}
	watcher := &fakeSocket{}
	sc := h.Attach(ctx, producer, "127.0.0.1:1000", models.RoleDashboard)
	wc := h.Attach(ctx, watcher, "127.0.0.1:1001", models.RoleMobile)

	h.HandleMessage(ctx, wc, envelope(t, TypeSubscribe, map[string]any{
		"channels": []string{TypePriceUpdate},
	}))
	watcher.waitFor(t, TypeAcknowledged)

	h.HandleMessage(ctx, sc, envelope(t, TypeEnigmaUpdate, map[string]any{
		"power_score": 85,
	}))
	producer.waitFor(t, TypeSignalProcessed)
	if watcher.countType(TypeSignalProcessed) != 0 {
		t.Fatalf("narrowed connection still received signal_processed")
	}

	h.BroadcastQuote(&models.Quote{Symbol: "NQ", Price: 18500})
	watcher.waitFor(t, TypePriceUpdate)
}

func TestEmergencyStopBypassesSubscriptions(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	watcher := &fakeSocket{}
	wc := h.Attach(ctx, watcher, "127.0.0.1:1000", models.RoleMobile)
	h.HandleMessage(ctx, wc, envelope(t, TypeSubscribe, map[string]any{
		"channels": []string{TypePriceUpdate},
	}))
	watcher.waitFor(t, TypeAcknowledged)

	h.EmergencyStop(ctx, "halt", "admin")
	watcher.waitFor(t, TypeEmergencyStop)
}

func TestSubscribeEmptyRestoresAll(t *testing.T) {
	h := newTestHub(t, newMemStore())
	ctx := context.Background()

	ws := &fakeSocket{}
	c := h.Attach(ctx, ws, "127.0.0.1:1000", models.RoleMobile)

	h.HandleMessage(ctx, c, envelope(t, TypeSubscribe, map[string]any{
		"channels": []string{TypePriceUpdate},
	}))
	h.HandleMessage(ctx, c, envelope(t, TypeSubscribe, nil))

	h.HandleMessage(ctx, c, envelope(t, TypeEnigmaUpdate, map[string]any{
		"power_score": 60,
	}))
	ws.waitFor(t, TypeSignalProcessed)
}
