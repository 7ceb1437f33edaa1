package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"EnigmaHub/internal/hub"
	"EnigmaHub/pkg/logger"

	"github.com/gorilla/websocket"
)

// platformStub plays the trading platform side of the bridge protocol.
type platformStub struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	received  []*hub.Envelope
	connCount int
}

func newPlatformStub(t *testing.T) (*platformStub, *httptest.Server) {
	p := &platformStub{t: t}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.connCount++
		p.mu.Unlock()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := hub.ParseEnvelope(raw)
			if err != nil {
				continue
			}
			p.mu.Lock()
			p.received = append(p.received, env)
			p.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *platformStub) wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (p *platformStub) connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connCount
}

func (p *platformStub) frames(msgType string) []*hub.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*hub.Envelope
	for _, env := range p.received {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (p *platformStub) dropAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (p *platformStub) sendToLatest(msgType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		p.t.Fatalf("no platform connection to send on")
	}
	payload, err := hub.NewEnvelope(msgType, data)
	if err != nil {
		p.t.Fatalf("envelope: %v", err)
	}
	_ = p.conns[len(p.conns)-1].WriteMessage(websocket.TextMessage, payload)
}

func testBridgeLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBridgeHandshake(t *testing.T) {
	p, srv := newPlatformStub(t)
	c := NewClient(p.wsURL(srv), 20*time.Millisecond, time.Minute, testBridgeLogger(t))
	c.Start()
	defer c.Stop()

	waitFor(t, func() bool { return c.State() == StateReady }, "READY state")
	waitFor(t, func() bool { return len(p.frames("client_identification")) >= 1 }, "handshake frame")
}

func TestBridgeReconnect(t *testing.T) {
	p, srv := newPlatformStub(t)
	c := NewClient(p.wsURL(srv), 20*time.Millisecond, time.Minute, testBridgeLogger(t))
	c.Start()
	defer c.Stop()

	waitFor(t, func() bool { return c.State() == StateReady }, "initial READY")

	p.dropAll()
	waitFor(t, func() bool { return p.connections() >= 2 }, "second connection")
	waitFor(t, func() bool { return c.State() == StateReady }, "READY after reconnect")

	// the handshake repeats on every connection
	waitFor(t, func() bool { return len(p.frames("client_identification")) >= 2 }, "second handshake")
}

func TestBridgeCommandsRequireReady(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/nowhere", time.Hour, time.Minute, testBridgeLogger(t))

	if err := c.SubmitOrder(OrderRequest{Instrument: "NQ", Action: "BUY", Quantity: 1}); err == nil {
		t.Fatalf("expected error while disconnected")
	}
	if err := c.ClosePosition("ALL"); err == nil {
		t.Fatalf("expected error while disconnected")
	}
}

func TestBridgeCommands(t *testing.T) {
	p, srv := newPlatformStub(t)
	c := NewClient(p.wsURL(srv), 20*time.Millisecond, time.Minute, testBridgeLogger(t))
	c.Start()
	defer c.Stop()

	waitFor(t, func() bool { return c.State() == StateReady }, "READY state")

	stop, target := 18250.0, 18510.5
	order := OrderRequest{
		Instrument:   "NQ",
		Action:       "BUY",
		Quantity:     2,
		OrderType:    "MARKET",
		StopLoss:     &stop,
		ProfitTarget: &target,
	}
	if err := c.SubmitOrder(order); err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if err := c.SubscribeMarketData([]string{"NQ", "ES"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.RequestAccountInfo(); err != nil {
		t.Fatalf("account request: %v", err)
	}

	waitFor(t, func() bool { return len(p.frames("submit_order")) == 1 }, "order frame")
	waitFor(t, func() bool { return len(p.frames("subscribe_market_data")) == 1 }, "subscribe frame")
	waitFor(t, func() bool { return len(p.frames("account_info_request")) == 1 }, "account request frame")

	var sent OrderRequest
	if err := json.Unmarshal(p.frames("submit_order")[0].Data, &sent); err != nil {
		t.Fatalf("decode order frame: %v", err)
	}
	if sent.StopLoss == nil || *sent.StopLoss != stop {
		t.Fatalf("stop_loss not carried: %+v", sent)
	}
	if sent.ProfitTarget == nil || *sent.ProfitTarget != target {
		t.Fatalf("profit_target not carried: %+v", sent)
	}
}

func TestBridgeAccountInfoCache(t *testing.T) {
	p, srv := newPlatformStub(t)
	c := NewClient(p.wsURL(srv), 20*time.Millisecond, time.Minute, testBridgeLogger(t))
	c.Start()
	defer c.Stop()

	waitFor(t, func() bool { return c.State() == StateReady }, "READY state")

	if _, ok := c.AccountInfo(); ok {
		t.Fatalf("account info should start empty")
	}

	p.sendToLatest("account_info", map[string]any{"balance": 50000.0, "currency": "USD"})
	waitFor(t, func() bool {
		info, ok := c.AccountInfo()
		return ok && info["balance"] == 50000.0
	}, "cached account info")
}

func TestBridgeCustomHandler(t *testing.T) {
	p, srv := newPlatformStub(t)
	c := NewClient(p.wsURL(srv), 20*time.Millisecond, time.Minute, testBridgeLogger(t))

	var mu sync.Mutex
	var seen []string
	c.RegisterHandler("order_filled", func(env *hub.Envelope) {
		mu.Lock()
		seen = append(seen, env.Type)
		mu.Unlock()
	})

	c.Start()
	defer c.Stop()
	waitFor(t, func() bool { return c.State() == StateReady }, "READY state")

	p.sendToLatest("order_filled", map[string]any{"order_id": "o-1"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, "handler dispatch")
}
