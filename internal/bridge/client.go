package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"EnigmaHub/internal/hub"
	"EnigmaHub/pkg/logger"

	"github.com/gorilla/websocket"
)

// State is the bridge connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	default:
		return "DISCONNECTED"
	}
}

// Handler processes one inbound frame from the trading platform.
type Handler func(env *hub.Envelope)

// OrderRequest describes an order submitted through the bridge.
type OrderRequest struct {
	Instrument   string   `json:"instrument"`
	Action       string   `json:"action"`
	Quantity     int      `json:"quantity"`
	OrderType    string   `json:"order_type"`
	Price        float64  `json:"price,omitempty"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	ProfitTarget *float64 `json:"profit_target,omitempty"`
}

// Client maintains a persistent connection to the trading platform.
// A lost connection is retried forever at a fixed delay; commands issued
// while not READY fail immediately instead of queueing.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	accountMu   sync.RWMutex
	lastAccount map[string]any

	lastConnected atomic.Int64

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewClient creates a bridge client for the given WebSocket URL.
func NewClient(url string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	c := &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		handlers:       make(map[string]Handler),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	c.RegisterHandler("account_info", c.cacheAccountInfo)
	return c
}

// Start launches the connect/retry loop.
func (c *Client) Start() {
	go c.run()
}

// Stop terminates the loop and closes an open connection.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.closeConn()
	})
	<-c.doneCh
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// RegisterHandler installs a handler for one message type. Handlers run on
// their own goroutine so a slow handler never stalls the receive loop.
func (c *Client) RegisterHandler(msgType string, fn Handler) {
	c.handlersMu.Lock()
	c.handlers[msgType] = fn
	c.handlersMu.Unlock()
}

func (c *Client) run() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("bridge connect failed",
				logger.String("url", c.url),
				logger.Error(err))
			c.setState(StateDisconnected)
			if !c.sleep() {
				return
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.setState(StateHandshaking)
		if err := c.writeEnvelope("client_identification", map[string]string{
			"client_type": "hub_bridge",
		}); err != nil {
			c.log.Warn("bridge handshake failed", logger.Error(err))
			c.closeConn()
			c.setState(StateDisconnected)
			if !c.sleep() {
				return
			}
			continue
		}

		c.setState(StateReady)
		c.lastConnected.Store(time.Now().Unix())
		c.log.Info("bridge connected", logger.String("url", c.url))

		pingStop := make(chan struct{})
		go c.pingLoop(conn, pingStop)
		c.readLoop(conn)
		close(pingStop)

		c.closeConn()
		c.setState(StateDisconnected)
		select {
		case <-c.stopCh:
			return
		default:
			c.log.Warn("bridge disconnected, retrying",
				logger.Duration("delay", c.reconnectDelay))
			if !c.sleep() {
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := hub.ParseEnvelope(raw)
		if err != nil {
			c.log.Warn("bridge frame ignored", logger.Error(err))
			continue
		}
		c.handlersMu.RLock()
		fn, ok := c.handlers[env.Type]
		c.handlersMu.RUnlock()
		if ok {
			go fn(env)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.connMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// sleep waits one reconnect delay, returning false when stopping.
func (c *Client) sleep() bool {
	select {
	case <-c.stopCh:
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) writeEnvelope(msgType string, data any) error {
	payload, err := hub.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("bridge not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// send issues one fire-and-forget command. It fails unless the client
// is READY.
func (c *Client) send(msgType string, data any) error {
	if c.State() != StateReady {
		return fmt.Errorf("bridge not ready (state %s)", c.State())
	}
	return c.writeEnvelope(msgType, data)
}

// SubmitOrder sends an order to the trading platform.
func (c *Client) SubmitOrder(req OrderRequest) error {
	return c.send("submit_order", req)
}

// ClosePosition flattens one instrument, or everything for "ALL".
func (c *Client) ClosePosition(instrument string) error {
	return c.send("close_position", map[string]string{"instrument": instrument})
}

// RequestAccountInfo asks the platform for an account snapshot. The answer
// arrives as an account_info frame.
func (c *Client) RequestAccountInfo() error {
	return c.send("account_info_request", nil)
}

// SubscribeMarketData subscribes to live data for the given instruments.
func (c *Client) SubscribeMarketData(instruments []string) error {
	return c.send("subscribe_market_data", map[string]any{"instruments": instruments})
}

func (c *Client) cacheAccountInfo(env *hub.Envelope) {
	var info map[string]any
	if err := json.Unmarshal(env.Data, &info); err != nil {
		c.log.Warn("bad account_info frame", logger.Error(err))
		return
	}
	c.accountMu.Lock()
	c.lastAccount = info
	c.accountMu.Unlock()
}

// AccountInfo returns the latest account snapshot, if one was received.
func (c *Client) AccountInfo() (map[string]any, bool) {
	c.accountMu.RLock()
	defer c.accountMu.RUnlock()
	if c.lastAccount == nil {
		return nil, false
	}
	out := make(map[string]any, len(c.lastAccount))
	for k, v := range c.lastAccount {
		out[k] = v
	}
	return out, true
}

// ConnectionStatus reports the connection state for status endpoints.
func (c *Client) ConnectionStatus() map[string]any {
	status := map[string]any{
		"state":           c.State().String(),
		"url":             c.url,
		"reconnect_delay": c.reconnectDelay.String(),
	}
	if ts := c.lastConnected.Load(); ts > 0 {
		status["last_connected"] = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	return status
}
