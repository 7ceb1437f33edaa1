package hub

import (
	"sync"
	"time"

	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	"EnigmaHub/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sender is the transport half of a connection. *websocket.Conn satisfies it.
type sender interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Conn is one registered client connection. Outbound messages go through
// a buffered channel drained by a single writer goroutine, so per-connection
// delivery order matches send order.
type Conn struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	ws   sender
	send chan []byte

	mu           sync.Mutex
	role         models.Role
	lastSeen     time.Time
	messageCount int64
	closed       bool
	subs         map[string]struct{} // nil means all categories
}

// SetRole assigns the role the first time it is called with a concrete role.
// Later calls keep the original assignment. Returns the effective role.
func (c *Conn) SetRole(role models.Role) models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == models.RoleUnspecified && role != models.RoleUnspecified {
		c.role = role
	}
	return c.role
}

// Role returns the current role.
func (c *Conn) Role() models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Touch records inbound activity.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.messageCount++
	c.mu.Unlock()
}

// Info returns a point-in-time view of the connection.
func (c *Conn) Info() models.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ConnectionInfo{
		ID:           c.ID,
		Role:         c.role,
		RemoteAddr:   c.RemoteAddr,
		ConnectedAt:  c.ConnectedAt,
		LastSeen:     c.lastSeen,
		MessageCount: c.messageCount,
	}
}

// Subscribe narrows the connection to the given message categories.
// An empty list resets it to receive everything.
func (c *Conn) Subscribe(categories []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(categories) == 0 {
		c.subs = nil
		return
	}
	c.subs = make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		c.subs[cat] = struct{}{}
	}
}

// Subscriptions returns the current category filter, nil when unfiltered.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		return nil
	}
	out := make([]string, 0, len(c.subs))
	for cat := range c.subs {
		out = append(out, cat)
	}
	return out
}

// wants reports whether the connection's filter admits the category.
// The empty category bypasses filtering and always delivers.
func (c *Conn) wants(category string) bool {
	if category == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		return true
	}
	_, ok := c.subs[category]
	return ok
}

func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	_ = c.ws.Close()
}

// Registry tracks live connections and fans out broadcasts.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	bufSize int
	log     *logger.Logger
	metrics domrepo.Metrics

	// onClosed is invoked after a connection leaves the registry.
	onClosed func(*Conn)
}

// NewRegistry creates an empty connection registry.
func NewRegistry(sendBufferSize int, log *logger.Logger, metrics domrepo.Metrics) *Registry {
	if sendBufferSize <= 0 {
		sendBufferSize = 64
	}
	return &Registry{
		conns:   make(map[string]*Conn),
		bufSize: sendBufferSize,
		log:     log,
		metrics: metrics,
	}
}

// OnClosed sets the hook invoked when a connection is removed.
func (r *Registry) OnClosed(fn func(*Conn)) {
	r.onClosed = fn
}

// Register adds a connection and starts its writer goroutine.
func (r *Registry) Register(ws sender, remoteAddr string, role models.Role) *Conn {
	now := time.Now()
	c := &Conn{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		ws:          ws,
		send:        make(chan []byte, r.bufSize),
		role:        role,
		lastSeen:    now,
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	go r.writer(c)
	r.recordGauges()

	r.log.Info("connection registered",
		logger.String("client_id", c.ID),
		logger.String("role", string(role)),
		logger.String("remote_addr", remoteAddr))
	return c
}

// Unregister removes a connection and closes its transport.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	c.close()
	r.recordGauges()
	r.log.Info("connection unregistered", logger.String("client_id", id))
	if r.onClosed != nil {
		r.onClosed(c)
	}
}

// writer drains the send channel onto the socket. A write failure drops
// the connection.
func (r *Registry) writer(c *Conn) {
	for payload := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			r.log.Warn("write failed, dropping connection",
				logger.String("client_id", c.ID),
				logger.Error(err))
			r.metrics.RecordError("ws_write")
			r.Unregister(c.ID)
			return
		}
	}
}

// SendTo queues a payload for one connection. A full buffer means the peer
// cannot keep up; the connection is dropped rather than blocking the caller.
func (r *Registry) SendTo(id string, payload []byte) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.enqueue(c, payload)
}

// enqueue places a payload on the connection's send channel. The closed
// flag and the channel send share the connection mutex, so a concurrent
// Unregister cannot close the channel mid-send.
func (r *Registry) enqueue(c *Conn, payload []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return true
	default:
		c.mu.Unlock()
		r.log.Warn("send buffer full, dropping connection",
			logger.String("client_id", c.ID))
		r.metrics.RecordError("slow_consumer")
		go r.Unregister(c.ID)
		return false
	}
}

// Broadcast queues a payload for every connection whose subscription
// filter admits the category and returns the number of successful
// deliveries. The empty category always delivers.
func (r *Registry) Broadcast(category string, payload []byte) int {
	return r.BroadcastExcept("", category, payload)
}

// BroadcastExcept is Broadcast skipping the connection with the given
// id. Used to relay peer events without echoing them back.
func (r *Registry) BroadcastExcept(excludeID, category string, payload []byte) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.ID != excludeID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.wants(category) && r.enqueue(c, payload) {
			n++
		}
	}
	return n
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns live connection counts per role.
func (r *Registry) CountByRole() map[models.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.Role]int)
	for _, c := range r.conns {
		out[c.Role()]++
	}
	return out
}

// Snapshot returns point-in-time info for every connection.
func (r *Registry) Snapshot() []models.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Info())
	}
	return out
}

// CloseAll drops every connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	r.recordGauges()
}

func (r *Registry) recordGauges() {
	counts := r.CountByRole()
	for _, role := range []models.Role{
		models.RoleUnspecified, models.RoleDashboard, models.RoleMobile,
		models.RoleAdmin, models.RoleBridge,
	} {
		r.metrics.RecordConnections(string(role), counts[role])
	}
}
