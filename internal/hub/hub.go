package hub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"EnigmaHub/internal/classifier"
	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	"EnigmaHub/pkg/logger"
	"EnigmaHub/pkg/queue"
)

// msgTypeReplayAppend is the queue message type for deferred signal appends.
const msgTypeReplayAppend = "signal_append"

// Option configures Hub.
type Option func(*Hub)

// WithFirehose attaches an external signal publisher.
func WithFirehose(f domrepo.Firehose) Option {
	return func(h *Hub) {
		h.firehose = f
	}
}

// WithReplayQueue attaches a queue that retries failed store appends.
func WithReplayQueue(q queue.QueueService) Option {
	return func(h *Hub) {
		h.replay = q
	}
}

// Hub routes client messages: it classifies raw signals, persists them,
// and fans results out to every registered connection.
type Hub struct {
	reg      *Registry
	store    domrepo.EventStore
	cls      *classifier.Classifier
	metrics  domrepo.Metrics
	log      *logger.Logger
	firehose domrepo.Firehose
	replay   queue.QueueService

	agg            *aggregate
	tradingEnabled atomic.Bool
	storeHealthy   atomic.Bool
	messages       atomic.Int64
	startTime      time.Time
}

// New creates a hub. Trading starts enabled.
func New(reg *Registry, store domrepo.EventStore, cls *classifier.Classifier,
	metrics domrepo.Metrics, log *logger.Logger, opts ...Option) *Hub {
	h := &Hub{
		reg:       reg,
		store:     store,
		cls:       cls,
		metrics:   metrics,
		log:       log,
		agg:       newAggregate(),
		startTime: time.Now(),
	}
	h.tradingEnabled.Store(true)
	h.storeHealthy.Store(true)
	for _, opt := range opts {
		opt(h)
	}
	reg.OnClosed(h.auditClosed)
	return h
}

// Start seeds the in-memory aggregate from persisted signals.
func (h *Hub) Start(ctx context.Context) error {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.log.Warn("aggregate seed skipped", logger.Error(err))
		h.storeHealthy.Store(false)
		return nil
	}
	h.agg.seed(stats)
	h.log.Info("aggregate seeded",
		logger.Int64("total_signals", stats.TotalSignals),
		logger.Int64("active_signals", stats.ActiveSignals))
	return nil
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	return h.reg
}

// Attach registers a transport, audits the connect, and sends the welcome
// frame carrying a status snapshot.
func (h *Hub) Attach(ctx context.Context, ws sender, remoteAddr string, role models.Role) *Conn {
	c := h.reg.Register(ws, remoteAddr, role)

	info := c.Info()
	if err := h.store.AppendConnectionEvent(ctx, &info, "connected"); err != nil {
		h.log.Warn("connection audit failed", logger.Error(err))
	}

	h.reply(c, TypeWelcome, map[string]any{
		"client_id":   c.ID,
		"role":        c.Role(),
		"server_time": time.Now().UTC().Format(time.RFC3339),
		"status":      h.Status(ctx),
	})
	return c
}

// Detach drops a connection.
func (h *Hub) Detach(c *Conn) {
	h.reg.Unregister(c.ID)
}

func (h *Hub) auditClosed(c *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info := c.Info()
	if err := h.store.AppendConnectionEvent(ctx, &info, "disconnected"); err != nil {
		h.log.Warn("connection audit failed", logger.Error(err))
	}
}

// HandleMessage processes one inbound frame. Protocol errors produce an
// error reply on the same connection and never terminate it.
func (h *Hub) HandleMessage(ctx context.Context, c *Conn, raw []byte) {
	c.Touch()
	h.messages.Add(1)

	env, err := ParseEnvelope(raw)
	if err != nil {
		h.metrics.RecordMessageReceived("invalid")
		h.metrics.RecordError("bad_envelope")
		h.audit(ctx, c.ID, "invalid", raw)
		h.replyError(c, "invalid message format")
		return
	}

	h.metrics.RecordMessageReceived(env.Type)
	h.audit(ctx, c.ID, env.Type, raw)

	switch env.Type {
	case TypeIdentification:
		h.handleIdentification(c, env)
	case TypeHeartbeat:
		h.reply(c, TypeHeartbeatResponse, map[string]any{
			"client_id":   c.ID,
			"server_time": time.Now().UTC().Format(time.RFC3339),
		})
	case TypeStatusRequest:
		h.reply(c, TypeStatusResponse, h.Status(ctx))
	case TypeEnigmaUpdate:
		h.handleEnigmaUpdate(ctx, c, env)
	case TypeTradeUpdate:
		h.handleTradeUpdate(ctx, c, env)
	case TypeMobileCommand:
		h.handleMobileCommand(ctx, c, env)
	case TypeSubscribe:
		h.handleSubscribe(c, env)
	default:
		h.log.Warn("unknown message type",
			logger.String("type", env.Type),
			logger.String("client_id", c.ID))
		h.replyError(c, "unknown message type: "+env.Type)
	}
}

func (h *Hub) handleIdentification(c *Conn, env *Envelope) {
	var data struct {
		ClientType string `json:"client_type"`
		Role       string `json:"role"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			h.replyError(c, "invalid identification payload")
			return
		}
	}
	requested := data.ClientType
	if requested == "" {
		requested = data.Role
	}
	effective := c.SetRole(models.ParseRole(requested))
	h.reg.recordGauges()

	h.reply(c, TypeWelcome, map[string]any{
		"client_id":   c.ID,
		"role":        effective,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMobileCommand runs remote commands from mobile-role clients.
// An emergency_stop command has the same effect as the Control API route.
func (h *Hub) handleMobileCommand(ctx context.Context, c *Conn, env *Envelope) {
	var data struct {
		Command string `json:"command"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Command == "" {
		h.replyError(c, "invalid mobile command payload")
		return
	}

	switch data.Command {
	case "emergency_stop":
		reason := data.Reason
		if reason == "" {
			reason = "mobile app emergency stop"
		}
		h.EmergencyStop(ctx, reason, c.ID)
		h.reply(c, TypeAcknowledged, map[string]any{"command": data.Command})
	case "get_status":
		h.reply(c, TypeStatusResponse, h.Status(ctx))
	default:
		h.log.Warn("unknown mobile command",
			logger.String("command", data.Command),
			logger.String("client_id", c.ID))
		h.replyError(c, "unknown mobile command: "+data.Command)
	}
}

// handleSubscribe narrows which broadcast categories the connection
// receives. An empty channel list restores delivery of everything.
func (h *Hub) handleSubscribe(c *Conn, env *Envelope) {
	var data struct {
		Channels []string `json:"channels"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			h.replyError(c, "invalid subscribe payload")
			return
		}
	}
	c.Subscribe(data.Channels)
	h.reply(c, TypeAcknowledged, map[string]any{
		"subscribed": data.Channels,
	})
}

func (h *Hub) handleEnigmaUpdate(ctx context.Context, c *Conn, env *Envelope) {
	raw, err := decodeRawSignal(env.Data)
	if err != nil {
		h.replyError(c, "invalid enigma payload")
		return
	}

	h.IngestSignal(ctx, raw, c.ID)
}

// IngestSignal classifies and persists a raw signal, updates the aggregate,
// and broadcasts the result to every connection. A store failure is
// tolerated: the signal still flows to connected clients and, when a
// replay queue is attached, the append is retried from there.
func (h *Hub) IngestSignal(ctx context.Context, raw *models.RawSignal, originClientID string) *models.Signal {
	start := time.Now()
	sig := h.cls.Classify(raw, originClientID, time.Now())

	if err := h.store.AppendSignal(ctx, sig); err != nil {
		h.storeHealthy.Store(false)
		h.metrics.RecordError("store_append")
		h.log.Error("signal append failed",
			logger.String("signal_id", sig.ID),
			logger.Error(err))
		h.enqueueReplay(ctx, sig)
	} else {
		h.storeHealthy.Store(true)
	}

	h.agg.applySignal(sig)
	h.metrics.RecordSignal(string(sig.Direction), string(sig.Color))
	h.metrics.RecordLatency("ingest_signal", time.Since(start).Seconds())

	if h.firehose != nil {
		go func(s *models.Signal) {
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.firehose.Publish(pubCtx, s); err != nil {
				h.metrics.RecordError("firehose_publish")
				h.log.Warn("firehose publish failed",
					logger.String("signal_id", s.ID),
					logger.Error(err))
			}
		}(sig)
	}

	if payload, err := NewEnvelope(TypeSignalProcessed, sig); err == nil {
		n := h.reg.Broadcast(TypeSignalProcessed, payload)
		for i := 0; i < n; i++ {
			h.metrics.RecordBroadcast(TypeSignalProcessed)
		}
	}

	h.log.Info("signal processed",
		logger.String("signal_id", sig.ID),
		logger.String("direction", string(sig.Direction)),
		logger.String("color", string(sig.Color)),
		logger.Int("power_score", sig.PowerScore))
	return sig
}

func (h *Hub) enqueueReplay(ctx context.Context, sig *models.Signal) {
	if h.replay == nil {
		return
	}
	if err := h.replay.PublishMessage(ctx, msgTypeReplayAppend, sig); err != nil {
		h.log.Error("replay enqueue failed",
			logger.String("signal_id", sig.ID),
			logger.Error(err))
	}
}

func (h *Hub) handleTradeUpdate(ctx context.Context, c *Conn, env *Envelope) {
	var data struct {
		SignalID  string   `json:"signal_id"`
		ExitPrice *float64 `json:"exit_price"`
		ExitTime  WireTime `json:"exit_time"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.SignalID == "" {
		h.replyError(c, "invalid trade update payload")
		return
	}

	exitTime := data.ExitTime.Time
	if exitTime.IsZero() {
		exitTime = time.Now()
	}

	closed, err := h.store.MarkSignalClosed(ctx, data.SignalID, exitTime, data.ExitPrice)
	if err != nil {
		h.metrics.RecordError("store_close")
		h.log.Error("signal close failed",
			logger.String("signal_id", data.SignalID),
			logger.Error(err))
	}
	if closed {
		h.agg.applyClose()
		if payload, err := NewEnvelope(TypeTradeUpdate, map[string]any{
			"signal_id":  data.SignalID,
			"exit_price": data.ExitPrice,
			"exit_time":  exitTime.UTC().Format(time.RFC3339),
		}); err == nil {
			n := h.reg.BroadcastExcept(c.ID, TypeTradeUpdate, payload)
			for i := 0; i < n; i++ {
				h.metrics.RecordBroadcast(TypeTradeUpdate)
			}
		}
	}

	h.reply(c, TypeAcknowledged, map[string]any{
		"signal_id": data.SignalID,
		"closed":    closed,
	})
}

// Status builds the full status snapshot from the in-memory aggregate.
func (h *Hub) Status(ctx context.Context) *models.StatusSnapshot {
	uptime := time.Since(h.startTime).Seconds()
	processed := h.messages.Load()
	rate := 0.0
	if uptime > 0 {
		rate = float64(processed) / uptime
	}

	snap := &models.StatusSnapshot{
		Timestamp:      time.Now().UTC(),
		TradingEnabled: h.tradingEnabled.Load(),
		Signals:        h.agg.snapshot(),
		Performance: models.SystemPerformance{
			UptimeSeconds:     uptime,
			MessagesProcessed: processed,
			MessagesPerSecond: rate,
			StorageHealthy:    h.storeHealthy.Load(),
		},
		Connections: h.reg.CountByRole(),
	}
	for _, e := range h.log.RecentErrors(10) {
		snap.RecentErrors = append(snap.RecentErrors, map[string]any{
			"message":   e.Message,
			"count":     e.Count,
			"last_seen": e.LastSeen,
		})
	}
	return snap
}

// TradingEnabled reports the trading flag.
func (h *Hub) TradingEnabled() bool {
	return h.tradingEnabled.Load()
}

// EnableTrading turns the trading flag on.
func (h *Hub) EnableTrading() {
	h.tradingEnabled.Store(true)
	h.log.Info("trading enabled")
}

// DisableTrading turns the trading flag off.
func (h *Hub) DisableTrading() {
	h.tradingEnabled.Store(false)
	h.log.Info("trading disabled")
}

// EmergencyStop disables trading and notifies every client.
func (h *Hub) EmergencyStop(ctx context.Context, reason, triggeredBy string) {
	h.DisableTrading()
	h.log.Error("emergency stop triggered",
		logger.String("reason", reason),
		logger.String("triggered_by", triggeredBy))

	payload, err := NewEnvelope(TypeEmergencyStop, map[string]any{
		"reason":       reason,
		"triggered_by": triggeredBy,
	})
	if err != nil {
		return
	}
	// Empty category: an emergency stop ignores subscription filters.
	n := h.reg.Broadcast("", payload)
	for i := 0; i < n; i++ {
		h.metrics.RecordBroadcast(TypeEmergencyStop)
	}
	if err := h.store.AppendMetric(ctx, "emergency_stop", 1, map[string]string{"reason": reason}); err != nil {
		h.log.Warn("emergency stop audit failed", logger.Error(err))
	}
}

// BroadcastQuote fans a polled quote out to every client.
func (h *Hub) BroadcastQuote(q *models.Quote) {
	payload, err := NewEnvelope(TypePriceUpdate, q)
	if err != nil {
		return
	}
	n := h.reg.Broadcast(TypePriceUpdate, payload)
	for i := 0; i < n; i++ {
		h.metrics.RecordBroadcast(TypePriceUpdate)
	}
}

func (h *Hub) audit(ctx context.Context, clientID, msgType string, raw []byte) {
	if err := h.store.AppendRawMessage(ctx, clientID, msgType, raw); err != nil {
		h.metrics.RecordError("store_audit")
		h.log.Warn("raw message audit failed", logger.Error(err))
	}
}

func (h *Hub) reply(c *Conn, msgType string, data any) {
	payload, err := NewEnvelope(msgType, data)
	if err != nil {
		h.log.Error("encode reply failed",
			logger.String("type", msgType),
			logger.Error(err))
		return
	}
	h.reg.SendTo(c.ID, payload)
}

func (h *Hub) replyError(c *Conn, msg string) {
	h.metrics.RecordError("protocol")
	h.reply(c, TypeError, map[string]any{"message": msg})
}

// decodeRawSignal accepts both the nested {"enigma_data": {...}} shape and
// a flat payload.
func decodeRawSignal(data json.RawMessage) (*models.RawSignal, error) {
	if len(data) == 0 {
		return &models.RawSignal{}, nil
	}
	var nested struct {
		EnigmaData *models.RawSignal `json:"enigma_data"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.EnigmaData != nil {
		return nested.EnigmaData, nil
	}
	var flat models.RawSignal
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	return &flat, nil
}
