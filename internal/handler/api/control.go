package api

import (
	"crypto/subtle"
	"encoding/json"
	"strings"
	"time"

	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	"EnigmaHub/internal/hub"
	icache "EnigmaHub/internal/service/cache"
	xhttp "EnigmaHub/pkg/http"
	xlogger "EnigmaHub/pkg/logger"

	"github.com/labstack/echo/v4"
)

// BridgeCommander is the control surface of the trading platform bridge.
type BridgeCommander interface {
	ClosePosition(instrument string) error
	ConnectionStatus() map[string]any
	AccountInfo() (map[string]any, bool)
}

// ControlHandler serves the bearer-authenticated control API.
type ControlHandler struct {
	hub       *hub.Hub
	store     domrepo.EventStore
	bridge    BridgeCommander
	cache     icache.BytesCache
	statusTTL time.Duration
	authToken string
	logger    *xlogger.Logger
}

// ControlOption configures ControlHandler.
type ControlOption func(*ControlHandler)

// WithBridge attaches the bridge used for emergency position close and
// account pass-through.
func WithBridge(b BridgeCommander) ControlOption {
	return func(h *ControlHandler) {
		h.bridge = b
	}
}

// WithStatusCache caches rendered status payloads for the given TTL.
func WithStatusCache(c icache.BytesCache, ttl time.Duration) ControlOption {
	return func(h *ControlHandler) {
		h.cache = c
		h.statusTTL = ttl
	}
}

// NewControlHandler creates the control API handler.
func NewControlHandler(hb *hub.Hub, store domrepo.EventStore, authToken string,
	logger *xlogger.Logger, opts ...ControlOption) *ControlHandler {
	h := &ControlHandler{
		hub:       hb,
		store:     store,
		authToken: authToken,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ControlHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("", h.bearerAuth)
	g.GET("/status", h.Status)
	g.POST("/trading/enable", h.EnableTrading)
	g.POST("/trading/disable", h.DisableTrading)
	g.POST("/emergency/stop", h.EmergencyStop)
	g.GET("/account/status", h.AccountStatus)
	g.GET("/signals/recent", h.RecentSignals)
}

// bearerAuth rejects requests without the exact configured token.
// Comparison is constant-time. An empty configured token fails closed.
func (h *ControlHandler) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		const prefix = "Bearer "
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
			return xhttp.UnauthorizedResponse(c, "missing bearer token")
		}
		provided := header[len(prefix):]
		if h.authToken == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(h.authToken)) != 1 {
			return xhttp.UnauthorizedResponse(c, "invalid token")
		}
		return next(c)
	}
}

func (h *ControlHandler) Health(c echo.Context) error {
	storage := "healthy"
	if err := h.store.Health(c.Request().Context()); err != nil {
		storage = "degraded"
	}
	return xhttp.SuccessResponse(c, map[string]any{
		"status":  "healthy",
		"storage": storage,
	})
}

func (h *ControlHandler) Status(c echo.Context) error {
	const cacheKey = "control:status"
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err == nil && ok {
			var snap models.StatusSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return xhttp.SuccessResponse(c, &snap)
			}
		}
	}

	snap := h.hub.Status(c.Request().Context())
	if h.cache != nil {
		if b, err := json.Marshal(snap); err == nil {
			_ = h.cache.SetBytes(cacheKey, b, h.statusTTL)
		}
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *ControlHandler) EnableTrading(c echo.Context) error {
	h.hub.EnableTrading()
	return xhttp.SuccessResponse(c, map[string]any{"trading_enabled": true})
}

func (h *ControlHandler) DisableTrading(c echo.Context) error {
	h.hub.DisableTrading()
	return xhttp.SuccessResponse(c, map[string]any{"trading_enabled": false})
}

// EmergencyStopRequest is the optional body of POST /emergency/stop.
type EmergencyStopRequest struct {
	Reason string `json:"reason" default:"manual emergency stop" validate:"max=256"`
}

func (h *ControlHandler) EmergencyStop(c echo.Context) error {
	req := &EmergencyStopRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	h.hub.EmergencyStop(c.Request().Context(), req.Reason, "control_api")

	positionsClosed := false
	if h.bridge != nil {
		if err := h.bridge.ClosePosition("ALL"); err != nil {
			h.logger.Error("emergency close position failed", xlogger.Error(err))
		} else {
			positionsClosed = true
		}
	}

	return xhttp.SuccessResponse(c, map[string]any{
		"trading_enabled":  false,
		"positions_closed": positionsClosed,
		"reason":           req.Reason,
	})
}

func (h *ControlHandler) AccountStatus(c echo.Context) error {
	if h.bridge == nil {
		return xhttp.SuccessResponse(c, map[string]any{
			"available": false,
			"reason":    "bridge not configured",
		})
	}
	info, ok := h.bridge.AccountInfo()
	if !ok {
		return xhttp.SuccessResponse(c, map[string]any{
			"available":  false,
			"reason":     "no account data received",
			"connection": h.bridge.ConnectionStatus(),
		})
	}
	return xhttp.SuccessResponse(c, map[string]any{
		"available":  true,
		"account":    info,
		"connection": h.bridge.ConnectionStatus(),
	})
}

// RecentSignalsQuery is the query of GET /signals/recent.
type RecentSignalsQuery struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

func (h *ControlHandler) RecentSignals(c echo.Context) error {
	req := &RecentSignalsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	signals, err := h.store.RecentSignals(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("recent signals query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("signal query failed").WithError(err))
	}
	return xhttp.ListResponse(c, signals, int64(len(signals)))
}
