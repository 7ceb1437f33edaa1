package ws

import (
	"net/http"

	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/hub"
	"EnigmaHub/internal/service/ratelimit"
	xlogger "EnigmaHub/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Handler exposes the hub over WebSocket endpoints. Role-specific paths
// pre-assign a role; clients on the generic path identify themselves with
// a client_identification message.
type Handler struct {
	hub       *hub.Hub
	logger    *xlogger.Logger
	limiter   *ratelimit.Limiter
	maxPerSec int
	upgrader  websocket.Upgrader
}

// NewHandler creates the WebSocket handler. maxPerSec <= 0 disables
// per-connection throttling.
func NewHandler(h *hub.Hub, logger *xlogger.Logger, maxPerSec int) *Handler {
	return &Handler{
		hub:       h,
		logger:    logger,
		limiter:   ratelimit.New(),
		maxPerSec: maxPerSec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.serve(models.RoleUnspecified))
	e.GET("/ws/ninja", h.serve(models.RoleDashboard))
	e.GET("/ws/mobile", h.serve(models.RoleMobile))
	e.GET("/ws/admin", h.serve(models.RoleAdmin))
	e.GET("/ws/bridge", h.serve(models.RoleBridge))
}

func (h *Handler) serve(role models.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
			return err
		}

		ctx := c.Request().Context()
		conn := h.hub.Attach(ctx, ws, c.Request().RemoteAddr, role)
		defer h.hub.Detach(conn)

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Warn("websocket read error",
						xlogger.String("client_id", conn.ID),
						xlogger.Error(err))
				}
				return nil
			}
			if h.maxPerSec > 0 &&
				!h.limiter.Allow(conn.ID, float64(h.maxPerSec), float64(h.maxPerSec)) {
				continue
			}
			h.hub.HandleMessage(ctx, conn, raw)
		}
	}
}
