package handler

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/internal/session"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades connections and runs one session per connection.
// Sessions live until the client leaves or the handler's context is
// cancelled, at which point they close with 1001.
type WebSocketHandler struct {
	ctx        context.Context
	registry   *broker.Registry
	members    session.Membership
	pipeline   session.Pipeline
	sendBuffer int
	upgrader   websocket.Upgrader
	sessions   sync.WaitGroup
}

func NewWebSocketHandler(
	ctx context.Context,
	registry *broker.Registry,
	members session.Membership,
	pipeline session.Pipeline,
	allowedOrigins []string,
	sendBuffer int,
) *WebSocketHandler {
	h := &WebSocketHandler{
		ctx:        ctx,
		registry:   registry,
		members:    members,
		pipeline:   pipeline,
		sendBuffer: sendBuffer,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-host origins and the configured allow list. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// GET /api/ws
// Runs behind OptionalAuth: an anonymous caller is upgraded and then closed
// with 4401 so browser clients can tell auth failures from network errors.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("Failed to upgrade connection",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		return
	}

	id, _ := middleware.IdentityFrom(c)
	sess := session.New(conn, id, h.registry, h.members, h.pipeline, h.sendBuffer)

	h.sessions.Add(1)
	defer h.sessions.Done()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	sess.Run(ctx)
}

// Wait blocks until every running session has finished.
func (h *WebSocketHandler) Wait() {
	h.sessions.Wait()
}
