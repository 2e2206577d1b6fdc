// Package handlers provides the HTTP and WebSocket entry points.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	appmsg "github.com/GuideRail/guiderail-go/internal/application/messaging"
	"github.com/GuideRail/guiderail-go/internal/application/services"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	realtime "github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/security"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
	"github.com/GuideRail/guiderail-go/pkg/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer for the REST surface; the
	// socket accepts any origin because auth rides in the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundEnvelope is the wire shape of one client message.
type inboundEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SocketHandlers owns the persistent duplex connections: handshake, state
// record creation, room registration and the read/write pumps.
type SocketHandlers struct {
	environments *services.EnvironmentService
	router       *appmsg.Router
	broadcaster  *realtime.RoomBroadcaster
	store        statestore.Store
	logger       *logging.ChanneledLogger
}

func NewSocketHandlers(environments *services.EnvironmentService, router *appmsg.Router, broadcaster *realtime.RoomBroadcaster, store statestore.Store, logger *logging.ChanneledLogger) *SocketHandlers {
	return &SocketHandlers{
		environments: environments,
		router:       router,
		broadcaster:  broadcaster,
		store:        store,
		logger:       logger,
	}
}

// HandleConnect upgrades the request after resolving the bearer token to an
// environment. A token that does not resolve rejects the connection before
// the upgrade; after that, the orchestrator owns the connection's lifecycle.
func (h *SocketHandlers) HandleConnect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	env, externalUserID, err := h.environments.ResolveConnectionToken(token)
	if err != nil {
		h.logger.Auth().Warn("Handshake rejected", "error", err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token rejected"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Realtime().Warn("Upgrade failed", "error", err.Error())
		return
	}

	connectionID := security.GenerateULID()
	state := &session.ConnectionState{
		ConnectionID:   connectionID,
		EnvironmentID:  env.ID,
		ExternalUserID: externalUserID,
		CreatedAt:      time.Now().UTC(),
	}
	if companyID := c.Query("companyId"); companyID != "" {
		state.ExternalCompanyID = companyID
	}

	ctx := context.Background()
	if err := h.store.SaveConnection(ctx, state, false); err != nil {
		h.logger.Realtime().Error("Connection state create failed", "error", err.Error(), "connectionId", connectionID)
		ws.Close()
		return
	}

	conn := newSocketConn(connectionID, ws, h.logger)
	roomID := state.RoomID()
	h.broadcaster.AddConnection(env.ID, roomID, conn)

	h.logger.Realtime().Info("Connection established", "connectionId", connectionID, "environmentId", env.ID, "roomId", roomID)

	go conn.writePump()
	go h.readPump(conn, env.ID, roomID)
}

// readPump drains inbound messages until the socket dies, dispatching each
// through the router. Disconnect tears the connection record down; a client
// reconnecting later starts fresh.
func (h *SocketHandlers) readPump(conn *socketConn, environmentID, roomID string) {
	defer func() {
		h.broadcaster.RemoveConnection(environmentID, roomID, conn.ID())
		conn.Close()
		if err := h.store.DeleteConnection(context.Background(), conn.ID()); err != nil {
			h.logger.Realtime().Warn("Connection state delete failed", "connectionId", conn.ID(), "error", err.Error())
		}
		h.logger.Realtime().Info("Connection closed", "connectionId", conn.ID())
	}()

	conn.ws.SetReadLimit(config.SocketReadLimit)
	conn.ws.SetReadDeadline(time.Now().Add(config.SocketPongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(config.SocketPongTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Realtime().Warn("Socket read error", "connectionId", conn.ID(), "error", err.Error())
			}
			return
		}

		var envelope inboundEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Kind == "" {
			h.logger.Realtime().Debug("Malformed inbound message", "connectionId", conn.ID())
			continue
		}

		// The boolean result stays server-side; failure is silent on the wire.
		h.router.Handle(context.Background(), conn.ID(), envelope.Kind, envelope.Data)
	}
}

// socketConn adapts one gorilla connection to the push contract. Emit is
// non-blocking: a full send buffer or a closed connection reports false.
type socketConn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *logging.ChanneledLogger
}

func newSocketConn(id string, ws *websocket.Conn, logger *logging.ChanneledLogger) *socketConn {
	return &socketConn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, config.SocketSendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *socketConn) ID() string { return c.id }

func (c *socketConn) Emit(event realtime.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Realtime().Error("Event encode failed", "connectionId", c.id, "kind", event.Kind, "error", err.Error())
		return false
	}

	select {
	case <-c.done:
		return false
	case c.send <- payload:
		return true
	default:
		c.logger.Realtime().Warn("Send buffer full, event dropped", "connectionId", c.id, "kind", event.Kind)
		return false
	}
}

func (c *socketConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *socketConn) writePump() {
	ticker := time.NewTicker(config.SocketPingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(config.SocketWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Realtime().Debug("Socket write failed", "connectionId", c.id, "error", err.Error())
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(config.SocketWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
