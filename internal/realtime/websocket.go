package realtime

import (
	"net/http"
	"time"

	"qms/place-queue/internal/hub"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

type WebSocketOptions struct {
	Buffer       int
	PingInterval time.Duration
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *zap.Logger
}

type WebSocketHandler struct {
	hub        *hub.Hub
	upgrader   websocket.Upgrader
	buffer     int
	pingPeriod time.Duration
	pongWait   time.Duration
	logger     *zap.Logger
}

func NewWebSocketHandler(h *hub.Hub, options WebSocketOptions) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:        h,
		buffer:     options.Buffer,
		pingPeriod: options.PingInterval,
		logger:     options.Logger,
	}
	if handler.pingPeriod <= 0 {
		handler.pingPeriod = 30 * time.Second
	}
	handler.pongWait = handler.pingPeriod * 5 / 2
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}
	checkOrigin := options.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return handler
}

func (s *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade", zap.Error(err))
		return
	}
	client := newClient(s.hub, r, s.buffer)
	s.hub.Register(client)

	go s.writePump(conn, client)
	s.readPump(conn, client)
}

// readPump owns the connection's reads and unregisters the client when the
// peer goes away, which in turn stops writePump.
func (s *WebSocketHandler) readPump(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		s.hub.Unregister(client)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		handleFrame(s.hub, client, message)
	}
}

func (s *WebSocketHandler) writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
