package live

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub is what the live handlers need from the connection hub.
type Hub interface {
	Connect(ctx context.Context, c *hub.Client) error
	Disconnect(ctx context.Context, c *hub.Client) error
	Dispatch(ctx context.Context, sender *hub.Client, event chat.InboundEvent) error
}

// Options tunes the live handlers.
type Options struct {
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

// WebSocketHandler bridges WebSocket sessions to the hub.
type WebSocketHandler struct {
	hub            Hub
	upgrader       websocket.Upgrader
	validate       *validator.Validate
	maxMessageSize int64
	sendBuffer     int
	log            *logrus.Entry
}

// NewWebSocketHandler creates the WebSocket handler.
func NewWebSocketHandler(h Hub, opts Options) *WebSocketHandler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	return &WebSocketHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		validate:       validator.New(),
		maxMessageSize: opts.MaxMessageSize,
		sendBuffer:     opts.SendBuffer,
		log:            logrus.WithField("comp", "websocket"),
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}

	client := hub.NewClient(r.RemoteAddr, h.sendBuffer)
	log := h.log.WithFields(logrus.Fields{"client": client.ID(), "addr": client.Addr()})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.hub.Connect(ctx, client); err != nil {
		log.WithError(err).Warn("hub refused connection")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"))
		_ = conn.Close()
		return
	}

	go h.writePump(conn, client, log)
	h.readPump(ctx, conn, client, log)
}

// readPump decodes client frames and hands them to the hub until the
// connection fails. Bad frames are dropped; the session stays open.
func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, client *hub.Client, log *logrus.Entry) {
	defer func() {
		if err := h.hub.Disconnect(context.Background(), client); err != nil {
			log.WithError(err).Debug("disconnect not delivered")
		}
		_ = conn.Close()
	}()

	conn.SetReadLimit(h.maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Info("connection closed unexpectedly")
			}
			return
		}

		event, err := chat.DecodeInbound(raw)
		if err != nil {
			log.WithError(err).Warn("dropping frame")
			continue
		}

		if err := h.validate.Struct(event); err != nil {
			log.WithError(err).WithField("event", event.EventName()).Warn("dropping invalid event")
			continue
		}

		if err := h.hub.Dispatch(ctx, client, event); err != nil {
			log.WithError(err).Warn("dispatch failed")
			return
		}
	}
}

// writePump delivers queued frames, one WebSocket message per event, and
// keeps the connection alive with pings.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, client *hub.Client, log *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub dropped this client
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.WithError(err).Debug("write failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
