package live

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/hub"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

const heartbeatPeriod = 15 * time.Second

// EventStreamHandler mirrors hub broadcasts as Server-Sent Events for
// read-only consumers.
type EventStreamHandler struct {
	hub        Hub
	sendBuffer int
	log        *logrus.Entry
}

// NewEventStreamHandler creates the SSE handler.
func NewEventStreamHandler(h Hub, opts Options) *EventStreamHandler {
	return &EventStreamHandler{
		hub:        h,
		sendBuffer: opts.SendBuffer,
		log:        logrus.WithField("comp", "sse"),
	}
}

// RegisterRoutes registers the event stream.
func (h *EventStreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *EventStreamHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	client := hub.NewClient(r.RemoteAddr, h.sendBuffer)
	log := h.log.WithFields(logrus.Fields{"client": client.ID(), "addr": client.Addr()})

	if err := h.hub.Connect(ctx, client); err != nil {
		log.WithError(err).Warn("hub refused subscriber")
		utils.RespondError(w, http.StatusServiceUnavailable, "hub unavailable")
		return
	}
	defer func() {
		if err := h.hub.Disconnect(context.Background(), client); err != nil {
			log.WithError(err).Debug("disconnect not delivered")
		}
	}()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case payload, ok := <-client.Send():
			if !ok {
				return
			}
			var frame chat.Frame
			if err := json.Unmarshal(payload, &frame); err != nil {
				log.WithError(err).Error("undecodable hub frame")
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, frame.Event, frame.Data); err != nil {
				log.WithError(err).Debug("sse write failed")
				return
			}

		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
