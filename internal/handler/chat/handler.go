package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/history"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// HistoryReader is the read side of the message store.
type HistoryReader interface {
	Recent(k int) []chat.Message
}

// Handler serves pull-style reads of recent history.
type Handler struct {
	history HistoryReader
}

// New creates the history handler.
func New(history HistoryReader) *Handler {
	return &Handler{history: history}
}

// RegisterRoutes registers the history routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleRecentMessages)
}

// handleRecentMessages returns the same snapshot new live clients receive.
func (h *Handler) handleRecentMessages(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.history.Recent(history.SnapshotSize))
}
