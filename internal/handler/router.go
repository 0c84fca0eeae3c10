package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/live"
	middlewarePkg "github.com/zhouzirui/chat-relay/backend/internal/middleware"
	"github.com/zhouzirui/chat-relay/backend/internal/service/history"
	"github.com/zhouzirui/chat-relay/backend/internal/service/hub"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the hub and the message store.
func NewRouter(h *hub.Hub, store *history.Store, cfg *config.Config) http.Handler {
	origins := middlewarePkg.NewOriginPolicy(cfg.CORS.AllowedOrigins)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(origins))

	liveOpts := live.Options{
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		CheckOrigin:    origins.CheckOrigin,
	}

	live.NewWebSocketHandler(h, liveOpts).RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": h.ClientCount(),
			"typing":  h.TypingUsers(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(store).RegisterRoutes(api)
		live.NewEventStreamHandler(h, liveOpts).RegisterRoutes(api)
	})

	return r
}
