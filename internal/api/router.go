package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/crmorbit-ai/crm-v1-sub004/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Sync        *SyncHandler
	Messages    *MessagesHandler
	Send        *SendHandler
	MailConfig  *MailConfigHandler
	Connections *ConnectionsHandler
	WebSocket   *WebSocketHandler
}

// NewRouter mounts the API under /api/v1. Every API route, the websocket included, requires identity headers.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/", handleRoot)
	r.Get("/healthz", handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireIdentity(log))

			r.Get("/ws", h.WebSocket.Handle)

			r.Post("/sync", h.Sync.Sync)
			r.Get("/threads/{messageID}", h.Messages.GetThread)
			r.Get("/related/{type}/{id}", h.Messages.ListRelated)

			r.Post("/emails", h.Send.Send)
			r.Post("/emails/bulk", h.Send.SendBulk)
			r.Post("/emails/{id}/read", h.Messages.MarkRead)
			r.Post("/emails/{id}/opened", h.Messages.MarkOpened)
			r.Post("/emails/{id}/status", h.Messages.UpdateStatus)
			r.Delete("/emails/{id}", h.Messages.Delete)

			r.Get("/mail-config", h.MailConfig.GetMailConfig)
			r.Put("/mail-config", h.MailConfig.PutMailConfig)

			r.Get("/connections", h.Connections.List)
		})
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailsync is running")
}
