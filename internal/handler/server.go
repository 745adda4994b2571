// Package handler is the thin HTTP binding over the sync engine: an SSE
// sync endpoint, a webhook intake endpoint, and a health check. The
// broader HTTP/auth front-end (sessions, identity-provider login) is out
// of scope; callers reach these routes with a user ID already resolved.
package handler

import (
	"net/http"

	"github.com/chronos-sync/core/internal/syncengine"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Server wires the sync orchestrator and webhook dispatcher to chi routes.
type Server struct {
	*SyncHandler
	*WebhookHandler
}

// NewServer builds the handler set backing the routes registered by Mount.
func NewServer(orchestrator *syncengine.Orchestrator, dispatcher *syncengine.WebhookDispatcher, log *logrus.Logger) *Server {
	return &Server{
		SyncHandler:    NewSyncHandler(orchestrator, log),
		WebhookHandler: NewWebhookHandler(dispatcher, log),
	}
}

// Mount registers the server's routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.Health)
	r.Get("/api/users/{userID}/sync", s.SyncUser)
	r.Post("/webhooks/google/calendar", s.HandlePush)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
