package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chronos-sync/core/internal/syncengine"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SyncHandler streams a user's calendar sync progress as server-sent events.
type SyncHandler struct {
	orchestrator *syncengine.Orchestrator
	log          *logrus.Logger
}

func NewSyncHandler(orchestrator *syncengine.Orchestrator, log *logrus.Logger) *SyncHandler {
	return &SyncHandler{orchestrator: orchestrator, log: log}
}

// sseEvent is the wire shape for every named event in the stream; only the
// fields relevant to a given record's Type are populated.
type sseEvent struct {
	CalendarID      string                  `json:"calendar_id,omitempty"`
	Events          []*syncengine.EventView `json:"events,omitempty"`
	SyncToken       string                  `json:"sync_token,omitempty"`
	Code            string                  `json:"code,omitempty"`
	Message         string                  `json:"message,omitempty"`
	Retryable       bool                    `json:"retryable,omitempty"`
	TotalEvents     int                     `json:"total_events,omitempty"`
	CalendarsSynced int                     `json:"calendars_synced,omitempty"`
}

// SyncUser handles GET /api/users/{userID}/sync?calendar_id=...&calendar_id=...
func (h *SyncHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var requested []uuid.UUID
	for _, raw := range r.URL.Query()["calendar_id"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid calendar_id", http.StatusBadRequest)
			return
		}
		requested = append(requested, id)
	}

	stream, err := h.orchestrator.SyncUser(r.Context(), userID, requested)
	if err != nil {
		switch {
		case errors.Is(err, syncengine.ErrRateLimited):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		case errors.Is(err, syncengine.ErrTooManyCalendars):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.WithError(err).WithField("user_id", userID).Error("failed to start sync")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for rec := range stream {
		writeSSE(w, rec)
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, rec syncengine.StreamRecord) {
	if rec.Type == syncengine.KindKeepAlive {
		_, _ = w.Write([]byte(": keep-alive\n\n"))
		return
	}

	payload := sseEvent{
		Code:            rec.Code,
		Message:         rec.Message,
		Retryable:       rec.Retryable,
		SyncToken:       rec.SyncToken,
		TotalEvents:     rec.TotalEvents,
		CalendarsSynced: rec.CalendarsSynced,
	}
	if rec.CalendarID != uuid.Nil {
		payload.CalendarID = rec.CalendarID.String()
	}
	if rec.Events != nil {
		payload.Events = rec.Events
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	_, _ = w.Write([]byte("event: " + string(rec.Type) + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n\n"))
}
