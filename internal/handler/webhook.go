package handler

import (
	"errors"
	"net/http"

	"github.com/chronos-sync/core/internal/syncengine"
	"github.com/sirupsen/logrus"
)

// WebhookHandler receives Google Calendar push notifications.
type WebhookHandler struct {
	dispatcher *syncengine.WebhookDispatcher
	log        *logrus.Logger
}

func NewWebhookHandler(dispatcher *syncengine.WebhookDispatcher, log *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, log: log}
}

// HandlePush reads the X-Goog-Channel-* headers and hands them to the
// dispatcher: 200 on success/no-op, 400 if the channel id is missing, 401
// on token mismatch.
func (h *WebhookHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-Id")
	if channelID == "" {
		http.Error(w, "missing X-Goog-Channel-Id", http.StatusBadRequest)
		return
	}
	token := r.Header.Get("X-Goog-Channel-Token")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	err := h.dispatcher.HandlePush(r.Context(), channelID, token, resourceState)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, syncengine.ErrChannelUnknown):
		// Expired or unrecognized channel: drop silently, still 200.
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, syncengine.ErrChannelTokenMismatch):
		http.Error(w, "channel token mismatch", http.StatusUnauthorized)
	default:
		h.log.WithError(err).WithField("channel_id", channelID).Error("failed to handle webhook push")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
