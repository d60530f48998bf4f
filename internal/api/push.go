package api

import (
	"chatterbox/internal/models"
	"encoding/json"
	"log/slog"
	"net/http"
)

type PushKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// PushKeyHandler returns the VAPID public key browsers subscribe with.
// An empty key means push is disabled.
func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	var key string
	if a.notifier != nil {
		key = a.notifier.PublicKey()
	}
	writeJSON(w, http.StatusOK, PushKeyResponse{PublicKey: key})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		writeError(w, http.StatusBadRequest, "Incomplete subscription")
		return
	}

	if err := a.store.UpsertPushSubscription(me.ID, sub); err != nil {
		slog.Error("failed to store push subscription", "user_id", me.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}

	w.WriteHeader(http.StatusCreated)
}
