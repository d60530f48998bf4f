package api

import (
	"chatterbox/internal/content"
	"chatterbox/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AdminHandler struct {
	store Storage
	hub   Hub
	now   func() time.Time
}

func NewAdminHandler(store Storage, hub Hub) *AdminHandler {
	return &AdminHandler{store: store, hub: hub, now: time.Now}
}

// AddUserRequest creates a contact. ID is optional and generated when
// empty.
type AddUserRequest struct {
	ID         string `json:"id,omitempty"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fullName := strings.TrimSpace(content.Sanitize(req.FullName))
	if fullName == "" {
		writeError(w, http.StatusBadRequest, "Full name is required")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if err := content.ValidateUsername(id); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid id: %v", err))
		return
	}

	_, err := h.store.GetUser(id)
	switch {
	case err == nil:
		writeError(w, http.StatusConflict, "User already exists")
		return
	case !errors.Is(err, models.ErrNotFound):
		slog.Error("failed to check user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	user := models.Contact{
		ID:         id,
		FullName:   fullName,
		ProfilePic: req.ProfilePic,
		CreatedAt:  h.now().UTC(),
	}
	if err := h.store.UpsertUser(user); err != nil {
		slog.Error("failed to create user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	h.hub.AddUser(user)

	slog.Info("user created", "user_id", id)
	writeJSON(w, http.StatusCreated, user)
}

func (h *AdminHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	if users == nil {
		users = []models.Contact{}
	}
	writeJSON(w, http.StatusOK, users)
}
