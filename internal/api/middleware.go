package api

import (
	"chatterbox/internal/auth"
	"chatterbox/internal/models"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Message: message})
}

// RequireUser resolves the caller and stores it in the request context.
func (a *API) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.ident.Identify(r)
		if err != nil {
			if !errors.Is(err, auth.ErrNoIdentity) && !errors.Is(err, auth.ErrUnknownUser) {
				slog.Error("failed to identify user", "error", err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), user)))
	}
}

// RequireSameOrigin rejects cross-site browser requests. Requests without
// an Origin header, such as those from non-browser clients, pass.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				writeError(w, http.StatusForbidden, "Cross-origin request rejected")
				return
			}
		}
		next(w, r)
	}
}

func currentUser(r *http.Request) models.Contact {
	user, _ := auth.UserFromContext(r.Context())
	return user
}
