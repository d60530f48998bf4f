package ws

import (
	"chatterbox/internal/models"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

type userIdentifier interface {
	Identify(r *http.Request) (models.Contact, error)
}

type Server struct {
	ctx      context.Context
	hub      *Hub
	ident    userIdentifier
	upgrader *websocket.Upgrader
}

// NewServer serves realtime sockets until ctx is done.
func NewServer(ctx context.Context, hub *Hub, ident userIdentifier) *Server {
	return &Server{
		ctx:   ctx,
		hub:   hub,
		ident: ident,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnections upgrades GET /api/ws. An optional since query
// parameter (unix nanoseconds) asks for buffered messages newer than it.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.ident.Identify(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var since time.Time
	replay := false
	if v := r.URL.Query().Get("since"); v != "" {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		since = time.Unix(0, ns)
		replay = true
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "user_id", user.ID, "error", err)
		return
	}

	// Joining before reading the backlog means nothing published in
	// between is lost. A message can then arrive twice; the session store
	// drops repeated message ids.
	conn, err := NewConnection(s.hub, ws, user.ID)
	if err != nil {
		slog.Error("failed to join hub", "user_id", user.ID, "error", err)
		_ = ws.Close()
		return
	}
	if replay {
		conn.SetBacklog(s.hub.Replay(user.ID, since))
	}

	slog.Info("websocket connected", "user_id", user.ID, "replay", replay)
	if err := conn.Handle(s.ctx); err != nil {
		slog.Debug("websocket closed", "user_id", user.ID, "error", err)
	}
}
