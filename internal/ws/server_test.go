package ws

import (
	"chatterbox/internal/models"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type headerIdentifier struct{}

func (headerIdentifier) Identify(r *http.Request) (models.Contact, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return models.Contact{}, errors.New("no user")
	}
	return models.Contact{ID: id}, nil
}

func dialAs(t *testing.T, srvURL, userID, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srvURL, "http") + "/api/ws" + query
	header := http.Header{}
	header.Set("X-User-ID", userID)
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.ServerEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.NotNil(t, event.Message)
	return *event.Message
}

func waitOnline(t *testing.T, h *Hub, userID string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Online(userID) }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_LiveAndReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub()
	s := NewServer(ctx, hub, headerIdentifier{})
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnections))
	defer srv.Close()

	hub.Dispatch(dm("m1", "alice", "bob", 1))
	hub.Dispatch(dm("m2", "alice", "bob", 2))

	since := "?since=" + strconv.FormatInt(t0.Add(time.Second).UnixNano(), 10)
	conn := dialAs(t, srv.URL, "bob", since)
	defer func() { _ = conn.Close() }()

	require.Equal(t, "m2", readMessage(t, conn).ID)

	waitOnline(t, hub, "bob")
	hub.Dispatch(dm("m3", "alice", "bob", 3))
	require.Equal(t, "m3", readMessage(t, conn).ID)

	_ = conn.Close()
	require.Eventually(t, func() bool { return !hub.Online("bob") }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_Rejects(t *testing.T) {
	hub := newTestHub()
	s := NewServer(context.Background(), hub, headerIdentifier{})
	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnections))
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		user   string
		query  string
		status int
	}{
		{"wrong method", http.MethodPost, "bob", "", http.StatusMethodNotAllowed},
		{"no identity", http.MethodGet, "", "", http.StatusUnauthorized},
		{"bad since", http.MethodGet, "bob", "?since=yesterday", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+"/api/ws"+tt.query, nil)
			require.NoError(t, err)
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
