package push

import (
	"chatterbox/internal/models"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string][]models.PushSubscription
}

func (m *memStore) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PushSubscription(nil), m.subs[userID]...), nil
}

func (m *memStore) DeletePushSubscription(userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []models.PushSubscription
	for _, s := range m.subs[userID] {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	m.subs[userID] = kept
	return nil
}

func subscription(t *testing.T, endpoint string) models.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	var sub models.PushSubscription
	sub.Endpoint = endpoint
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(auth)
	return sub
}

func TestNewPayload(t *testing.T) {
	sender := models.Contact{ID: "alice", FullName: "Alice"}

	p := NewPayload(sender, models.Message{SenderID: "alice", Text: "hi"})
	require.Equal(t, Payload{Title: "Alice", Body: "hi", SenderID: "alice"}, p)

	p = NewPayload(models.Contact{}, models.Message{SenderID: "alice", Image: "/api/images/x"})
	require.Equal(t, "New message", p.Title)
	require.Equal(t, "Sent an image", p.Body)
}

func TestNotifier_Disabled(t *testing.T) {
	n := NewNotifier(Config{}, &memStore{})
	require.False(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), "bob", models.Contact{}, models.Message{Text: "hi"}))
}

func TestNotifier_Notify(t *testing.T) {
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := &memStore{subs: map[string][]models.PushSubscription{
		"bob": {subscription(t, srv.URL+"/live"), subscription(t, srv.URL+"/gone")},
	}}
	n := NewNotifier(Config{
		PublicKey:  public,
		PrivateKey: private,
		Subject:    "mailto:admin@example.com",
	}, store)
	require.True(t, n.Enabled())

	msg := models.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi"}
	require.NoError(t, n.Notify(context.Background(), "bob", models.Contact{ID: "alice", FullName: "Alice"}, msg))

	require.Equal(t, map[string]int{"/live": 1, "/gone": 1}, hits)

	subs, err := store.ListPushSubscriptions("bob")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, srv.URL+"/live", subs[0].Endpoint)

	// No subscriptions is not an error.
	require.NoError(t, n.Notify(context.Background(), "carol", models.Contact{}, msg))
}
