package api

import (
	"bytes"
	"chatterbox/internal/auth"
	"chatterbox/internal/filestore"
	"chatterbox/internal/models"
	"chatterbox/internal/storage"
	"chatterbox/internal/upload"
	"chatterbox/internal/ws"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type pushCall struct {
	userID string
	sender models.Contact
	msg    models.Message
}

type mockNotifier struct {
	calls chan pushCall
}

func (m *mockNotifier) Notify(ctx context.Context, userID string, sender models.Contact, msg models.Message) error {
	m.calls <- pushCall{userID: userID, sender: sender, msg: msg}
	return nil
}

func (m *mockNotifier) PublicKey() string { return "public-key" }

type testEnv struct {
	srv      *httptest.Server
	store    *storage.BboltStorage
	hub      *ws.Hub
	notifier *mockNotifier
	now      time.Time
	mu       sync.Mutex
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewBboltStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := &testEnv{
		store:    store,
		hub:      ws.NewHub(10),
		notifier: &mockNotifier{calls: make(chan pushCall, 10)},
		now:      t0,
	}

	a := New(store, files, env.hub, env.notifier, auth.NewIdentifier(ctx, store, time.Minute))
	a.now = func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.now = env.now.Add(time.Second)
		return env.now
	}
	admin := NewAdminHandler(store, env.hub)
	admin.now = func() time.Time { return t0 }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contacts", a.RequireUser(a.ContactsHandler))
	mux.HandleFunc("GET /api/chats", a.RequireUser(a.ChatsHandler))
	mux.HandleFunc("GET /api/messages/{id}", a.RequireUser(a.MessagesHandler))
	mux.HandleFunc("POST /api/messages/send/{id}", RequireSameOrigin(a.RequireUser(a.SendHandler)))
	mux.HandleFunc("POST /api/upload/image", RequireSameOrigin(a.RequireUser(a.UploadImageHandler)))
	mux.HandleFunc("GET /api/images/{id}", a.GetImageHandler)
	mux.HandleFunc("GET /api/push/key", a.PushKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", a.RequireUser(a.PushSubscribeHandler))
	mux.HandleFunc("POST /admin/users", admin.AddUserHandler)
	mux.HandleFunc("GET /admin/users", admin.ListUsersHandler)

	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)

	for _, u := range []AddUserRequest{{ID: "alice", FullName: "Alice"}, {ID: "bob", FullName: "Bob"}, {ID: "carol", FullName: "Carol"}} {
		resp := env.do(t, http.MethodPost, "/admin/users", "", u)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(auth.UserHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireError(t *testing.T, resp *http.Response, status int, message string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	require.Equal(t, message, decode[models.ErrorResponse](t, resp).Message)
}

func TestAPI_Identity(t *testing.T) {
	env := newTestEnv(t)

	requireError(t, env.do(t, http.MethodGet, "/api/contacts", "", nil), http.StatusUnauthorized, "Unauthorized")
	requireError(t, env.do(t, http.MethodGet, "/api/contacts", "mallory", nil), http.StatusUnauthorized, "Unauthorized")

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/contacts", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.UserCookie, Value: "alice"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Len(t, decode[[]models.Contact](t, resp), 2)
}

func TestAPI_Contacts(t *testing.T) {
	env := newTestEnv(t)

	_, ch := env.hub.Join("bob")
	require.NotNil(t, ch)

	resp := env.do(t, http.MethodGet, "/api/contacts", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	contacts := decode[[]models.Contact](t, resp)
	require.Len(t, contacts, 2)
	require.Equal(t, "bob", contacts[0].ID)
	require.True(t, contacts[0].Online)
	require.Equal(t, "carol", contacts[1].ID)
	require.False(t, contacts[1].Online)
}

func TestAPI_SendAndFetch(t *testing.T) {
	env := newTestEnv(t)
	_, bobCh := env.hub.Join("bob")

	resp := env.do(t, http.MethodPost, "/api/messages/send/bob", "alice", models.SendRequest{Text: "  **hi** bob "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sent := decode[models.Message](t, resp)
	require.NotEmpty(t, sent.ID)
	require.Equal(t, "alice", sent.SenderID)
	require.Equal(t, "bob", sent.ReceiverID)
	require.Equal(t, "**hi** bob", sent.Text)
	require.Contains(t, sent.HTML, "<strong>hi</strong>")

	select {
	case event := <-bobCh:
		require.Equal(t, sent.ID, event.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("bob did not receive the message")
	}

	// bob is online, so no push
	select {
	case call := <-env.notifier.calls:
		t.Fatalf("unexpected push %+v", call)
	default:
	}

	resp = env.do(t, http.MethodPost, "/api/messages/send/carol", "alice", models.SendRequest{Text: "hey carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	select {
	case call := <-env.notifier.calls:
		require.Equal(t, "carol", call.userID)
		require.Equal(t, "Alice", call.sender.FullName)
		require.Equal(t, "hey carol", call.msg.Text)
	case <-time.After(time.Second):
		t.Fatal("carol was not pushed")
	}

	resp = env.do(t, http.MethodGet, "/api/messages/alice", "bob", nil)
	msgs := decode[[]models.Message](t, resp)
	require.Len(t, msgs, 1)
	require.Equal(t, sent.ID, msgs[0].ID)

	resp = env.do(t, http.MethodGet, "/api/chats", "alice", nil)
	chats := decode[[]models.Contact](t, resp)
	require.Len(t, chats, 2)
	require.Equal(t, "carol", chats[0].ID)
	require.Equal(t, "bob", chats[1].ID)
	require.True(t, chats[1].Online)
	require.False(t, chats[0].LastMessageTime.IsZero())

	resp = env.do(t, http.MethodGet, "/api/messages/carol", "bob", nil)
	require.Empty(t, decode[[]models.Message](t, resp))
}

func TestAPI_SendErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		to      string
		body    any
		status  int
		message string
	}{
		{"unknown receiver", "nobody", models.SendRequest{Text: "hi"}, http.StatusNotFound, "User not found"},
		{"self", "alice", models.SendRequest{Text: "hi"}, http.StatusBadRequest, "Cannot send a message to yourself"},
		{"empty", "bob", models.SendRequest{Text: "   "}, http.StatusBadRequest, "Message cannot be empty"},
		{"bad json", "bob", "not an object", http.StatusBadRequest, "Invalid request body"},
		{"gif image", "bob", models.SendRequest{Image: "data:image/gif;base64,R0lGODlhAQABAAAAACw="}, http.StatusBadRequest, "Only .jpeg, .jpg, .png, .webp formats are allowed!"},
		{"unknown uploaded image", "bob", models.SendRequest{Image: "/api/images/deadbeef"}, http.StatusBadRequest, "Unknown image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, env.do(t, http.MethodPost, "/api/messages/send/"+tt.to, "alice", tt.body), tt.status, tt.message)
		})
	}

	requireError(t, env.do(t, http.MethodGet, "/api/messages/nobody", "alice", nil), http.StatusNotFound, "User not found")
}

func TestAPI_SendRejectsCrossOrigin(t *testing.T) {
	env := newTestEnv(t)

	data, err := json.Marshal(models.SendRequest{Text: "hi"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/messages/send/bob", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set(auth.UserHeader, "alice")
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	requireError(t, resp, http.StatusForbidden, "Cross-origin request rejected")
}

func TestAPI_SendImage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/messages/send/bob", "alice", models.SendRequest{Image: "data:image/png;base64," + pngBase64})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sent := decode[models.Message](t, resp)
	require.Contains(t, sent.Image, "/api/images/")
	require.Empty(t, sent.Text)

	resp = env.do(t, http.MethodGet, sent.Image, "", nil)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	want, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)
	require.Equal(t, want, body)

	// The URL can be reused in a later message.
	resp = env.do(t, http.MethodPost, "/api/messages/send/bob", "alice", models.SendRequest{Image: sent.Image})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, sent.Image, decode[models.Message](t, resp).Image)

	requireError(t, env.do(t, http.MethodGet, "/api/images/missing", "", nil), http.StatusNotFound, "Image not found")
}

func multipartImage(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="pic"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAPI_UploadImage(t *testing.T) {
	env := newTestEnv(t)
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	post := func(contentType string, data []byte) *http.Response {
		body, ct := multipartImage(t, contentType, data)
		req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/upload/image", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", ct)
		req.Header.Set(auth.UserHeader, "alice")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post("image/png", png)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[UploadResponse](t, resp)
	require.Contains(t, got.URL, "/api/images/")

	requireError(t, post("image/gif", png), http.StatusBadRequest, "Only .jpeg, .jpg, .png, .webp formats are allowed!")
	requireError(t, post("image/png", []byte("plain text")), http.StatusBadRequest, "Only .jpeg, .jpg, .png, .webp formats are allowed!")
	requireError(t, post("image/png", append(png, make([]byte, upload.MaxImageSize)...)), http.StatusRequestEntityTooLarge, "File too large")
}

func TestAPI_Push(t *testing.T) {
	env := newTestEnv(t)

	key := decode[PushKeyResponse](t, env.do(t, http.MethodGet, "/api/push/key", "", nil))
	require.Equal(t, "public-key", key.PublicKey)

	var sub models.PushSubscription
	sub.Endpoint = "https://push.example.com/1"
	sub.Keys.Auth = "auth"
	sub.Keys.P256dh = "p256dh"

	resp := env.do(t, http.MethodPost, "/api/push/subscribe", "bob", sub)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	subs, err := env.store.ListPushSubscriptions("bob")
	require.NoError(t, err)
	require.Equal(t, []models.PushSubscription{sub}, subs)

	sub.Keys.Auth = ""
	requireError(t, env.do(t, http.MethodPost, "/api/push/subscribe", "bob", sub), http.StatusBadRequest, "Incomplete subscription")
}

func TestAdmin_AddUser(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/admin/users", "", AddUserRequest{FullName: "Dave <script>x</script>"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dave := decode[models.Contact](t, resp)
	require.NotEmpty(t, dave.ID)
	require.Equal(t, "Dave", dave.FullName)
	require.True(t, env.hub.Known(dave.ID))

	requireError(t, env.do(t, http.MethodPost, "/admin/users", "", AddUserRequest{ID: "alice", FullName: "Alice"}), http.StatusConflict, "User already exists")
	requireError(t, env.do(t, http.MethodPost, "/admin/users", "", AddUserRequest{ID: "bob"}), http.StatusBadRequest, "Full name is required")

	resp = env.do(t, http.MethodPost, "/admin/users", "", AddUserRequest{ID: "bad id", FullName: "X"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	users := decode[[]models.Contact](t, env.do(t, http.MethodGet, "/admin/users", "", nil))
	require.Len(t, users, 4)
}
