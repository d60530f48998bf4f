package api

import (
	"chatterbox/internal/content"
	"chatterbox/internal/filestore"
	"chatterbox/internal/models"
	"chatterbox/internal/storage"
	"chatterbox/internal/upload"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxSendBody = 4 << 20
	pushTimeout = 10 * time.Second
)

type Storage interface {
	GetUser(id string) (models.Contact, error)
	UpsertUser(user models.Contact) error
	ListUsers() ([]models.Contact, error)
	ListChats(userID string) ([]models.Contact, error)
	ListMessages(userID, contactID string) ([]models.Message, error)
	SaveMessage(message models.Message) error
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
	UpsertPushSubscription(userID string, sub models.PushSubscription) error
}

type Hub interface {
	AddUser(user models.Contact)
	Dispatch(msg models.Message)
	Online(userID string) bool
}

type Notifier interface {
	Notify(ctx context.Context, userID string, sender models.Contact, msg models.Message) error
	PublicKey() string
}

type Identifier interface {
	Identify(r *http.Request) (models.Contact, error)
}

type API struct {
	store    Storage
	files    filestore.FileStore
	hub      Hub
	notifier Notifier
	ident    Identifier
	now      func() time.Time
}

func New(store Storage, files filestore.FileStore, hub Hub, notifier Notifier, ident Identifier) *API {
	return &API{
		store:    store,
		files:    files,
		hub:      hub,
		notifier: notifier,
		ident:    ident,
		now:      time.Now,
	}
}

// ContactsHandler lists every user except the caller with presence.
func (a *API) ContactsHandler(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)

	users, err := a.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load contacts")
		return
	}

	contacts := make([]models.Contact, 0, len(users))
	for _, u := range users {
		if u.ID == me.ID {
			continue
		}
		u.Online = a.hub.Online(u.ID)
		contacts = append(contacts, u)
	}

	writeJSON(w, http.StatusOK, contacts)
}

// ChatsHandler lists the caller's conversations, most recent first.
func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)

	chats, err := a.store.ListChats(me.ID)
	if err != nil {
		slog.Error("failed to list chats", "user_id", me.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load chats")
		return
	}
	for i := range chats {
		chats[i].Online = a.hub.Online(chats[i].ID)
	}

	writeJSON(w, http.StatusOK, chats)
}

// MessagesHandler returns the conversation with {id}, oldest first.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	peer, ok := a.lookupPeer(w, r.PathValue("id"))
	if !ok {
		return
	}

	messages, err := a.store.ListMessages(me.ID, peer.ID)
	if err != nil {
		slog.Error("failed to list messages", "user_id", me.ID, "peer_id", peer.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (a *API) lookupPeer(w http.ResponseWriter, id string) (models.Contact, bool) {
	peer, err := a.store.GetUser(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return models.Contact{}, false
	}
	if err != nil {
		slog.Error("failed to get user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return models.Contact{}, false
	}
	return peer, true
}

// SendHandler persists a message to {id}, fans it out over the hub and
// falls back to web push when the receiver has no live socket.
func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	peer, ok := a.lookupPeer(w, r.PathValue("id"))
	if !ok {
		return
	}
	if peer.ID == me.ID {
		writeError(w, http.StatusBadRequest, "Cannot send a message to yourself")
		return
	}

	var req models.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, upload.UserMessage(upload.ErrTooLarge))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Empty() {
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   me.ID,
		ReceiverID: peer.ID,
		Text:       req.Text,
		CreatedAt:  a.now().UTC(),
	}

	if req.Text != "" {
		html, err := content.Render(req.Text)
		if err != nil {
			slog.Error("failed to render message", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to send message")
			return
		}
		msg.HTML = html
	}

	if req.Image != "" {
		url, status, message := a.resolveImage(me.ID, req.Image)
		if status != 0 {
			writeError(w, status, message)
			return
		}
		msg.Image = url
	}

	if err := a.store.SaveMessage(msg); err != nil {
		slog.Error("failed to save message", "sender_id", me.ID, "receiver_id", peer.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}

	a.hub.Dispatch(msg)
	if !a.hub.Online(peer.ID) {
		a.pushAsync(r.Context(), peer.ID, me, msg)
	}

	writeJSON(w, http.StatusOK, msg)
}

// resolveImage accepts either a data URI or the URL of a previously
// uploaded image. A non-zero status reports a client error.
func (a *API) resolveImage(userID, image string) (string, int, string) {
	if id, ok := strings.CutPrefix(image, imagesPath); ok {
		if _, err := a.store.GetFileMetadata(id); err != nil {
			return "", http.StatusBadRequest, "Unknown image"
		}
		return image, 0, ""
	}

	img, err := upload.ParseDataURI(image)
	if err != nil {
		if msg := upload.UserMessage(err); msg != "" {
			return "", http.StatusBadRequest, msg
		}
		return "", http.StatusBadRequest, "Invalid image"
	}

	url, err := a.storeImage(userID, img)
	if err != nil {
		slog.Error("failed to store image", "user_id", userID, "error", err)
		return "", http.StatusInternalServerError, "Failed to store image"
	}
	return url, 0, ""
}

func (a *API) pushAsync(ctx context.Context, receiverID string, sender models.Contact, msg models.Message) {
	if a.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	go func() {
		defer cancel()
		if err := a.notifier.Notify(ctx, receiverID, sender, msg); err != nil {
			slog.Warn("failed to send push notification", "receiver_id", receiverID, "message_id", msg.ID, "error", err)
		}
	}()
}
