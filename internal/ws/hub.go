package ws

import (
	"chatterbox/internal/chat"
	"chatterbox/internal/models"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxRecords = 50
	connectionBuffer  = 100
)

type Hub struct {
	// Map of conversationID -> Conversation
	conversations map[string]*chat.Conversation

	// Map of userID -> connID -> channel, one entry per open socket
	connections map[string]map[int]chan models.ServerEvent

	knownUsers map[string]models.Contact

	maxRecords int
	nextConnID int

	mu sync.RWMutex
}

func NewHub(maxRecords int) *Hub {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Hub{
		conversations: make(map[string]*chat.Conversation),
		connections:   make(map[string]map[int]chan models.ServerEvent),
		knownUsers:    make(map[string]models.Contact),
		maxRecords:    maxRecords,
	}
}

func (h *Hub) AddUser(user models.Contact) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.knownUsers[user.ID] = user
}

func (h *Hub) Known(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.knownUsers[userID]
	return ok
}

// conversation returns the conversation between two users, creating it
// on first use with currently connected participants marked online.
// Must be called with h.mu held for writing.
func (h *Hub) conversation(u1, u2 string) *chat.Conversation {
	id := models.DMID(u1, u2)
	if c, ok := h.conversations[id]; ok {
		return c
	}

	c := chat.New(chat.Config{
		ID:             id,
		MaxRecords:     h.maxRecords,
		RecordCallback: h.handleRecordCallback,
	})
	for _, userID := range []string{u1, u2} {
		if len(h.connections[userID]) > 0 {
			c.Join(userID)
		} else {
			c.Leave(userID)
		}
	}
	h.conversations[id] = c
	return c
}

// Join registers a new socket for userID. A user may hold several.
// The returned channel is closed by Leave.
func (h *Hub) Join(userID string) (int, chan models.ServerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.knownUsers[userID]; !ok {
		return 0, nil
	}

	h.nextConnID++
	connID := h.nextConnID
	ch := make(chan models.ServerEvent, connectionBuffer)

	conns := h.connections[userID]
	if conns == nil {
		conns = make(map[int]chan models.ServerEvent)
		h.connections[userID] = conns
	}
	conns[connID] = ch

	if len(conns) == 1 {
		for _, c := range h.memberOf(userID) {
			c.Join(userID)
		}
	}

	return connID, ch
}

func (h *Hub) Leave(userID string, connID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.connections[userID]
	ch, ok := conns[connID]
	if !ok {
		return
	}
	close(ch)
	delete(conns, connID)

	if len(conns) > 0 {
		return
	}
	delete(h.connections, userID)
	for _, c := range h.memberOf(userID) {
		c.Leave(userID)
	}
}

// memberOf must be called with h.mu held.
func (h *Hub) memberOf(userID string) []*chat.Conversation {
	var result []*chat.Conversation
	for _, c := range h.conversations {
		if c.HasMember(userID) {
			result = append(result, c)
		}
	}
	return result
}

// Dispatch records a persisted message in its conversation and delivers it
// to every open socket of both participants.
func (h *Hub) Dispatch(msg models.Message) {
	h.mu.Lock()
	_, senderKnown := h.knownUsers[msg.SenderID]
	_, receiverKnown := h.knownUsers[msg.ReceiverID]
	if !senderKnown || !receiverKnown {
		h.mu.Unlock()
		slog.Warn("dropping message between unknown users", "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)
		return
	}
	c := h.conversation(msg.SenderID, msg.ReceiverID)
	h.mu.Unlock()

	c.AddRecord(msg)
}

func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// Replay returns buffered messages involving userID created after since,
// oldest first.
func (h *Hub) Replay(userID string, since time.Time) []models.Message {
	h.mu.RLock()
	convs := h.memberOf(userID)
	h.mu.RUnlock()

	var result []models.Message
	for _, c := range convs {
		result = append(result, c.Since(since)...)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (h *Hub) handleRecordCallback(receiverID string, conversationID string, msg models.Message) {
	event := models.ServerEvent{
		Type:    models.ServerEventNewMessage,
		Message: &msg,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, ch := range h.connections[receiverID] {
		select {
		case ch <- event:
		default:
			slog.Warn("connection buffer full, dropping event",
				"user_id", receiverID, "conn_id", connID, "conversation_id", conversationID, "message_id", msg.ID)
		}
	}
}
