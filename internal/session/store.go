// Package session keeps the client-side view of a user's chats: the contact
// directory, the recency-ordered chat list, the open conversation and the
// notification queue. It reconciles realtime messages with the results of
// explicit fetches and publishes every change on a bus.
package session

import (
	"chatterbox/internal/bus"
	"chatterbox/internal/models"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

var (
	ErrNoContactSelected = errors.New("no contact selected")
	ErrEmptyMessage      = errors.New("message must have text or image")
	ErrAlreadyAttached   = errors.New("realtime transport already attached")
	ErrSessionClosed     = errors.New("session closed")
)

// handledWindow is how many recent message ids are remembered for
// dropping repeated deliveries.
const handledWindow = 1024

// API is the HTTP collaborator used for bulk fetches and sending.
type API interface {
	Contacts(ctx context.Context) ([]models.Contact, error)
	Chats(ctx context.Context) ([]models.Contact, error)
	Messages(ctx context.Context, contactID string) ([]models.Message, error)
	Send(ctx context.Context, contactID string, req models.SendRequest) (models.Message, error)
}

// Transport delivers newMessage events. OnMessage returns a function that
// removes the handler.
type Transport interface {
	OnMessage(handler func(models.Message)) (unsubscribe func())
}

// Reconnector is implemented by transports that can report a re-established
// connection.
type Reconnector interface {
	OnReconnect(handler func()) (unsubscribe func())
}

type Config struct {
	API API
	// UserID is the id of the authenticated user owning this session.
	UserID string
	// Bus receives state change events. A new bus is created when nil.
	Bus *bus.Bus
	Now func() time.Time
	// NotificationTTL dismisses notifications automatically when positive.
	NotificationTTL time.Duration
	// PromoteOwnMessages makes messages the user sent from another device
	// promote the peer and land in the open conversation.
	PromoteOwnMessages bool
	// BackfillOnReconnect refetches the chat list and the open conversation
	// after the transport reconnects.
	BackfillOnReconnect bool
	// ResyncTimeout bounds the refetch after a reconnect.
	ResyncTimeout time.Duration
}

// State is a point-in-time copy of the store.
type State struct {
	Users         []models.Contact
	Chats         []models.Contact
	Selected      *models.Contact
	Messages      []models.Message
	Notifications []models.Notification
	Loading       Loading
}

type Store struct {
	cfg Config
	api API
	bus *bus.Bus
	now func() time.Time

	mu            sync.Mutex
	users         []models.Contact
	directory     geche.Geche[string, models.Contact]
	chats         []models.Contact
	selected      *models.Contact
	messages      []models.Message
	notifications []models.Notification
	timers        map[string]*time.Timer
	handled       geche.Geche[string, struct{}]

	// generation changes on Close. Fetches dispatched under an older
	// generation do not touch the state.
	generation uint64
	// sessionCtx bounds background work of the current session.
	sessionCtx context.Context
	endSession context.CancelFunc

	// In-flight counters backing the loading flags.
	pendingUsers    int
	pendingChats    int
	pendingMessages int
	pendingSends    int

	// messageFetchSeq tags LoadMessages requests so that superseded
	// responses can be told apart from the latest one.
	messageFetchSeq uint64
	// promoteSeq changes whenever the chat list order changes locally.
	promoteSeq uint64

	unsubMessages  func()
	unsubReconnect func()
}

func New(cfg Config) *Store {
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 10 * time.Second
	}
	s := &Store{
		cfg:       cfg,
		api:       cfg.API,
		bus:       cfg.Bus,
		now:       cfg.Now,
		directory: geche.NewMapCache[string, models.Contact](),
		timers:    make(map[string]*time.Timer),
		handled:   geche.NewRingBuffer[string, struct{}](handledWindow),
	}
	s.sessionCtx, s.endSession = context.WithCancel(context.Background())
	return s
}

// Bus returns the bus the store publishes to.
func (s *Store) Bus() *bus.Bus {
	return s.bus
}

// Subscribe is a shortcut for Bus().Subscribe.
func (s *Store) Subscribe(prefix string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(prefix, bufSize)
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Users:         slices.Clone(s.users),
		Chats:         slices.Clone(s.chats),
		Messages:      slices.Clone(s.messages),
		Notifications: slices.Clone(s.notifications),
		Loading:       s.loadingLocked(),
	}
	if s.selected != nil {
		c := *s.selected
		st.Selected = &c
	}
	return st
}

func (s *Store) loadingLocked() Loading {
	return Loading{
		Users:    s.pendingUsers > 0,
		Chats:    s.pendingChats > 0,
		Messages: s.pendingMessages > 0,
		Sending:  s.pendingSends > 0,
	}
}

// Attach registers the store's realtime handler on t. It must be called once
// per session: a second call fails until Detach.
func (s *Store) Attach(t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubMessages != nil {
		return ErrAlreadyAttached
	}
	s.unsubMessages = t.OnMessage(s.HandleIncomingMessage)

	if r, ok := t.(Reconnector); ok && s.cfg.BackfillOnReconnect {
		s.unsubReconnect = r.OnReconnect(func() {
			s.mu.Lock()
			ctx := s.sessionCtx
			s.mu.Unlock()
			go s.resync(ctx)
		})
	}
	return nil
}

// Detach removes the realtime handler. It is safe to call when not attached.
func (s *Store) Detach() {
	s.mu.Lock()
	unsubMessages, unsubReconnect := s.unsubMessages, s.unsubReconnect
	s.unsubMessages, s.unsubReconnect = nil, nil
	s.mu.Unlock()

	if unsubMessages != nil {
		unsubMessages()
	}
	if unsubReconnect != nil {
		unsubReconnect()
	}
}

// Close detaches from the transport and discards all session state. Fetches
// still in flight complete without applying their results and a running
// reconnect refetch is cancelled. The store can be reused afterwards.
func (s *Store) Close() {
	s.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.endSession()
	s.sessionCtx, s.endSession = context.WithCancel(context.Background())

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.users = nil
	s.directory = geche.NewMapCache[string, models.Contact]()
	s.chats = nil
	s.selected = nil
	s.messages = nil
	s.notifications = nil
	s.handled = geche.NewRingBuffer[string, struct{}](handledWindow)
	s.publishLocked(
		s.usersEventLocked(),
		s.chatsEventLocked(),
		s.selectedEventLocked(),
		s.messagesEventLocked(),
	)
}

// SelectContact opens the conversation with c, or closes it when c is nil.
// It does not fetch; call LoadMessages afterwards. Switching to a different
// contact empties the message log.
func (s *Store) SelectContact(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.selected
	changed := (prev == nil) != (c == nil) || (prev != nil && c != nil && prev.ID != c.ID)
	if c != nil {
		cp := *c
		s.selected = &cp
	} else {
		s.selected = nil
	}

	s.publishLocked(s.selectedEventLocked())
	if changed && len(s.messages) > 0 {
		s.messages = nil
		s.publishLocked(s.messagesEventLocked())
	}
}

func (s *Store) resync(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.ResyncTimeout)
	defer cancel()

	if err := s.LoadChatList(ctx); errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	var selectedID string
	if s.selected != nil {
		selectedID = s.selected.ID
	}
	s.mu.Unlock()

	if selectedID != "" {
		_ = s.LoadMessages(ctx, selectedID)
	}
}
