package session

import (
	"chatterbox/internal/bus"
	"chatterbox/internal/models"
	"errors"
	"slices"
)

// Event kinds published on the store's bus. Subscribe to "chat." for all of them.
const (
	EventUsers               = "chat.users"
	EventChats               = "chat.chats"
	EventMessages            = "chat.messages"
	EventSelected            = "chat.selected"
	EventLoading             = "chat.loading"
	EventNotificationAdded   = "chat.notification.added"
	EventNotificationRemoved = "chat.notification.removed"
	EventError               = "chat.error"
)

// Operation names used in loading and error payloads.
const (
	OpLoadContacts = "loadContacts"
	OpLoadChatList = "loadChatList"
	OpLoadMessages = "loadMessages"
	OpSendMessage  = "sendMessage"
)

// Loading holds one flag per asynchronous operation.
type Loading struct {
	Users    bool
	Chats    bool
	Messages bool
	Sending  bool
}

// ErrorNotice is the payload of EventError: a transient user-visible message.
type ErrorNotice struct {
	Op      string
	Message string
}

// userMessager is implemented by errors carrying a message meant for the user,
// such as API errors decoded from a server response.
type userMessager interface {
	UserMessage() string
}

func noticeFor(op string, err error) ErrorNotice {
	var um userMessager
	if errors.As(err, &um) {
		return ErrorNotice{Op: op, Message: um.UserMessage()}
	}
	return ErrorNotice{Op: op, Message: err.Error()}
}

func (s *Store) usersEventLocked() bus.Event {
	return bus.Event{Kind: EventUsers, Payload: slices.Clone(s.users)}
}

func (s *Store) chatsEventLocked() bus.Event {
	return bus.Event{Kind: EventChats, Payload: slices.Clone(s.chats)}
}

func (s *Store) messagesEventLocked() bus.Event {
	return bus.Event{Kind: EventMessages, Payload: slices.Clone(s.messages)}
}

func (s *Store) loadingEventLocked() bus.Event {
	return bus.Event{Kind: EventLoading, Payload: s.loadingLocked()}
}

func (s *Store) selectedEventLocked() bus.Event {
	var sel *models.Contact
	if s.selected != nil {
		c := *s.selected
		sel = &c
	}
	return bus.Event{Kind: EventSelected, Payload: sel}
}

func (s *Store) errorEvent(op string, err error) bus.Event {
	return bus.Event{Kind: EventError, Payload: noticeFor(op, err)}
}

// publishLocked must be called with s.mu held, so observers receive
// snapshots in the order the mutations happened. Publishing never blocks.
func (s *Store) publishLocked(events ...bus.Event) {
	for _, evt := range events {
		evt.Timestamp = s.now()
		s.bus.Publish(evt)
	}
}
