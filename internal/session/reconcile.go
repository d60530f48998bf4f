package session

import (
	"chatterbox/internal/bus"
	"chatterbox/internal/models"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// PromoteContact moves contactID to the most recent position of the chat
// list with the given timestamp, inserting it from the directory when it has
// no entry yet. It reports whether the list changed.
func (s *Store) PromoteContact(contactID string, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.promoteLocked(contactID, ts) {
		return false
	}
	s.publishLocked(s.chatsEventLocked())
	return true
}

// promoteLocked is the only place that reorders the chat list.
// An entry never moves back in time: it keeps the later of its current and
// the given timestamp, and lands at the first position that keeps the list
// sorted, which is the head for in-order delivery.
func (s *Store) promoteLocked(contactID string, ts time.Time) bool {
	var entry models.Contact
	i := slices.IndexFunc(s.chats, func(c models.Contact) bool { return c.ID == contactID })
	if i >= 0 {
		entry = s.chats[i]
		s.chats = slices.Delete(s.chats, i, i+1)
	} else {
		c, err := s.directory.Get(contactID)
		if err != nil {
			return false
		}
		entry = c
	}

	if ts.After(entry.LastMessageTime) {
		entry.LastMessageTime = ts
	}

	pos := 0
	for pos < len(s.chats) && s.chats[pos].RecencyKey().After(entry.RecencyKey()) {
		pos++
	}
	s.chats = slices.Insert(s.chats, pos, entry)
	s.promoteSeq++
	return true
}

// appendLocked adds msg to the open conversation unless it is already there.
func (s *Store) appendLocked(msg models.Message) bool {
	if msg.ID != "" && slices.ContainsFunc(s.messages, func(m models.Message) bool { return m.ID == msg.ID }) {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

// resolveLocked looks a contact up in the directory, then in the chat list.
func (s *Store) resolveLocked(contactID string) (models.Contact, bool) {
	if c, err := s.directory.Get(contactID); err == nil {
		return c, true
	}
	i := slices.IndexFunc(s.chats, func(c models.Contact) bool { return c.ID == contactID })
	if i < 0 {
		return models.Contact{}, false
	}
	return s.chats[i], true
}

func (s *Store) isSelectedLocked(contactID string) bool {
	return s.selected != nil && s.selected.ID == contactID
}

// markHandledLocked records a message id and reports whether it was new.
// Messages without an id are always new.
func (s *Store) markHandledLocked(id string) bool {
	if id == "" {
		return true
	}
	_, inserted := s.handled.SetIfAbsent(id, struct{}{})
	return inserted
}

// HandleIncomingMessage applies a newMessage event:
//  1. a message id seen before is ignored, so replays after a reconnect
//     neither reorder the chat list nor queue a second notification;
//  2. messages authored by the session user are ignored (see PromoteOwnMessages);
//  3. the sender is promoted in the chat list;
//  4. if the sender's conversation is open the message is appended;
//  5. otherwise a notification is queued when the sender can be resolved.
func (s *Store) HandleIncomingMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.markHandledLocked(msg.ID) {
		slog.Debug("dropping repeated message", "message_id", msg.ID)
		return
	}

	if msg.SenderID == s.cfg.UserID {
		s.ownMessageLocked(msg)
		return
	}

	if s.promoteLocked(msg.SenderID, msg.CreatedAt) {
		s.publishLocked(s.chatsEventLocked())
	}

	if s.isSelectedLocked(msg.SenderID) {
		if s.appendLocked(msg) {
			s.publishLocked(s.messagesEventLocked())
		}
		return
	}

	sender, ok := s.resolveLocked(msg.SenderID)
	if !ok {
		slog.Debug("dropping message from unknown sender", "sender_id", msg.SenderID, "message_id", msg.ID)
		return
	}

	n := models.Notification{
		ID:        uuid.NewString(),
		Message:   msg,
		Sender:    sender,
		Timestamp: s.now(),
	}
	s.notifications = append(s.notifications, n)
	if s.cfg.NotificationTTL > 0 {
		s.timers[n.ID] = time.AfterFunc(s.cfg.NotificationTTL, func() {
			s.DismissNotification(n.ID)
		})
	}
	s.publishLocked(bus.Event{Kind: EventNotificationAdded, Payload: n})
}

// ownMessageLocked handles a message the session user sent, typically echoed
// back by the server to every connected device.
func (s *Store) ownMessageLocked(msg models.Message) {
	if !s.cfg.PromoteOwnMessages {
		return
	}

	if s.promoteLocked(msg.ReceiverID, msg.CreatedAt) {
		s.publishLocked(s.chatsEventLocked())
	}
	if s.isSelectedLocked(msg.ReceiverID) && s.appendLocked(msg) {
		s.publishLocked(s.messagesEventLocked())
	}
}

// DismissNotification removes a notification. Unknown ids are ignored.
func (s *Store) DismissNotification(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}

	i := slices.IndexFunc(s.notifications, func(n models.Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	s.notifications = slices.Delete(s.notifications, i, i+1)
	s.publishLocked(bus.Event{Kind: EventNotificationRemoved, Payload: id})
	return true
}
