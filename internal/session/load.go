package session

import (
	"chatterbox/internal/models"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/c-pro/geche"
)

// LoadContacts fetches the contact directory. On failure the state is left
// unchanged and an EventError is published; the error is also returned.
func (s *Store) LoadContacts(ctx context.Context) error {
	s.mu.Lock()
	s.pendingUsers++
	gen := s.generation
	s.publishLocked(s.loadingEventLocked())
	s.mu.Unlock()

	users, err := s.api.Contacts(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingUsers--
	s.publishLocked(s.loadingEventLocked())
	if gen != s.generation {
		return staleResult(OpLoadContacts, err)
	}
	if err != nil {
		s.publishLocked(s.errorEvent(OpLoadContacts, err))
		return err
	}

	s.users = slices.Clone(users)
	dir := geche.NewMapCache[string, models.Contact]()
	for _, u := range users {
		dir.Set(u.ID, u)
	}
	s.directory = dir
	s.publishLocked(s.usersEventLocked())
	return nil
}

// LoadChatList fetches conversations with history and stores them sorted by
// recency. Promotions applied while the request was in flight are kept.
func (s *Store) LoadChatList(ctx context.Context) error {
	s.mu.Lock()
	s.pendingChats++
	gen := s.generation
	dispatchSeq := s.promoteSeq
	s.publishLocked(s.loadingEventLocked())
	s.mu.Unlock()

	chats, err := s.api.Chats(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingChats--
	s.publishLocked(s.loadingEventLocked())
	if gen != s.generation {
		return staleResult(OpLoadChatList, err)
	}
	if err != nil {
		s.publishLocked(s.errorEvent(OpLoadChatList, err))
		return err
	}

	chats = slices.Clone(chats)
	if s.promoteSeq != dispatchSeq {
		chats = mergeChats(chats, s.chats)
	}
	sortByRecency(chats)
	s.chats = chats
	s.publishLocked(s.chatsEventLocked())
	return nil
}

// LoadMessages fetches the conversation with contactID. The response is
// applied only if contactID is still selected and no newer LoadMessages was
// dispatched meanwhile. Messages that reached the log through the realtime
// channel or SendMessage during the wait are kept.
func (s *Store) LoadMessages(ctx context.Context, contactID string) error {
	s.mu.Lock()
	s.pendingMessages++
	s.messageFetchSeq++
	seq := s.messageFetchSeq
	gen := s.generation
	s.publishLocked(s.loadingEventLocked())
	s.mu.Unlock()

	msgs, err := s.api.Messages(ctx, contactID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMessages--
	s.publishLocked(s.loadingEventLocked())
	if gen != s.generation {
		return staleResult(OpLoadMessages, err)
	}
	if err != nil {
		s.publishLocked(s.errorEvent(OpLoadMessages, err))
		return err
	}

	switch {
	case s.selected == nil || s.selected.ID != contactID:
		slog.Debug("discarding messages for deselected contact", "contact_id", contactID)
	case seq != s.messageFetchSeq:
		slog.Debug("discarding superseded messages response", "contact_id", contactID, "seq", seq)
	default:
		s.messages = mergeMessages(msgs, s.messages)
		s.publishLocked(s.messagesEventLocked())
	}
	return nil
}

// SendMessage posts req to the selected contact. The persisted message is
// appended to the log and the contact is promoted; nothing is added before
// the server confirms.
func (s *Store) SendMessage(ctx context.Context, req models.SendRequest) (models.Message, error) {
	if req.Empty() {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return models.Message{}, ErrNoContactSelected
	}
	to := *s.selected
	gen := s.generation
	s.pendingSends++
	s.publishLocked(s.loadingEventLocked())
	s.mu.Unlock()

	msg, err := s.api.Send(ctx, to.ID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSends--
	s.publishLocked(s.loadingEventLocked())
	if gen != s.generation {
		// The server has the message; the session it belonged to is gone.
		return msg, err
	}
	if err != nil {
		s.publishLocked(s.errorEvent(OpSendMessage, err))
		return models.Message{}, err
	}

	s.markHandledLocked(msg.ID)
	if s.selected != nil && s.selected.ID == to.ID && s.appendLocked(msg) {
		s.publishLocked(s.messagesEventLocked())
	}
	if s.promoteLocked(to.ID, msg.CreatedAt) {
		s.publishLocked(s.chatsEventLocked())
	}
	return msg, nil
}

// staleResult is returned by fetches that completed after Close.
func staleResult(op string, err error) error {
	if err != nil {
		return err
	}
	slog.Debug("discarding response for closed session", "op", op)
	return ErrSessionClosed
}

// mergeChats folds local entries into fetched ones, keeping the later
// timestamp for contacts present in both.
func mergeChats(fetched, local []models.Contact) []models.Contact {
	idx := make(map[string]int, len(fetched))
	for i, c := range fetched {
		idx[c.ID] = i
	}
	for _, c := range local {
		i, ok := idx[c.ID]
		if !ok {
			idx[c.ID] = len(fetched)
			fetched = append(fetched, c)
			continue
		}
		if c.LastMessageTime.After(fetched[i].LastMessageTime) {
			fetched[i].LastMessageTime = c.LastMessageTime
		}
	}
	return fetched
}

// mergeMessages returns fetched plus the local messages it does not contain,
// ordered oldest first.
func mergeMessages(fetched, local []models.Message) []models.Message {
	out := slices.Clone(fetched)
	seen := make(map[string]struct{}, len(fetched))
	for _, m := range fetched {
		seen[m.ID] = struct{}{}
	}

	extra := false
	for _, m := range local {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		out = append(out, m)
		extra = true
	}
	if extra {
		slices.SortStableFunc(out, func(a, b models.Message) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}
	return out
}

func sortByRecency(chats []models.Contact) {
	slices.SortStableFunc(chats, func(a, b models.Contact) int {
		return compareDesc(a.RecencyKey(), b.RecencyKey())
	})
}

func compareDesc(a, b time.Time) int {
	return b.Compare(a)
}
