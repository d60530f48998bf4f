package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Contact represents a person the current user can chat with.
type Contact struct {
	ID         string    `json:"id"`
	FullName   string    `json:"fullName"`
	ProfilePic string    `json:"profilePic,omitempty"`
	Online     bool      `json:"online"`
	CreatedAt  time.Time `json:"createdAt"`
	// LastMessageTime is set only once a conversation exists.
	LastMessageTime time.Time `json:"lastMessageTime,omitzero"`
}

// RecencyKey is the time used to order chat list entries.
func (c Contact) RecencyKey() time.Time {
	if !c.LastMessageTime.IsZero() {
		return c.LastMessageTime
	}
	return c.CreatedAt
}

// Message represents a direct message between two users.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	HTML       string    `json:"html,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Peer returns the other participant of the message from userID's point of view.
func (m Message) Peer(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Preview is a short human readable summary used in notifications.
func (m Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Image != "" {
		return "Sent an image"
	}
	return ""
}

// SendRequest is the body of POST /api/messages/send/{id}.
// Image is a data URI.
type SendRequest struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

func (r SendRequest) Empty() bool {
	return r.Text == "" && r.Image == ""
}

// Notification is an in-memory alert about a message from a contact
// whose conversation is not open.
type Notification struct {
	ID        string    `json:"id"`
	Message   Message   `json:"message"`
	Sender    Contact   `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type ServerEventType string

const (
	ServerEventNewMessage ServerEventType = "newMessage"
)

// ServerEvent is a frame pushed to clients over the realtime socket.
type ServerEvent struct {
	Type    ServerEventType `json:"type"`
	Message *Message        `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// PushSubscription is a browser web push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		Auth   string `json:"auth"`
		P256dh string `json:"p256dh"`
	} `json:"keys"`
}

// DMID returns the deterministic conversation id for two users.
func DMID(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return "dm_" + u1 + "_" + u2
}
