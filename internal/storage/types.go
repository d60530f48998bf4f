package storage

import (
	"encoding"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID         string `msgpack:"id"`
	FullName   string `msgpack:"fullName"`
	ProfilePic string `msgpack:"profilePic"`
	CreatedAt  int64  `msgpack:"createdAt"` // Unix nanoseconds
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

// DBChatEntry is one row of a user's chat index.
type DBChatEntry struct {
	ContactID       string `msgpack:"contactId"`
	LastMessageTime int64  `msgpack:"lastMessageTime"` // Unix nanoseconds
}

func (c *DBChatEntry) Key() []byte {
	return []byte(c.ContactID)
}

func (c *DBChatEntry) MarshalBinary() (data []byte, err error) {
	type alias DBChatEntry
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChatEntry) UnmarshalBinary(data []byte) error {
	type alias DBChatEntry
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Text       string `msgpack:"text"`
	HTML       string `msgpack:"html"`
	Image      string `msgpack:"image"`
	CreatedAt  int64  `msgpack:"createdAt"` // Unix nanoseconds
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPushSubscription struct {
	Endpoint string `msgpack:"endpoint"`
	Auth     string `msgpack:"auth"`
	P256dh   string `msgpack:"p256dh"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
