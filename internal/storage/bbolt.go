package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatterbox/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketChats    = []byte("chats")
	bucketMessages = []byte("messages")
	bucketFiles    = []byte("files")
	bucketPush     = []byte("push")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketChats, bucketMessages, bucketFiles, bucketPush} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return b.Put(v.Key(), data)
}

// UpsertUser stores a new or updated user.
func (s *BboltStorage) UpsertUser(user models.Contact) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:         user.ID,
			FullName:   user.FullName,
			ProfilePic: user.ProfilePic,
			CreatedAt:  toUnixNano(user.CreatedAt),
		}
		return put(b, dbUser)
	})
}

func (s *BboltStorage) GetUser(id string) (models.Contact, error) {
	var user models.Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, id)
		return err
	})
	return user, err
}

// ListUsers returns all users ordered by name.
func (s *BboltStorage) ListUsers() ([]models.Contact, error) {
	var users []models.Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.contact())
			return nil
		})
	})
	sort.Slice(users, func(i, j int) bool {
		return users[i].FullName < users[j].FullName
	})
	return users, err
}

func getUser(tx *bbolt.Tx, id string) (models.Contact, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return models.Contact{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return models.Contact{}, err
	}
	return dbUser.contact(), nil
}

func (u *DBUser) contact() models.Contact {
	return models.Contact{
		ID:         u.ID,
		FullName:   u.FullName,
		ProfilePic: u.ProfilePic,
		CreatedAt:  fromUnixNano(u.CreatedAt),
	}
}

// SaveMessage appends a message to its conversation and moves the
// conversation forward in both participants' chat index.
func (s *BboltStorage) SaveMessage(message models.Message) error {
	if message.SenderID == "" || message.ReceiverID == "" {
		return errors.New("message missing sender or receiver")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(models.DMID(message.SenderID, message.ReceiverID)))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		dbMessage := DBMessage{
			ID:         message.ID,
			SenderID:   message.SenderID,
			ReceiverID: message.ReceiverID,
			Text:       message.Text,
			HTML:       message.HTML,
			Image:      message.Image,
			CreatedAt:  toUnixNano(message.CreatedAt),
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		if err := touchChat(tx, message.SenderID, message.ReceiverID, dbMessage.CreatedAt); err != nil {
			return err
		}
		return touchChat(tx, message.ReceiverID, message.SenderID, dbMessage.CreatedAt)
	})
}

func touchChat(tx *bbolt.Tx, userID, contactID string, ts int64) error {
	userChats, err := tx.Bucket(bucketChats).CreateBucketIfNotExists([]byte(userID))
	if err != nil {
		return fmt.Errorf("failed to create chat index for %s: %w", userID, err)
	}

	entry := DBChatEntry{ContactID: contactID}
	if data := userChats.Get(entry.Key()); data != nil {
		if err := entry.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal chat entry: %w", err)
		}
	}
	if ts <= entry.LastMessageTime {
		return nil
	}
	entry.LastMessageTime = ts
	return put(userChats, &entry)
}

// ListMessages returns the conversation between two users, oldest first.
func (s *BboltStorage) ListMessages(userID, contactID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(models.DMID(userID, contactID)))
		if convBucket == nil {
			return nil
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:         dbMsg.ID,
				SenderID:   dbMsg.SenderID,
				ReceiverID: dbMsg.ReceiverID,
				Text:       dbMsg.Text,
				HTML:       dbMsg.HTML,
				Image:      dbMsg.Image,
				CreatedAt:  fromUnixNano(dbMsg.CreatedAt),
			})
			return nil
		})
	})
	return messages, err
}

// ListChats returns the contacts userID has exchanged messages with, most
// recent first. Contacts deleted since are skipped.
func (s *BboltStorage) ListChats(userID string) ([]models.Contact, error) {
	chats := []models.Contact{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		userChats := tx.Bucket(bucketChats).Bucket([]byte(userID))
		if userChats == nil {
			return nil
		}
		return userChats.ForEach(func(k, v []byte) error {
			var entry DBChatEntry
			if err := entry.UnmarshalBinary(v); err != nil {
				return err
			}
			c, err := getUser(tx, entry.ContactID)
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			c.LastMessageTime = fromUnixNano(entry.LastMessageTime)
			chats = append(chats, c)
			return nil
		})
	})
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageTime.After(chats[j].LastMessageTime)
	})
	return chats, err
}

func (s *BboltStorage) UpsertPushSubscription(userID string, sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketPush).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		dbSub := &DBPushSubscription{
			Endpoint: sub.Endpoint,
			Auth:     sub.Keys.Auth,
			P256dh:   sub.Keys.P256dh,
		}
		return put(b, dbSub)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPush).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			var sub models.PushSubscription
			sub.Endpoint = dbSub.Endpoint
			sub.Keys.Auth = dbSub.Auth
			sub.Keys.P256dh = dbSub.P256dh
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPush).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}
