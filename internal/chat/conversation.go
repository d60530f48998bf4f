package chat

import (
	"chatterbox/internal/models"
	"sync"
	"time"
)

type Seq int64

// Conversation holds the members of a direct conversation and a ring
// buffer of its most recent messages.
type Conversation struct {
	ID         string
	Records    []models.Message
	Members    map[string]bool
	FirstSeq   Seq
	LastSeq    Seq
	LastIndex  int
	MaxRecords int

	RecordCallback func(receiverID string, conversationID string, msg models.Message)

	mux sync.RWMutex
}

type Config struct {
	ID             string
	MaxRecords     int
	RecordCallback func(receiverID string, conversationID string, msg models.Message)
}

func New(config Config) *Conversation {
	if config.MaxRecords <= 0 {
		config.MaxRecords = 1
	}
	return &Conversation{
		ID:             config.ID,
		MaxRecords:     config.MaxRecords,
		LastIndex:      -1,
		FirstSeq:       -1,
		LastSeq:        -1,
		Members:        make(map[string]bool),
		RecordCallback: config.RecordCallback,
	}
}

// AddRecord stores msg in the ring buffer and hands it to RecordCallback
// once per online member. The callback runs without the conversation lock
// held.
func (c *Conversation) AddRecord(msg models.Message) {
	c.mux.Lock()

	c.LastSeq++
	switch {
	case len(c.Records) < c.MaxRecords:
		if c.FirstSeq == -1 {
			c.FirstSeq = c.LastSeq
		}
		c.Records = append(c.Records, msg)
		c.LastIndex++
	default:
		c.FirstSeq++
		i := (c.LastIndex + 1) % c.MaxRecords
		c.Records[i] = msg
		c.LastIndex = i
	}

	var receivers []string
	for receiverID, online := range c.Members {
		if online {
			receivers = append(receivers, receiverID)
		}
	}
	callback := c.RecordCallback
	c.mux.Unlock()

	if callback == nil {
		return
	}
	for _, receiverID := range receivers {
		callback(receiverID, c.ID, msg)
	}
}

// GetRecords returns records in the sequence range [from, to).
func (c *Conversation) GetRecords(from, to Seq) []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.FirstSeq == -1 {
		return []models.Message{}
	}

	if from < c.FirstSeq {
		from = c.FirstSeq
	}
	if to > c.LastSeq+1 {
		to = c.LastSeq + 1
	}
	if from >= to {
		return []models.Message{}
	}

	return c.copyRange(from, int(to-from))
}

func (c *Conversation) GetLastRecords(count int) []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.LastSeq == -1 || count <= 0 {
		return []models.Message{}
	}

	total := int(c.LastSeq - c.FirstSeq + 1)
	if count > total {
		count = total
	}

	return c.copyRange(c.LastSeq-Seq(count)+1, count)
}

// Since returns buffered messages created after t, oldest first.
func (c *Conversation) Since(t time.Time) []models.Message {
	all := c.GetLastRecords(c.MaxRecords)
	// Records are appended in creation order, so the first match starts
	// the tail.
	for i, msg := range all {
		if msg.CreatedAt.After(t) {
			return all[i:]
		}
	}
	return []models.Message{}
}

// copyRange must be called with the lock held.
func (c *Conversation) copyRange(from Seq, count int) []models.Message {
	result := make([]models.Message, count)

	head := 0
	if len(c.Records) == c.MaxRecords {
		head = (c.LastIndex + 1) % c.MaxRecords
	}

	offset := int(from - c.FirstSeq)
	startIdx := (head + offset) % len(c.Records)

	if startIdx+count <= len(c.Records) {
		copy(result, c.Records[startIdx:startIdx+count])
	} else {
		n1 := len(c.Records) - startIdx
		copy(result, c.Records[startIdx:])
		copy(result[n1:], c.Records[:count-n1])
	}

	return result
}

func (c *Conversation) setMember(userID string, online bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.Members[userID] = online
}

func (c *Conversation) HasMember(userID string) bool {
	c.mux.RLock()
	defer c.mux.RUnlock()

	_, ok := c.Members[userID]
	return ok
}

func (c *Conversation) Join(userID string) {
	c.setMember(userID, true)
}

func (c *Conversation) Leave(userID string) {
	c.setMember(userID, false)
}
