package history

import (
	"sync"
	"time"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

const (
	// DefaultCapacity is the number of messages kept in memory.
	DefaultCapacity = 10

	// SnapshotSize is how many messages new or polling clients receive.
	// It is independent of the retention window.
	SnapshotSize = 5
)

// Store is the bounded, append-only message log.
//
// The hub is the only writer. The lock lets the pull query read concurrently.
type Store struct {
	mu       sync.RWMutex
	capacity int
	messages []chat.Message
	nextID   int64
	now      func() time.Time
}

// NewStore returns a store holding at most capacity messages, preloaded with
// seed. Ids continue after the highest seeded id.
func NewStore(capacity int, seed ...chat.Message) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	s := &Store{
		capacity: capacity,
		messages: make([]chat.Message, 0, capacity+1),
		nextID:   1,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, msg := range seed {
		if msg.ID >= s.nextID {
			s.nextID = msg.ID + 1
		}
		s.messages = append(s.messages, msg)
	}
	s.evict()

	return s
}

// Append records a new message and evicts the oldest entries beyond capacity.
// Content is not validated.
func (s *Store) Append(user, text string) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := chat.Message{
		ID:        s.nextID,
		User:      user,
		Text:      text,
		Timestamp: s.now(),
	}
	s.nextID++

	s.messages = append(s.messages, msg)
	s.evict()

	return msg
}

// Recent returns up to the last k messages, oldest first.
func (s *Store) Recent(k int) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		return []chat.Message{}
	}
	if k > len(s.messages) {
		k = len(s.messages)
	}

	out := make([]chat.Message, k)
	copy(out, s.messages[len(s.messages)-k:])
	return out
}

// Len reports how many messages are retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Capacity reports the retention window.
func (s *Store) Capacity() int {
	return s.capacity
}

// evict must be called with the write lock held.
func (s *Store) evict() {
	if over := len(s.messages) - s.capacity; over > 0 {
		kept := make([]chat.Message, s.capacity, s.capacity+1)
		copy(kept, s.messages[over:])
		s.messages = kept
	}
}
