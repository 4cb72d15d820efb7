package storage

import (
	"context"
	"pairchat/backend/internal/models"
	"sync"
)

// MemoryStore is a process-local message log for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []models.ChatMessage // ascending by id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, msg *models.ChatMessage) error {
	prepare(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *MemoryStore) QueryBefore(_ context.Context, ch models.Channel, beforeID int64, limit int) ([]models.ChatMessage, error) {
	key := ch.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ChatMessage, 0, limit)
	for i := len(s.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.msgs[i]
		if m.ChannelKey != key {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, ch models.Channel, recipientID int64) ([]int64, error) {
	ids := []int64{}
	if !ch.Includes(recipientID) {
		return ids, nil
	}
	key := ch.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		m := &s.msgs[i]
		if m.ChannelKey == key && m.ToUserID == recipientID && m.Status == models.StatusSent {
			m.Status = models.StatusRead
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
