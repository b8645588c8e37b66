package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps messages in process. It is used by tests and by the
// memory store driver, where durability across restarts is not expected.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]*Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]*Message)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Enqueue(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("outbox message %s already queued", msg.ID)
	}
	c := *msg
	s.messages[msg.ID] = &c
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.Status == StatusPending && !m.NextAttemptAt.After(now) {
			out = append(out, *m)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrMessageNotFound)
	}
	m.Status = StatusDelivered
	m.Attempts++
	m.LastError = ""
	m.DeliveredAt = &at
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrMessageNotFound)
	}
	m.Attempts = attempts
	m.NextAttemptAt = next
	m.LastError = lastErr
	if dead {
		m.Status = StatusDead
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if status == "" || m.Status == status {
			out = append(out, *m)
		}
	}
	sortMessages(out)
	return out, nil
}

func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
