package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"production-ledger/internal/core"
)

type ReorderStore struct {
	mu     sync.RWMutex
	rules  map[string]core.ReorderRule
	alerts map[string]core.ReorderAlert
}

func NewReorderStore() *ReorderStore {
	return &ReorderStore{
		rules:  make(map[string]core.ReorderRule),
		alerts: make(map[string]core.ReorderAlert),
	}
}

var _ core.ReorderStore = (*ReorderStore)(nil)

func (s *ReorderStore) SaveRule(_ context.Context, rule *core.ReorderRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rules {
		if id != rule.ID && r.Key() == rule.Key() {
			return fmt.Errorf("reorder rule for %s: %w", rule.Key(), core.ErrDuplicateIdentifier)
		}
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *ReorderStore) GetRule(_ context.Context, id string) (*core.ReorderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("reorder rule %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (s *ReorderStore) FindRule(_ context.Context, key core.PositionKey) (*core.ReorderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.Key() == key {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("reorder rule for %s: %w", key, core.ErrNotFound)
}

func (s *ReorderStore) ActiveRules(_ context.Context) ([]core.ReorderRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ReorderRule
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *ReorderStore) activeAlert(key core.PositionKey, exceptID string) (core.ReorderAlert, bool) {
	for id, a := range s.alerts {
		if id != exceptID && a.Status != core.AlertClosed && a.Key() == key {
			return a, true
		}
	}
	return core.ReorderAlert{}, false
}

func (s *ReorderStore) ActiveAlert(_ context.Context, key core.PositionKey) (*core.ReorderAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activeAlert(key, "")
	if !ok {
		return nil, fmt.Errorf("active alert for %s: %w", key, core.ErrNotFound)
	}
	return &a, nil
}

func (s *ReorderStore) CreateAlert(_ context.Context, alert *core.ReorderAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activeAlert(alert.Key(), ""); exists {
		return fmt.Errorf("open alert for %s: %w", alert.Key(), core.ErrDuplicateIdentifier)
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *ReorderStore) GetAlert(_ context.Context, id string) (*core.ReorderAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, core.ErrNotFound)
	}
	return &a, nil
}

func (s *ReorderStore) SaveAlert(_ context.Context, alert *core.ReorderAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return fmt.Errorf("alert %s: %w", alert.ID, core.ErrNotFound)
	}
	if alert.Status != core.AlertClosed {
		if _, exists := s.activeAlert(alert.Key(), alert.ID); exists {
			return fmt.Errorf("open alert for %s: %w", alert.Key(), core.ErrDuplicateIdentifier)
		}
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *ReorderStore) MarkAlertNotified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, core.ErrNotFound)
	}
	a.NotificationSent = true
	s.alerts[id] = a
	return nil
}

func (s *ReorderStore) ListAlerts(_ context.Context, orgID string, statuses []core.AlertStatus) ([]core.ReorderAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ReorderAlert
	for _, a := range s.alerts {
		if a.OrgID != orgID {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func hasStatus(statuses []core.AlertStatus, s core.AlertStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}
