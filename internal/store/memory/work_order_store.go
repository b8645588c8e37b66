package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"production-ledger/internal/core"
)

type WorkOrderStore struct {
	mu       sync.RWMutex
	orders   map[string]*core.WorkOrder
	byNumber map[string]string
}

func NewWorkOrderStore() *WorkOrderStore {
	return &WorkOrderStore{
		orders:   make(map[string]*core.WorkOrder),
		byNumber: make(map[string]string),
	}
}

var _ core.WorkOrderStore = (*WorkOrderStore)(nil)

func numberKey(orgID, number string) string { return orgID + "\x00" + number }

func (s *WorkOrderStore) Create(_ context.Context, wo *core.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nk := numberKey(wo.OrgID, wo.WorkOrderNumber)
	if _, exists := s.byNumber[nk]; exists {
		return fmt.Errorf("work order number %s: %w", wo.WorkOrderNumber, core.ErrDuplicateIdentifier)
	}
	if _, exists := s.orders[wo.ID]; exists {
		return fmt.Errorf("work order id %s: %w", wo.ID, core.ErrDuplicateIdentifier)
	}
	s.orders[wo.ID] = wo.Clone()
	s.byNumber[nk] = wo.ID
	return nil
}

func (s *WorkOrderStore) Get(_ context.Context, id string) (*core.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wo, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("work order %s: %w", id, core.ErrNotFound)
	}
	return wo.Clone(), nil
}

func (s *WorkOrderStore) GetByNumber(ctx context.Context, orgID, number string) (*core.WorkOrder, error) {
	s.mu.RLock()
	id, ok := s.byNumber[numberKey(orgID, number)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("work order %s: %w", number, core.ErrNotFound)
	}
	return s.Get(ctx, id)
}

func (s *WorkOrderStore) Save(_ context.Context, wo *core.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[wo.ID]
	if !ok {
		return fmt.Errorf("work order %s: %w", wo.ID, core.ErrNotFound)
	}
	if stored.Version != wo.Version {
		return fmt.Errorf("work order %s version %d is stale: %w", wo.WorkOrderNumber, wo.Version, core.ErrConcurrentUpdate)
	}
	wo.Version++
	s.orders[wo.ID] = wo.Clone()
	return nil
}

func (s *WorkOrderStore) List(_ context.Context, orgID string, status *core.WorkOrderStatus) ([]core.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.WorkOrder
	for _, wo := range s.orders {
		if wo.OrgID != orgID || (status != nil && wo.Status != *status) {
			continue
		}
		out = append(out, *wo.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkOrderNumber < out[j].WorkOrderNumber })
	return out, nil
}
