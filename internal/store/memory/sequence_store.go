package memory

import (
	"context"
	"sync"

	"production-ledger/internal/core"
)

type SequenceStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewSequenceStore() *SequenceStore {
	return &SequenceStore{counters: make(map[string]int64)}
}

var _ core.SequenceStore = (*SequenceStore)(nil)

func (s *SequenceStore) NextValue(_ context.Context, orgID, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := orgID + "\x00" + name
	s.counters[k]++
	return s.counters[k], nil
}

// Stores bundles one of each in-memory repository.
type Stores struct {
	Stock      *StockStore
	Boms       *BomStore
	WorkOrders *WorkOrderStore
	Reorder    *ReorderStore
	Sequences  *SequenceStore
}

func NewStores() *Stores {
	return &Stores{
		Stock:      NewStockStore(),
		Boms:       NewBomStore(),
		WorkOrders: NewWorkOrderStore(),
		Reorder:    NewReorderStore(),
		Sequences:  NewSequenceStore(),
	}
}
