// Package memory holds in-process implementations of the core repositories.
// They keep everything in maps guarded by mutexes and hand out copies.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"production-ledger/internal/core"
)

// StockStore keeps positions and movements in memory. Update holds one
// KeyedMutex entry per position for the duration of the callback.
type StockStore struct {
	locks *core.KeyedMutex

	mu        sync.RWMutex
	positions map[core.PositionKey]core.StockPosition
	movements map[core.PositionKey][]core.StockMovement
	seq       int64
}

func NewStockStore() *StockStore {
	return &StockStore{
		locks:     core.NewKeyedMutex(),
		positions: make(map[core.PositionKey]core.StockPosition),
		movements: make(map[core.PositionKey][]core.StockMovement),
	}
}

var _ core.StockStore = (*StockStore)(nil)

func (s *StockStore) Update(ctx context.Context, keys []core.PositionKey, fn func(positions []*core.StockPosition) ([]core.StockMovement, error)) error {
	if len(keys) == 0 {
		return fmt.Errorf("update called without keys")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unique := uniqueSorted(keys)
	unlocks := make([]func(), 0, len(unique))
	for _, k := range unique {
		unlocks = append(unlocks, s.locks.Lock(k.String()))
	}
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	loaded := make(map[core.PositionKey]*core.StockPosition, len(unique))
	s.mu.RLock()
	for _, k := range unique {
		p, ok := s.positions[k]
		if !ok {
			p = core.NewStockPosition(k)
		} else {
			p.Exists = true
		}
		loaded[k] = &p
	}
	s.mu.RUnlock()

	ps := make([]*core.StockPosition, len(keys))
	for i, k := range keys {
		ps[i] = loaded[k]
	}
	movements, err := fn(ps)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range unique {
		if p := loaded[k]; p.Exists {
			s.positions[k] = *p
		}
	}
	for _, m := range movements {
		s.seq++
		m.Seq = s.seq
		key := m.Key()
		s.movements[key] = append(s.movements[key], m)
	}
	return nil
}

func uniqueSorted(keys []core.PositionKey) []core.PositionKey {
	seen := make(map[core.PositionKey]bool, len(keys))
	out := make([]core.PositionKey, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	core.SortKeys(out)
	return out
}

func (s *StockStore) Get(_ context.Context, key core.PositionKey) (core.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return core.StockPosition{}, fmt.Errorf("stock position %s: %w", key, core.ErrNotFound)
	}
	p.Exists = true
	return p, nil
}

func (s *StockStore) List(_ context.Context, orgID string) ([]core.StockPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.StockPosition
	for k, p := range s.positions {
		if k.OrgID == orgID {
			p.Exists = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].WarehouseID < out[j].WarehouseID
	})
	return out, nil
}

func (s *StockStore) Movements(_ context.Context, key core.PositionKey, filter core.MovementFilter) ([]core.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.StockMovement
	for _, m := range s.movements[key] {
		if !filter.Until.IsZero() && m.Timestamp.After(filter.Until) {
			continue
		}
		if len(filter.Types) > 0 && !hasType(filter.Types, m.Type) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func hasType(types []core.MovementType, t core.MovementType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
