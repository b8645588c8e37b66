package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"production-ledger/internal/core"
)

type BomStore struct {
	mu      sync.RWMutex
	boms    map[string]core.BomHeader
	lines   map[string]core.BomLine
	lineIDs map[string][]string
}

func NewBomStore() *BomStore {
	return &BomStore{
		boms:    make(map[string]core.BomHeader),
		lines:   make(map[string]core.BomLine),
		lineIDs: make(map[string][]string),
	}
}

var _ core.BomStore = (*BomStore)(nil)

func copyBom(b core.BomHeader) *core.BomHeader {
	b.Routing = append([]core.RoutingStep(nil), b.Routing...)
	return &b
}

func (s *BomStore) CreateBom(_ context.Context, bom *core.BomHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.boms {
		if b.OrgID == bom.OrgID && b.BomNumber == bom.BomNumber && b.Version == bom.Version {
			return fmt.Errorf("bom %s version %d: %w", bom.BomNumber, bom.Version, core.ErrDuplicateIdentifier)
		}
	}
	s.boms[bom.ID] = *copyBom(*bom)
	return nil
}

func (s *BomStore) GetBom(_ context.Context, id string) (*core.BomHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boms[id]
	if !ok {
		return nil, fmt.Errorf("bom %s: %w", id, core.ErrNotFound)
	}
	return copyBom(b), nil
}

func (s *BomStore) UpdateBom(_ context.Context, bom *core.BomHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.boms[bom.ID]
	if !ok {
		return fmt.Errorf("bom %s: %w", bom.ID, core.ErrNotFound)
	}
	if stored.Revision != bom.Revision {
		return fmt.Errorf("bom %s revision %d is stale: %w", bom.BomNumber, bom.Revision, core.ErrConcurrentUpdate)
	}
	bom.Revision++
	s.boms[bom.ID] = *copyBom(*bom)
	return nil
}

func (s *BomStore) ListBoms(_ context.Context, orgID, productID string) ([]core.BomHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.BomHeader
	for _, b := range s.boms {
		if b.OrgID == orgID && (productID == "" || b.ProductID == productID) {
			out = append(out, *copyBom(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BomNumber != out[j].BomNumber {
			return out[i].BomNumber < out[j].BomNumber
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Lines returns the BOM's lines in insertion order.
func (s *BomStore) Lines(_ context.Context, bomID string) ([]core.BomLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.lineIDs[bomID]
	out := make([]core.BomLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.lines[id])
	}
	return out, nil
}

func (s *BomStore) GetLine(_ context.Context, lineID string) (*core.BomLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lines[lineID]
	if !ok {
		return nil, fmt.Errorf("bom line %s: %w", lineID, core.ErrNotFound)
	}
	return &l, nil
}

func (s *BomStore) SaveLine(_ context.Context, line *core.BomLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boms[line.BomID]; !ok {
		return fmt.Errorf("bom %s: %w", line.BomID, core.ErrNotFound)
	}
	if _, exists := s.lines[line.ID]; !exists {
		s.lineIDs[line.BomID] = append(s.lineIDs[line.BomID], line.ID)
	}
	s.lines[line.ID] = *line
	return nil
}

func (s *BomStore) DeleteLines(_ context.Context, bomID string, lineIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		drop[id] = true
		delete(s.lines, id)
	}
	kept := s.lineIDs[bomID][:0]
	for _, id := range s.lineIDs[bomID] {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	s.lineIDs[bomID] = kept
	return nil
}
