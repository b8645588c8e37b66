package core

import (
	"context"
	"fmt"
)

const (
	SequenceWorkOrder = "WO"
	SequenceBom       = "BOM"
)

// SequenceService issues document numbers such as WO-000042. Each (org, prefix)
// pair has its own monotonic counter; the store guarantees no value is handed
// out twice under concurrency.
type SequenceService struct {
	store SequenceStore
}

func NewSequenceService(store SequenceStore) *SequenceService {
	return &SequenceService{store: store}
}

func (s *SequenceService) Next(ctx context.Context, orgID, prefix string) (string, error) {
	n, err := s.store.NextValue(ctx, orgID, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s number: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%06d", prefix, n), nil
}
