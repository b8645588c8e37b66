package postgres

import (
	"context"
	"fmt"

	"production-ledger/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SequenceStore struct {
	pool *pgxpool.Pool
}

func NewSequenceStore(pool *pgxpool.Pool) *SequenceStore {
	return &SequenceStore{pool: pool}
}

var _ core.SequenceStore = (*SequenceStore)(nil)

// NextValue increments the counter with a single upsert; the row lock taken by
// ON CONFLICT DO UPDATE keeps concurrent callers from seeing the same value.
func (s *SequenceStore) NextValue(ctx context.Context, orgID, name string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (organization_id, name, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (organization_id, name)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, orgID, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return n, nil
}
