package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"production-ledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockStore serializes writers per position with transaction-scoped
// advisory locks taken in sorted key order, so a first receipt is serialized
// the same way as later updates of an existing row.
type StockStore struct {
	pool *pgxpool.Pool
}

func NewStockStore(pool *pgxpool.Pool) *StockStore {
	return &StockStore{pool: pool}
}

var _ core.StockStore = (*StockStore)(nil)

const positionColumns = `organization_id, product_id, warehouse_id,
	quantity_on_hand, quantity_allocated, quantity_available,
	unit_cost, total_cost, last_movement_at`

func scanPosition(row pgx.Row) (core.StockPosition, error) {
	var p core.StockPosition
	err := row.Scan(&p.OrgID, &p.ProductID, &p.WarehouseID,
		&p.OnHand, &p.Allocated, &p.Available,
		&p.UnitCost, &p.TotalCost, &p.LastMovementAt)
	p.Exists = err == nil
	return p, err
}

func (s *StockStore) Update(ctx context.Context, keys []core.PositionKey, fn func(positions []*core.StockPosition) ([]core.StockMovement, error)) error {
	if len(keys) == 0 {
		return fmt.Errorf("update called without keys")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	unique := uniqueSorted(keys)
	loaded := make(map[core.PositionKey]*core.StockPosition, len(unique))
	for _, k := range unique {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", k.String()); err != nil {
			return fmt.Errorf("failed to lock position %s: %w", k, err)
		}
		p, err := scanPosition(tx.QueryRow(ctx, `
			SELECT `+positionColumns+`
			FROM stock_positions
			WHERE organization_id = $1 AND product_id = $2 AND warehouse_id = $3
			FOR UPDATE
		`, k.OrgID, k.ProductID, k.WarehouseID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			p = core.NewStockPosition(k)
		case err != nil:
			return fmt.Errorf("failed to read position %s: %w", k, err)
		}
		loaded[k] = &p
	}

	ps := make([]*core.StockPosition, len(keys))
	for i, k := range keys {
		ps[i] = loaded[k]
	}
	movements, err := fn(ps)
	if err != nil {
		return err
	}

	for _, k := range unique {
		p := loaded[k]
		if !p.Exists {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO stock_positions
				(organization_id, product_id, warehouse_id, quantity_on_hand, quantity_allocated, unit_cost, last_movement_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (organization_id, product_id, warehouse_id) DO UPDATE SET
				quantity_on_hand   = EXCLUDED.quantity_on_hand,
				quantity_allocated = EXCLUDED.quantity_allocated,
				unit_cost          = EXCLUDED.unit_cost,
				last_movement_at   = EXCLUDED.last_movement_at
		`, k.OrgID, k.ProductID, k.WarehouseID, p.OnHand, p.Allocated, p.UnitCost, p.LastMovementAt)
		if err != nil {
			return fmt.Errorf("failed to write position %s: %w", k, err)
		}
	}

	for i := range movements {
		m := &movements[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO stock_movements
				(transaction_id, organization_id, product_id, warehouse_id, movement_type,
				 quantity, unit_cost, total_cost, source_type, source_id, reason, actor, status, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING seq
		`, m.TransactionID, m.OrgID, m.ProductID, m.WarehouseID, string(m.Type),
			m.Quantity, m.UnitCost, m.TotalCost, m.SourceType, m.SourceID, m.Reason, m.Actor, m.Status, m.Timestamp,
		).Scan(&m.Seq)
		if err != nil {
			return fmt.Errorf("failed to record %s movement: %w", m.Type, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
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

func (s *StockStore) Get(ctx context.Context, key core.PositionKey) (core.StockPosition, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM stock_positions
		WHERE organization_id = $1 AND product_id = $2 AND warehouse_id = $3
	`, key.OrgID, key.ProductID, key.WarehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.StockPosition{}, fmt.Errorf("stock position %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.StockPosition{}, fmt.Errorf("failed to read position %s: %w", key, err)
	}
	return p, nil
}

func (s *StockStore) List(ctx context.Context, orgID string) ([]core.StockPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM stock_positions
		WHERE organization_id = $1
		ORDER BY product_id, warehouse_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []core.StockPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *StockStore) Movements(ctx context.Context, key core.PositionKey, filter core.MovementFilter) ([]core.StockMovement, error) {
	var types []string
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	var until *time.Time
	if !filter.Until.IsZero() {
		until = &filter.Until
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, transaction_id, organization_id, product_id, warehouse_id, movement_type,
		       quantity, unit_cost, total_cost, source_type, source_id, reason, actor, status, occurred_at
		FROM stock_movements
		WHERE organization_id = $1 AND product_id = $2 AND warehouse_id = $3
		  AND ($4::text[] IS NULL OR movement_type = ANY($4))
		  AND ($5::timestamptz IS NULL OR occurred_at <= $5)
		ORDER BY occurred_at, seq
	`, key.OrgID, key.ProductID, key.WarehouseID, types, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []core.StockMovement
	for rows.Next() {
		var m core.StockMovement
		var typ string
		if err := rows.Scan(&m.Seq, &m.TransactionID, &m.OrgID, &m.ProductID, &m.WarehouseID, &typ,
			&m.Quantity, &m.UnitCost, &m.TotalCost, &m.SourceType, &m.SourceID, &m.Reason, &m.Actor, &m.Status, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.Type = core.MovementType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}
