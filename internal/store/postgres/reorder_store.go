package postgres

import (
	"context"
	"errors"
	"fmt"

	"production-ledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReorderStore relies on the partial unique index reorder_alerts_active_uniq
// to keep at most one non-closed alert per position.
type ReorderStore struct {
	pool *pgxpool.Pool
}

func NewReorderStore(pool *pgxpool.Pool) *ReorderStore {
	return &ReorderStore{pool: pool}
}

var _ core.ReorderStore = (*ReorderStore)(nil)

const ruleColumns = `id, organization_id, product_id, warehouse_id, reorder_point, reorder_quantity,
	min_quantity, safety_stock, is_active, last_triggered_at, trigger_count, created_at, updated_at`

func scanRule(row pgx.Row) (*core.ReorderRule, error) {
	var r core.ReorderRule
	err := row.Scan(&r.ID, &r.OrgID, &r.ProductID, &r.WarehouseID, &r.ReorderPoint, &r.ReorderQuantity,
		&r.MinQuantity, &r.SafetyStock, &r.IsActive, &r.LastTriggeredAt, &r.TriggerCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *ReorderStore) SaveRule(ctx context.Context, rule *core.ReorderRule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reorder_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			reorder_point     = EXCLUDED.reorder_point,
			reorder_quantity  = EXCLUDED.reorder_quantity,
			min_quantity      = EXCLUDED.min_quantity,
			safety_stock      = EXCLUDED.safety_stock,
			is_active         = EXCLUDED.is_active,
			last_triggered_at = EXCLUDED.last_triggered_at,
			trigger_count     = EXCLUDED.trigger_count,
			updated_at        = EXCLUDED.updated_at
	`, rule.ID, rule.OrgID, rule.ProductID, rule.WarehouseID, rule.ReorderPoint, rule.ReorderQuantity,
		rule.MinQuantity, rule.SafetyStock, rule.IsActive, rule.LastTriggeredAt, rule.TriggerCount, rule.CreatedAt, rule.UpdatedAt)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("reorder rule for %s: %w", rule.Key(), core.ErrDuplicateIdentifier)
	}
	if err != nil {
		return fmt.Errorf("failed to save reorder rule: %w", err)
	}
	return nil
}

func (s *ReorderStore) GetRule(ctx context.Context, id string) (*core.ReorderRule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM reorder_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reorder rule %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reorder rule %s: %w", id, err)
	}
	return r, nil
}

func (s *ReorderStore) FindRule(ctx context.Context, key core.PositionKey) (*core.ReorderRule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM reorder_rules
		WHERE organization_id = $1 AND product_id = $2 AND warehouse_id = $3
	`, key.OrgID, key.ProductID, key.WarehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reorder rule for %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reorder rule for %s: %w", key, err)
	}
	return r, nil
}

func (s *ReorderStore) ActiveRules(ctx context.Context) ([]core.ReorderRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM reorder_rules
		WHERE is_active
		ORDER BY organization_id, product_id, warehouse_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reorder rules: %w", err)
	}
	defer rows.Close()

	var out []core.ReorderRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reorder rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const alertColumns = `id, rule_id, organization_id, product_id, warehouse_id, current_quantity,
	reorder_point, suggested_order_qty, priority, status, notification_sent,
	acknowledged_by, acknowledged_at, closed_by, closed_at, notes, created_at`

func scanAlert(row pgx.Row) (*core.ReorderAlert, error) {
	var a core.ReorderAlert
	var priority, status string
	err := row.Scan(&a.ID, &a.RuleID, &a.OrgID, &a.ProductID, &a.WarehouseID, &a.CurrentQuantity,
		&a.ReorderPoint, &a.SuggestedOrderQty, &priority, &status, &a.NotificationSent,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ClosedBy, &a.ClosedAt, &a.Notes, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Priority = core.AlertPriority(priority)
	a.Status = core.AlertStatus(status)
	return &a, nil
}

func (s *ReorderStore) ActiveAlert(ctx context.Context, key core.PositionKey) (*core.ReorderAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM reorder_alerts
		WHERE organization_id = $1 AND product_id = $2 AND warehouse_id = $3 AND status <> 'CLOSED'
	`, key.OrgID, key.ProductID, key.WarehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active alert for %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active alert for %s: %w", key, err)
	}
	return a, nil
}

func (s *ReorderStore) CreateAlert(ctx context.Context, alert *core.ReorderAlert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reorder_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, alert.ID, alert.RuleID, alert.OrgID, alert.ProductID, alert.WarehouseID, alert.CurrentQuantity,
		alert.ReorderPoint, alert.SuggestedOrderQty, string(alert.Priority), string(alert.Status), alert.NotificationSent,
		alert.AcknowledgedBy, alert.AcknowledgedAt, alert.ClosedBy, alert.ClosedAt, alert.Notes, alert.CreatedAt)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("open alert for %s: %w", alert.Key(), core.ErrDuplicateIdentifier)
	}
	if err != nil {
		return fmt.Errorf("failed to insert reorder alert: %w", err)
	}
	return nil
}

func (s *ReorderStore) GetAlert(ctx context.Context, id string) (*core.ReorderAlert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM reorder_alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read alert %s: %w", id, err)
	}
	return a, nil
}

func (s *ReorderStore) SaveAlert(ctx context.Context, alert *core.ReorderAlert) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reorder_alerts SET
			status = $2, notification_sent = $3, acknowledged_by = $4, acknowledged_at = $5,
			closed_by = $6, closed_at = $7, notes = $8
		WHERE id = $1
	`, alert.ID, string(alert.Status), alert.NotificationSent, alert.AcknowledgedBy, alert.AcknowledgedAt,
		alert.ClosedBy, alert.ClosedAt, alert.Notes)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("open alert for %s: %w", alert.Key(), core.ErrDuplicateIdentifier)
	}
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", alert.ID, core.ErrNotFound)
	}
	return nil
}

func (s *ReorderStore) MarkAlertNotified(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE reorder_alerts SET notification_sent = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert %s notified: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *ReorderStore) ListAlerts(ctx context.Context, orgID string, statuses []core.AlertStatus) ([]core.ReorderAlert, error) {
	var filter []string
	for _, st := range statuses {
		filter = append(filter, string(st))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM reorder_alerts
		WHERE organization_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY created_at, id
	`, orgID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []core.ReorderAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
