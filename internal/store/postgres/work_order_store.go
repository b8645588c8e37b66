package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"production-ledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkOrderStore persists the aggregate across work_orders,
// work_order_materials and work_order_operations. Save rewrites the child rows
// inside the same transaction as the version-checked header update.
type WorkOrderStore struct {
	pool *pgxpool.Pool
}

func NewWorkOrderStore(pool *pgxpool.Pool) *WorkOrderStore {
	return &WorkOrderStore{pool: pool}
}

var _ core.WorkOrderStore = (*WorkOrderStore)(nil)

var workOrderColumns = []string{
	"id", "organization_id", "work_order_number", "product_id", "bom_id",
	"source_warehouse_id", "target_warehouse_id", "sales_order_ref",
	"quantity_planned", "quantity_completed", "quantity_scrapped", "status",
	"material_cost", "labor_cost", "overhead_cost", "total_cost",
	"total_operations", "operations_completed", "completion_percentage",
	"planned_start_date", "planned_end_date", "actual_start_date", "actual_end_date",
	"notes", "created_by", "released_by", "completed_by",
	"created_at", "updated_at", "released_at", "closed_at", "cancelled_at",
}

func workOrderArgs(wo *core.WorkOrder) []any {
	return []any{
		wo.ID, wo.OrgID, wo.WorkOrderNumber, wo.ProductID, wo.BomID,
		wo.SourceWarehouseID, wo.TargetWarehouseID, wo.SalesOrderRef,
		wo.QuantityPlanned, wo.QuantityCompleted, wo.QuantityScrapped, string(wo.Status),
		wo.MaterialCost, wo.LaborCost, wo.OverheadCost, wo.TotalCost,
		wo.TotalOperations, wo.OperationsCompleted, wo.CompletionPercentage,
		wo.PlannedStartDate, wo.PlannedEndDate, wo.ActualStartDate, wo.ActualEndDate,
		wo.Notes, wo.CreatedBy, wo.ReleasedBy, wo.CompletedBy,
		wo.CreatedAt, wo.UpdatedAt, wo.ReleasedAt, wo.ClosedAt, wo.CancelledAt,
	}
}

func scanWorkOrder(row pgx.Row) (*core.WorkOrder, error) {
	var wo core.WorkOrder
	var status string
	err := row.Scan(
		&wo.ID, &wo.OrgID, &wo.WorkOrderNumber, &wo.ProductID, &wo.BomID,
		&wo.SourceWarehouseID, &wo.TargetWarehouseID, &wo.SalesOrderRef,
		&wo.QuantityPlanned, &wo.QuantityCompleted, &wo.QuantityScrapped, &status,
		&wo.MaterialCost, &wo.LaborCost, &wo.OverheadCost, &wo.TotalCost,
		&wo.TotalOperations, &wo.OperationsCompleted, &wo.CompletionPercentage,
		&wo.PlannedStartDate, &wo.PlannedEndDate, &wo.ActualStartDate, &wo.ActualEndDate,
		&wo.Notes, &wo.CreatedBy, &wo.ReleasedBy, &wo.CompletedBy,
		&wo.CreatedAt, &wo.UpdatedAt, &wo.ReleasedAt, &wo.ClosedAt, &wo.CancelledAt,
		&wo.Version,
	)
	if err != nil {
		return nil, err
	}
	wo.Status = core.WorkOrderStatus(status)
	return &wo, nil
}

var selectWorkOrder = `SELECT ` + strings.Join(workOrderColumns, ", ") + `, version FROM work_orders `

func (s *WorkOrderStore) Create(ctx context.Context, wo *core.WorkOrder) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	args := append(workOrderArgs(wo), wo.Version)
	_, err = tx.Exec(ctx, `INSERT INTO work_orders (`+strings.Join(workOrderColumns, ", ")+`, version)
		VALUES (`+placeholders(len(args), 1)+`)`, args...)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("work order number %s: %w", wo.WorkOrderNumber, core.ErrDuplicateIdentifier)
	}
	if err != nil {
		return fmt.Errorf("failed to insert work order: %w", err)
	}
	if err := insertChildren(ctx, tx, wo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *WorkOrderStore) Save(ctx context.Context, wo *core.WorkOrder) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cols := workOrderColumns[1:]
	args := append(workOrderArgs(wo), wo.Version)
	tag, err := tx.Exec(ctx, `UPDATE work_orders SET `+assignments(cols, 2)+`, version = version + 1
		WHERE id = $1 AND version = $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return fmt.Errorf("failed to update work order %s: %w", wo.WorkOrderNumber, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM work_orders WHERE id = $1)", wo.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check work order %s: %w", wo.ID, err)
		}
		if !exists {
			return fmt.Errorf("work order %s: %w", wo.ID, core.ErrNotFound)
		}
		return fmt.Errorf("work order %s version %d is stale: %w", wo.WorkOrderNumber, wo.Version, core.ErrConcurrentUpdate)
	}

	for _, table := range []string{"work_order_materials", "work_order_operations"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE work_order_id = $1", wo.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := insertChildren(ctx, tx, wo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	wo.Version++
	return nil
}

func insertChildren(ctx context.Context, tx pgx.Tx, wo *core.WorkOrder) error {
	for i, m := range wo.Materials {
		_, err := tx.Exec(ctx, `
			INSERT INTO work_order_materials
				(id, work_order_id, position, bom_line_id, component_id, uom, level,
				 quantity_required, quantity_reserved, quantity_issued, quantity_consumed,
				 unit_cost, issued_cost, total_cost, status, backflush, is_optional)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, m.ID, wo.ID, i, m.LineID, m.ComponentID, m.UOM, m.Level,
			m.QuantityRequired, m.QuantityReserved, m.QuantityIssued, m.QuantityConsumed,
			m.UnitCost, m.IssuedCost, m.TotalCost, string(m.Status), m.Backflush, m.IsOptional)
		if err != nil {
			return fmt.Errorf("failed to insert material %s: %w", m.ComponentID, err)
		}
	}
	for _, op := range wo.Operations {
		_, err := tx.Exec(ctx, `
			INSERT INTO work_order_operations
				(id, work_order_id, sequence, work_center_code, description,
				 planned_setup_minutes, planned_run_minutes, planned_teardown_minutes,
				 actual_setup_minutes, actual_run_minutes, actual_teardown_minutes,
				 labor_rate_per_hour, overhead_rate_per_hour, labor_cost, overhead_cost,
				 status, started_by, completed_by, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`, op.ID, wo.ID, op.Sequence, op.WorkCenterCode, op.Description,
			op.PlannedSetupMinutes, op.PlannedRunMinutes, op.PlannedTeardownMinutes,
			op.ActualSetupMinutes, op.ActualRunMinutes, op.ActualTeardownMinutes,
			op.LaborRatePerHour, op.OverheadRatePerHour, op.LaborCost, op.OverheadCost,
			string(op.Status), op.StartedBy, op.CompletedBy, op.StartedAt, op.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to insert operation %d: %w", op.Sequence, err)
		}
	}
	return nil
}

func (s *WorkOrderStore) load(ctx context.Context, row pgx.Row, ref string) (*core.WorkOrder, error) {
	wo, err := scanWorkOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("work order %s: %w", ref, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read work order %s: %w", ref, err)
	}
	if err := s.loadChildren(ctx, wo); err != nil {
		return nil, err
	}
	return wo, nil
}

func (s *WorkOrderStore) loadChildren(ctx context.Context, wo *core.WorkOrder) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, bom_line_id, component_id, uom, level,
		       quantity_required, quantity_reserved, quantity_issued, quantity_consumed,
		       unit_cost, issued_cost, total_cost, status, backflush, is_optional
		FROM work_order_materials
		WHERE work_order_id = $1
		ORDER BY position
	`, wo.ID)
	if err != nil {
		return fmt.Errorf("failed to query materials: %w", err)
	}
	for rows.Next() {
		var m core.WorkOrderMaterial
		var status string
		if err := rows.Scan(&m.ID, &m.LineID, &m.ComponentID, &m.UOM, &m.Level,
			&m.QuantityRequired, &m.QuantityReserved, &m.QuantityIssued, &m.QuantityConsumed,
			&m.UnitCost, &m.IssuedCost, &m.TotalCost, &status, &m.Backflush, &m.IsOptional); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan material: %w", err)
		}
		m.Status = core.MaterialStatus(status)
		wo.Materials = append(wo.Materials, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, sequence, work_center_code, description,
		       planned_setup_minutes, planned_run_minutes, planned_teardown_minutes,
		       actual_setup_minutes, actual_run_minutes, actual_teardown_minutes,
		       labor_rate_per_hour, overhead_rate_per_hour, labor_cost, overhead_cost,
		       status, started_by, completed_by, started_at, completed_at
		FROM work_order_operations
		WHERE work_order_id = $1
		ORDER BY sequence
	`, wo.ID)
	if err != nil {
		return fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var op core.WorkOrderOperation
		var status string
		if err := rows.Scan(&op.ID, &op.Sequence, &op.WorkCenterCode, &op.Description,
			&op.PlannedSetupMinutes, &op.PlannedRunMinutes, &op.PlannedTeardownMinutes,
			&op.ActualSetupMinutes, &op.ActualRunMinutes, &op.ActualTeardownMinutes,
			&op.LaborRatePerHour, &op.OverheadRatePerHour, &op.LaborCost, &op.OverheadCost,
			&status, &op.StartedBy, &op.CompletedBy, &op.StartedAt, &op.CompletedAt); err != nil {
			return fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Status = core.OperationStatus(status)
		wo.Operations = append(wo.Operations, op)
	}
	return rows.Err()
}

func (s *WorkOrderStore) Get(ctx context.Context, id string) (*core.WorkOrder, error) {
	return s.load(ctx, s.pool.QueryRow(ctx, selectWorkOrder+"WHERE id = $1", id), id)
}

func (s *WorkOrderStore) GetByNumber(ctx context.Context, orgID, number string) (*core.WorkOrder, error) {
	return s.load(ctx, s.pool.QueryRow(ctx, selectWorkOrder+"WHERE organization_id = $1 AND work_order_number = $2", orgID, number), number)
}

func (s *WorkOrderStore) List(ctx context.Context, orgID string, status *core.WorkOrderStatus) ([]core.WorkOrder, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, selectWorkOrder+`
		WHERE organization_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY work_order_number
	`, orgID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	var out []core.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		out = append(out, *wo)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.loadChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
