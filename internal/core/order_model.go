package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkOrderStatus is the production order lifecycle:
//
//	CREATED → RELEASED → IN_PROGRESS → COMPLETED → CLOSED
//	CREATED | RELEASED → CANCELLED
type WorkOrderStatus string

const (
	WorkOrderCreated    WorkOrderStatus = "CREATED"
	WorkOrderReleased   WorkOrderStatus = "RELEASED"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderClosed     WorkOrderStatus = "CLOSED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
)

type MaterialStatus string

const (
	MaterialPlanned  MaterialStatus = "PLANNED"
	MaterialReserved MaterialStatus = "RESERVED"
	MaterialShortage MaterialStatus = "SHORTAGE"
	MaterialIssued   MaterialStatus = "ISSUED"
	MaterialConsumed MaterialStatus = "CONSUMED"
)

type OperationStatus string

const (
	OperationPending    OperationStatus = "PENDING"
	OperationInProgress OperationStatus = "IN_PROGRESS"
	OperationCompleted  OperationStatus = "COMPLETED"
)

// WorkOrderMaterial is one required component. UnitCost is the average
// ledger cost of what was actually issued (the BOM cost until then) and
// TotalCost is the cost of the consumed quantity.
type WorkOrderMaterial struct {
	ID               string          `json:"id"`
	LineID           string          `json:"bom_line_id,omitempty"`
	ComponentID      string          `json:"component_id"`
	UOM              string          `json:"uom"`
	Level            int             `json:"level"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
	QuantityReserved decimal.Decimal `json:"quantity_reserved"`
	QuantityIssued   decimal.Decimal `json:"quantity_issued"`
	QuantityConsumed decimal.Decimal `json:"quantity_consumed"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	IssuedCost       decimal.Decimal `json:"issued_cost"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Status           MaterialStatus  `json:"status"`
	Backflush        bool            `json:"backflush"`
	IsOptional       bool            `json:"is_optional"`
}

// outstandingReservation is what is still held in the ledger for this material.
func (m *WorkOrderMaterial) outstandingReservation() decimal.Decimal {
	return decimal.Max(m.QuantityReserved.Sub(m.QuantityIssued), decimal.Zero)
}

// WorkOrderOperation is one routing step of the order. Times are minutes.
type WorkOrderOperation struct {
	ID                     string          `json:"id"`
	Sequence               int             `json:"sequence"`
	WorkCenterCode         string          `json:"work_center_code"`
	Description            string          `json:"description"`
	PlannedSetupMinutes    decimal.Decimal `json:"planned_setup_minutes"`
	PlannedRunMinutes      decimal.Decimal `json:"planned_run_minutes"`
	PlannedTeardownMinutes decimal.Decimal `json:"planned_teardown_minutes"`
	ActualSetupMinutes     decimal.Decimal `json:"actual_setup_minutes"`
	ActualRunMinutes       decimal.Decimal `json:"actual_run_minutes"`
	ActualTeardownMinutes  decimal.Decimal `json:"actual_teardown_minutes"`
	LaborRatePerHour       decimal.Decimal `json:"labor_rate_per_hour"`
	OverheadRatePerHour    decimal.Decimal `json:"overhead_rate_per_hour"`
	LaborCost              decimal.Decimal `json:"labor_cost"`
	OverheadCost           decimal.Decimal `json:"overhead_cost"`
	Status                 OperationStatus `json:"status"`
	StartedBy              string          `json:"started_by,omitempty"`
	CompletedBy            string          `json:"completed_by,omitempty"`
	StartedAt              *time.Time      `json:"started_at,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
}

// WorkOrder is the aggregate root of a production order. Materials and
// operations are owned by value and only change through the engine.
type WorkOrder struct {
	ID                   string               `json:"id"`
	OrgID                string               `json:"organization_id"`
	WorkOrderNumber      string               `json:"work_order_number"`
	ProductID            string               `json:"product_id"`
	BomID                string               `json:"bom_id,omitempty"`
	SourceWarehouseID    string               `json:"source_warehouse_id"`
	TargetWarehouseID    string               `json:"target_warehouse_id"`
	SalesOrderRef        string               `json:"sales_order_ref,omitempty"`
	QuantityPlanned      decimal.Decimal      `json:"quantity_planned"`
	QuantityCompleted    decimal.Decimal      `json:"quantity_completed"`
	QuantityScrapped     decimal.Decimal      `json:"quantity_scrapped"`
	Status               WorkOrderStatus      `json:"status"`
	MaterialCost         decimal.Decimal      `json:"material_cost"`
	LaborCost            decimal.Decimal      `json:"labor_cost"`
	OverheadCost         decimal.Decimal      `json:"overhead_cost"`
	TotalCost            decimal.Decimal      `json:"total_cost"`
	TotalOperations      int                  `json:"total_operations"`
	OperationsCompleted  int                  `json:"operations_completed"`
	CompletionPercentage decimal.Decimal      `json:"completion_percentage"`
	PlannedStartDate     *time.Time           `json:"planned_start_date,omitempty"`
	PlannedEndDate       *time.Time           `json:"planned_end_date,omitempty"`
	ActualStartDate      *time.Time           `json:"actual_start_date,omitempty"`
	ActualEndDate        *time.Time           `json:"actual_end_date,omitempty"`
	Notes                string               `json:"notes,omitempty"`
	CreatedBy            string               `json:"created_by,omitempty"`
	ReleasedBy           string               `json:"released_by,omitempty"`
	CompletedBy          string               `json:"completed_by,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	ReleasedAt           *time.Time           `json:"released_at,omitempty"`
	ClosedAt             *time.Time           `json:"closed_at,omitempty"`
	CancelledAt          *time.Time           `json:"cancelled_at,omitempty"`
	Materials            []WorkOrderMaterial  `json:"materials"`
	Operations           []WorkOrderOperation `json:"operations"`
	Version              int64                `json:"version"`
}

// Clone returns a deep copy; stores hand out clones so callers never share
// child slices.
func (wo *WorkOrder) Clone() *WorkOrder {
	c := *wo
	c.Materials = append([]WorkOrderMaterial(nil), wo.Materials...)
	c.Operations = append([]WorkOrderOperation(nil), wo.Operations...)
	return &c
}

func (wo *WorkOrder) require(action string, allowed ...WorkOrderStatus) error {
	for _, s := range allowed {
		if wo.Status == s {
			return nil
		}
	}
	required := make([]string, len(allowed))
	for i, s := range allowed {
		required[i] = string(s)
	}
	return &InvalidTransitionError{Entity: "work order", Ref: wo.WorkOrderNumber, Action: action,
		Current: string(wo.Status), Required: required}
}

func (wo *WorkOrder) material(id string) (*WorkOrderMaterial, error) {
	for i := range wo.Materials {
		if wo.Materials[i].ID == id {
			return &wo.Materials[i], nil
		}
	}
	return nil, notFound("work order material", id)
}

func (wo *WorkOrder) operation(id string) (*WorkOrderOperation, error) {
	for i := range wo.Operations {
		if wo.Operations[i].ID == id {
			return &wo.Operations[i], nil
		}
	}
	return nil, notFound("work order operation", id)
}

// backflush consumes in full every issued material flagged for it.
func (wo *WorkOrder) backflush() {
	for i := range wo.Materials {
		m := &wo.Materials[i]
		if !m.Backflush || m.Status != MaterialIssued {
			continue
		}
		m.QuantityConsumed = m.QuantityIssued
		m.TotalCost = m.IssuedCost
		m.Status = MaterialConsumed
	}
}

// recalculateCosts rolls consumed material and operation costs into the totals.
func (wo *WorkOrder) recalculateCosts() {
	material, labor, overhead := decimal.Zero, decimal.Zero, decimal.Zero
	for _, m := range wo.Materials {
		if m.QuantityConsumed.IsPositive() {
			material = material.Add(m.TotalCost)
		}
	}
	for _, op := range wo.Operations {
		labor = labor.Add(op.LaborCost)
		overhead = overhead.Add(op.OverheadCost)
	}
	wo.MaterialCost = material
	wo.LaborCost = labor
	wo.OverheadCost = overhead
	wo.TotalCost = material.Add(labor).Add(overhead)
}

func (wo *WorkOrder) refreshProgress() {
	wo.TotalOperations = len(wo.Operations)
	done := 0
	for _, op := range wo.Operations {
		if op.Status == OperationCompleted {
			done++
		}
	}
	wo.OperationsCompleted = done
	if wo.TotalOperations == 0 {
		wo.CompletionPercentage = decimal.Zero
		return
	}
	wo.CompletionPercentage = decimal.NewFromInt(int64(done)).
		Div(decimal.NewFromInt(int64(wo.TotalOperations))).
		Mul(hundred).Round(2)
}

func (wo *WorkOrder) appendNote(note string) {
	if wo.Notes == "" {
		wo.Notes = note
		return
	}
	wo.Notes += "\n" + note
}
