package app

import (
	"time"

	"production-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// ReceiveStockRequest is the input for a goods receipt.
type ReceiveStockRequest struct {
	Key        core.PositionKey
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	SourceType string
	SourceID   string
}

// StockQuantityRequest is the input for issue, allocate and deallocate.
type StockQuantityRequest struct {
	Key        core.PositionKey
	Quantity   decimal.Decimal
	SourceType string
	SourceID   string
}

type AdjustStockRequest struct {
	Key         core.PositionKey
	NewQuantity decimal.Decimal
	Reason      string
	Actor       string
}

type TransferStockRequest struct {
	OrgID           string
	ProductID       string
	FromWarehouseID string
	ToWarehouseID   string
	Quantity        decimal.Decimal
	SourceID        string
}

// COGSRequest costs Quantity of a position. Method defaults to weighted
// average; a zero AsOf means now.
type COGSRequest struct {
	Key      core.PositionKey
	Method   string
	Quantity decimal.Decimal
	AsOf     time.Time
}

type CreateBomRequest struct {
	OrgID        string
	ProductID    string
	BomNumber    string
	Version      int
	BaseQuantity decimal.Decimal
	LaborCost    decimal.Decimal
	OverheadCost decimal.Decimal
	Routing      []core.RoutingStep
}

type AddBomLineRequest struct {
	BomID string
	Line  core.BomLineInput
}

type CreateWorkOrderRequest struct {
	OrgID             string
	ProductID         string
	BomID             string // empty means the latest approved BOM of the product
	Quantity          decimal.Decimal
	SourceWarehouseID string
	TargetWarehouseID string
	SalesOrderRef     string
	PlannedStartDate  *time.Time
	PlannedEndDate    *time.Time
	Notes             string
	Actor             string
	DisableBackflush  bool
}

// WorkOrderActionRequest identifies a work order for a lifecycle transition.
// Reason is used by cancel only.
type WorkOrderActionRequest struct {
	OrgID  string
	Ref    string
	Actor  string
	Reason string
}

type MaterialRequest struct {
	OrgID    string
	Ref      string
	Material string
	Quantity decimal.Decimal
	Actor    string
}

type OperationRequest struct {
	OrgID     string
	Ref       string
	Operation string
	Actuals   core.OperationActuals
	Actor     string
}

type ReportProductionRequest struct {
	OrgID     string
	Ref       string
	Completed decimal.Decimal
	Scrapped  decimal.Decimal
	Actor     string
}

type ReorderRuleRequest struct {
	Key             core.PositionKey
	ReorderPoint    decimal.Decimal
	ReorderQuantity decimal.Decimal
	MinQuantity     decimal.Decimal
	SafetyStock     decimal.Decimal
	Inactive        bool
}
