package app

import (
	"context"
	"io"

	"production-ledger/internal/core"
	"production-ledger/internal/outbox"

	"github.com/shopspring/decimal"
)

// ApplicationService is the single interface all adapters call. It decouples
// presentation from the engines; implementations contain no display logic.
// Work order refs may be an ID or a work order number.
type ApplicationService interface {
	// ReceiveStock books incoming stock and re-averages the unit cost.
	ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*PositionResult, error)

	IssueStock(ctx context.Context, req StockQuantityRequest) (*PositionResult, error)
	AllocateStock(ctx context.Context, req StockQuantityRequest) (*PositionResult, error)
	DeallocateStock(ctx context.Context, req StockQuantityRequest) (*PositionResult, error)

	// AdjustStock sets on-hand to an absolute quantity after a count.
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*PositionResult, error)

	TransferStock(ctx context.Context, req TransferStockRequest) (*TransferResult, error)

	// GetStockLevels returns every position of an organization.
	GetStockLevels(ctx context.Context, orgID string) (*StockResult, error)

	// GetMovements returns a position's history with its reconciliation.
	GetMovements(ctx context.Context, key core.PositionKey) (*MovementsResult, error)

	// ComputeCOGS costs a quantity with the requested method.
	ComputeCOGS(ctx context.Context, req COGSRequest) (*core.COGSResult, error)

	GetInventoryValue(ctx context.Context, orgID string) (*core.InventoryValue, error)

	// ExportValuation writes the valuation workbook (xlsx) for orgID to w.
	ExportValuation(ctx context.Context, orgID string, w io.Writer) error

	CreateBom(ctx context.Context, req CreateBomRequest) (*BomResult, error)
	AddBomLine(ctx context.Context, req AddBomLineRequest) (*BomResult, error)
	SetBomRouting(ctx context.Context, bomID string, steps []core.RoutingStep) (*BomResult, error)
	ApproveBom(ctx context.Context, bomID, actor string) (*BomResult, error)
	GetBom(ctx context.Context, bomID string) (*BomResult, error)
	ExplodeBom(ctx context.Context, bomID string, qty decimal.Decimal) (*core.Explosion, error)
	ValidateBom(ctx context.Context, bomID string) (*core.BomValidation, error)

	CreateWorkOrder(ctx context.Context, req CreateWorkOrderRequest) (*WorkOrderResult, error)
	GetWorkOrder(ctx context.Context, orgID, ref string) (*WorkOrderResult, error)
	ListWorkOrders(ctx context.Context, orgID string, status *string) (*WorkOrderListResult, error)
	ReleaseWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error)
	RetryShortages(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error)
	StartWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error)

	// IssueMaterial and ConsumeMaterial accept a material ID or component ID.
	IssueMaterial(ctx context.Context, req MaterialRequest) (*WorkOrderResult, error)
	ConsumeMaterial(ctx context.Context, req MaterialRequest) (*WorkOrderResult, error)

	// StartOperation and CompleteOperation accept an operation ID or routing sequence.
	StartOperation(ctx context.Context, req OperationRequest) (*WorkOrderResult, error)
	CompleteOperation(ctx context.Context, req OperationRequest) (*WorkOrderResult, error)

	ReportProduction(ctx context.Context, req ReportProductionRequest) (*WorkOrderResult, error)
	CompleteWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error)
	CloseWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error)
	CancelWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error)

	SetReorderRule(ctx context.Context, req ReorderRuleRequest) (*core.ReorderRule, error)

	// RunReorderCheck performs one sweep over all active rules.
	RunReorderCheck(ctx context.Context) (*core.CheckSummary, error)

	ListOpenAlerts(ctx context.Context, orgID string) (*AlertListResult, error)
	AcknowledgeAlert(ctx context.Context, alertID, actor string) (*core.ReorderAlert, error)
	CloseAlert(ctx context.Context, alertID, notes, actor string) (*core.ReorderAlert, error)

	// DrainOutbox delivers every due outbound message once.
	DrainOutbox(ctx context.Context) (*outbox.DrainResult, error)

	// ListOutbox returns queued messages; an empty status lists all.
	ListOutbox(ctx context.Context, status string) ([]outbox.Message, error)
}
