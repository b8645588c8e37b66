package app

import "production-ledger/internal/core"

// PositionResult is returned by single-position stock operations.
type PositionResult struct {
	Position core.StockPosition
}

// TransferResult carries both sides of a transfer.
type TransferResult struct {
	From core.StockPosition
	To   core.StockPosition
}

// StockResult is returned by GetStockLevels.
type StockResult struct {
	OrgID     string
	Positions []core.StockPosition
}

// MovementsResult is returned by GetMovements.
type MovementsResult struct {
	Key            core.PositionKey
	Movements      []core.StockMovement
	Reconciliation core.Reconciliation
}

// BomResult is returned by BOM operations.
type BomResult struct {
	Bom   *core.BomHeader
	Lines []core.BomLine
}

// WorkOrderResult is returned by work order lifecycle operations.
type WorkOrderResult struct {
	WorkOrder *core.WorkOrder
}

type WorkOrderListResult struct {
	OrgID      string
	WorkOrders []core.WorkOrder
}

type AlertListResult struct {
	OrgID  string
	Alerts []core.ReorderAlert
}
