package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PositionKey identifies one stock position. All ledger mutations on the same
// key are strictly ordered; different keys proceed independently.
type PositionKey struct {
	OrgID       string `json:"organization_id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
}

func (k PositionKey) String() string {
	return k.OrgID + "/" + k.ProductID + "@" + k.WarehouseID
}

func (k PositionKey) less(o PositionKey) bool {
	if k.OrgID != o.OrgID {
		return k.OrgID < o.OrgID
	}
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.WarehouseID < o.WarehouseID
}

// SortKeys orders keys deterministically so multi-key locks never deadlock.
func SortKeys(keys []PositionKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
}

// SourceRef points at the document that caused a ledger change.
type SourceRef struct {
	Type string `json:"source_type"`
	ID   string `json:"source_id"`
}

// StockPosition is the quantity and cost state of one product in one warehouse.
// Available is always OnHand - Allocated and TotalCost is always OnHand * UnitCost.
type StockPosition struct {
	PositionKey
	OnHand         decimal.Decimal `json:"quantity_on_hand"`
	Allocated      decimal.Decimal `json:"quantity_allocated"`
	Available      decimal.Decimal `json:"quantity_available"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	LastMovementAt *time.Time      `json:"last_movement_at,omitempty"`
	Exists         bool            `json:"-"`
}

// NewStockPosition returns the zero-initialized position a first receipt creates.
func NewStockPosition(key PositionKey) StockPosition {
	return StockPosition{
		PositionKey: key,
		OnHand:      decimal.Zero,
		Allocated:   decimal.Zero,
		Available:   decimal.Zero,
		UnitCost:    decimal.Zero,
		TotalCost:   decimal.Zero,
	}
}

func (p *StockPosition) recompute() {
	p.Available = p.OnHand.Sub(p.Allocated)
	p.TotalCost = p.OnHand.Mul(p.UnitCost)
}

type MovementType string

const (
	MovementReceipt    MovementType = "RECEIPT"
	MovementIssue      MovementType = "ISSUE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementTransfer   MovementType = "TRANSFER"
)

const MovementStatusPosted = "POSTED"

// StockMovement is an immutable ledger entry. Quantity is signed: positive for
// stock coming in, negative for stock going out. Seq is assigned by the store
// and orders movements that share a timestamp.
type StockMovement struct {
	TransactionID string          `json:"transaction_id"`
	Seq           int64           `json:"seq"`
	OrgID         string          `json:"organization_id"`
	ProductID     string          `json:"product_id"`
	WarehouseID   string          `json:"warehouse_id"`
	Type          MovementType    `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	SourceType    string          `json:"source_type"`
	SourceID      string          `json:"source_id"`
	Reason        string          `json:"reason,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status"`
}

func (m StockMovement) Key() PositionKey {
	return PositionKey{OrgID: m.OrgID, ProductID: m.ProductID, WarehouseID: m.WarehouseID}
}

// MovementFilter narrows a movement history read. Zero values mean unbounded.
type MovementFilter struct {
	Types []MovementType
	Until time.Time
}

// Reconciliation compares a position's on-hand quantity with the sum of its movements.
type Reconciliation struct {
	Key         PositionKey     `json:"key"`
	OnHand      decimal.Decimal `json:"quantity_on_hand"`
	MovementSum decimal.Decimal `json:"movement_sum"`
	Movements   int             `json:"movements"`
	Balanced    bool            `json:"balanced"`
}
