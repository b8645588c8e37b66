package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CostingMethod string

const (
	CostingWeightedAverage CostingMethod = "WEIGHTED_AVERAGE"
	CostingFIFO            CostingMethod = "FIFO"
	CostingLIFO            CostingMethod = "LIFO"
)

// ParseCostingMethod accepts the canonical names plus the short forms "wac" and "avg".
func ParseCostingMethod(s string) (CostingMethod, error) {
	switch s {
	case "WEIGHTED_AVERAGE", "weighted_average", "wac", "avg":
		return CostingWeightedAverage, nil
	case "FIFO", "fifo":
		return CostingFIFO, nil
	case "LIFO", "lifo":
		return CostingLIFO, nil
	}
	return "", invalidArg("unknown costing method %q", s)
}

// LayerUse is the part of one receipt layer consumed by a FIFO/LIFO replay.
type LayerUse struct {
	TransactionID string          `json:"transaction_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Amount        decimal.Decimal `json:"amount"`
}

// COGSResult is the cost attributed to a quantity. Shortfall is the part of
// the quantity no layer could cover; it carries zero cost and sets Warning.
type COGSResult struct {
	Method         CostingMethod     `json:"method"`
	Key            PositionKey       `json:"key"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Amount         decimal.Decimal   `json:"amount"`
	CostedQuantity decimal.Decimal   `json:"costed_quantity"`
	Shortfall      decimal.Decimal   `json:"shortfall"`
	Layers         []LayerUse        `json:"layers,omitempty"`
	Warning        *IntegrityWarning `json:"-"`
}

// InventoryValue summarizes all positions of one organization.
type InventoryValue struct {
	OrgID         string          `json:"organization_id"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	ItemCount     int             `json:"item_count"`
}

// ValuationEngine computes cost of goods sold from the live position
// (weighted average) or by replaying receipt layers (FIFO/LIFO).
type ValuationEngine struct {
	store  StockStore
	logger *zap.Logger
}

func NewValuationEngine(store StockStore, opts ...Option) *ValuationEngine {
	o := buildOptions(opts)
	return &ValuationEngine{store: store, logger: o.logger}
}

// WeightedAverageCOGS is qty times the current unit cost of the position.
func (v *ValuationEngine) WeightedAverageCOGS(ctx context.Context, key PositionKey, qty decimal.Decimal) (decimal.Decimal, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return decimal.Zero, err
	}
	p, err := v.store.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return qty.Mul(p.UnitCost), nil
}

// FIFOCOGS consumes receipt layers oldest first, using only layers recorded
// at or before asOf. A zero asOf means no cut-off.
func (v *ValuationEngine) FIFOCOGS(ctx context.Context, key PositionKey, qty decimal.Decimal, asOf time.Time) (COGSResult, error) {
	return v.replay(ctx, CostingFIFO, key, qty, asOf)
}

// LIFOCOGS consumes receipt layers newest first.
func (v *ValuationEngine) LIFOCOGS(ctx context.Context, key PositionKey, qty decimal.Decimal, asOf time.Time) (COGSResult, error) {
	return v.replay(ctx, CostingLIFO, key, qty, asOf)
}

// COGS dispatches on method. Weighted average ignores asOf.
func (v *ValuationEngine) COGS(ctx context.Context, method CostingMethod, key PositionKey, qty decimal.Decimal, asOf time.Time) (COGSResult, error) {
	switch method {
	case CostingFIFO, CostingLIFO:
		return v.replay(ctx, method, key, qty, asOf)
	case CostingWeightedAverage:
		amount, err := v.WeightedAverageCOGS(ctx, key, qty)
		if err != nil {
			return COGSResult{}, err
		}
		return COGSResult{
			Method:         method,
			Key:            key,
			Quantity:       qty,
			Amount:         amount,
			CostedQuantity: qty,
			Shortfall:      decimal.Zero,
		}, nil
	}
	return COGSResult{}, invalidArg("unknown costing method %q", method)
}

// layers returns inbound layers oldest first: receipts plus the receiving
// side of transfers.
func (v *ValuationEngine) layers(ctx context.Context, key PositionKey, asOf time.Time) ([]StockMovement, error) {
	movements, err := v.store.Movements(ctx, key, MovementFilter{
		Types: []MovementType{MovementReceipt, MovementTransfer},
		Until: asOf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt layers for %s: %w", key, err)
	}
	layers := movements[:0]
	for _, m := range movements {
		if m.Quantity.IsPositive() {
			layers = append(layers, m)
		}
	}
	return layers, nil
}

func (v *ValuationEngine) replay(ctx context.Context, method CostingMethod, key PositionKey, qty decimal.Decimal, asOf time.Time) (COGSResult, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return COGSResult{}, err
	}
	layers, err := v.layers(ctx, key, asOf)
	if err != nil {
		return COGSResult{}, err
	}
	if method == CostingLIFO {
		for i, j := 0, len(layers)-1; i < j; i, j = i+1, j-1 {
			layers[i], layers[j] = layers[j], layers[i]
		}
	}

	res := COGSResult{Method: method, Key: key, Quantity: qty, Amount: decimal.Zero, CostedQuantity: decimal.Zero}
	remaining := qty
	for _, layer := range layers {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, layer.Quantity)
		amount := take.Mul(layer.UnitCost)
		res.Layers = append(res.Layers, LayerUse{
			TransactionID: layer.TransactionID,
			Timestamp:     layer.Timestamp,
			Quantity:      take,
			UnitCost:      layer.UnitCost,
			Amount:        amount,
		})
		res.Amount = res.Amount.Add(amount)
		res.CostedQuantity = res.CostedQuantity.Add(take)
		remaining = remaining.Sub(take)
	}

	res.Shortfall = decimal.Max(remaining, decimal.Zero)
	if res.Shortfall.IsPositive() {
		res.Warning = &IntegrityWarning{Key: key, Method: method, Shortfall: res.Shortfall}
		v.logger.Warn("cost layers exhausted",
			zap.String("position", key.String()),
			zap.String("method", string(method)),
			zap.String("shortfall", res.Shortfall.String()))
	}
	return res, nil
}

// TotalInventoryValue sums cost and quantity over every position of orgID.
func (v *ValuationEngine) TotalInventoryValue(ctx context.Context, orgID string) (InventoryValue, error) {
	positions, err := v.store.List(ctx, orgID)
	if err != nil {
		return InventoryValue{}, fmt.Errorf("failed to list positions for %s: %w", orgID, err)
	}
	out := InventoryValue{OrgID: orgID, TotalValue: decimal.Zero, TotalQuantity: decimal.Zero, ItemCount: len(positions)}
	for _, p := range positions {
		out.TotalValue = out.TotalValue.Add(p.TotalCost)
		out.TotalQuantity = out.TotalQuantity.Add(p.OnHand)
	}
	return out, nil
}
