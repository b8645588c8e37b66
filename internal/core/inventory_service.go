package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockLedger owns per (organization, product, warehouse) quantity state and
// the movement log. Serialization per key is delegated to StockStore.Update.
type StockLedger struct {
	store  StockStore
	logger *zap.Logger
	now    func() time.Time
}

func NewStockLedger(store StockStore, opts ...Option) *StockLedger {
	o := buildOptions(opts)
	return &StockLedger{store: store, logger: o.logger, now: o.now}
}

func validateKey(key PositionKey) error {
	if key.OrgID == "" || key.ProductID == "" || key.WarehouseID == "" {
		return invalidArg("position key %q is incomplete", key.String())
	}
	return nil
}

func (l *StockLedger) movement(key PositionKey, typ MovementType, qty, unitCost decimal.Decimal, ref SourceRef, ts time.Time) StockMovement {
	return StockMovement{
		TransactionID: uuid.NewString(),
		OrgID:         key.OrgID,
		ProductID:     key.ProductID,
		WarehouseID:   key.WarehouseID,
		Type:          typ,
		Quantity:      qty,
		UnitCost:      unitCost,
		TotalCost:     qty.Mul(unitCost),
		SourceType:    ref.Type,
		SourceID:      ref.ID,
		Timestamp:     ts,
		Status:        MovementStatusPosted,
	}
}

// mutate runs fn under the single-key serialization boundary and returns the
// resulting position.
func (l *StockLedger) mutate(ctx context.Context, key PositionKey, fn func(p *StockPosition, now time.Time) ([]StockMovement, error)) (StockPosition, error) {
	if err := validateKey(key); err != nil {
		return StockPosition{}, err
	}
	var out StockPosition
	err := l.store.Update(ctx, []PositionKey{key}, func(ps []*StockPosition) ([]StockMovement, error) {
		p := ps[0]
		movements, err := fn(p, l.now())
		if err != nil {
			return nil, err
		}
		p.recompute()
		out = *p
		return movements, nil
	})
	if err != nil {
		return StockPosition{}, err
	}
	return out, nil
}

// weightedAverage blends an incoming quantity into the existing unit cost.
// When the resulting on-hand quantity is zero the incoming cost is kept.
func weightedAverage(oldQty, oldCost, qty, unitCost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(qty)
	if newQty.IsZero() {
		return unitCost
	}
	return oldQty.Mul(oldCost).Add(qty.Mul(unitCost)).Div(newQty)
}

// ── Mutations ────────────────────────────────────────────────────────────────

// Receive adds qty at unitCost, creating the position on first receipt. The
// position cost becomes the weighted average; the RECEIPT movement keeps the
// input unit cost so that layer replay stays exact.
func (l *StockLedger) Receive(ctx context.Context, key PositionKey, qty, unitCost decimal.Decimal, ref SourceRef) (StockPosition, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return StockPosition{}, err
	}
	if unitCost.IsNegative() {
		return StockPosition{}, invalidArg("unit cost must not be negative, got %s", unitCost.String())
	}
	return l.mutate(ctx, key, func(p *StockPosition, now time.Time) ([]StockMovement, error) {
		p.UnitCost = weightedAverage(p.OnHand, p.UnitCost, qty, unitCost)
		p.OnHand = p.OnHand.Add(qty)
		p.Exists = true
		p.LastMovementAt = &now
		return []StockMovement{l.movement(p.PositionKey, MovementReceipt, qty, unitCost, ref, now)}, nil
	})
}

// Issue removes qty from unreserved stock.
func (l *StockLedger) Issue(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return StockPosition{}, err
	}
	return l.mutate(ctx, key, func(p *StockPosition, now time.Time) ([]StockMovement, error) {
		if !p.Exists {
			return nil, notFound("stock position", key.String())
		}
		if p.Available.LessThan(qty) {
			return nil, &InsufficientStockError{Key: key, Available: p.Available, Required: qty}
		}
		p.OnHand = p.OnHand.Sub(qty)
		p.LastMovementAt = &now
		return []StockMovement{l.movement(key, MovementIssue, qty.Neg(), p.UnitCost, ref, now)}, nil
	})
}

// IssueAllocated removes qty that was previously allocated. The reservation is
// consumed first (floored at zero); any excess must fit in available stock.
func (l *StockLedger) IssueAllocated(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return StockPosition{}, err
	}
	return l.mutate(ctx, key, func(p *StockPosition, now time.Time) ([]StockMovement, error) {
		if !p.Exists {
			return nil, notFound("stock position", key.String())
		}
		released := decimal.Min(p.Allocated, qty)
		if p.Available.LessThan(qty.Sub(released)) {
			return nil, &InsufficientStockError{Key: key, Available: p.Available.Add(released), Required: qty}
		}
		p.Allocated = p.Allocated.Sub(released)
		p.OnHand = p.OnHand.Sub(qty)
		p.LastMovementAt = &now
		return []StockMovement{l.movement(key, MovementIssue, qty.Neg(), p.UnitCost, ref, now)}, nil
	})
}

// Allocate reserves qty of available stock. No movement is written.
func (l *StockLedger) Allocate(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return StockPosition{}, err
	}
	return l.mutate(ctx, key, func(p *StockPosition, _ time.Time) ([]StockMovement, error) {
		if !p.Exists {
			return nil, &InsufficientStockError{Key: key, Available: decimal.Zero, Required: qty}
		}
		if p.Available.LessThan(qty) {
			return nil, &InsufficientStockError{Key: key, Available: p.Available, Required: qty}
		}
		p.Allocated = p.Allocated.Add(qty)
		return nil, nil
	})
}

// Deallocate releases up to qty of a reservation; allocated never drops below zero.
func (l *StockLedger) Deallocate(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return StockPosition{}, err
	}
	return l.mutate(ctx, key, func(p *StockPosition, _ time.Time) ([]StockMovement, error) {
		if !p.Exists {
			return nil, notFound("stock position", key.String())
		}
		p.Allocated = decimal.Max(p.Allocated.Sub(qty), decimal.Zero)
		return nil, nil
	})
}

// Adjust sets on-hand to newQty and records the signed difference. The target
// may not drop below what is currently allocated.
func (l *StockLedger) Adjust(ctx context.Context, key PositionKey, newQty decimal.Decimal, reason, actor string) (StockPosition, error) {
	if newQty.IsNegative() {
		return StockPosition{}, invalidArg("adjusted quantity must not be negative, got %s", newQty.String())
	}
	pos, err := l.mutate(ctx, key, func(p *StockPosition, now time.Time) ([]StockMovement, error) {
		if newQty.LessThan(p.Allocated) {
			return nil, &InsufficientStockError{Key: key, Available: newQty, Required: p.Allocated}
		}
		delta := newQty.Sub(p.OnHand)
		if delta.IsZero() {
			return nil, nil
		}
		p.OnHand = newQty
		p.Exists = true
		p.LastMovementAt = &now
		m := l.movement(key, MovementAdjustment, delta, p.UnitCost, SourceRef{Type: "ADJUSTMENT"}, now)
		m.Reason = reason
		m.Actor = actor
		return []StockMovement{m}, nil
	})
	if err == nil {
		l.logger.Info("stock adjusted",
			zap.String("position", key.String()),
			zap.String("on_hand", pos.OnHand.String()),
			zap.String("reason", reason),
			zap.String("actor", actor))
	}
	return pos, err
}

// Transfer moves qty between two warehouses of the same product. Both
// positions change atomically; the destination re-averages at the source cost.
func (l *StockLedger) Transfer(ctx context.Context, orgID, productID, fromWarehouse, toWarehouse string, qty decimal.Decimal, ref SourceRef) (from, to StockPosition, err error) {
	if err := requirePositive("quantity", qty); err != nil {
		return from, to, err
	}
	if fromWarehouse == toWarehouse {
		return from, to, invalidArg("transfer source and destination are both %s", fromWarehouse)
	}
	src := PositionKey{OrgID: orgID, ProductID: productID, WarehouseID: fromWarehouse}
	dst := PositionKey{OrgID: orgID, ProductID: productID, WarehouseID: toWarehouse}
	for _, k := range []PositionKey{src, dst} {
		if err := validateKey(k); err != nil {
			return from, to, err
		}
	}

	err = l.store.Update(ctx, []PositionKey{src, dst}, func(ps []*StockPosition) ([]StockMovement, error) {
		s, d := ps[0], ps[1]
		if !s.Exists {
			return nil, notFound("stock position", src.String())
		}
		if s.Available.LessThan(qty) {
			return nil, &InsufficientStockError{Key: src, Available: s.Available, Required: qty}
		}
		now := l.now()
		cost := s.UnitCost

		s.OnHand = s.OnHand.Sub(qty)
		s.LastMovementAt = &now
		s.recompute()

		d.UnitCost = weightedAverage(d.OnHand, d.UnitCost, qty, cost)
		d.OnHand = d.OnHand.Add(qty)
		d.Exists = true
		d.LastMovementAt = &now
		d.recompute()

		from, to = *s, *d
		return []StockMovement{
			l.movement(src, MovementTransfer, qty.Neg(), cost, ref, now),
			l.movement(dst, MovementTransfer, qty, cost, ref, now),
		}, nil
	})
	return from, to, err
}

// ── Reads ────────────────────────────────────────────────────────────────────

// CheckAvailability reports whether qty can be allocated or issued right now.
// A position that does not exist has nothing available.
func (l *StockLedger) CheckAvailability(ctx context.Context, key PositionKey, qty decimal.Decimal) (bool, error) {
	p, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Available.GreaterThanOrEqual(qty), nil
}

func (l *StockLedger) Position(ctx context.Context, key PositionKey) (StockPosition, error) {
	return l.store.Get(ctx, key)
}

func (l *StockLedger) Positions(ctx context.Context, orgID string) ([]StockPosition, error) {
	return l.store.List(ctx, orgID)
}

func (l *StockLedger) Movements(ctx context.Context, key PositionKey, filter MovementFilter) ([]StockMovement, error) {
	return l.store.Movements(ctx, key, filter)
}

// Reconcile checks that on-hand equals the sum of all movement quantities.
func (l *StockLedger) Reconcile(ctx context.Context, key PositionKey) (Reconciliation, error) {
	p, err := l.store.Get(ctx, key)
	if err != nil {
		return Reconciliation{}, err
	}
	movements, err := l.store.Movements(ctx, key, MovementFilter{})
	if err != nil {
		return Reconciliation{}, fmt.Errorf("failed to read movements for %s: %w", key, err)
	}
	sum := decimal.Zero
	for _, m := range movements {
		sum = sum.Add(m.Quantity)
	}
	return Reconciliation{
		Key:         key,
		OnHand:      p.OnHand,
		MovementSum: sum,
		Movements:   len(movements),
		Balanced:    sum.Equal(p.OnHand),
	}, nil
}
