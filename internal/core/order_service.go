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

// Inventory is the stock contract the work order engine relies on.
// *StockLedger satisfies it.
type Inventory interface {
	CheckAvailability(ctx context.Context, key PositionKey, qty decimal.Decimal) (bool, error)
	Allocate(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error)
	Deallocate(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error)
	IssueAllocated(ctx context.Context, key PositionKey, qty decimal.Decimal, ref SourceRef) (StockPosition, error)
	Receive(ctx context.Context, key PositionKey, qty, unitCost decimal.Decimal, ref SourceRef) (StockPosition, error)
}

// BomSource supplies BOM headers and explosions. *BomEngine satisfies it.
type BomSource interface {
	GetBom(ctx context.Context, id string) (*BomHeader, error)
	Explode(ctx context.Context, bomID string, quantity decimal.Decimal) (*Explosion, error)
}

// NumberGenerator issues document numbers. *SequenceService satisfies it.
type NumberGenerator interface {
	Next(ctx context.Context, orgID, prefix string) (string, error)
}

const SourceTypeWorkOrder = "WORK_ORDER"

// CreateWorkOrderInput describes a new production order. An empty
// WorkOrderNumber is filled from the sequence; an empty TargetWarehouseID
// defaults to the source warehouse.
type CreateWorkOrderInput struct {
	OrgID             string
	WorkOrderNumber   string
	ProductID         string
	BomID             string
	QuantityPlanned   decimal.Decimal
	SourceWarehouseID string
	TargetWarehouseID string
	SalesOrderRef     string
	PlannedStartDate  *time.Time
	PlannedEndDate    *time.Time
	Notes             string
	CreatedBy         string
	DisableBackflush  bool
}

// OperationActuals records what an operation really took. Zero minutes fall
// back to the planned times; non-zero costs override the rate-based costs.
type OperationActuals struct {
	SetupMinutes    decimal.Decimal
	RunMinutes      decimal.Decimal
	TeardownMinutes decimal.Decimal
	LaborCost       decimal.Decimal
	OverheadCost    decimal.Decimal
}

// WorkOrderEngine drives the production order state machine. Each order is
// mutated under its own lock; collaborator messages are sent after the new
// state is stored and their failures are only logged.
type WorkOrderEngine struct {
	store     WorkOrderStore
	inventory Inventory
	boms      BomSource
	numbers   NumberGenerator
	collab    Collaborators
	logger    *zap.Logger
	now       func() time.Time
	locks     *KeyedMutex
}

func NewWorkOrderEngine(store WorkOrderStore, inventory Inventory, boms BomSource, numbers NumberGenerator, collab Collaborators, opts ...Option) *WorkOrderEngine {
	o := buildOptions(opts)
	return &WorkOrderEngine{
		store:     store,
		inventory: inventory,
		boms:      boms,
		numbers:   numbers,
		collab:    collab,
		logger:    o.logger,
		now:       o.now,
		locks:     NewKeyedMutex(),
	}
}

// outbound is a collaborator call deferred until after the state is stored.
type outbound struct {
	name string
	send func(ctx context.Context) error
}

// partialError asks mutate to store the aggregate and send the outbounds
// gathered so far before returning err, so the materials already processed
// keep their new state.
type partialError struct{ err error }

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func (e *WorkOrderEngine) mutate(ctx context.Context, id string, fn func(wo *WorkOrder, now time.Time) ([]outbound, error)) (*WorkOrder, error) {
	unlock := e.locks.Lock(id)
	wo, err := e.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}

	now := e.now()
	out, fnErr := fn(wo, now)
	var partial *partialError
	if fnErr != nil && !errors.As(fnErr, &partial) {
		unlock()
		return nil, fnErr
	}

	wo.UpdatedAt = now
	if err := e.store.Save(ctx, wo); err != nil {
		unlock()
		if partial != nil {
			e.logger.Error("failed to store partially processed work order",
				zap.String("work_order", wo.WorkOrderNumber), zap.Error(err))
			return nil, partial.err
		}
		return nil, fmt.Errorf("failed to save work order %s: %w", wo.WorkOrderNumber, err)
	}
	unlock()

	e.dispatch(ctx, wo.WorkOrderNumber, out)
	if partial != nil {
		return wo.Clone(), partial.err
	}
	return wo.Clone(), nil
}

func (e *WorkOrderEngine) dispatch(ctx context.Context, number string, out []outbound) {
	for _, o := range out {
		if err := o.send(ctx); err != nil {
			e.logger.Warn("collaborator call failed",
				zap.String("work_order", number),
				zap.String("call", o.name),
				zap.Error(err))
		}
	}
}

func (e *WorkOrderEngine) ref(wo *WorkOrder) SourceRef {
	return SourceRef{Type: SourceTypeWorkOrder, ID: wo.WorkOrderNumber}
}

func materialKey(wo *WorkOrder, m *WorkOrderMaterial) PositionKey {
	return PositionKey{OrgID: wo.OrgID, ProductID: m.ComponentID, WarehouseID: wo.SourceWarehouseID}
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (e *WorkOrderEngine) Get(ctx context.Context, id string) (*WorkOrder, error) {
	return e.store.Get(ctx, id)
}

func (e *WorkOrderEngine) GetByNumber(ctx context.Context, orgID, number string) (*WorkOrder, error) {
	return e.store.GetByNumber(ctx, orgID, number)
}

func (e *WorkOrderEngine) List(ctx context.Context, orgID string, status *WorkOrderStatus) ([]WorkOrder, error) {
	return e.store.List(ctx, orgID, status)
}

// ── Create ───────────────────────────────────────────────────────────────────

// Create stores a CREATED order. With a BOM, materials come from its
// explosion at the planned quantity, with phantom subassemblies replaced by
// their components, and operations from its routing.
func (e *WorkOrderEngine) Create(ctx context.Context, in CreateWorkOrderInput) (*WorkOrder, error) {
	if in.OrgID == "" || in.ProductID == "" || in.SourceWarehouseID == "" {
		return nil, invalidArg("organization, product and source warehouse are required")
	}
	if err := requirePositive("planned quantity", in.QuantityPlanned); err != nil {
		return nil, err
	}
	if in.TargetWarehouseID == "" {
		in.TargetWarehouseID = in.SourceWarehouseID
	}

	now := e.now()
	wo := &WorkOrder{
		ID:                   uuid.NewString(),
		OrgID:                in.OrgID,
		WorkOrderNumber:      in.WorkOrderNumber,
		ProductID:            in.ProductID,
		BomID:                in.BomID,
		SourceWarehouseID:    in.SourceWarehouseID,
		TargetWarehouseID:    in.TargetWarehouseID,
		SalesOrderRef:        in.SalesOrderRef,
		QuantityPlanned:      in.QuantityPlanned,
		QuantityCompleted:    decimal.Zero,
		QuantityScrapped:     decimal.Zero,
		Status:               WorkOrderCreated,
		MaterialCost:         decimal.Zero,
		LaborCost:            decimal.Zero,
		OverheadCost:         decimal.Zero,
		TotalCost:            decimal.Zero,
		CompletionPercentage: decimal.Zero,
		PlannedStartDate:     in.PlannedStartDate,
		PlannedEndDate:       in.PlannedEndDate,
		Notes:                in.Notes,
		CreatedBy:            in.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if in.BomID != "" {
		if err := e.populateFromBom(ctx, wo, !in.DisableBackflush); err != nil {
			return nil, err
		}
	}
	wo.refreshProgress()

	if wo.WorkOrderNumber == "" {
		number, err := e.numbers.Next(ctx, in.OrgID, SequenceWorkOrder)
		if err != nil {
			return nil, err
		}
		wo.WorkOrderNumber = number
	}
	if err := e.store.Create(ctx, wo); err != nil {
		return nil, fmt.Errorf("failed to create work order %s: %w", wo.WorkOrderNumber, err)
	}
	e.logger.Info("work order created",
		zap.String("work_order", wo.WorkOrderNumber),
		zap.String("product", wo.ProductID),
		zap.Int("materials", len(wo.Materials)),
		zap.Int("operations", len(wo.Operations)))
	return wo.Clone(), nil
}

func (e *WorkOrderEngine) populateFromBom(ctx context.Context, wo *WorkOrder, backflush bool) error {
	bom, err := e.boms.GetBom(ctx, wo.BomID)
	if err != nil {
		return err
	}
	if bom.OrgID != wo.OrgID || bom.ProductID != wo.ProductID {
		return invalidArg("bom %s does not build product %s", bom.BomNumber, wo.ProductID)
	}
	exp, err := e.boms.Explode(ctx, bom.ID, wo.QuantityPlanned)
	if err != nil {
		return fmt.Errorf("failed to explode bom %s: %w", bom.BomNumber, err)
	}
	// Entries arrive parent first. A phantom with children is blown through to
	// them; any other line is drawn from stock as a whole, so its children are
	// not separate materials.
	covered := make(map[string]bool)
	for _, entry := range exp.Entries {
		if covered[entry.ParentLineID] {
			covered[entry.LineID] = true
			continue
		}
		if !entry.Leaf {
			if entry.IsPhantom {
				continue
			}
			covered[entry.LineID] = true
		}
		wo.Materials = append(wo.Materials, WorkOrderMaterial{
			ID:               uuid.NewString(),
			LineID:           entry.LineID,
			ComponentID:      entry.ComponentID,
			UOM:              entry.UOM,
			Level:            entry.Level,
			QuantityRequired: entry.RequiredQuantity,
			QuantityReserved: decimal.Zero,
			QuantityIssued:   decimal.Zero,
			QuantityConsumed: decimal.Zero,
			UnitCost:         entry.UnitCost,
			IssuedCost:       decimal.Zero,
			TotalCost:        decimal.Zero,
			Status:           MaterialPlanned,
			Backflush:        backflush,
			IsOptional:       entry.IsOptional,
		})
	}
	for _, step := range bom.Routing {
		wo.Operations = append(wo.Operations, WorkOrderOperation{
			ID:                     uuid.NewString(),
			Sequence:               step.Sequence,
			WorkCenterCode:         step.WorkCenterCode,
			Description:            step.Description,
			PlannedSetupMinutes:    step.SetupMinutes,
			PlannedRunMinutes:      step.RunMinutesPerUnit.Mul(wo.QuantityPlanned),
			PlannedTeardownMinutes: step.TeardownMinutes,
			ActualSetupMinutes:     decimal.Zero,
			ActualRunMinutes:       decimal.Zero,
			ActualTeardownMinutes:  decimal.Zero,
			LaborRatePerHour:       step.LaborRatePerHour,
			OverheadRatePerHour:    step.OverheadRatePerHour,
			LaborCost:              decimal.Zero,
			OverheadCost:           decimal.Zero,
			Status:                 OperationPending,
		})
	}
	return nil
}

// ── Release / start ──────────────────────────────────────────────────────────

// Release reserves every PLANNED material in the source warehouse. Materials
// that cannot be covered become SHORTAGE and raise a purchase requisition.
// If the ledger fails midway, the materials processed so far are stored, their
// requisitions are still raised and the order stays CREATED; a retry skips them.
func (e *WorkOrderEngine) Release(ctx context.Context, id, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("released", WorkOrderCreated); err != nil {
			return nil, err
		}
		var out []outbound
		for i := range wo.Materials {
			m := &wo.Materials[i]
			if m.Status != MaterialPlanned {
				continue
			}
			reserved, err := e.reserve(ctx, wo, m)
			if err != nil {
				return out, &partialError{fmt.Errorf("release of work order %s stopped at component %s: %w", wo.WorkOrderNumber, m.ComponentID, err)}
			}
			if !reserved {
				m.Status = MaterialShortage
				out = append(out, e.requisition(wo, *m, by))
			}
		}
		wo.Status = WorkOrderReleased
		wo.ReleasedBy = by
		wo.ReleasedAt = &now
		return out, nil
	})
}

// reserve allocates the material's full requirement. It reports false when
// stock is short, including when the ledger loses a race after the check.
func (e *WorkOrderEngine) reserve(ctx context.Context, wo *WorkOrder, m *WorkOrderMaterial) (bool, error) {
	key := materialKey(wo, m)
	ok, err := e.inventory.CheckAvailability(ctx, key, m.QuantityRequired)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if _, err := e.inventory.Allocate(ctx, key, m.QuantityRequired, e.ref(wo)); err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return false, nil
		}
		return false, err
	}
	m.QuantityReserved = m.QuantityRequired
	m.Status = MaterialReserved
	return true, nil
}

func (e *WorkOrderEngine) requisition(wo *WorkOrder, m WorkOrderMaterial, by string) outbound {
	neededBy := e.now()
	if wo.PlannedStartDate != nil {
		neededBy = *wo.PlannedStartDate
	}
	req := PurchaseRequisition{
		OrgID:           wo.OrgID,
		ComponentID:     m.ComponentID,
		Code:            m.ComponentID,
		Quantity:        m.QuantityRequired,
		UOM:             m.UOM,
		NeededBy:        neededBy,
		SourceDocNumber: wo.WorkOrderNumber,
		RequestedBy:     by,
	}
	return outbound{name: "purchase requisition", send: func(ctx context.Context) error {
		if e.collab.Purchasing == nil {
			return nil
		}
		return e.collab.Purchasing.CreatePurchaseRequisition(ctx, req)
	}}
}

// RetryShortages tries again to reserve SHORTAGE materials of a released or
// running order. No new requisition is raised for those still short.
func (e *WorkOrderEngine) RetryShortages(ctx context.Context, id, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, _ time.Time) ([]outbound, error) {
		if err := wo.require("re-reserved", WorkOrderReleased, WorkOrderInProgress); err != nil {
			return nil, err
		}
		for i := range wo.Materials {
			m := &wo.Materials[i]
			if m.Status != MaterialShortage {
				continue
			}
			if _, err := e.reserve(ctx, wo, m); err != nil {
				return nil, &partialError{err}
			}
		}
		return nil, nil
	})
}

func (e *WorkOrderEngine) Start(ctx context.Context, id, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("started", WorkOrderReleased); err != nil {
			return nil, err
		}
		wo.Status = WorkOrderInProgress
		wo.ActualStartDate = &now
		return nil, nil
	})
}

// ── Materials ────────────────────────────────────────────────────────────────

// IssueMaterial physically removes qty of a reserved material from the source
// warehouse against its reservation and posts the issuance cost. Issues may be
// split; together they never exceed what this material reserved.
func (e *WorkOrderEngine) IssueMaterial(ctx context.Context, id, materialID string, qty decimal.Decimal, by string) (*WorkOrder, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return nil, err
	}
	return e.mutate(ctx, id, func(wo *WorkOrder, _ time.Time) ([]outbound, error) {
		if err := wo.require("issued material", WorkOrderReleased, WorkOrderInProgress); err != nil {
			return nil, err
		}
		m, err := wo.material(materialID)
		if err != nil {
			return nil, err
		}
		left := m.outstandingReservation()
		if !left.IsPositive() {
			return nil, &InvalidTransitionError{Entity: "material", Ref: m.ComponentID, Action: "issued",
				Current: string(m.Status), Required: []string{string(MaterialReserved)}}
		}
		if qty.GreaterThan(left) {
			return nil, invalidArg("cannot issue %s of %s: only %s reserved and not yet issued", qty, m.ComponentID, left)
		}
		pos, err := e.inventory.IssueAllocated(ctx, materialKey(wo, m), qty, e.ref(wo))
		if err != nil {
			return nil, err
		}
		amount := qty.Mul(pos.UnitCost)
		m.QuantityIssued = m.QuantityIssued.Add(qty)
		m.IssuedCost = m.IssuedCost.Add(amount)
		m.UnitCost = m.IssuedCost.Div(m.QuantityIssued)
		m.Status = MaterialIssued

		req := PostingRequest{
			Kind:            PostingMaterialIssuance,
			OrgID:           wo.OrgID,
			SourceDocNumber: wo.WorkOrderNumber,
			ProductID:       m.ComponentID,
			Quantity:        qty,
			Amount:          amount,
		}
		return []outbound{{name: "material issuance posting", send: func(ctx context.Context) error {
			if e.collab.Accounting == nil {
				return nil
			}
			return e.collab.Accounting.PostMaterialIssuance(ctx, req)
		}}}, nil
	})
}

// ConsumeMaterial records explicit consumption of an issued material, for
// materials that are not backflushed.
func (e *WorkOrderEngine) ConsumeMaterial(ctx context.Context, id, materialID string, qty decimal.Decimal, by string) (*WorkOrder, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return nil, err
	}
	return e.mutate(ctx, id, func(wo *WorkOrder, _ time.Time) ([]outbound, error) {
		if err := wo.require("consumed material", WorkOrderInProgress); err != nil {
			return nil, err
		}
		m, err := wo.material(materialID)
		if err != nil {
			return nil, err
		}
		if m.Status != MaterialIssued {
			return nil, &InvalidTransitionError{Entity: "material", Ref: m.ComponentID, Action: "consumed",
				Current: string(m.Status), Required: []string{string(MaterialIssued)}}
		}
		left := m.QuantityIssued.Sub(m.QuantityConsumed)
		if qty.GreaterThan(left) {
			return nil, invalidArg("cannot consume %s of %s: only %s issued and unconsumed", qty, m.ComponentID, left)
		}
		m.QuantityConsumed = m.QuantityConsumed.Add(qty)
		m.TotalCost = m.QuantityConsumed.Mul(m.UnitCost)
		if m.QuantityConsumed.Equal(m.QuantityIssued) {
			m.TotalCost = m.IssuedCost
			m.Status = MaterialConsumed
		}
		wo.recalculateCosts()
		return nil, nil
	})
}

// ── Operations ───────────────────────────────────────────────────────────────

func (e *WorkOrderEngine) StartOperation(ctx context.Context, id, operationID, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("operated on", WorkOrderInProgress); err != nil {
			return nil, err
		}
		op, err := wo.operation(operationID)
		if err != nil {
			return nil, err
		}
		if op.Status != OperationPending {
			return nil, &InvalidTransitionError{Entity: "operation", Ref: fmt.Sprint(op.Sequence), Action: "started",
				Current: string(op.Status), Required: []string{string(OperationPending)}}
		}
		op.Status = OperationInProgress
		op.StartedBy = by
		op.StartedAt = &now
		return nil, nil
	})
}

// CompleteOperation books actual times and costs and refreshes the completion
// percentage. A pending operation may be completed directly.
func (e *WorkOrderEngine) CompleteOperation(ctx context.Context, id, operationID string, actuals OperationActuals, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("operated on", WorkOrderInProgress); err != nil {
			return nil, err
		}
		op, err := wo.operation(operationID)
		if err != nil {
			return nil, err
		}
		if op.Status == OperationCompleted {
			return nil, &InvalidTransitionError{Entity: "operation", Ref: fmt.Sprint(op.Sequence), Action: "completed",
				Current: string(op.Status), Required: []string{string(OperationPending), string(OperationInProgress)}}
		}
		applyActuals(op, actuals)
		op.Status = OperationCompleted
		op.CompletedBy = by
		op.CompletedAt = &now
		if op.StartedAt == nil {
			op.StartedAt = &now
			op.StartedBy = by
		}
		wo.refreshProgress()
		wo.recalculateCosts()
		return nil, nil
	})
}

var minutesPerHour = decimal.NewFromInt(60)

func applyActuals(op *WorkOrderOperation, a OperationActuals) {
	if a.SetupMinutes.IsZero() && a.RunMinutes.IsZero() && a.TeardownMinutes.IsZero() {
		a.SetupMinutes = op.PlannedSetupMinutes
		a.RunMinutes = op.PlannedRunMinutes
		a.TeardownMinutes = op.PlannedTeardownMinutes
	}
	op.ActualSetupMinutes = a.SetupMinutes
	op.ActualRunMinutes = a.RunMinutes
	op.ActualTeardownMinutes = a.TeardownMinutes

	minutes := a.SetupMinutes.Add(a.RunMinutes).Add(a.TeardownMinutes)
	op.LaborCost = minutes.Mul(op.LaborRatePerHour).Div(minutesPerHour)
	op.OverheadCost = minutes.Mul(op.OverheadRatePerHour).Div(minutesPerHour)
	if !a.LaborCost.IsZero() {
		op.LaborCost = a.LaborCost
	}
	if !a.OverheadCost.IsZero() {
		op.OverheadCost = a.OverheadCost
	}
}

// ReportProduction accumulates good and scrapped output of a running order.
func (e *WorkOrderEngine) ReportProduction(ctx context.Context, id string, completed, scrapped decimal.Decimal, by string) (*WorkOrder, error) {
	if completed.IsNegative() || scrapped.IsNegative() {
		return nil, invalidArg("reported quantities must not be negative")
	}
	if completed.IsZero() && scrapped.IsZero() {
		return nil, invalidArg("nothing to report")
	}
	return e.mutate(ctx, id, func(wo *WorkOrder, _ time.Time) ([]outbound, error) {
		if err := wo.require("reported on", WorkOrderInProgress); err != nil {
			return nil, err
		}
		wo.QuantityCompleted = wo.QuantityCompleted.Add(completed)
		wo.QuantityScrapped = wo.QuantityScrapped.Add(scrapped)
		return nil, nil
	})
}

// ── Complete / close / cancel ────────────────────────────────────────────────

// Complete backflushes issued materials, returns unused reservations, rolls up
// cost and receives the good output into the target warehouse at
// totalCost / quantityCompleted.
func (e *WorkOrderEngine) Complete(ctx context.Context, id, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("completed", WorkOrderInProgress); err != nil {
			return nil, err
		}
		wo.backflush()
		if err := e.releaseOutstanding(ctx, wo); err != nil {
			return nil, &partialError{err}
		}
		wo.recalculateCosts()

		var out []outbound
		if wo.QuantityCompleted.IsPositive() {
			unitCost := wo.TotalCost.Div(wo.QuantityCompleted)
			key := PositionKey{OrgID: wo.OrgID, ProductID: wo.ProductID, WarehouseID: wo.TargetWarehouseID}
			if _, err := e.inventory.Receive(ctx, key, wo.QuantityCompleted, unitCost, e.ref(wo)); err != nil {
				return nil, &partialError{fmt.Errorf("failed to receive finished goods of %s: %w", wo.WorkOrderNumber, err)}
			}
			out = append(out, e.completionMessages(wo)...)
		}

		wo.Status = WorkOrderCompleted
		wo.CompletionPercentage = hundred
		wo.ActualEndDate = &now
		wo.CompletedBy = by
		return out, nil
	})
}

// releaseOutstanding returns reservations that were never issued. Materials
// that were reserved but not issued at all go back to PLANNED.
func (e *WorkOrderEngine) releaseOutstanding(ctx context.Context, wo *WorkOrder) error {
	for i := range wo.Materials {
		m := &wo.Materials[i]
		left := m.outstandingReservation()
		if !left.IsPositive() {
			continue
		}
		if _, err := e.inventory.Deallocate(ctx, materialKey(wo, m), left, e.ref(wo)); err != nil {
			return fmt.Errorf("failed to release reservation of %s: %w", m.ComponentID, err)
		}
		m.QuantityReserved = m.QuantityIssued
		if m.Status == MaterialReserved {
			m.Status = MaterialPlanned
		}
	}
	return nil
}

func (e *WorkOrderEngine) completionMessages(wo *WorkOrder) []outbound {
	fg := PostingRequest{
		Kind:            PostingFinishedGoods,
		OrgID:           wo.OrgID,
		SourceDocNumber: wo.WorkOrderNumber,
		ProductID:       wo.ProductID,
		Quantity:        wo.QuantityCompleted,
		Amount:          wo.TotalCost,
	}
	out := []outbound{{name: "finished goods posting", send: func(ctx context.Context) error {
		if e.collab.Accounting == nil {
			return nil
		}
		return e.collab.Accounting.PostFinishedGoodsCompletion(ctx, fg)
	}}}

	if wo.QuantityScrapped.IsPositive() {
		scrap := PostingRequest{
			Kind:            PostingScrapCost,
			OrgID:           wo.OrgID,
			SourceDocNumber: wo.WorkOrderNumber,
			ProductID:       wo.ProductID,
			Quantity:        wo.QuantityScrapped,
			Amount:          wo.TotalCost.Mul(wo.QuantityScrapped).Div(wo.QuantityPlanned),
		}
		out = append(out, outbound{name: "scrap cost posting", send: func(ctx context.Context) error {
			if e.collab.Accounting == nil {
				return nil
			}
			return e.collab.Accounting.PostScrapCost(ctx, scrap)
		}})
	}

	if wo.SalesOrderRef != "" {
		orgID, salesRef, number, product, qty := wo.OrgID, wo.SalesOrderRef, wo.WorkOrderNumber, wo.ProductID, wo.QuantityCompleted
		out = append(out, outbound{name: "sales notification", send: func(ctx context.Context) error {
			if e.collab.Sales == nil {
				return nil
			}
			return e.collab.Sales.NotifyProductionComplete(ctx, orgID, salesRef, number, product, qty)
		}})
	}
	return out
}

func (e *WorkOrderEngine) Close(ctx context.Context, id, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("closed", WorkOrderCompleted); err != nil {
			return nil, err
		}
		wo.Status = WorkOrderClosed
		wo.ClosedAt = &now
		return nil, nil
	})
}

// Cancel returns every outstanding reservation to the ledger; materials that
// were only reserved go back to PLANNED. Only orders that have not started and
// have not had any material issued can be cancelled.
func (e *WorkOrderEngine) Cancel(ctx context.Context, id, reason, by string) (*WorkOrder, error) {
	return e.mutate(ctx, id, func(wo *WorkOrder, now time.Time) ([]outbound, error) {
		if err := wo.require("cancelled", WorkOrderCreated, WorkOrderReleased); err != nil {
			return nil, err
		}
		for _, m := range wo.Materials {
			if m.QuantityIssued.IsPositive() {
				return nil, &InvalidTransitionError{Entity: "material", Ref: m.ComponentID, Action: "cancelled",
					Current: string(m.Status), Required: []string{string(MaterialPlanned), string(MaterialReserved), string(MaterialShortage)}}
			}
		}
		if err := e.releaseOutstanding(ctx, wo); err != nil {
			return nil, &partialError{err}
		}
		wo.Status = WorkOrderCancelled
		wo.CancelledAt = &now
		note := "Cancelled"
		if by != "" {
			note += " by " + by
		}
		if reason != "" {
			note += ": " + reason
		}
		wo.appendNote(note)
		return nil, nil
	})
}
