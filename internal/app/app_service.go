package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/outbox"
	"production-ledger/internal/report"

	"github.com/shopspring/decimal"
)

// Engines are the collaborators appService delegates to.
type Engines struct {
	Ledger     *core.StockLedger
	Valuation  *core.ValuationEngine
	Boms       *core.BomEngine
	WorkOrders *core.WorkOrderEngine
	Monitor    *core.ReorderMonitor
	Outbox     outbox.Store
	Dispatcher *outbox.Dispatcher
}

type appService struct {
	Engines
	now func() time.Time
}

// NewAppService constructs an appService that satisfies ApplicationService.
// A nil now means time.Now.
func NewAppService(e Engines, now func() time.Time) ApplicationService {
	if now == nil {
		now = time.Now
	}
	return &appService{Engines: e, now: now}
}

func sourceRef(typ, id, fallback string) core.SourceRef {
	if typ == "" {
		typ = fallback
	}
	return core.SourceRef{Type: typ, ID: id}
}

// ── Stock ────────────────────────────────────────────────────────────────────

func (s *appService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) (*PositionResult, error) {
	pos, err := s.Ledger.Receive(ctx, req.Key, req.Quantity, req.UnitCost, sourceRef(req.SourceType, req.SourceID, "MANUAL_RECEIPT"))
	if err != nil {
		return nil, err
	}
	return &PositionResult{Position: pos}, nil
}

func (s *appService) IssueStock(ctx context.Context, req StockQuantityRequest) (*PositionResult, error) {
	pos, err := s.Ledger.Issue(ctx, req.Key, req.Quantity, sourceRef(req.SourceType, req.SourceID, "MANUAL_ISSUE"))
	if err != nil {
		return nil, err
	}
	return &PositionResult{Position: pos}, nil
}

func (s *appService) AllocateStock(ctx context.Context, req StockQuantityRequest) (*PositionResult, error) {
	pos, err := s.Ledger.Allocate(ctx, req.Key, req.Quantity, sourceRef(req.SourceType, req.SourceID, "MANUAL_ALLOCATION"))
	if err != nil {
		return nil, err
	}
	return &PositionResult{Position: pos}, nil
}

func (s *appService) DeallocateStock(ctx context.Context, req StockQuantityRequest) (*PositionResult, error) {
	pos, err := s.Ledger.Deallocate(ctx, req.Key, req.Quantity, sourceRef(req.SourceType, req.SourceID, "MANUAL_ALLOCATION"))
	if err != nil {
		return nil, err
	}
	return &PositionResult{Position: pos}, nil
}

func (s *appService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*PositionResult, error) {
	pos, err := s.Ledger.Adjust(ctx, req.Key, req.NewQuantity, req.Reason, req.Actor)
	if err != nil {
		return nil, err
	}
	return &PositionResult{Position: pos}, nil
}

func (s *appService) TransferStock(ctx context.Context, req TransferStockRequest) (*TransferResult, error) {
	from, to, err := s.Ledger.Transfer(ctx, req.OrgID, req.ProductID, req.FromWarehouseID, req.ToWarehouseID,
		req.Quantity, sourceRef("", req.SourceID, "STOCK_TRANSFER"))
	if err != nil {
		return nil, err
	}
	return &TransferResult{From: from, To: to}, nil
}

func (s *appService) GetStockLevels(ctx context.Context, orgID string) (*StockResult, error) {
	positions, err := s.Ledger.Positions(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &StockResult{OrgID: orgID, Positions: positions}, nil
}

func (s *appService) GetMovements(ctx context.Context, key core.PositionKey) (*MovementsResult, error) {
	movements, err := s.Ledger.Movements(ctx, key, core.MovementFilter{})
	if err != nil {
		return nil, err
	}
	rec, err := s.Ledger.Reconcile(ctx, key)
	if err != nil {
		return nil, err
	}
	return &MovementsResult{Key: key, Movements: movements, Reconciliation: rec}, nil
}

// ── Valuation ────────────────────────────────────────────────────────────────

func (s *appService) ComputeCOGS(ctx context.Context, req COGSRequest) (*core.COGSResult, error) {
	method := core.CostingWeightedAverage
	if req.Method != "" {
		m, err := core.ParseCostingMethod(req.Method)
		if err != nil {
			return nil, err
		}
		method = m
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	res, err := s.Valuation.COGS(ctx, method, req.Key, req.Quantity, asOf)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *appService) GetInventoryValue(ctx context.Context, orgID string) (*core.InventoryValue, error) {
	v, err := s.Valuation.TotalInventoryValue(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *appService) ExportValuation(ctx context.Context, orgID string, w io.Writer) error {
	positions, err := s.Ledger.Positions(ctx, orgID)
	if err != nil {
		return err
	}
	total, err := s.Valuation.TotalInventoryValue(ctx, orgID)
	if err != nil {
		return err
	}
	return report.WriteValuationWorkbook(w, orgID, positions, total, s.now())
}

// ── BOMs ─────────────────────────────────────────────────────────────────────

func (s *appService) bomResult(ctx context.Context, bom *core.BomHeader) (*BomResult, error) {
	lines, err := s.Boms.Lines(ctx, bom.ID)
	if err != nil {
		return nil, err
	}
	return &BomResult{Bom: bom, Lines: lines}, nil
}

func (s *appService) CreateBom(ctx context.Context, req CreateBomRequest) (*BomResult, error) {
	bom, err := s.Boms.CreateBom(ctx, core.CreateBomInput{
		OrgID:        req.OrgID,
		ProductID:    req.ProductID,
		BomNumber:    req.BomNumber,
		Version:      req.Version,
		BaseQuantity: req.BaseQuantity,
		LaborCost:    req.LaborCost,
		OverheadCost: req.OverheadCost,
		Routing:      req.Routing,
	})
	if err != nil {
		return nil, err
	}
	return &BomResult{Bom: bom}, nil
}

func (s *appService) AddBomLine(ctx context.Context, req AddBomLineRequest) (*BomResult, error) {
	if _, err := s.Boms.AddLine(ctx, req.BomID, req.Line); err != nil {
		return nil, err
	}
	return s.GetBom(ctx, req.BomID)
}

func (s *appService) SetBomRouting(ctx context.Context, bomID string, steps []core.RoutingStep) (*BomResult, error) {
	bom, err := s.Boms.SetRouting(ctx, bomID, steps)
	if err != nil {
		return nil, err
	}
	return s.bomResult(ctx, bom)
}

func (s *appService) ApproveBom(ctx context.Context, bomID, actor string) (*BomResult, error) {
	bom, err := s.Boms.Approve(ctx, bomID, actor)
	if err != nil {
		return nil, err
	}
	return s.bomResult(ctx, bom)
}

func (s *appService) GetBom(ctx context.Context, bomID string) (*BomResult, error) {
	bom, err := s.Boms.GetBom(ctx, bomID)
	if err != nil {
		return nil, err
	}
	return s.bomResult(ctx, bom)
}

func (s *appService) ExplodeBom(ctx context.Context, bomID string, qty decimal.Decimal) (*core.Explosion, error) {
	return s.Boms.Explode(ctx, bomID, qty)
}

func (s *appService) ValidateBom(ctx context.Context, bomID string) (*core.BomValidation, error) {
	return s.Boms.Validate(ctx, bomID)
}

// ── Work orders ──────────────────────────────────────────────────────────────

func (s *appService) CreateWorkOrder(ctx context.Context, req CreateWorkOrderRequest) (*WorkOrderResult, error) {
	bomID := req.BomID
	if bomID == "" {
		bom, err := s.Boms.LatestActive(ctx, req.OrgID, req.ProductID)
		switch {
		case err == nil:
			bomID = bom.ID
		case !errors.Is(err, core.ErrNotFound):
			return nil, err
		}
	}
	wo, err := s.WorkOrders.Create(ctx, core.CreateWorkOrderInput{
		OrgID:             req.OrgID,
		ProductID:         req.ProductID,
		BomID:             bomID,
		QuantityPlanned:   req.Quantity,
		SourceWarehouseID: req.SourceWarehouseID,
		TargetWarehouseID: req.TargetWarehouseID,
		SalesOrderRef:     req.SalesOrderRef,
		PlannedStartDate:  req.PlannedStartDate,
		PlannedEndDate:    req.PlannedEndDate,
		Notes:             req.Notes,
		CreatedBy:         req.Actor,
		DisableBackflush:  req.DisableBackflush,
	})
	if err != nil {
		return nil, err
	}
	return &WorkOrderResult{WorkOrder: wo}, nil
}

// resolveOrder accepts a work order number or ID.
func (s *appService) resolveOrder(ctx context.Context, orgID, ref string) (*core.WorkOrder, error) {
	wo, err := s.WorkOrders.GetByNumber(ctx, orgID, ref)
	if err == nil {
		return wo, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	wo, err = s.WorkOrders.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if wo.OrgID != orgID {
		return nil, fmt.Errorf("work order %s: %w", ref, core.ErrNotFound)
	}
	return wo, nil
}

func (s *appService) GetWorkOrder(ctx context.Context, orgID, ref string) (*WorkOrderResult, error) {
	wo, err := s.resolveOrder(ctx, orgID, ref)
	if err != nil {
		return nil, err
	}
	return &WorkOrderResult{WorkOrder: wo}, nil
}

func (s *appService) ListWorkOrders(ctx context.Context, orgID string, status *string) (*WorkOrderListResult, error) {
	var filter *core.WorkOrderStatus
	if status != nil && *status != "" {
		st := core.WorkOrderStatus(strings.ToUpper(*status))
		filter = &st
	}
	orders, err := s.WorkOrders.List(ctx, orgID, filter)
	if err != nil {
		return nil, err
	}
	return &WorkOrderListResult{OrgID: orgID, WorkOrders: orders}, nil
}

func (s *appService) transition(ctx context.Context, req WorkOrderActionRequest, fn func(id string) (*core.WorkOrder, error)) (*WorkOrderResult, error) {
	wo, err := s.resolveOrder(ctx, req.OrgID, req.Ref)
	if err != nil {
		return nil, err
	}
	updated, err := fn(wo.ID)
	if err != nil {
		return nil, err
	}
	return &WorkOrderResult{WorkOrder: updated}, nil
}

func (s *appService) ReleaseWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, req, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.Release(ctx, id, req.Actor)
	})
}

func (s *appService) RetryShortages(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, req, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.RetryShortages(ctx, id, req.Actor)
	})
}

func (s *appService) StartWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, req, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.Start(ctx, id, req.Actor)
	})
}

func (s *appService) CompleteWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, req, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.Complete(ctx, id, req.Actor)
	})
}

func (s *appService) CloseWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, req, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.Close(ctx, id, req.Actor)
	})
}

func (s *appService) CancelWorkOrder(ctx context.Context, req WorkOrderActionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, req, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.Cancel(ctx, id, req.Reason, req.Actor)
	})
}

// resolveMaterial matches a material ID, or else a component ID, preferring a
// material in the given status when the component appears more than once.
func resolveMaterial(wo *core.WorkOrder, ref string, preferred core.MaterialStatus) (string, error) {
	var fallback string
	for _, m := range wo.Materials {
		if m.ID == ref {
			return m.ID, nil
		}
		if m.ComponentID != ref {
			continue
		}
		if m.Status == preferred {
			return m.ID, nil
		}
		if fallback == "" {
			fallback = m.ID
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("material %s on work order %s: %w", ref, wo.WorkOrderNumber, core.ErrNotFound)
	}
	return fallback, nil
}

func (s *appService) IssueMaterial(ctx context.Context, req MaterialRequest) (*WorkOrderResult, error) {
	return s.materialAction(ctx, req, core.MaterialReserved, s.WorkOrders.IssueMaterial)
}

func (s *appService) ConsumeMaterial(ctx context.Context, req MaterialRequest) (*WorkOrderResult, error) {
	return s.materialAction(ctx, req, core.MaterialIssued, s.WorkOrders.ConsumeMaterial)
}

func (s *appService) materialAction(ctx context.Context, req MaterialRequest, preferred core.MaterialStatus,
	fn func(ctx context.Context, id, materialID string, qty decimal.Decimal, by string) (*core.WorkOrder, error)) (*WorkOrderResult, error) {
	wo, err := s.resolveOrder(ctx, req.OrgID, req.Ref)
	if err != nil {
		return nil, err
	}
	materialID, err := resolveMaterial(wo, req.Material, preferred)
	if err != nil {
		return nil, err
	}
	updated, err := fn(ctx, wo.ID, materialID, req.Quantity, req.Actor)
	if err != nil {
		return nil, err
	}
	return &WorkOrderResult{WorkOrder: updated}, nil
}

// resolveOperation matches an operation ID or its routing sequence number.
func resolveOperation(wo *core.WorkOrder, ref string) (string, error) {
	seq, seqErr := strconv.Atoi(ref)
	for _, op := range wo.Operations {
		if op.ID == ref || (seqErr == nil && op.Sequence == seq) {
			return op.ID, nil
		}
	}
	return "", fmt.Errorf("operation %s on work order %s: %w", ref, wo.WorkOrderNumber, core.ErrNotFound)
}

func (s *appService) StartOperation(ctx context.Context, req OperationRequest) (*WorkOrderResult, error) {
	wo, err := s.resolveOrder(ctx, req.OrgID, req.Ref)
	if err != nil {
		return nil, err
	}
	opID, err := resolveOperation(wo, req.Operation)
	if err != nil {
		return nil, err
	}
	updated, err := s.WorkOrders.StartOperation(ctx, wo.ID, opID, req.Actor)
	if err != nil {
		return nil, err
	}
	return &WorkOrderResult{WorkOrder: updated}, nil
}

func (s *appService) CompleteOperation(ctx context.Context, req OperationRequest) (*WorkOrderResult, error) {
	wo, err := s.resolveOrder(ctx, req.OrgID, req.Ref)
	if err != nil {
		return nil, err
	}
	opID, err := resolveOperation(wo, req.Operation)
	if err != nil {
		return nil, err
	}
	updated, err := s.WorkOrders.CompleteOperation(ctx, wo.ID, opID, req.Actuals, req.Actor)
	if err != nil {
		return nil, err
	}
	return &WorkOrderResult{WorkOrder: updated}, nil
}

func (s *appService) ReportProduction(ctx context.Context, req ReportProductionRequest) (*WorkOrderResult, error) {
	return s.transition(ctx, WorkOrderActionRequest{OrgID: req.OrgID, Ref: req.Ref, Actor: req.Actor}, func(id string) (*core.WorkOrder, error) {
		return s.WorkOrders.ReportProduction(ctx, id, req.Completed, req.Scrapped, req.Actor)
	})
}

// ── Reorder ──────────────────────────────────────────────────────────────────

func (s *appService) SetReorderRule(ctx context.Context, req ReorderRuleRequest) (*core.ReorderRule, error) {
	return s.Monitor.UpsertRule(ctx, core.ReorderRuleInput{
		OrgID:           req.Key.OrgID,
		ProductID:       req.Key.ProductID,
		WarehouseID:     req.Key.WarehouseID,
		ReorderPoint:    req.ReorderPoint,
		ReorderQuantity: req.ReorderQuantity,
		MinQuantity:     req.MinQuantity,
		SafetyStock:     req.SafetyStock,
		Inactive:        req.Inactive,
	})
}

func (s *appService) RunReorderCheck(ctx context.Context) (*core.CheckSummary, error) {
	summary, err := s.Monitor.CheckAll(ctx)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *appService) ListOpenAlerts(ctx context.Context, orgID string) (*AlertListResult, error) {
	alerts, err := s.Monitor.OpenAlerts(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &AlertListResult{OrgID: orgID, Alerts: alerts}, nil
}

func (s *appService) AcknowledgeAlert(ctx context.Context, alertID, actor string) (*core.ReorderAlert, error) {
	return s.Monitor.Acknowledge(ctx, alertID, actor)
}

func (s *appService) CloseAlert(ctx context.Context, alertID, notes, actor string) (*core.ReorderAlert, error) {
	return s.Monitor.Close(ctx, alertID, notes, actor)
}

// ── Outbox ───────────────────────────────────────────────────────────────────

func (s *appService) DrainOutbox(ctx context.Context) (*outbox.DrainResult, error) {
	if s.Dispatcher == nil {
		return nil, fmt.Errorf("outbox dispatcher is not configured")
	}
	res, err := s.Dispatcher.DrainOnce(ctx)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *appService) ListOutbox(ctx context.Context, status string) ([]outbox.Message, error) {
	if s.Outbox == nil {
		return nil, fmt.Errorf("outbox is not configured")
	}
	return s.Outbox.List(ctx, outbox.Status(strings.ToUpper(status)))
}
