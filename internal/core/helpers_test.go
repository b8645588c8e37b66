package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/store/memory"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func n(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

// stepClock advances one minute on every reading so movements get distinct,
// increasing timestamps.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

// Peek returns the last reading without advancing.
func (c *stepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func key(product, warehouse string) core.PositionKey {
	return core.PositionKey{OrgID: "ORG1", ProductID: product, WarehouseID: warehouse}
}

func requireDecimal(t *testing.T, what string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("Expected %s=%s, got %s", what, want, got)
	}
}

func mustReceive(t *testing.T, ctx context.Context, ledger *core.StockLedger, k core.PositionKey, qty, cost decimal.Decimal) core.StockPosition {
	t.Helper()
	pos, err := ledger.Receive(ctx, k, qty, cost, core.SourceRef{Type: "PURCHASE_RECEIPT", ID: "GR-1"})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	return pos
}

func mustPosition(t *testing.T, ctx context.Context, ledger *core.StockLedger, k core.PositionKey) core.StockPosition {
	t.Helper()
	pos, err := ledger.Position(ctx, k)
	if err != nil {
		t.Fatalf("Position(%s) failed: %v", k, err)
	}
	return pos
}

// recorder captures collaborator calls and can be told to fail them.
type recorder struct {
	mu           sync.Mutex
	postings     []core.PostingRequest
	requisitions []core.PurchaseRequisition
	sales        []string
	alerts       []core.ReorderAlert
	failWith     error
}

func (r *recorder) record(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	fn()
	return nil
}

func (r *recorder) PostMaterialIssuance(_ context.Context, req core.PostingRequest) error {
	return r.record(func() { r.postings = append(r.postings, req) })
}

func (r *recorder) PostFinishedGoodsCompletion(_ context.Context, req core.PostingRequest) error {
	return r.record(func() { r.postings = append(r.postings, req) })
}

func (r *recorder) PostScrapCost(_ context.Context, req core.PostingRequest) error {
	return r.record(func() { r.postings = append(r.postings, req) })
}

func (r *recorder) CreatePurchaseRequisition(_ context.Context, req core.PurchaseRequisition) error {
	return r.record(func() { r.requisitions = append(r.requisitions, req) })
}

func (r *recorder) NotifyProductionComplete(_ context.Context, _, salesOrderRef, workOrderNumber, _ string, _ decimal.Decimal) error {
	return r.record(func() { r.sales = append(r.sales, salesOrderRef+":"+workOrderNumber) })
}

func (r *recorder) NotifyReorderAlert(_ context.Context, alert core.ReorderAlert) error {
	return r.record(func() { r.alerts = append(r.alerts, alert) })
}

func (r *recorder) postingsOf(kind core.PostingKind) []core.PostingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.PostingRequest
	for _, p := range r.postings {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// fixture wires every engine over in-memory stores.
type fixture struct {
	ctx     context.Context
	clock   *stepClock
	stores  *memory.Stores
	ledger  *core.StockLedger
	boms    *core.BomEngine
	orders  *core.WorkOrderEngine
	monitor *core.ReorderMonitor
	rec     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithInventory(t, nil)
}

// newFixtureWithInventory lets a test wrap the ledger seen by the work order engine.
func newFixtureWithInventory(t *testing.T, wrap func(core.Inventory) core.Inventory) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), clock: newStepClock(), stores: memory.NewStores(), rec: &recorder{}}
	clock := core.WithClock(f.clock.Now)
	f.ledger = core.NewStockLedger(f.stores.Stock, clock)
	f.boms = core.NewBomEngine(f.stores.Boms, clock)

	var inv core.Inventory = f.ledger
	if wrap != nil {
		inv = wrap(inv)
	}
	f.orders = core.NewWorkOrderEngine(f.stores.WorkOrders, inv, f.boms,
		core.NewSequenceService(f.stores.Sequences),
		core.Collaborators{Accounting: f.rec, Purchasing: f.rec, Sales: f.rec}, clock)
	f.monitor = core.NewReorderMonitor(f.stores.Reorder, f.ledger, f.rec, time.Hour, clock)
	return f
}

type lineSpec struct {
	component string
	qty       string
	cost      string
	parent    int // index into previously added lines, -1 for top level
	scrap     string
	phantom   bool
}

// createBom builds an approved-ready DRAFT BOM for product and returns it with
// the IDs of its lines in spec order.
func (f *fixture) createBom(t *testing.T, product string, specs ...lineSpec) (*core.BomHeader, []string) {
	t.Helper()
	bom, err := f.boms.CreateBom(f.ctx, core.CreateBomInput{OrgID: "ORG1", ProductID: product, BomNumber: "BOM-" + product})
	if err != nil {
		t.Fatalf("CreateBom failed: %v", err)
	}
	var ids []string
	for i, s := range specs {
		in := core.BomLineInput{
			Sequence:        (i + 1) * 10,
			ComponentID:     s.component,
			QuantityPerUnit: d(s.qty),
			UOM:             "EA",
			IsPhantom:       s.phantom,
		}
		if s.cost != "" {
			in.UnitCost = d(s.cost)
		}
		if s.scrap != "" {
			in.ScrapPercentage = d(s.scrap)
		}
		if s.parent >= 0 {
			in.ParentLineID = ids[s.parent]
		}
		line, err := f.boms.AddLine(f.ctx, bom.ID, in)
		if err != nil {
			t.Fatalf("AddLine(%s) failed: %v", s.component, err)
		}
		ids = append(ids, line.ID)
	}
	bom, err = f.boms.GetBom(f.ctx, bom.ID)
	if err != nil {
		t.Fatalf("GetBom failed: %v", err)
	}
	return bom, ids
}

func top(component, qty string) lineSpec {
	return lineSpec{component: component, qty: qty, parent: -1}
}
