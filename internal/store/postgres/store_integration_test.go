package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	// Integration tests truncate every table; never point this at a live database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_movements, stock_positions, bom_lines, boms,
		               work_order_operations, work_order_materials, work_orders,
		               reorder_alerts, reorder_rules, document_sequences CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	return pool, ctx
}

func n(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func pk(product, warehouse string) core.PositionKey {
	return core.PositionKey{OrgID: "ORG1", ProductID: product, WarehouseID: warehouse}
}

func TestStockStore_LedgerRoundTrip(t *testing.T) {
	pool, ctx := setupTestDB(t)
	stores := postgres.NewStores(pool)
	ledger := core.NewStockLedger(stores.Stock)
	k := pk("P-100", "WH1")

	if _, err := ledger.Receive(ctx, k, n(100), n(200), core.SourceRef{Type: "GR", ID: "1"}); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	pos, err := ledger.Receive(ctx, k, n(100), n(300), core.SourceRef{Type: "GR", ID: "2"})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !pos.UnitCost.Equal(n(250)) {
		t.Errorf("Expected unit cost 250, got %s", pos.UnitCost)
	}

	if _, err := ledger.Allocate(ctx, k, n(30), core.SourceRef{}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	stored, err := stores.Stock.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.Available.Equal(n(170)) || !stored.TotalCost.Equal(n(50000)) {
		t.Errorf("Expected available 170 and total 50000, got %s and %s", stored.Available, stored.TotalCost)
	}

	if _, err := ledger.Issue(ctx, k, n(171), core.SourceRef{}); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got %v", err)
	}

	receipts, err := stores.Stock.Movements(ctx, k, core.MovementFilter{Types: []core.MovementType{core.MovementReceipt}})
	if err != nil {
		t.Fatalf("Movements failed: %v", err)
	}
	if len(receipts) != 2 || !receipts[1].UnitCost.Equal(n(300)) {
		t.Errorf("Expected two receipts with the second at 300, got %+v", receipts)
	}

	rec, err := ledger.Reconcile(ctx, k)
	if err != nil || !rec.Balanced {
		t.Errorf("Expected balanced position, got %+v, %v", rec, err)
	}
}

func TestStockStore_ConcurrentFirstReceipts(t *testing.T) {
	pool, ctx := setupTestDB(t)
	ledger := core.NewStockLedger(postgres.NewStockStore(pool))
	k := pk("P-NEW", "WH1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Receive(ctx, k, n(1), n(5), core.SourceRef{Type: "GR"}); err != nil {
				t.Errorf("Receive failed: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := ledger.Reconcile(ctx, k)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.OnHand.Equal(n(20)) || rec.Movements != 20 || !rec.Balanced {
		t.Errorf("Expected 20 on hand from 20 movements, got %+v", rec)
	}
}

func TestBomStore_RevisionGuard(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.NewBomStore(pool)
	boms := core.NewBomEngine(store)

	bom, err := boms.CreateBom(ctx, core.CreateBomInput{
		OrgID: "ORG1", ProductID: "A", BomNumber: "BOM-A",
		Routing: []core.RoutingStep{{Sequence: 10, WorkCenterCode: "ASSY", SetupMinutes: n(15)}},
	})
	if err != nil {
		t.Fatalf("CreateBom failed: %v", err)
	}
	if _, err := boms.AddLine(ctx, bom.ID, core.BomLineInput{ComponentID: "B", QuantityPerUnit: n(2), UnitCost: n(3)}); err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}

	got, err := store.GetBom(ctx, bom.ID)
	if err != nil {
		t.Fatalf("GetBom failed: %v", err)
	}
	if !got.MaterialCost.Equal(n(6)) {
		t.Errorf("Expected material cost 6, got %s", got.MaterialCost)
	}
	if len(got.Routing) != 1 || got.Routing[0].WorkCenterCode != "ASSY" || !got.Routing[0].SetupMinutes.Equal(n(15)) {
		t.Errorf("Expected routing to round-trip, got %+v", got.Routing)
	}

	stale := *got
	if err := store.UpdateBom(ctx, got); err != nil {
		t.Fatalf("UpdateBom failed: %v", err)
	}
	if err := store.UpdateBom(ctx, &stale); !errors.Is(err, core.ErrConcurrentUpdate) {
		t.Errorf("Expected ErrConcurrentUpdate, got %v", err)
	}
	if _, err := boms.CreateBom(ctx, core.CreateBomInput{OrgID: "ORG1", ProductID: "A", BomNumber: "BOM-A"}); !errors.Is(err, core.ErrDuplicateIdentifier) {
		t.Errorf("Expected ErrDuplicateIdentifier, got %v", err)
	}
}

func TestWorkOrderStore_Lifecycle(t *testing.T) {
	pool, ctx := setupTestDB(t)
	stores := postgres.NewStores(pool)
	ledger := core.NewStockLedger(stores.Stock)
	boms := core.NewBomEngine(stores.Boms)
	orders := core.NewWorkOrderEngine(stores.WorkOrders, ledger, boms, core.NewSequenceService(stores.Sequences), core.Collaborators{})

	if _, err := ledger.Receive(ctx, pk("P", "WH1"), n(100), n(10), core.SourceRef{Type: "GR"}); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	bom, err := boms.CreateBom(ctx, core.CreateBomInput{
		OrgID: "ORG1", ProductID: "FGX", BomNumber: "BOM-FGX",
		Routing: []core.RoutingStep{{Sequence: 10, WorkCenterCode: "ASSY", RunMinutesPerUnit: n(1), LaborRatePerHour: n(60)}},
	})
	if err != nil {
		t.Fatalf("CreateBom failed: %v", err)
	}
	if _, err := boms.AddLine(ctx, bom.ID, core.BomLineInput{ComponentID: "P", QuantityPerUnit: n(1)}); err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}

	wo, err := orders.Create(ctx, core.CreateWorkOrderInput{
		OrgID: "ORG1", ProductID: "FGX", BomID: bom.ID, QuantityPlanned: n(30), SourceWarehouseID: "WH1",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if wo.WorkOrderNumber != "WO-000001" {
		t.Errorf("Expected WO-000001, got %s", wo.WorkOrderNumber)
	}

	steps := []func() (*core.WorkOrder, error){
		func() (*core.WorkOrder, error) { return orders.Release(ctx, wo.ID, "p") },
		func() (*core.WorkOrder, error) { return orders.Start(ctx, wo.ID, "p") },
		func() (*core.WorkOrder, error) { return orders.IssueMaterial(ctx, wo.ID, wo.Materials[0].ID, n(30), "p") },
		func() (*core.WorkOrder, error) {
			return orders.CompleteOperation(ctx, wo.ID, wo.Operations[0].ID, core.OperationActuals{}, "p")
		},
		func() (*core.WorkOrder, error) { return orders.ReportProduction(ctx, wo.ID, n(30), decimal.Zero, "p") },
		func() (*core.WorkOrder, error) { return orders.Complete(ctx, wo.ID, "p") },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	got, err := stores.WorkOrders.GetByNumber(ctx, "ORG1", "WO-000001")
	if err != nil {
		t.Fatalf("GetByNumber failed: %v", err)
	}
	if got.Status != core.WorkOrderCompleted || len(got.Materials) != 1 || len(got.Operations) != 1 {
		t.Fatalf("Unexpected stored order %+v", got)
	}
	// 30 units of P at 10 plus 30 minutes at 60/hour.
	if !got.TotalCost.Equal(n(330)) {
		t.Errorf("Expected total cost 330, got %s", got.TotalCost)
	}
	if got.Operations[0].Status != core.OperationCompleted || got.Operations[0].CompletedAt == nil {
		t.Errorf("Expected completed operation to round-trip, got %+v", got.Operations[0])
	}

	stale := got.Clone()
	stale.Version--
	if err := stores.WorkOrders.Save(ctx, stale); !errors.Is(err, core.ErrConcurrentUpdate) {
		t.Errorf("Expected ErrConcurrentUpdate, got %v", err)
	}
}

func TestReorderStore_OneActiveAlertPerPosition(t *testing.T) {
	pool, ctx := setupTestDB(t)
	stores := postgres.NewStores(pool)
	ledger := core.NewStockLedger(stores.Stock)
	monitor := core.NewReorderMonitor(stores.Reorder, ledger, nil, time.Minute)

	rule, err := monitor.UpsertRule(ctx, core.ReorderRuleInput{OrgID: "ORG1", ProductID: "P", WarehouseID: "WH1", ReorderPoint: n(10)})
	if err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}
	alert, created, err := monitor.CheckAndGenerateAlert(ctx, rule)
	if err != nil || !created {
		t.Fatalf("Expected new alert, got %v, %v", created, err)
	}

	dup := *alert
	dup.ID = "another"
	if err := stores.Reorder.CreateAlert(ctx, &dup); !errors.Is(err, core.ErrDuplicateIdentifier) {
		t.Errorf("Expected ErrDuplicateIdentifier, got %v", err)
	}

	if _, err := monitor.Close(ctx, alert.ID, "", "buyer"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := stores.Reorder.MarkAlertNotified(ctx, alert.ID); err != nil {
		t.Fatalf("MarkAlertNotified failed: %v", err)
	}
	if got, err := stores.Reorder.GetAlert(ctx, alert.ID); err != nil || got.Status != core.AlertClosed || !got.NotificationSent {
		t.Errorf("Expected CLOSED alert marked notified, got %+v, %v", got, err)
	}
	if err := stores.Reorder.MarkAlertNotified(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := stores.Reorder.CreateAlert(ctx, &dup); err != nil {
		t.Errorf("Expected a new alert after close, got %v", err)
	}
}

func TestSequenceStore_Concurrent(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.NewSequenceStore(pool)

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.NextValue(ctx, "ORG1", "WO")
			if err != nil {
				t.Errorf("NextValue failed: %v", err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 25 {
		t.Errorf("Expected 25 distinct values, got %d", len(seen))
	}
}
