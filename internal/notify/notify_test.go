package notify_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/notify"
	"production-ledger/internal/outbox"
	"production-ledger/internal/store/memory"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func n(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

type captureSink struct {
	msgs []outbox.Message
}

func (s *captureSink) Deliver(_ context.Context, m outbox.Message) error {
	s.msgs = append(s.msgs, m)
	return nil
}

func TestOutboxCollaborators_WorkOrderFlow(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	spool := outbox.NewMemoryStore()
	clock := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	collab := notify.NewOutboxCollaborators(spool, now)

	ledger := core.NewStockLedger(stores.Stock)
	boms := core.NewBomEngine(stores.Boms)
	orders := core.NewWorkOrderEngine(stores.WorkOrders, ledger, boms, core.NewSequenceService(stores.Sequences), collab.Collaborators())

	if _, err := ledger.Receive(ctx, core.PositionKey{OrgID: "ORG1", ProductID: "RAW", WarehouseID: "WH1"}, n(10), n(4), core.SourceRef{}); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	bom, err := boms.CreateBom(ctx, core.CreateBomInput{OrgID: "ORG1", ProductID: "KIT", BomNumber: "BOM-KIT"})
	if err != nil {
		t.Fatalf("CreateBom failed: %v", err)
	}
	if _, err := boms.AddLine(ctx, bom.ID, core.BomLineInput{ComponentID: "RAW", QuantityPerUnit: n(1)}); err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	if _, err := boms.AddLine(ctx, bom.ID, core.BomLineInput{ComponentID: "LABEL", QuantityPerUnit: n(1)}); err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}

	wo, err := orders.Create(ctx, core.CreateWorkOrderInput{
		OrgID: "ORG1", ProductID: "KIT", BomID: bom.ID, QuantityPlanned: n(5),
		SourceWarehouseID: "WH1", SalesOrderRef: "SO-9",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := orders.Release(ctx, wo.ID, "planner"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := orders.Start(ctx, wo.ID, "planner"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	var rawID string
	for _, m := range wo.Materials {
		if m.ComponentID == "RAW" {
			rawID = m.ID
		}
	}
	if _, err := orders.IssueMaterial(ctx, wo.ID, rawID, n(5), "picker"); err != nil {
		t.Fatalf("IssueMaterial failed: %v", err)
	}
	if _, err := orders.ReportProduction(ctx, wo.ID, n(5), decimal.Zero, "op"); err != nil {
		t.Fatalf("ReportProduction failed: %v", err)
	}
	if _, err := orders.Complete(ctx, wo.ID, "op"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	sink := &captureSink{}
	res, err := outbox.NewDispatcher(spool, sink, outbox.DispatcherConfig{Now: now}).DrainOnce(ctx)
	if err != nil {
		t.Fatalf("DrainOnce failed: %v", err)
	}
	want := []string{
		outbox.TopicRequisition,
		outbox.TopicMaterialIssuance,
		outbox.TopicFinishedGoods,
		outbox.TopicProductionComplete,
	}
	if res.Delivered != len(want) {
		t.Fatalf("Expected %d deliveries, got %+v", len(want), res)
	}
	for i, topic := range want {
		if sink.msgs[i].Topic != topic {
			t.Errorf("message %d: expected topic %s, got %s", i, topic, sink.msgs[i].Topic)
		}
		if sink.msgs[i].Key != "WO-000001" {
			t.Errorf("message %d: expected key WO-000001, got %s", i, sink.msgs[i].Key)
		}
	}

	var req core.PurchaseRequisition
	if err := json.Unmarshal(sink.msgs[0].Payload, &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if req.ComponentID != "LABEL" || !req.Quantity.Equal(n(5)) {
		t.Errorf("Expected requisition for 5 LABEL, got %+v", req)
	}

	var posting core.PostingRequest
	if err := json.Unmarshal(sink.msgs[2].Payload, &posting); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !posting.Amount.Equal(n(20)) || posting.Kind != core.PostingFinishedGoods {
		t.Errorf("Expected finished goods posting of 20, got %+v", posting)
	}

	var done notify.ProductionComplete
	if err := json.Unmarshal(sink.msgs[3].Payload, &done); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if done.SalesOrderRef != "SO-9" || !done.Quantity.Equal(n(5)) {
		t.Errorf("Unexpected production complete payload %+v", done)
	}
}

func TestOutboxCollaborators_ReorderAlert(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	spool := outbox.NewMemoryStore()
	collab := notify.NewOutboxCollaborators(spool, nil)
	monitor := core.NewReorderMonitor(stores.Reorder, core.NewStockLedger(stores.Stock), collab, time.Minute)

	rule, err := monitor.UpsertRule(ctx, core.ReorderRuleInput{OrgID: "ORG1", ProductID: "P", WarehouseID: "WH1", ReorderPoint: n(10), ReorderQuantity: n(40)})
	if err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}
	alert, created, err := monitor.CheckAndGenerateAlert(ctx, rule)
	if err != nil || !created {
		t.Fatalf("Expected new alert, got %v, %v", created, err)
	}
	if !alert.NotificationSent {
		t.Errorf("Expected notification to be marked sent")
	}

	queued, err := spool.List(ctx, outbox.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(queued) != 1 || queued[0].Topic != outbox.TopicReorderAlert || queued[0].Key != "ORG1/P@WH1" {
		t.Fatalf("Expected one queued reorder alert, got %+v", queued)
	}
	var payload core.ReorderAlert
	if err := json.Unmarshal(queued[0].Payload, &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.Priority != core.PriorityHigh || !payload.SuggestedOrderQty.Equal(n(40)) {
		t.Errorf("Unexpected alert payload %+v", payload)
	}
}

func TestLogSink(t *testing.T) {
	observed, logs := observer.New(zap.InfoLevel)
	sink := notify.NewLogSink(zap.New(observed))
	msg, err := outbox.NewMessage(outbox.TopicScrapCost, "WO-7", map[string]int{"qty": 2}, time.Now())
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := sink.Deliver(context.Background(), *msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	entries := logs.FilterField(zap.String("topic", outbox.TopicScrapCost)).All()
	if len(entries) != 1 || entries[0].ContextMap()["key"] != "WO-7" {
		t.Errorf("Expected one log entry for WO-7, got %+v", logs.All())
	}
}

func TestRedisStreamSink(t *testing.T) {
	_ = godotenv.Load("../../.env")
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping integration test")
	}
	ctx := context.Background()
	client := notify.NewRedisClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0, 2)
	t.Cleanup(func() { client.Close() })

	prefix := "test:" + time.Now().Format("150405.000000") + ":"
	sink := notify.NewRedisStreamSink(client, prefix, 100)
	stream := sink.Stream(outbox.TopicFinishedGoods)
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	msg, err := outbox.NewMessage(outbox.TopicFinishedGoods, "WO-1", map[string]string{"amount": "330"}, time.Now())
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := sink.Deliver(ctx, *msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 stream entry, got %d", len(entries))
	}
	if entries[0].Values["id"] != msg.ID || entries[0].Values["payload"] != `{"amount":"330"}` {
		t.Errorf("Unexpected entry %+v", entries[0].Values)
	}
}
