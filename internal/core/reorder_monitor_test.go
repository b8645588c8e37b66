package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/store/memory"

	"github.com/shopspring/decimal"
)

func (f *fixture) rule(t *testing.T, product string, point, qty int64) *core.ReorderRule {
	t.Helper()
	rule, err := f.monitor.UpsertRule(f.ctx, core.ReorderRuleInput{
		OrgID: "ORG1", ProductID: product, WarehouseID: "WH1",
		ReorderPoint: n(point), ReorderQuantity: n(qty),
	})
	if err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}
	return rule
}

func TestPriorityFor(t *testing.T) {
	rule := core.ReorderRule{MinQuantity: n(5), SafetyStock: n(10), ReorderPoint: n(100)}
	cases := []struct {
		available int64
		want      core.AlertPriority
	}{
		{4, core.PriorityCritical},
		{8, core.PriorityHigh},
		{20, core.PriorityHigh},
		{40, core.PriorityMedium},
		{60, core.PriorityLow},
	}
	for _, tc := range cases {
		if got := core.PriorityFor(n(tc.available), rule); got != tc.want {
			t.Errorf("PriorityFor(%d) = %s, want %s", tc.available, got, tc.want)
		}
	}

	if got := core.PriorityFor(decimal.Zero, core.ReorderRule{}); got != core.PriorityHigh {
		t.Errorf("Expected zero reorder point to grade HIGH, got %s", got)
	}
}

func TestSuggestedQuantity(t *testing.T) {
	withQty := core.ReorderRule{ReorderPoint: n(20), ReorderQuantity: n(50), SafetyStock: n(5)}
	requireDecimal(t, "configured quantity", core.SuggestedQuantity(n(3), withQty), n(50))

	withoutQty := core.ReorderRule{ReorderPoint: n(20), SafetyStock: n(5)}
	requireDecimal(t, "top-up quantity", core.SuggestedQuantity(n(3), withoutQty), n(22))
}

func TestReorderMonitor_AlertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	mustReceive(t, f.ctx, f.ledger, key("P", "WH1"), n(10), n(1))
	rule := f.rule(t, "P", 20, 100)

	first, created, err := f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || !created || first == nil {
		t.Fatalf("Expected a new alert, got %v, %v, %v", first, created, err)
	}
	requireDecimal(t, "current quantity", first.CurrentQuantity, n(10))
	requireDecimal(t, "suggested quantity", first.SuggestedOrderQty, n(100))
	if !first.NotificationSent || len(f.rec.alerts) != 1 {
		t.Errorf("Expected one notification, sent=%v count=%d", first.NotificationSent, len(f.rec.alerts))
	}

	again, created, err := f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil {
		t.Fatalf("CheckAndGenerateAlert failed: %v", err)
	}
	if created || again.ID != first.ID {
		t.Errorf("Expected the existing alert back, got created=%v id=%s", created, again.ID)
	}

	open, _ := f.monitor.OpenAlerts(f.ctx, "ORG1")
	if len(open) != 1 {
		t.Errorf("Expected 1 open alert, got %d", len(open))
	}
	stored, _ := f.monitor.GetRule(f.ctx, rule.ID)
	if stored.TriggerCount != 1 || stored.LastTriggeredAt == nil {
		t.Errorf("Expected rule triggered once, got %d", stored.TriggerCount)
	}
}

func TestReorderMonitor_AboveReorderPoint(t *testing.T) {
	f := newFixture(t)
	mustReceive(t, f.ctx, f.ledger, key("P", "WH1"), n(30), n(1))
	rule := f.rule(t, "P", 20, 0)

	alert, created, err := f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || alert != nil || created {
		t.Errorf("Expected no alert above the reorder point, got %v, %v, %v", alert, created, err)
	}

	// Reservations count against availability.
	if _, err := f.ledger.Allocate(f.ctx, key("P", "WH1"), n(10), core.SourceRef{}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	alert, created, err = f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || !created {
		t.Fatalf("Expected alert at the reorder point, got %v, %v", created, err)
	}
	requireDecimal(t, "current quantity", alert.CurrentQuantity, n(20))
}

func TestReorderMonitor_AcknowledgeAndClose(t *testing.T) {
	f := newFixture(t)
	rule := f.rule(t, "P", 5, 10)

	alert, created, err := f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || !created {
		t.Fatalf("Expected alert for a position that does not exist yet, got %v, %v", created, err)
	}

	acked, err := f.monitor.Acknowledge(f.ctx, alert.ID, "buyer")
	if err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if acked.Status != core.AlertAcknowledged || acked.AcknowledgedBy != "buyer" {
		t.Errorf("Unexpected acknowledged alert %+v", acked)
	}
	if _, err := f.monitor.Acknowledge(f.ctx, alert.ID, "buyer"); !errors.Is(err, core.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition acknowledging twice, got %v", err)
	}

	// An acknowledged alert still covers the position.
	if _, created, _ := f.monitor.CheckAndGenerateAlert(f.ctx, rule); created {
		t.Error("Expected no new alert while the old one is acknowledged")
	}

	closed, err := f.monitor.Close(f.ctx, alert.ID, "PO-77 placed", "buyer")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != core.AlertClosed || closed.Notes != "PO-77 placed" {
		t.Errorf("Unexpected closed alert %+v", closed)
	}
	if _, err := f.monitor.Close(f.ctx, alert.ID, "", "buyer"); !errors.Is(err, core.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition closing twice, got %v", err)
	}

	fresh, created, err := f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || !created || fresh.ID == alert.ID {
		t.Errorf("Expected a new alert after closing, got %v, %v", created, err)
	}
}

func TestReorderMonitor_NotificationFailureKeepsAlert(t *testing.T) {
	f := newFixture(t)
	f.rec.failWith = errors.New("smtp down")
	rule := f.rule(t, "P", 5, 10)

	alert, created, err := f.monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || !created {
		t.Fatalf("Expected alert despite notifier failure, got %v, %v", created, err)
	}
	if alert.NotificationSent {
		t.Error("Expected NotificationSent to stay false")
	}
	stored, err := f.monitor.GetAlert(f.ctx, alert.ID)
	if err != nil || stored.Status != core.AlertOpen {
		t.Errorf("Expected stored OPEN alert, got %v", err)
	}
}

// closingNotifier closes the alert it is told about before returning.
type closingNotifier struct {
	monitor *core.ReorderMonitor
	err     error
}

func (c *closingNotifier) NotifyReorderAlert(ctx context.Context, alert core.ReorderAlert) error {
	_, c.err = c.monitor.Close(ctx, alert.ID, "handled by phone", "buyer")
	return nil
}

func TestReorderMonitor_NotificationKeepsConcurrentClose(t *testing.T) {
	f := newFixture(t)
	notifier := &closingNotifier{}
	monitor := core.NewReorderMonitor(f.stores.Reorder, f.ledger, notifier, time.Hour, core.WithClock(f.clock.Now))
	notifier.monitor = monitor

	rule, err := monitor.UpsertRule(f.ctx, core.ReorderRuleInput{OrgID: "ORG1", ProductID: "P", WarehouseID: "WH1", ReorderPoint: n(5)})
	if err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}
	alert, created, err := monitor.CheckAndGenerateAlert(f.ctx, rule)
	if err != nil || !created {
		t.Fatalf("Expected new alert, got %v, %v", created, err)
	}
	if notifier.err != nil {
		t.Fatalf("Close during notification failed: %v", notifier.err)
	}

	stored, err := monitor.GetAlert(f.ctx, alert.ID)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if stored.Status != core.AlertClosed || stored.ClosedBy != "buyer" {
		t.Errorf("Expected close to survive the notification, got %s by %q", stored.Status, stored.ClosedBy)
	}
	if !stored.NotificationSent {
		t.Error("Expected NotificationSent to be recorded")
	}
}

func TestReorderMonitor_CheckAllSkipsInactiveRules(t *testing.T) {
	f := newFixture(t)
	mustReceive(t, f.ctx, f.ledger, key("HIGH", "WH1"), n(500), n(1))
	f.rule(t, "LOW", 10, 50)
	f.rule(t, "HIGH", 10, 50)
	off := f.rule(t, "OFF", 10, 50)
	if _, err := f.monitor.SetRuleActive(f.ctx, off.ID, false); err != nil {
		t.Fatalf("SetRuleActive failed: %v", err)
	}

	summary, err := f.monitor.CheckAll(f.ctx)
	if err != nil {
		t.Fatalf("CheckAll failed: %v", err)
	}
	if summary.Rules != 2 || summary.Triggered != 1 || summary.Created != 1 || summary.Failed != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	if _, _, err := f.monitor.CheckNow(f.ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReorderMonitor_UpsertRuleUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	first := f.rule(t, "P", 10, 50)
	second := f.rule(t, "P", 15, 60)
	if first.ID != second.ID {
		t.Errorf("Expected the rule to be updated in place, got %s and %s", first.ID, second.ID)
	}
	requireDecimal(t, "reorder point", second.ReorderPoint, n(15))

	if _, err := f.monitor.UpsertRule(f.ctx, core.ReorderRuleInput{
		OrgID: "ORG1", ProductID: "P", WarehouseID: "WH1", ReorderPoint: n(-1),
	}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestReorderMonitor_RunSweepsUntilCancelled(t *testing.T) {
	stores := memory.NewStores()
	ledger := core.NewStockLedger(stores.Stock)
	monitor := core.NewReorderMonitor(stores.Reorder, ledger, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := monitor.UpsertRule(ctx, core.ReorderRuleInput{
		OrgID: "ORG1", ProductID: "P", WarehouseID: "WH1", ReorderPoint: n(5),
	}); err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		open, _ := monitor.OpenAlerts(ctx, "ORG1")
		if len(open) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected the monitor to raise an alert")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected Run to stop cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
