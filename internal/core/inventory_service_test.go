package core_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"production-ledger/internal/core"
	"production-ledger/internal/store/memory"

	"github.com/shopspring/decimal"
)

func newLedger(t *testing.T) (*core.StockLedger, *stepClock, context.Context) {
	t.Helper()
	clock := newStepClock()
	return core.NewStockLedger(memory.NewStockStore(), core.WithClock(clock.Now)), clock, context.Background()
}

func TestStockLedger_ReceiveWeightedAverage(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")

	mustReceive(t, ctx, ledger, k, n(100), n(200))
	pos := mustReceive(t, ctx, ledger, k, n(100), n(300))

	requireDecimal(t, "on hand", pos.OnHand, n(200))
	requireDecimal(t, "unit cost", pos.UnitCost, n(250))
	requireDecimal(t, "total cost", pos.TotalCost, n(50000))
	requireDecimal(t, "available", pos.Available, n(200))

	movements, err := ledger.Movements(ctx, k, core.MovementFilter{})
	if err != nil {
		t.Fatalf("Movements failed: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("Expected 2 movements, got %d", len(movements))
	}
	if movements[1].Type != core.MovementReceipt {
		t.Errorf("Expected RECEIPT, got %s", movements[1].Type)
	}
	// The movement keeps the cost it arrived at, not the blended average.
	requireDecimal(t, "receipt unit cost", movements[1].UnitCost, n(300))
	if movements[0].Seq >= movements[1].Seq {
		t.Errorf("Expected increasing seq, got %d then %d", movements[0].Seq, movements[1].Seq)
	}
}

func TestStockLedger_ReceiveRejectsBadInput(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")

	if _, err := ledger.Receive(ctx, k, n(0), n(1), core.SourceRef{}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero quantity, got %v", err)
	}
	if _, err := ledger.Receive(ctx, k, n(1), n(-1), core.SourceRef{}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for negative cost, got %v", err)
	}
	if _, err := ledger.Receive(ctx, core.PositionKey{OrgID: "ORG1"}, n(1), n(1), core.SourceRef{}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for incomplete key, got %v", err)
	}
}

func TestStockLedger_IssueInsufficient(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")
	mustReceive(t, ctx, ledger, k, n(10), n(1))

	_, err := ledger.Issue(ctx, k, n(11), core.SourceRef{Type: "SALE", ID: "SO-1"})
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}
	var ise *core.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("Expected *InsufficientStockError, got %T", err)
	}
	requireDecimal(t, "reported available", ise.Available, n(10))
	requireDecimal(t, "reported required", ise.Required, n(11))

	pos := mustPosition(t, ctx, ledger, k)
	requireDecimal(t, "on hand after failed issue", pos.OnHand, n(10))

	if _, err := ledger.Issue(ctx, key("UNKNOWN", "WH1"), n(1), core.SourceRef{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown position, got %v", err)
	}
}

func TestStockLedger_IssueUsesCurrentCost(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")
	mustReceive(t, ctx, ledger, k, n(10), d("2.5"))

	pos, err := ledger.Issue(ctx, k, n(4), core.SourceRef{Type: "SALE", ID: "SO-1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	requireDecimal(t, "on hand", pos.OnHand, n(6))
	requireDecimal(t, "unit cost", pos.UnitCost, d("2.5"))

	movements, _ := ledger.Movements(ctx, k, core.MovementFilter{Types: []core.MovementType{core.MovementIssue}})
	if len(movements) != 1 {
		t.Fatalf("Expected 1 issue movement, got %d", len(movements))
	}
	requireDecimal(t, "issue quantity", movements[0].Quantity, n(-4))
	requireDecimal(t, "issue total", movements[0].TotalCost, n(-10))
}

func TestStockLedger_AllocateDeallocate(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")
	mustReceive(t, ctx, ledger, k, n(50), n(1))
	ref := core.SourceRef{Type: "WORK_ORDER", ID: "WO-1"}

	pos, err := ledger.Allocate(ctx, k, n(20), ref)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	requireDecimal(t, "allocated", pos.Allocated, n(20))
	requireDecimal(t, "available", pos.Available, n(30))

	if _, err := ledger.Allocate(ctx, k, n(31), ref); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got %v", err)
	}
	if _, err := ledger.Allocate(ctx, key("P-200", "WH1"), n(1), ref); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock for missing position, got %v", err)
	}

	pos, err = ledger.Deallocate(ctx, k, n(100), ref)
	if err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}
	requireDecimal(t, "allocated after over-release", pos.Allocated, decimal.Zero)
	requireDecimal(t, "available after over-release", pos.Available, n(50))

	movements, _ := ledger.Movements(ctx, k, core.MovementFilter{})
	if len(movements) != 1 {
		t.Errorf("Expected allocation to write no movements, got %d", len(movements))
	}
}

func TestStockLedger_IssueAllocatedConsumesReservation(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")
	ref := core.SourceRef{Type: "WORK_ORDER", ID: "WO-1"}
	mustReceive(t, ctx, ledger, k, n(100), n(10))

	if _, err := ledger.Allocate(ctx, k, n(30), ref); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	pos, err := ledger.IssueAllocated(ctx, k, n(30), ref)
	if err != nil {
		t.Fatalf("IssueAllocated failed: %v", err)
	}
	requireDecimal(t, "on hand", pos.OnHand, n(70))
	requireDecimal(t, "allocated", pos.Allocated, decimal.Zero)
	requireDecimal(t, "available", pos.Available, n(70))

	if _, err := ledger.Allocate(ctx, k, n(10), ref); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	pos, err = ledger.IssueAllocated(ctx, k, n(15), ref)
	if err != nil {
		t.Fatalf("IssueAllocated with excess failed: %v", err)
	}
	requireDecimal(t, "on hand after excess", pos.OnHand, n(55))
	requireDecimal(t, "allocated after excess", pos.Allocated, decimal.Zero)

	if _, err := ledger.IssueAllocated(ctx, k, n(56), ref); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got %v", err)
	}
}

func TestStockLedger_Adjust(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")
	mustReceive(t, ctx, ledger, k, n(10), n(5))

	pos, err := ledger.Adjust(ctx, k, n(7), "cycle count", "alice")
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	requireDecimal(t, "on hand", pos.OnHand, n(7))

	adjustments, _ := ledger.Movements(ctx, k, core.MovementFilter{Types: []core.MovementType{core.MovementAdjustment}})
	if len(adjustments) != 1 {
		t.Fatalf("Expected 1 adjustment, got %d", len(adjustments))
	}
	requireDecimal(t, "adjustment quantity", adjustments[0].Quantity, n(-3))
	requireDecimal(t, "adjustment total", adjustments[0].TotalCost, n(-15))
	if adjustments[0].Reason != "cycle count" || adjustments[0].Actor != "alice" {
		t.Errorf("Expected reason and actor recorded, got %q/%q", adjustments[0].Reason, adjustments[0].Actor)
	}

	if _, err := ledger.Adjust(ctx, k, n(7), "recount", "alice"); err != nil {
		t.Fatalf("No-op Adjust failed: %v", err)
	}
	all, _ := ledger.Movements(ctx, k, core.MovementFilter{})
	if len(all) != 2 {
		t.Errorf("Expected an unchanged count to write nothing, got %d movements", len(all))
	}

	if _, err := ledger.Allocate(ctx, k, n(5), core.SourceRef{}); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if _, err := ledger.Adjust(ctx, k, n(4), "damage", "bob"); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock below allocated, got %v", err)
	}
	if _, err := ledger.Adjust(ctx, k, n(-1), "typo", "bob"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for negative target, got %v", err)
	}
}

func TestStockLedger_Transfer(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	mustReceive(t, ctx, ledger, key("P-100", "WH1"), n(10), n(4))
	mustReceive(t, ctx, ledger, key("P-100", "WH2"), n(10), n(10))

	from, to, err := ledger.Transfer(ctx, "ORG1", "P-100", "WH1", "WH2", n(5), core.SourceRef{Type: "TRANSFER", ID: "TR-1"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	requireDecimal(t, "source on hand", from.OnHand, n(5))
	requireDecimal(t, "source unit cost", from.UnitCost, n(4))
	requireDecimal(t, "destination on hand", to.OnHand, n(15))
	requireDecimal(t, "destination unit cost", to.UnitCost, n(8))

	if _, _, err := ledger.Transfer(ctx, "ORG1", "P-100", "WH1", "WH3", n(6), core.SourceRef{}); !errors.Is(err, core.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got %v", err)
	}
	if _, err := ledger.Position(ctx, key("P-100", "WH3")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected failed transfer to leave no destination, got %v", err)
	}
	if _, _, err := ledger.Transfer(ctx, "ORG1", "P-100", "WH1", "WH1", n(1), core.SourceRef{}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for same warehouse, got %v", err)
	}

	for _, wh := range []string{"WH1", "WH2"} {
		rec, err := ledger.Reconcile(ctx, key("P-100", wh))
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if !rec.Balanced {
			t.Errorf("Expected %s balanced, on hand %s vs movements %s", wh, rec.OnHand, rec.MovementSum)
		}
	}
}

func TestStockLedger_CheckAvailability(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	k := key("P-100", "WH1")

	ok, err := ledger.CheckAvailability(ctx, k, n(1))
	if err != nil || ok {
		t.Errorf("Expected missing position to be unavailable, got %v, %v", ok, err)
	}
	mustReceive(t, ctx, ledger, k, n(10), n(1))
	if ok, _ := ledger.CheckAvailability(ctx, k, n(10)); !ok {
		t.Error("Expected 10 to be available")
	}
	if ok, _ := ledger.CheckAvailability(ctx, k, n(11)); ok {
		t.Error("Expected 11 to be unavailable")
	}
}

// A long random operation sequence must keep every position consistent and
// reconcilable with its movement log.
func TestStockLedger_RandomSequenceConservesQuantity(t *testing.T) {
	ledger, _, ctx := newLedger(t)
	rng := rand.New(rand.NewSource(42))
	keys := []core.PositionKey{key("P-1", "WH1"), key("P-2", "WH1"), key("P-1", "WH2")}
	ref := core.SourceRef{Type: "TEST", ID: "RANDOM"}

	for i := 0; i < 2000; i++ {
		k := keys[rng.Intn(len(keys))]
		qty := n(int64(rng.Intn(60) + 1))
		var err error
		switch rng.Intn(6) {
		case 0:
			_, err = ledger.Receive(ctx, k, qty, n(int64(rng.Intn(20)+1)), ref)
		case 1:
			_, err = ledger.Issue(ctx, k, qty, ref)
		case 2:
			_, err = ledger.Allocate(ctx, k, qty, ref)
		case 3:
			_, err = ledger.Deallocate(ctx, k, qty, ref)
		case 4:
			_, err = ledger.IssueAllocated(ctx, k, qty, ref)
		case 5:
			_, err = ledger.Adjust(ctx, k, n(int64(rng.Intn(100))), "recount", "test")
		}
		if err != nil && !errors.Is(err, core.ErrInsufficientStock) && !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}

		pos, err := ledger.Position(ctx, k)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			t.Fatalf("Position failed: %v", err)
		}
		if pos.OnHand.IsNegative() || pos.Allocated.IsNegative() || pos.Available.IsNegative() {
			t.Fatalf("step %d: negative quantity in %+v", i, pos)
		}
		if !pos.Available.Equal(pos.OnHand.Sub(pos.Allocated)) {
			t.Fatalf("step %d: available %s != on hand %s - allocated %s", i, pos.Available, pos.OnHand, pos.Allocated)
		}
	}

	for _, k := range keys {
		rec, err := ledger.Reconcile(ctx, k)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
		if !rec.Balanced {
			t.Errorf("Expected %s balanced, on hand %s vs movements %s", k, rec.OnHand, rec.MovementSum)
		}
	}
}

func TestStockLedger_ConcurrentReceivesSameKey(t *testing.T) {
	ledger := core.NewStockLedger(memory.NewStockStore())
	ctx := context.Background()
	k := key("P-100", "WH1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Receive(ctx, k, n(2), n(3), core.SourceRef{Type: "TEST"}); err != nil {
				t.Errorf("Receive failed: %v", err)
			}
		}()
	}
	wg.Wait()

	pos := mustPosition(t, ctx, ledger, k)
	requireDecimal(t, "on hand", pos.OnHand, n(100))
	requireDecimal(t, "unit cost", pos.UnitCost, n(3))

	rec, err := ledger.Reconcile(ctx, k)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rec.Movements != 50 || !rec.Balanced {
		t.Errorf("Expected 50 balanced movements, got %d (balanced=%v)", rec.Movements, rec.Balanced)
	}
}
