package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/store/memory"
)

func TestValuation_SingleLayerMethodsAgree(t *testing.T) {
	clock := newStepClock()
	store := memory.NewStockStore()
	ledger := core.NewStockLedger(store, core.WithClock(clock.Now))
	valuation := core.NewValuationEngine(store)
	ctx := context.Background()
	k := key("P-100", "WH1")

	mustReceive(t, ctx, ledger, k, n(40), d("12.5"))

	for _, method := range []core.CostingMethod{core.CostingWeightedAverage, core.CostingFIFO, core.CostingLIFO} {
		res, err := valuation.COGS(ctx, method, k, n(40), time.Time{})
		if err != nil {
			t.Fatalf("COGS(%s) failed: %v", method, err)
		}
		requireDecimal(t, string(method)+" amount", res.Amount, n(500))
		if res.Warning != nil {
			t.Errorf("Expected no warning for %s, got %v", method, res.Warning)
		}
	}
}

func TestValuation_FIFOAndLIFOLayerOrder(t *testing.T) {
	clock := newStepClock()
	store := memory.NewStockStore()
	ledger := core.NewStockLedger(store, core.WithClock(clock.Now))
	valuation := core.NewValuationEngine(store)
	ctx := context.Background()
	k := key("P-100", "WH1")

	mustReceive(t, ctx, ledger, k, n(10), n(1))
	mustReceive(t, ctx, ledger, k, n(10), n(2))
	mustReceive(t, ctx, ledger, k, n(10), n(3))

	fifo, err := valuation.FIFOCOGS(ctx, k, n(15), time.Time{})
	if err != nil {
		t.Fatalf("FIFOCOGS failed: %v", err)
	}
	requireDecimal(t, "fifo amount", fifo.Amount, n(20))
	if len(fifo.Layers) != 2 {
		t.Fatalf("Expected fifo to touch 2 layers, got %d", len(fifo.Layers))
	}
	requireDecimal(t, "first fifo layer cost", fifo.Layers[0].UnitCost, n(1))

	lifo, err := valuation.LIFOCOGS(ctx, k, n(15), time.Time{})
	if err != nil {
		t.Fatalf("LIFOCOGS failed: %v", err)
	}
	requireDecimal(t, "lifo amount", lifo.Amount, n(40))
	requireDecimal(t, "first lifo layer cost", lifo.Layers[0].UnitCost, n(3))

	wac, err := valuation.WeightedAverageCOGS(ctx, k, n(15))
	if err != nil {
		t.Fatalf("WeightedAverageCOGS failed: %v", err)
	}
	requireDecimal(t, "weighted average amount", wac, n(30))
}

func TestValuation_AsOfCutoffAndShortfall(t *testing.T) {
	clock := newStepClock()
	store := memory.NewStockStore()
	ledger := core.NewStockLedger(store, core.WithClock(clock.Now))
	valuation := core.NewValuationEngine(store)
	ctx := context.Background()
	k := key("P-100", "WH1")

	mustReceive(t, ctx, ledger, k, n(10), n(1))
	mustReceive(t, ctx, ledger, k, n(10), n(2))
	cutoff := clock.Peek()
	mustReceive(t, ctx, ledger, k, n(10), n(3))

	res, err := valuation.FIFOCOGS(ctx, k, n(25), cutoff)
	if err != nil {
		t.Fatalf("FIFOCOGS failed: %v", err)
	}
	requireDecimal(t, "amount", res.Amount, n(30))
	requireDecimal(t, "costed quantity", res.CostedQuantity, n(20))
	requireDecimal(t, "shortfall", res.Shortfall, n(5))
	if res.Warning == nil {
		t.Fatal("Expected an integrity warning when layers run out")
	}
	if !errors.Is(res.Warning, core.ErrIntegrityWarning) {
		t.Errorf("Expected warning to unwrap to ErrIntegrityWarning, got %v", res.Warning)
	}

	full, err := valuation.LIFOCOGS(ctx, k, n(25), time.Time{})
	if err != nil {
		t.Fatalf("LIFOCOGS failed: %v", err)
	}
	// 10@3 + 10@2 + 5@1
	requireDecimal(t, "lifo amount without cutoff", full.Amount, n(55))
	if full.Warning != nil {
		t.Errorf("Expected no warning without cutoff, got %v", full.Warning)
	}
}

func TestValuation_InboundTransferIsALayer(t *testing.T) {
	clock := newStepClock()
	store := memory.NewStockStore()
	ledger := core.NewStockLedger(store, core.WithClock(clock.Now))
	valuation := core.NewValuationEngine(store)
	ctx := context.Background()

	mustReceive(t, ctx, ledger, key("P-100", "WH1"), n(10), n(7))
	if _, _, err := ledger.Transfer(ctx, "ORG1", "P-100", "WH1", "WH2", n(4), core.SourceRef{Type: "TRANSFER"}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	res, err := valuation.FIFOCOGS(ctx, key("P-100", "WH2"), n(4), time.Time{})
	if err != nil {
		t.Fatalf("FIFOCOGS failed: %v", err)
	}
	requireDecimal(t, "amount", res.Amount, n(28))

	// The outbound side of the transfer is not a layer of the source.
	src, err := valuation.FIFOCOGS(ctx, key("P-100", "WH1"), n(10), time.Time{})
	if err != nil {
		t.Fatalf("FIFOCOGS failed: %v", err)
	}
	requireDecimal(t, "source amount", src.Amount, n(70))
}

func TestValuation_TotalInventoryValue(t *testing.T) {
	clock := newStepClock()
	store := memory.NewStockStore()
	ledger := core.NewStockLedger(store, core.WithClock(clock.Now))
	valuation := core.NewValuationEngine(store)
	ctx := context.Background()

	mustReceive(t, ctx, ledger, key("P-100", "WH1"), n(10), n(3))
	mustReceive(t, ctx, ledger, key("P-200", "WH1"), n(5), n(4))
	mustReceive(t, ctx, ledger, core.PositionKey{OrgID: "ORG2", ProductID: "P-100", WarehouseID: "WH1"}, n(99), n(99))

	v, err := valuation.TotalInventoryValue(ctx, "ORG1")
	if err != nil {
		t.Fatalf("TotalInventoryValue failed: %v", err)
	}
	requireDecimal(t, "total value", v.TotalValue, n(50))
	requireDecimal(t, "total quantity", v.TotalQuantity, n(15))
	if v.ItemCount != 2 {
		t.Errorf("Expected 2 items, got %d", v.ItemCount)
	}
}

func TestParseCostingMethod(t *testing.T) {
	cases := map[string]core.CostingMethod{
		"fifo":             core.CostingFIFO,
		"LIFO":             core.CostingLIFO,
		"wac":              core.CostingWeightedAverage,
		"WEIGHTED_AVERAGE": core.CostingWeightedAverage,
	}
	for in, want := range cases {
		got, err := core.ParseCostingMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseCostingMethod(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := core.ParseCostingMethod("standard"); !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}
