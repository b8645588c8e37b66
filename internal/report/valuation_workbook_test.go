package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/report"
	"production-ledger/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestWriteValuationWorkbook(t *testing.T) {
	ctx := context.Background()
	stock := memory.NewStockStore()
	ledger := core.NewStockLedger(stock)
	valuation := core.NewValuationEngine(stock)

	receipts := []struct {
		product, warehouse string
		qty, cost          int64
	}{
		{"BOLT", "WH1", 100, 2},
		{"NUT", "WH1", 50, 1},
		{"BOLT", "WH2", 10, 3},
	}
	for _, r := range receipts {
		k := core.PositionKey{OrgID: "ORG1", ProductID: r.product, WarehouseID: r.warehouse}
		if _, err := ledger.Receive(ctx, k, decimal.NewFromInt(r.qty), decimal.NewFromInt(r.cost), core.SourceRef{}); err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
	}

	positions, err := ledger.Positions(ctx, "ORG1")
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	total, err := valuation.TotalInventoryValue(ctx, "ORG1")
	if err != nil {
		t.Fatalf("TotalInventoryValue failed: %v", err)
	}

	var buf bytes.Buffer
	generated := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if err := report.WriteValuationWorkbook(&buf, "ORG1", positions, total, generated); err != nil {
		t.Fatalf("WriteValuationWorkbook failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(report.ValuationSheet)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	// header + 3 positions + total
	if len(rows) != 5 {
		t.Fatalf("Expected 5 rows, got %d", len(rows))
	}
	if rows[0][0] != "Product" || rows[4][0] != "Total" {
		t.Errorf("Unexpected header/total rows: %v / %v", rows[0], rows[4])
	}
	if got, _ := f.GetCellValue(report.ValuationSheet, "G5"); got != "280" {
		t.Errorf("Expected total value 280, got %s", got)
	}
	if got, _ := f.GetCellValue(report.SummarySheet, "B2"); got != "3" {
		t.Errorf("Expected 3 positions in summary, got %s", got)
	}
	if got, _ := f.GetCellValue(report.SummarySheet, "B5"); got != "2026-03-02T08:00:00Z" {
		t.Errorf("Unexpected generated timestamp %s", got)
	}
}

func TestValuationFilename(t *testing.T) {
	got := report.ValuationFilename("ORG1", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	if got != "valuation_ORG1_20260302.xlsx" {
		t.Errorf("Unexpected filename %s", got)
	}
}
