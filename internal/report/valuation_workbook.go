// Package report renders inventory data as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"production-ledger/internal/core"

	"github.com/xuri/excelize/v2"
)

const (
	ValuationSheet = "Valuation"
	SummarySheet   = "Summary"
)

var valuationHeaders = []string{
	"Product", "Warehouse", "On Hand", "Allocated", "Available", "Unit Cost", "Total Cost", "Last Movement",
}

// BuildValuationWorkbook lays out one row per position followed by a totals
// row, plus a summary sheet with the organization totals.
func BuildValuationWorkbook(orgID string, positions []core.StockPosition, total core.InventoryValue, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ValuationSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("summary style: %w", err)
	}

	for i, h := range valuationHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(ValuationSheet, cell, h)
		f.SetCellStyle(ValuationSheet, cell, cell, headerStyle)
	}

	for i, p := range positions {
		row := i + 2
		f.SetCellValue(ValuationSheet, fmt.Sprintf("A%d", row), p.ProductID)
		f.SetCellValue(ValuationSheet, fmt.Sprintf("B%d", row), p.WarehouseID)
		f.SetCellValue(ValuationSheet, fmt.Sprintf("C%d", row), p.OnHand.InexactFloat64())
		f.SetCellValue(ValuationSheet, fmt.Sprintf("D%d", row), p.Allocated.InexactFloat64())
		f.SetCellValue(ValuationSheet, fmt.Sprintf("E%d", row), p.Available.InexactFloat64())
		f.SetCellValue(ValuationSheet, fmt.Sprintf("F%d", row), p.UnitCost.InexactFloat64())
		f.SetCellValue(ValuationSheet, fmt.Sprintf("G%d", row), p.TotalCost.InexactFloat64())
		if p.LastMovementAt != nil {
			f.SetCellValue(ValuationSheet, fmt.Sprintf("H%d", row), p.LastMovementAt.UTC().Format(time.RFC3339))
		}
	}

	totalRow := len(positions) + 2
	f.SetCellValue(ValuationSheet, fmt.Sprintf("A%d", totalRow), "Total")
	f.SetCellValue(ValuationSheet, fmt.Sprintf("C%d", totalRow), total.TotalQuantity.InexactFloat64())
	f.SetCellValue(ValuationSheet, fmt.Sprintf("G%d", totalRow), total.TotalValue.InexactFloat64())
	f.SetCellStyle(ValuationSheet, fmt.Sprintf("A%d", totalRow), fmt.Sprintf("H%d", totalRow), boldStyle)

	colWidths := []float64{18, 14, 12, 12, 12, 12, 14, 22}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(ValuationSheet, col, col, w)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][2]any{
		{"Organization", orgID},
		{"Positions", total.ItemCount},
		{"Total Quantity", total.TotalQuantity.InexactFloat64()},
		{"Total Value", total.TotalValue.InexactFloat64()},
		{"Generated At", generatedAt.UTC().Format(time.RFC3339)},
	}
	for i, kv := range summary {
		row := i + 1
		f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", row), kv[0])
		f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", row), kv[1])
	}
	f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(summary)), boldStyle)
	f.SetColWidth(SummarySheet, "A", "A", 16)
	f.SetColWidth(SummarySheet, "B", "B", 28)

	return f, nil
}

// WriteValuationWorkbook builds the workbook and streams it to w as xlsx.
func WriteValuationWorkbook(w io.Writer, orgID string, positions []core.StockPosition, total core.InventoryValue, generatedAt time.Time) error {
	f, err := BuildValuationWorkbook(orgID, positions, total, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// ValuationFilename names the export for orgID on day.
func ValuationFilename(orgID string, day time.Time) string {
	return fmt.Sprintf("valuation_%s_%s.xlsx", orgID, day.Format("20060102"))
}
