package cli

import (
	"fmt"
	"io"
	"strings"

	"production-ledger/internal/app"
	"production-ledger/internal/core"
)

func printPosition(w io.Writer, p core.StockPosition) {
	fmt.Fprintf(w, "%s  on hand %s  allocated %s  available %s  @ %s  = %s\n",
		p.PositionKey, p.OnHand, p.Allocated, p.Available, p.UnitCost.StringFixed(4), p.TotalCost.StringFixed(2))
}

func printStock(w io.Writer, res *app.StockResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 84))
	fmt.Fprintf(w, "  STOCK LEVELS - %s\n", res.OrgID)
	fmt.Fprintln(w, strings.Repeat("=", 84))
	if len(res.Positions) == 0 {
		fmt.Fprintln(w, "  No stock positions found.")
		fmt.Fprintln(w, strings.Repeat("=", 84))
		return
	}
	fmt.Fprintf(w, "  %-14s %-8s %10s %10s %10s %12s %12s\n", "PRODUCT", "WH", "ON HAND", "ALLOCATED", "AVAILABLE", "UNIT COST", "VALUE")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for _, p := range res.Positions {
		fmt.Fprintf(w, "  %-14s %-8s %10s %10s %10s %12s %12s\n",
			p.ProductID, p.WarehouseID, p.OnHand, p.Allocated, p.Available, p.UnitCost.StringFixed(4), p.TotalCost.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("=", 84))
}

func printMovements(w io.Writer, res *app.MovementsResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 90))
	fmt.Fprintf(w, "  MOVEMENTS - %s\n", res.Key)
	fmt.Fprintln(w, strings.Repeat("=", 90))
	fmt.Fprintf(w, "  %-20s %-12s %10s %12s  %s\n", "TIMESTAMP", "TYPE", "QTY", "UNIT COST", "SOURCE")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, m := range res.Movements {
		fmt.Fprintf(w, "  %-20s %-12s %10s %12s  %s %s\n",
			m.Timestamp.Format("2006-01-02 15:04:05"), m.Type, m.Quantity, m.UnitCost.StringFixed(4), m.SourceType, m.SourceID)
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
	r := res.Reconciliation
	state := "balanced"
	if !r.Balanced {
		state = "OUT OF BALANCE"
	}
	fmt.Fprintf(w, "  on hand %s, movement sum %s over %d movements: %s\n", r.OnHand, r.MovementSum, r.Movements, state)
	fmt.Fprintln(w, strings.Repeat("=", 90))
}

func printBom(w io.Writer, res *app.BomResult) {
	b := res.Bom
	fmt.Fprintf(w, "\nBOM:       %s v%d (%s)\n", b.BomNumber, b.Version, b.ID)
	fmt.Fprintf(w, "PRODUCT:   %s per %s\n", b.ProductID, b.BaseQuantity)
	fmt.Fprintf(w, "STATUS:    %s\n", b.Status)
	fmt.Fprintf(w, "COST:      material %s + labor %s + overhead %s = %s\n",
		b.MaterialCost.StringFixed(2), b.LaborCost.StringFixed(2), b.OverheadCost.StringFixed(2), b.TotalCost.StringFixed(2))
	if len(res.Lines) > 0 {
		fmt.Fprintln(w, "LINES:")
		for _, l := range res.Lines {
			parent := "-"
			if l.ParentLineID != "" {
				parent = l.ParentLineID
			}
			fmt.Fprintf(w, "  %4d %-14s x %-8s @ %-10s parent %s  (%s)\n",
				l.Sequence, l.ComponentID, l.QuantityPerUnit, l.UnitCost.StringFixed(4), parent, l.ID)
		}
	}
	if len(b.Routing) > 0 {
		fmt.Fprintln(w, "ROUTING:")
		for _, r := range b.Routing {
			fmt.Fprintf(w, "  %4d %-10s %s\n", r.Sequence, r.WorkCenterCode, r.Description)
		}
	}
}

func printExplosion(w io.Writer, e *core.Explosion) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "  EXPLOSION - %s x %s\n", e.BomID, e.Quantity)
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "  %-5s %-20s %12s %12s %12s\n", "LEVEL", "COMPONENT", "REQUIRED", "UNIT COST", "EXTENDED")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, entry := range e.Entries {
		indent := strings.Repeat("  ", max(entry.Level-1, 0))
		fmt.Fprintf(w, "  %-5d %-20s %12s %12s %12s\n",
			entry.Level, indent+entry.ComponentID, entry.RequiredQuantity, entry.UnitCost.StringFixed(4), entry.ExtendedCost.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("-", 72))
	fmt.Fprintf(w, "  %-5s %-20s %38s\n", "", "MATERIAL COST", e.MaterialCost.StringFixed(2))
	if len(e.SkippedLines) > 0 {
		fmt.Fprintf(w, "  skipped lines: %s\n", strings.Join(e.SkippedLines, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func printWorkOrder(w io.Writer, wo *core.WorkOrder) {
	fmt.Fprintf(w, "\nWORK ORDER: %s (%s)\n", wo.WorkOrderNumber, wo.ID)
	fmt.Fprintf(w, "PRODUCT:    %s  planned %s  completed %s  scrapped %s\n",
		wo.ProductID, wo.QuantityPlanned, wo.QuantityCompleted, wo.QuantityScrapped)
	fmt.Fprintf(w, "STATUS:     %s  %s%%\n", wo.Status, wo.CompletionPercentage.StringFixed(0))
	fmt.Fprintf(w, "WAREHOUSES: %s -> %s\n", wo.SourceWarehouseID, wo.TargetWarehouseID)
	fmt.Fprintf(w, "COST:       material %s + labor %s + overhead %s = %s\n",
		wo.MaterialCost.StringFixed(2), wo.LaborCost.StringFixed(2), wo.OverheadCost.StringFixed(2), wo.TotalCost.StringFixed(2))
	if len(wo.Materials) > 0 {
		fmt.Fprintln(w, "MATERIALS:")
		for _, m := range wo.Materials {
			fmt.Fprintf(w, "  %-14s req %-8s res %-8s iss %-8s con %-8s %s\n",
				m.ComponentID, m.QuantityRequired, m.QuantityReserved, m.QuantityIssued, m.QuantityConsumed, m.Status)
		}
	}
	if len(wo.Operations) > 0 {
		fmt.Fprintln(w, "OPERATIONS:")
		for _, op := range wo.Operations {
			fmt.Fprintf(w, "  %4d %-10s %-12s labor %s overhead %s\n",
				op.Sequence, op.WorkCenterCode, op.Status, op.LaborCost.StringFixed(2), op.OverheadCost.StringFixed(2))
		}
	}
	if wo.Notes != "" {
		fmt.Fprintf(w, "NOTES:      %s\n", wo.Notes)
	}
}

func printWorkOrders(w io.Writer, res *app.WorkOrderListResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 78))
	fmt.Fprintf(w, "  WORK ORDERS - %s\n", res.OrgID)
	fmt.Fprintln(w, strings.Repeat("=", 78))
	if len(res.WorkOrders) == 0 {
		fmt.Fprintln(w, "  No work orders found.")
		fmt.Fprintln(w, strings.Repeat("=", 78))
		return
	}
	fmt.Fprintf(w, "  %-10s %-14s %-12s %10s %10s %12s\n", "NUMBER", "PRODUCT", "STATUS", "PLANNED", "DONE", "TOTAL COST")
	fmt.Fprintln(w, strings.Repeat("-", 78))
	for _, wo := range res.WorkOrders {
		fmt.Fprintf(w, "  %-10s %-14s %-12s %10s %10s %12s\n",
			wo.WorkOrderNumber, wo.ProductID, wo.Status, wo.QuantityPlanned, wo.QuantityCompleted, wo.TotalCost.StringFixed(2))
	}
	fmt.Fprintln(w, strings.Repeat("=", 78))
}

func printAlerts(w io.Writer, res *app.AlertListResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 96))
	fmt.Fprintf(w, "  REORDER ALERTS - %s\n", res.OrgID)
	fmt.Fprintln(w, strings.Repeat("=", 96))
	if len(res.Alerts) == 0 {
		fmt.Fprintln(w, "  No open alerts.")
		fmt.Fprintln(w, strings.Repeat("=", 96))
		return
	}
	fmt.Fprintf(w, "  %-36s %-18s %-9s %-12s %8s %8s\n", "ID", "POSITION", "PRIORITY", "STATUS", "CURRENT", "ORDER")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, a := range res.Alerts {
		fmt.Fprintf(w, "  %-36s %-18s %-9s %-12s %8s %8s\n",
			a.ID, a.Key(), a.Priority, a.Status, a.CurrentQuantity, a.SuggestedOrderQty)
	}
	fmt.Fprintln(w, strings.Repeat("=", 96))
}
