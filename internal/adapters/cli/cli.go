package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"production-ledger/internal/app"
	"production-ledger/internal/core"
	"production-ledger/internal/outbox"
	"production-ledger/internal/report"

	"github.com/shopspring/decimal"
)

// Session carries what every command needs besides its arguments.
type Session struct {
	OrgID string
	Actor string
	In    io.Reader
	Out   io.Writer
}

const commandList = "receive, issue, allocate, deallocate, adjust, transfer, stock, movements, cogs, value, export-valuation, " +
	"bom-create, bom-line, bom-routing, bom-approve, bom-show, bom-explode, bom-validate, " +
	"wo-create, wo-release, wo-retry, wo-start, wo-issue, wo-consume, wo-op-start, wo-op-complete, wo-report, " +
	"wo-complete, wo-close, wo-cancel, wo-show, wo-list, " +
	"rule-set, reorder-check, alerts, alert-ack, alert-close, outbox-drain, outbox"

// usageError is returned when a command is called with the wrong arguments.
type usageError struct{ usage string }

func (e *usageError) Error() string { return "usage: app " + e.usage }

func need(args []string, n int, usage string) error {
	if len(args) < n+1 {
		return &usageError{usage}
	}
	return nil
}

func opt(args []string, i int, fallback string) string {
	if len(args) > i && args[i] != "" {
		return args[i]
	}
	return fallback
}

func dec(name, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, core.ErrInvalidArgument)
	}
	return v, nil
}

func optDec(name string, args []string, i int) (decimal.Decimal, error) {
	if len(args) <= i || args[i] == "" {
		return decimal.Zero, nil
	}
	return dec(name, args[i])
}

// Run executes a one-shot command. args[0] is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, s Session, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\nAvailable: %s", commandList)
	}
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.In == nil {
		s.In = os.Stdin
	}
	key := func(product, warehouse string) core.PositionKey {
		return core.PositionKey{OrgID: s.OrgID, ProductID: product, WarehouseID: warehouse}
	}

	switch args[0] {
	// ── Stock ────────────────────────────────────────────────────────────────
	case "receive", "rcv":
		if err := need(args, 4, "receive <product> <warehouse> <qty> <unit-cost> [source-id]"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[3])
		if err != nil {
			return err
		}
		cost, err := dec("unit cost", args[4])
		if err != nil {
			return err
		}
		res, err := svc.ReceiveStock(ctx, app.ReceiveStockRequest{Key: key(args[1], args[2]), Quantity: qty, UnitCost: cost, SourceID: opt(args, 5, "")})
		if err != nil {
			return fmt.Errorf("receive failed: %w", err)
		}
		printPosition(s.Out, res.Position)

	case "issue", "allocate", "deallocate":
		if err := need(args, 3, args[0]+" <product> <warehouse> <qty> [source-id]"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[3])
		if err != nil {
			return err
		}
		req := app.StockQuantityRequest{Key: key(args[1], args[2]), Quantity: qty, SourceID: opt(args, 4, "")}
		var res *app.PositionResult
		switch args[0] {
		case "issue":
			res, err = svc.IssueStock(ctx, req)
		case "allocate":
			res, err = svc.AllocateStock(ctx, req)
		default:
			res, err = svc.DeallocateStock(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("%s failed: %w", args[0], err)
		}
		printPosition(s.Out, res.Position)

	case "adjust", "adj":
		if err := need(args, 4, "adjust <product> <warehouse> <new-qty> <reason>"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[3])
		if err != nil {
			return err
		}
		res, err := svc.AdjustStock(ctx, app.AdjustStockRequest{Key: key(args[1], args[2]), NewQuantity: qty, Reason: args[4], Actor: s.Actor})
		if err != nil {
			return fmt.Errorf("adjust failed: %w", err)
		}
		printPosition(s.Out, res.Position)

	case "transfer", "xfer":
		if err := need(args, 4, "transfer <product> <from-warehouse> <to-warehouse> <qty> [source-id]"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[4])
		if err != nil {
			return err
		}
		res, err := svc.TransferStock(ctx, app.TransferStockRequest{
			OrgID: s.OrgID, ProductID: args[1], FromWarehouseID: args[2], ToWarehouseID: args[3], Quantity: qty, SourceID: opt(args, 5, ""),
		})
		if err != nil {
			return fmt.Errorf("transfer failed: %w", err)
		}
		printPosition(s.Out, res.From)
		printPosition(s.Out, res.To)

	case "stock", "st":
		res, err := svc.GetStockLevels(ctx, s.OrgID)
		if err != nil {
			return fmt.Errorf("failed to get stock levels: %w", err)
		}
		printStock(s.Out, res)

	case "movements", "mv":
		if err := need(args, 2, "movements <product> <warehouse>"); err != nil {
			return err
		}
		res, err := svc.GetMovements(ctx, key(args[1], args[2]))
		if err != nil {
			return fmt.Errorf("failed to get movements: %w", err)
		}
		printMovements(s.Out, res)

	case "cogs":
		if err := need(args, 3, "cogs <product> <warehouse> <qty> [wac|fifo|lifo]"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[3])
		if err != nil {
			return err
		}
		res, err := svc.ComputeCOGS(ctx, app.COGSRequest{Key: key(args[1], args[2]), Method: opt(args, 4, ""), Quantity: qty})
		if err != nil {
			return fmt.Errorf("cogs failed: %w", err)
		}
		fmt.Fprintf(s.Out, "%s COGS of %s %s: %s\n", res.Method, res.Quantity, res.Key, res.Amount.StringFixed(2))
		if res.Warning != nil {
			fmt.Fprintf(s.Out, "WARNING: %v\n", res.Warning)
		}

	case "value", "val":
		res, err := svc.GetInventoryValue(ctx, s.OrgID)
		if err != nil {
			return fmt.Errorf("failed to value inventory: %w", err)
		}
		fmt.Fprintf(s.Out, "Inventory value of %s: %s over %d positions (%s units)\n",
			res.OrgID, res.TotalValue.StringFixed(2), res.ItemCount, res.TotalQuantity)

	case "export-valuation", "export":
		path := opt(args, 1, report.ValuationFilename(s.OrgID, time.Now()))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := svc.ExportValuation(ctx, s.OrgID, f); err != nil {
			f.Close()
			return fmt.Errorf("export failed: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "Valuation written to %s\n", path)

	// ── BOMs ─────────────────────────────────────────────────────────────────
	case "bom-create":
		if err := need(args, 2, "bom-create <product> <bom-number> [version]"); err != nil {
			return err
		}
		version := 0
		if v := opt(args, 3, ""); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", v, core.ErrInvalidArgument)
			}
			version = n
		}
		res, err := svc.CreateBom(ctx, app.CreateBomRequest{OrgID: s.OrgID, ProductID: args[1], BomNumber: args[2], Version: version})
		if err != nil {
			return fmt.Errorf("bom-create failed: %w", err)
		}
		fmt.Fprintf(s.Out, "BOM %s v%d created: %s\n", res.Bom.BomNumber, res.Bom.Version, res.Bom.ID)

	case "bom-line":
		if err := need(args, 3, "bom-line <bom-id> <component> <qty-per-unit> [unit-cost] [parent-line-id]"); err != nil {
			return err
		}
		qty, err := dec("quantity per unit", args[3])
		if err != nil {
			return err
		}
		cost, err := optDec("unit cost", args, 4)
		if err != nil {
			return err
		}
		res, err := svc.AddBomLine(ctx, app.AddBomLineRequest{BomID: args[1], Line: core.BomLineInput{
			ComponentID: args[2], QuantityPerUnit: qty, UnitCost: cost, ParentLineID: opt(args, 5, ""), UOM: "EA",
		}})
		if err != nil {
			return fmt.Errorf("bom-line failed: %w", err)
		}
		printBom(s.Out, res)

	case "bom-routing":
		if err := need(args, 1, "bom-routing <bom-id> < routing.json"); err != nil {
			return err
		}
		var steps []core.RoutingStep
		if err := json.NewDecoder(s.In).Decode(&steps); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		res, err := svc.SetBomRouting(ctx, args[1], steps)
		if err != nil {
			return fmt.Errorf("bom-routing failed: %w", err)
		}
		printBom(s.Out, res)

	case "bom-approve":
		if err := need(args, 1, "bom-approve <bom-id>"); err != nil {
			return err
		}
		res, err := svc.ApproveBom(ctx, args[1], s.Actor)
		if err != nil {
			return fmt.Errorf("bom-approve failed: %w", err)
		}
		printBom(s.Out, res)

	case "bom-show":
		if err := need(args, 1, "bom-show <bom-id>"); err != nil {
			return err
		}
		res, err := svc.GetBom(ctx, args[1])
		if err != nil {
			return err
		}
		printBom(s.Out, res)

	case "bom-explode":
		if err := need(args, 2, "bom-explode <bom-id> <qty>"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[2])
		if err != nil {
			return err
		}
		res, err := svc.ExplodeBom(ctx, args[1], qty)
		if err != nil {
			return fmt.Errorf("bom-explode failed: %w", err)
		}
		printExplosion(s.Out, res)

	case "bom-validate":
		if err := need(args, 1, "bom-validate <bom-id>"); err != nil {
			return err
		}
		res, err := svc.ValidateBom(ctx, args[1])
		if err != nil {
			return fmt.Errorf("bom-validate failed: %w", err)
		}
		if res.Valid() {
			fmt.Fprintln(s.Out, "BOM is valid.")
			return nil
		}
		return writeJSON(s.Out, res)

	// ── Work orders ──────────────────────────────────────────────────────────
	case "wo-create":
		if err := need(args, 3, "wo-create <product> <qty> <source-warehouse> [target-warehouse] [bom-id] [sales-order]"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[2])
		if err != nil {
			return err
		}
		res, err := svc.CreateWorkOrder(ctx, app.CreateWorkOrderRequest{
			OrgID: s.OrgID, ProductID: args[1], Quantity: qty, SourceWarehouseID: args[3],
			TargetWarehouseID: opt(args, 4, ""), BomID: opt(args, 5, ""), SalesOrderRef: opt(args, 6, ""), Actor: s.Actor,
		})
		if err != nil {
			return fmt.Errorf("wo-create failed: %w", err)
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-release", "wo-retry", "wo-start", "wo-complete", "wo-close", "wo-cancel":
		if err := need(args, 1, args[0]+" <work-order>"); err != nil {
			return err
		}
		req := app.WorkOrderActionRequest{OrgID: s.OrgID, Ref: args[1], Actor: s.Actor, Reason: strings.Join(args[2:], " ")}
		var res *app.WorkOrderResult
		var err error
		switch args[0] {
		case "wo-release":
			res, err = svc.ReleaseWorkOrder(ctx, req)
		case "wo-retry":
			res, err = svc.RetryShortages(ctx, req)
		case "wo-start":
			res, err = svc.StartWorkOrder(ctx, req)
		case "wo-complete":
			res, err = svc.CompleteWorkOrder(ctx, req)
		case "wo-close":
			res, err = svc.CloseWorkOrder(ctx, req)
		default:
			res, err = svc.CancelWorkOrder(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("%s failed: %w", args[0], err)
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-issue", "wo-consume":
		if err := need(args, 3, args[0]+" <work-order> <material|component> <qty>"); err != nil {
			return err
		}
		qty, err := dec("quantity", args[3])
		if err != nil {
			return err
		}
		req := app.MaterialRequest{OrgID: s.OrgID, Ref: args[1], Material: args[2], Quantity: qty, Actor: s.Actor}
		var res *app.WorkOrderResult
		if args[0] == "wo-issue" {
			res, err = svc.IssueMaterial(ctx, req)
		} else {
			res, err = svc.ConsumeMaterial(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("%s failed: %w", args[0], err)
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-op-start":
		if err := need(args, 2, "wo-op-start <work-order> <operation|sequence>"); err != nil {
			return err
		}
		res, err := svc.StartOperation(ctx, app.OperationRequest{OrgID: s.OrgID, Ref: args[1], Operation: args[2], Actor: s.Actor})
		if err != nil {
			return fmt.Errorf("wo-op-start failed: %w", err)
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-op-complete":
		if err := need(args, 2, "wo-op-complete <work-order> <operation|sequence> [setup-min] [run-min] [teardown-min]"); err != nil {
			return err
		}
		var actuals core.OperationActuals
		var err error
		if actuals.SetupMinutes, err = optDec("setup minutes", args, 3); err != nil {
			return err
		}
		if actuals.RunMinutes, err = optDec("run minutes", args, 4); err != nil {
			return err
		}
		if actuals.TeardownMinutes, err = optDec("teardown minutes", args, 5); err != nil {
			return err
		}
		res, err := svc.CompleteOperation(ctx, app.OperationRequest{OrgID: s.OrgID, Ref: args[1], Operation: args[2], Actuals: actuals, Actor: s.Actor})
		if err != nil {
			return fmt.Errorf("wo-op-complete failed: %w", err)
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-report":
		if err := need(args, 2, "wo-report <work-order> <completed> [scrapped]"); err != nil {
			return err
		}
		completed, err := dec("completed quantity", args[2])
		if err != nil {
			return err
		}
		scrapped, err := optDec("scrapped quantity", args, 3)
		if err != nil {
			return err
		}
		res, err := svc.ReportProduction(ctx, app.ReportProductionRequest{OrgID: s.OrgID, Ref: args[1], Completed: completed, Scrapped: scrapped, Actor: s.Actor})
		if err != nil {
			return fmt.Errorf("wo-report failed: %w", err)
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-show", "wo":
		if err := need(args, 1, "wo-show <work-order>"); err != nil {
			return err
		}
		res, err := svc.GetWorkOrder(ctx, s.OrgID, args[1])
		if err != nil {
			return err
		}
		printWorkOrder(s.Out, res.WorkOrder)

	case "wo-list", "wos":
		var status *string
		if len(args) > 1 {
			status = &args[1]
		}
		res, err := svc.ListWorkOrders(ctx, s.OrgID, status)
		if err != nil {
			return fmt.Errorf("failed to list work orders: %w", err)
		}
		printWorkOrders(s.Out, res)

	// ── Reorder ──────────────────────────────────────────────────────────────
	case "rule-set":
		if err := need(args, 4, "rule-set <product> <warehouse> <reorder-point> <reorder-qty> [safety-stock] [min-qty]"); err != nil {
			return err
		}
		point, err := dec("reorder point", args[3])
		if err != nil {
			return err
		}
		qty, err := dec("reorder quantity", args[4])
		if err != nil {
			return err
		}
		safety, err := optDec("safety stock", args, 5)
		if err != nil {
			return err
		}
		minQty, err := optDec("min quantity", args, 6)
		if err != nil {
			return err
		}
		rule, err := svc.SetReorderRule(ctx, app.ReorderRuleRequest{
			Key: key(args[1], args[2]), ReorderPoint: point, ReorderQuantity: qty, SafetyStock: safety, MinQuantity: minQty,
		})
		if err != nil {
			return fmt.Errorf("rule-set failed: %w", err)
		}
		fmt.Fprintf(s.Out, "Rule %s: reorder %s when %s falls to %s\n", rule.ID, rule.ReorderQuantity, rule.Key(), rule.ReorderPoint)

	case "reorder-check":
		res, err := svc.RunReorderCheck(ctx)
		if err != nil {
			return fmt.Errorf("reorder-check failed: %w", err)
		}
		fmt.Fprintf(s.Out, "Checked %d rules: %d triggered, %d new alerts, %d failed\n", res.Rules, res.Triggered, res.Created, res.Failed)

	case "alerts":
		res, err := svc.ListOpenAlerts(ctx, s.OrgID)
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}
		printAlerts(s.Out, res)

	case "alert-ack":
		if err := need(args, 1, "alert-ack <alert-id>"); err != nil {
			return err
		}
		alert, err := svc.AcknowledgeAlert(ctx, args[1], s.Actor)
		if err != nil {
			return fmt.Errorf("alert-ack failed: %w", err)
		}
		fmt.Fprintf(s.Out, "Alert %s is %s\n", alert.ID, alert.Status)

	case "alert-close":
		if err := need(args, 1, "alert-close <alert-id> [notes]"); err != nil {
			return err
		}
		alert, err := svc.CloseAlert(ctx, args[1], strings.Join(args[2:], " "), s.Actor)
		if err != nil {
			return fmt.Errorf("alert-close failed: %w", err)
		}
		fmt.Fprintf(s.Out, "Alert %s is %s\n", alert.ID, alert.Status)

	// ── Outbox ───────────────────────────────────────────────────────────────
	case "outbox-drain":
		res, err := svc.DrainOutbox(ctx)
		if err != nil {
			return fmt.Errorf("outbox-drain failed: %w", err)
		}
		fmt.Fprintf(s.Out, "Delivered %d, retried %d, dead %d\n", res.Delivered, res.Retried, res.Dead)

	case "outbox":
		msgs, err := svc.ListOutbox(ctx, opt(args, 1, ""))
		if err != nil {
			return fmt.Errorf("failed to list outbox: %w", err)
		}
		for _, m := range msgs {
			fmt.Fprintln(s.Out, outbox.Describe(m))
		}
		fmt.Fprintf(s.Out, "%d messages\n", len(msgs))

	default:
		return fmt.Errorf("unknown command: %s\nAvailable: %s", args[0], commandList)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
