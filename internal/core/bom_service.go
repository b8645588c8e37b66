package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

const maxRollupAttempts = 3

// CreateBomInput describes a new DRAFT BOM version.
type CreateBomInput struct {
	OrgID        string
	ProductID    string
	BomNumber    string
	Version      int
	BaseQuantity decimal.Decimal
	LaborCost    decimal.Decimal
	OverheadCost decimal.Decimal
	Routing      []RoutingStep
}

// BomLineInput carries the editable fields of a line.
type BomLineInput struct {
	ParentLineID    string
	Sequence        int
	ComponentID     string
	QuantityPerUnit decimal.Decimal
	UOM             string
	ScrapPercentage decimal.Decimal
	UnitCost        decimal.Decimal
	IsOptional      bool
	IsPhantom       bool
	CanSubstitute   bool
}

func (in BomLineInput) validate() error {
	if in.ComponentID == "" {
		return invalidArg("component id is required")
	}
	if err := requirePositive("quantity per unit", in.QuantityPerUnit); err != nil {
		return err
	}
	if in.ScrapPercentage.IsNegative() {
		return invalidArg("scrap percentage must not be negative, got %s", in.ScrapPercentage.String())
	}
	if in.UnitCost.IsNegative() {
		return invalidArg("unit cost must not be negative, got %s", in.UnitCost.String())
	}
	return nil
}

// BomEngine owns BOM trees, explodes them into flat requirements and rolls up cost.
type BomEngine struct {
	store  BomStore
	logger *zap.Logger
	now    func() time.Time
}

func NewBomEngine(store BomStore, opts ...Option) *BomEngine {
	o := buildOptions(opts)
	return &BomEngine{store: store, logger: o.logger, now: o.now}
}

// ── Headers ──────────────────────────────────────────────────────────────────

func (e *BomEngine) CreateBom(ctx context.Context, in CreateBomInput) (*BomHeader, error) {
	if in.OrgID == "" || in.ProductID == "" || in.BomNumber == "" {
		return nil, invalidArg("organization, product and bom number are required")
	}
	if in.Version == 0 {
		in.Version = 1
	}
	if in.BaseQuantity.IsZero() {
		in.BaseQuantity = decimal.NewFromInt(1)
	}
	if err := requirePositive("base quantity", in.BaseQuantity); err != nil {
		return nil, err
	}
	now := e.now()
	bom := &BomHeader{
		ID:           uuid.NewString(),
		OrgID:        in.OrgID,
		ProductID:    in.ProductID,
		BomNumber:    in.BomNumber,
		Version:      in.Version,
		Status:       BomStatusDraft,
		BaseQuantity: in.BaseQuantity,
		MaterialCost: decimal.Zero,
		LaborCost:    in.LaborCost,
		OverheadCost: in.OverheadCost,
		TotalCost:    in.LaborCost.Add(in.OverheadCost),
		Routing:      sortedRouting(in.Routing),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateBom(ctx, bom); err != nil {
		return nil, fmt.Errorf("failed to create bom %s v%d: %w", in.BomNumber, in.Version, err)
	}
	return bom, nil
}

func (e *BomEngine) GetBom(ctx context.Context, id string) (*BomHeader, error) {
	return e.store.GetBom(ctx, id)
}

func (e *BomEngine) Lines(ctx context.Context, bomID string) ([]BomLine, error) {
	if _, err := e.store.GetBom(ctx, bomID); err != nil {
		return nil, err
	}
	return e.store.Lines(ctx, bomID)
}

// Approve moves a DRAFT BOM to APPROVED, making it eligible as latest active.
func (e *BomEngine) Approve(ctx context.Context, bomID, by string) (*BomHeader, error) {
	bom, err := e.store.GetBom(ctx, bomID)
	if err != nil {
		return nil, err
	}
	if bom.Status != BomStatusDraft {
		return nil, &InvalidTransitionError{Entity: "bom", Ref: bom.BomNumber, Action: "approved",
			Current: string(bom.Status), Required: []string{string(BomStatusDraft)}}
	}
	now := e.now()
	bom.Status = BomStatusApproved
	bom.ApprovedBy = by
	bom.ApprovedAt = &now
	bom.UpdatedAt = now
	if err := e.store.UpdateBom(ctx, bom); err != nil {
		return nil, fmt.Errorf("failed to approve bom %s: %w", bom.BomNumber, err)
	}
	return bom, nil
}

// LatestActive returns the highest APPROVED version for the product.
func (e *BomEngine) LatestActive(ctx context.Context, orgID, productID string) (*BomHeader, error) {
	boms, err := e.store.ListBoms(ctx, orgID, productID)
	if err != nil {
		return nil, err
	}
	var latest *BomHeader
	for i := range boms {
		b := &boms[i]
		if b.Status != BomStatusApproved {
			continue
		}
		if latest == nil || b.Version > latest.Version {
			latest = b
		}
	}
	if latest == nil {
		return nil, notFound("active bom for product", productID)
	}
	return latest, nil
}

// SetRouting replaces the routing steps copied into new work orders. Only a
// DRAFT BOM can be changed.
func (e *BomEngine) SetRouting(ctx context.Context, bomID string, steps []RoutingStep) (*BomHeader, error) {
	bom, err := e.editableBom(ctx, bomID)
	if err != nil {
		return nil, err
	}
	bom.Routing = sortedRouting(steps)
	bom.UpdatedAt = e.now()
	if err := e.store.UpdateBom(ctx, bom); err != nil {
		return nil, fmt.Errorf("failed to update routing of bom %s: %w", bom.BomNumber, err)
	}
	return bom, nil
}

func sortedRouting(steps []RoutingStep) []RoutingStep {
	out := append([]RoutingStep(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// ── Lines ────────────────────────────────────────────────────────────────────

func (e *BomEngine) editableBom(ctx context.Context, bomID string) (*BomHeader, error) {
	bom, err := e.store.GetBom(ctx, bomID)
	if err != nil {
		return nil, err
	}
	if bom.Status != BomStatusDraft {
		return nil, &InvalidTransitionError{Entity: "bom", Ref: bom.BomNumber, Action: "edited",
			Current: string(bom.Status), Required: []string{string(BomStatusDraft)}}
	}
	return bom, nil
}

func (e *BomEngine) checkParent(ctx context.Context, bomID, parentID string) error {
	if parentID == "" {
		return nil
	}
	parent, err := e.store.GetLine(ctx, parentID)
	if err != nil {
		return fmt.Errorf("parent line: %w", err)
	}
	if parent.BomID != bomID {
		return invalidArg("parent line %s belongs to another bom", parentID)
	}
	return nil
}

// AddLine appends a line (top-level when ParentLineID is empty) and rolls up cost.
func (e *BomEngine) AddLine(ctx context.Context, bomID string, in BomLineInput) (*BomLine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := e.editableBom(ctx, bomID); err != nil {
		return nil, err
	}
	if err := e.checkParent(ctx, bomID, in.ParentLineID); err != nil {
		return nil, err
	}
	line := &BomLine{ID: uuid.NewString(), BomID: bomID}
	applyLineInput(line, in)
	if err := e.store.SaveLine(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to save bom line: %w", err)
	}
	if _, err := e.RecalculateCosts(ctx, bomID); err != nil {
		return nil, err
	}
	return line, nil
}

// UpdateLine overwrites a line's fields. Re-parenting under one of the line's
// own descendants is rejected.
func (e *BomEngine) UpdateLine(ctx context.Context, lineID string, in BomLineInput) (*BomLine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	line, err := e.store.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if _, err := e.editableBom(ctx, line.BomID); err != nil {
		return nil, err
	}
	if in.ParentLineID != line.ParentLineID {
		if err := e.checkParent(ctx, line.BomID, in.ParentLineID); err != nil {
			return nil, err
		}
		lines, err := e.store.Lines(ctx, line.BomID)
		if err != nil {
			return nil, err
		}
		for _, id := range subtree(lines, lineID) {
			if id == in.ParentLineID {
				return nil, invalidArg("line %s cannot be moved under its own descendant %s", lineID, id)
			}
		}
	}
	applyLineInput(line, in)
	if err := e.store.SaveLine(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to save bom line: %w", err)
	}
	if _, err := e.RecalculateCosts(ctx, line.BomID); err != nil {
		return nil, err
	}
	return line, nil
}

// DeleteLine removes the line and every line below it.
func (e *BomEngine) DeleteLine(ctx context.Context, lineID string) error {
	line, err := e.store.GetLine(ctx, lineID)
	if err != nil {
		return err
	}
	if _, err := e.editableBom(ctx, line.BomID); err != nil {
		return err
	}
	lines, err := e.store.Lines(ctx, line.BomID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteLines(ctx, line.BomID, subtree(lines, lineID)); err != nil {
		return fmt.Errorf("failed to delete bom lines: %w", err)
	}
	_, err = e.RecalculateCosts(ctx, line.BomID)
	return err
}

func applyLineInput(line *BomLine, in BomLineInput) {
	line.ParentLineID = in.ParentLineID
	line.Sequence = in.Sequence
	line.ComponentID = in.ComponentID
	line.QuantityPerUnit = in.QuantityPerUnit
	line.UOM = in.UOM
	line.ScrapPercentage = in.ScrapPercentage
	line.UnitCost = in.UnitCost
	line.IsOptional = in.IsOptional
	line.IsPhantom = in.IsPhantom
	line.CanSubstitute = in.CanSubstitute
}

// subtree returns rootID followed by all of its descendants, each at most once.
func subtree(lines []BomLine, rootID string) []string {
	children := childIndex(lines)
	seen := map[string]bool{rootID: true}
	out := []string{rootID}
	for queue := []string{rootID}; len(queue) > 0; queue = queue[1:] {
		for _, idx := range children[queue[0]] {
			id := lines[idx].ID
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			queue = append(queue, id)
		}
	}
	return out
}

// childIndex maps a parent line ID to the positions of its children in lines,
// ordered by sequence.
func childIndex(lines []BomLine) map[string][]int {
	children := make(map[string][]int)
	for i, l := range lines {
		children[l.ParentLineID] = append(children[l.ParentLineID], i)
	}
	for _, idx := range children {
		sort.SliceStable(idx, func(a, b int) bool {
			la, lb := lines[idx[a]], lines[idx[b]]
			if la.Sequence != lb.Sequence {
				return la.Sequence < lb.Sequence
			}
			return la.ID < lb.ID
		})
	}
	return children
}

// ── Explosion ────────────────────────────────────────────────────────────────

// Explode flattens the BOM for quantity units of its product. Traversal is
// depth-first with an explicit stack; a line ID seen twice is skipped so a
// malformed tree still terminates.
func (e *BomEngine) Explode(ctx context.Context, bomID string, quantity decimal.Decimal) (*Explosion, error) {
	if err := requirePositive("quantity", quantity); err != nil {
		return nil, err
	}
	if _, err := e.store.GetBom(ctx, bomID); err != nil {
		return nil, err
	}
	lines, err := e.store.Lines(ctx, bomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lines of bom %s: %w", bomID, err)
	}
	exp := ExplodeLines(lines, quantity)
	exp.BomID = bomID
	if len(exp.SkippedLines) > 0 {
		e.logger.Warn("bom explosion skipped revisited lines",
			zap.String("bom_id", bomID),
			zap.Strings("lines", exp.SkippedLines))
	}
	return exp, nil
}

// ExplodeLines is the pure explosion over a line arena.
func ExplodeLines(lines []BomLine, quantity decimal.Decimal) *Explosion {
	type frame struct {
		idx       int
		parentQty decimal.Decimal
		level     int
	}

	children := childIndex(lines)
	exp := &Explosion{Quantity: quantity, MaterialCost: decimal.Zero}
	visited := make(map[string]bool, len(lines))

	roots := children[""]
	stack := make([]frame, 0, len(lines))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{idx: roots[i], parentQty: quantity, level: 1})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		line := lines[f.idx]
		if visited[line.ID] {
			exp.SkippedLines = append(exp.SkippedLines, line.ID)
			continue
		}
		visited[line.ID] = true

		required := f.parentQty.Mul(line.QuantityPerUnit)
		if line.ScrapPercentage.IsPositive() {
			required = required.Mul(decimal.NewFromInt(1).Add(line.ScrapPercentage.Div(hundred)))
		}
		extended := required.Mul(line.UnitCost)
		kids := children[line.ID]

		exp.Entries = append(exp.Entries, ExplosionEntry{
			LineID:           line.ID,
			ParentLineID:     line.ParentLineID,
			ComponentID:      line.ComponentID,
			Level:            f.level,
			Sequence:         line.Sequence,
			UOM:              line.UOM,
			RequiredQuantity: required,
			UnitCost:         line.UnitCost,
			ExtendedCost:     extended,
			IsOptional:       line.IsOptional,
			IsPhantom:        line.IsPhantom,
			Leaf:             len(kids) == 0,
		})
		exp.MaterialCost = exp.MaterialCost.Add(extended)

		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{idx: kids[i], parentQty: required, level: f.level + 1})
		}
	}
	return exp
}

// RecalculateCosts re-explodes at the base quantity and stores material and
// total cost. Safe to re-run; a concurrent header write causes a retry.
func (e *BomEngine) RecalculateCosts(ctx context.Context, bomID string) (*BomHeader, error) {
	var lastErr error
	for attempt := 0; attempt < maxRollupAttempts; attempt++ {
		bom, err := e.store.GetBom(ctx, bomID)
		if err != nil {
			return nil, err
		}
		lines, err := e.store.Lines(ctx, bomID)
		if err != nil {
			return nil, fmt.Errorf("failed to load lines of bom %s: %w", bomID, err)
		}
		exp := ExplodeLines(lines, bom.BaseQuantity)
		bom.MaterialCost = exp.MaterialCost
		bom.TotalCost = bom.MaterialCost.Add(bom.LaborCost).Add(bom.OverheadCost)
		bom.UpdatedAt = e.now()

		err = e.store.UpdateBom(ctx, bom)
		if err == nil {
			return bom, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, fmt.Errorf("failed to store cost rollup of bom %s: %w", bomID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("cost rollup of bom %s gave up after %d attempts: %w", bomID, maxRollupAttempts, lastErr)
}

// ── Validation ───────────────────────────────────────────────────────────────

// Validate reports cycles, parents that do not exist, duplicated line IDs and
// lines unreachable from the top level.
func (e *BomEngine) Validate(ctx context.Context, bomID string) (*BomValidation, error) {
	if _, err := e.store.GetBom(ctx, bomID); err != nil {
		return nil, err
	}
	lines, err := e.store.Lines(ctx, bomID)
	if err != nil {
		return nil, err
	}
	v := ValidateLines(lines)
	v.BomID = bomID
	return v, nil
}

func ValidateLines(lines []BomLine) *BomValidation {
	v := &BomValidation{}
	parentOf := make(map[string]string, len(lines))
	count := make(map[string]int, len(lines))
	for _, l := range lines {
		count[l.ID]++
		parentOf[l.ID] = l.ParentLineID
	}
	for _, l := range lines {
		if count[l.ID] > 1 {
			v.DuplicateLines = append(v.DuplicateLines, l.ID)
			count[l.ID] = -1
		}
		if l.ParentLineID != "" {
			if _, ok := parentOf[l.ParentLineID]; !ok {
				v.DanglingParents = append(v.DanglingParents, l.ID)
			}
		}
	}

	seenCycles := make(map[string]bool)
	for _, l := range lines {
		pos := make(map[string]int)
		var path []string
		for cur := l.ID; cur != ""; {
			if at, ok := pos[cur]; ok {
				cycle := canonicalCycle(path[at:])
				key := strings.Join(cycle, ">")
				if !seenCycles[key] {
					seenCycles[key] = true
					v.Cycles = append(v.Cycles, cycle)
				}
				break
			}
			pos[cur] = len(path)
			path = append(path, cur)
			parent, ok := parentOf[cur]
			if !ok {
				break
			}
			cur = parent
		}
	}

	reached := make(map[string]bool, len(lines))
	for _, entry := range ExplodeLines(lines, decimal.NewFromInt(1)).Entries {
		reached[entry.LineID] = true
	}
	for _, l := range lines {
		if !reached[l.ID] && count[l.ID] >= 0 {
			v.Unreachable = append(v.Unreachable, l.ID)
			reached[l.ID] = true
		}
	}
	return v
}

// canonicalCycle rotates a cycle so it starts at its smallest ID.
func canonicalCycle(cycle []string) []string {
	first := 0
	for i, id := range cycle {
		if id < cycle[first] {
			first = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[first:]...)
	return append(out, cycle[:first]...)
}
