package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type BomStatus string

const (
	BomStatusDraft    BomStatus = "DRAFT"
	BomStatusApproved BomStatus = "APPROVED"
)

// RoutingStep is one operation needed to build the BOM's product. Planned
// minutes for a work order are Setup + RunPerUnit*quantity + Teardown.
type RoutingStep struct {
	Sequence            int             `json:"sequence"`
	WorkCenterCode      string          `json:"work_center_code"`
	Description         string          `json:"description"`
	SetupMinutes        decimal.Decimal `json:"setup_minutes"`
	RunMinutesPerUnit   decimal.Decimal `json:"run_minutes_per_unit"`
	TeardownMinutes     decimal.Decimal `json:"teardown_minutes"`
	LaborRatePerHour    decimal.Decimal `json:"labor_rate_per_hour"`
	OverheadRatePerHour decimal.Decimal `json:"overhead_rate_per_hour"`
}

// BomHeader is one version of a product's bill of materials.
// Revision is bumped on every header write and guards concurrent cost rollups.
type BomHeader struct {
	ID           string          `json:"id"`
	OrgID        string          `json:"organization_id"`
	ProductID    string          `json:"product_id"`
	BomNumber    string          `json:"bom_number"`
	Version      int             `json:"version"`
	Status       BomStatus       `json:"status"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
	MaterialCost decimal.Decimal `json:"material_cost"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Routing      []RoutingStep   `json:"routing,omitempty"`
	Revision     int64           `json:"revision"`
	ApprovedBy   string          `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BomLine is a node in the BOM tree. An empty ParentLineID marks a top-level line.
type BomLine struct {
	ID              string          `json:"id"`
	BomID           string          `json:"bom_id"`
	ParentLineID    string          `json:"parent_line_id,omitempty"`
	Sequence        int             `json:"sequence"`
	ComponentID     string          `json:"component_id"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
	UOM             string          `json:"uom"`
	ScrapPercentage decimal.Decimal `json:"scrap_percentage"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	IsOptional      bool            `json:"is_optional"`
	IsPhantom       bool            `json:"is_phantom"`
	CanSubstitute   bool            `json:"can_substitute"`
}

// ExplosionEntry is one flattened requirement. Leaf is false when the line has
// child lines of its own.
type ExplosionEntry struct {
	LineID           string          `json:"line_id"`
	ParentLineID     string          `json:"parent_line_id,omitempty"`
	ComponentID      string          `json:"component_id"`
	Level            int             `json:"level"`
	Sequence         int             `json:"sequence"`
	UOM              string          `json:"uom"`
	RequiredQuantity decimal.Decimal `json:"required_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ExtendedCost     decimal.Decimal `json:"extended_cost"`
	IsOptional       bool            `json:"is_optional"`
	IsPhantom        bool            `json:"is_phantom"`
	Leaf             bool            `json:"leaf"`
}

// Explosion is the multiset of requirements for Quantity units of a BOM.
// SkippedLines lists line IDs reached a second time through a malformed tree.
type Explosion struct {
	BomID        string           `json:"bom_id"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Entries      []ExplosionEntry `json:"entries"`
	MaterialCost decimal.Decimal  `json:"material_cost"`
	SkippedLines []string         `json:"skipped_lines,omitempty"`
}

// Requirements totals the required quantity per component.
func (e *Explosion) Requirements() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, entry := range e.Entries {
		out[entry.ComponentID] = out[entry.ComponentID].Add(entry.RequiredQuantity)
	}
	return out
}

// BomValidation reports structural defects without changing anything.
type BomValidation struct {
	BomID           string     `json:"bom_id"`
	Cycles          [][]string `json:"cycles,omitempty"`
	DanglingParents []string   `json:"dangling_parents,omitempty"`
	DuplicateLines  []string   `json:"duplicate_lines,omitempty"`
	Unreachable     []string   `json:"unreachable,omitempty"`
}

func (v *BomValidation) Valid() bool {
	return len(v.Cycles) == 0 && len(v.DanglingParents) == 0 && len(v.DuplicateLines) == 0 && len(v.Unreachable) == 0
}
