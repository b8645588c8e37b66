package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReorderRule sets the replenishment thresholds of one stock position.
type ReorderRule struct {
	ID              string          `json:"id"`
	OrgID           string          `json:"organization_id"`
	ProductID       string          `json:"product_id"`
	WarehouseID     string          `json:"warehouse_id"`
	ReorderPoint    decimal.Decimal `json:"reorder_point"`
	ReorderQuantity decimal.Decimal `json:"reorder_quantity"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	SafetyStock     decimal.Decimal `json:"safety_stock"`
	IsActive        bool            `json:"is_active"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	TriggerCount    int             `json:"trigger_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r *ReorderRule) Key() PositionKey {
	return PositionKey{OrgID: r.OrgID, ProductID: r.ProductID, WarehouseID: r.WarehouseID}
}

type AlertPriority string

const (
	PriorityLow      AlertPriority = "LOW"
	PriorityMedium   AlertPriority = "MEDIUM"
	PriorityHigh     AlertPriority = "HIGH"
	PriorityCritical AlertPriority = "CRITICAL"
)

type AlertStatus string

const (
	AlertOpen         AlertStatus = "OPEN"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertClosed       AlertStatus = "CLOSED"
)

// ReorderAlert is raised when available stock falls to the reorder point.
// Only one alert per position may be outside CLOSED at any time.
type ReorderAlert struct {
	ID                string          `json:"id"`
	RuleID            string          `json:"rule_id"`
	OrgID             string          `json:"organization_id"`
	ProductID         string          `json:"product_id"`
	WarehouseID       string          `json:"warehouse_id"`
	CurrentQuantity   decimal.Decimal `json:"current_quantity"`
	ReorderPoint      decimal.Decimal `json:"reorder_point"`
	SuggestedOrderQty decimal.Decimal `json:"suggested_order_qty"`
	Priority          AlertPriority   `json:"priority"`
	Status            AlertStatus     `json:"status"`
	NotificationSent  bool            `json:"notification_sent"`
	AcknowledgedBy    string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time      `json:"acknowledged_at,omitempty"`
	ClosedBy          string          `json:"closed_by,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (a *ReorderAlert) Key() PositionKey {
	return PositionKey{OrgID: a.OrgID, ProductID: a.ProductID, WarehouseID: a.WarehouseID}
}

var (
	quarter = decimal.NewFromFloat(0.25)
	half    = decimal.NewFromFloat(0.5)
)

// PriorityFor grades how far available stock has fallen. A non-positive
// reorder point counts as a ratio of zero.
func PriorityFor(available decimal.Decimal, rule ReorderRule) AlertPriority {
	if available.LessThan(rule.MinQuantity) {
		return PriorityCritical
	}
	if available.LessThan(rule.SafetyStock) {
		return PriorityHigh
	}
	ratio := decimal.Zero
	if rule.ReorderPoint.IsPositive() {
		ratio = available.Div(rule.ReorderPoint)
	}
	switch {
	case ratio.LessThan(quarter):
		return PriorityHigh
	case ratio.LessThan(half):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// SuggestedQuantity is the rule's reorder quantity, or enough to climb back to
// reorder point plus safety stock when no quantity is configured.
func SuggestedQuantity(available decimal.Decimal, rule ReorderRule) decimal.Decimal {
	if rule.ReorderQuantity.IsPositive() {
		return rule.ReorderQuantity
	}
	return decimal.Max(rule.ReorderPoint.Add(rule.SafetyStock).Sub(available), decimal.Zero)
}
