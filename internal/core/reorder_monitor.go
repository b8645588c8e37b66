package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultReorderInterval = 15 * time.Minute

// StockReader is the read side of the ledger the monitor needs.
type StockReader interface {
	Position(ctx context.Context, key PositionKey) (StockPosition, error)
}

// ReorderRuleInput creates or updates the rule for one position.
type ReorderRuleInput struct {
	OrgID           string
	ProductID       string
	WarehouseID     string
	ReorderPoint    decimal.Decimal
	ReorderQuantity decimal.Decimal
	MinQuantity     decimal.Decimal
	SafetyStock     decimal.Decimal
	Inactive        bool
}

// CheckSummary counts the outcome of one sweep over the active rules.
type CheckSummary struct {
	Rules     int `json:"rules"`
	Triggered int `json:"triggered"`
	Created   int `json:"created"`
	Failed    int `json:"failed"`
}

// ReorderMonitor sweeps active rules on a fixed period and raises at most one
// open alert per position.
type ReorderMonitor struct {
	store    ReorderStore
	stock    StockReader
	notifier AlertNotifier
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	locks    *KeyedMutex
}

func NewReorderMonitor(store ReorderStore, stock StockReader, notifier AlertNotifier, interval time.Duration, opts ...Option) *ReorderMonitor {
	o := buildOptions(opts)
	if interval <= 0 {
		interval = DefaultReorderInterval
	}
	return &ReorderMonitor{
		store:    store,
		stock:    stock,
		notifier: notifier,
		interval: interval,
		logger:   o.logger,
		now:      o.now,
		locks:    NewKeyedMutex(),
	}
}

// ── Rules ────────────────────────────────────────────────────────────────────

func (m *ReorderMonitor) UpsertRule(ctx context.Context, in ReorderRuleInput) (*ReorderRule, error) {
	key := PositionKey{OrgID: in.OrgID, ProductID: in.ProductID, WarehouseID: in.WarehouseID}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	for name, v := range map[string]decimal.Decimal{
		"reorder point":    in.ReorderPoint,
		"reorder quantity": in.ReorderQuantity,
		"min quantity":     in.MinQuantity,
		"safety stock":     in.SafetyStock,
	} {
		if v.IsNegative() {
			return nil, invalidArg("%s must not be negative, got %s", name, v.String())
		}
	}

	now := m.now()
	rule, err := m.store.FindRule(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		rule = &ReorderRule{ID: uuid.NewString(), OrgID: in.OrgID, ProductID: in.ProductID, WarehouseID: in.WarehouseID, CreatedAt: now}
	case err != nil:
		return nil, err
	}
	rule.ReorderPoint = in.ReorderPoint
	rule.ReorderQuantity = in.ReorderQuantity
	rule.MinQuantity = in.MinQuantity
	rule.SafetyStock = in.SafetyStock
	rule.IsActive = !in.Inactive
	rule.UpdatedAt = now
	if err := m.store.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save reorder rule for %s: %w", key, err)
	}
	return rule, nil
}

func (m *ReorderMonitor) GetRule(ctx context.Context, id string) (*ReorderRule, error) {
	return m.store.GetRule(ctx, id)
}

func (m *ReorderMonitor) SetRuleActive(ctx context.Context, id string, active bool) (*ReorderRule, error) {
	rule, err := m.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.IsActive = active
	rule.UpdatedAt = m.now()
	if err := m.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ── Checks ───────────────────────────────────────────────────────────────────

// Run sweeps immediately and then on every tick until ctx is done.
func (m *ReorderMonitor) Run(ctx context.Context) error {
	m.logger.Info("reorder monitor started", zap.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.CheckAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("reorder sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			m.logger.Info("reorder monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// CheckAll evaluates every active rule. A failing rule is logged and counted
// without stopping the sweep.
func (m *ReorderMonitor) CheckAll(ctx context.Context) (CheckSummary, error) {
	rules, err := m.store.ActiveRules(ctx)
	if err != nil {
		return CheckSummary{}, fmt.Errorf("failed to load active reorder rules: %w", err)
	}
	summary := CheckSummary{Rules: len(rules)}
	for i := range rules {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		alert, created, err := m.CheckAndGenerateAlert(ctx, &rules[i])
		if err != nil {
			summary.Failed++
			m.logger.Warn("reorder check failed", zap.String("rule_id", rules[i].ID), zap.Error(err))
			continue
		}
		if alert != nil {
			summary.Triggered++
		}
		if created {
			summary.Created++
		}
	}
	m.logger.Debug("reorder sweep finished",
		zap.Int("rules", summary.Rules),
		zap.Int("triggered", summary.Triggered),
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// CheckNow evaluates one rule out of band.
func (m *ReorderMonitor) CheckNow(ctx context.Context, ruleID string) (*ReorderAlert, bool, error) {
	rule, err := m.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, false, err
	}
	return m.CheckAndGenerateAlert(ctx, rule)
}

// CheckAndGenerateAlert returns the alert covering the rule's position when
// available stock is at or below the reorder point, and whether it was newly
// created. It returns nil when stock is above the reorder point.
func (m *ReorderMonitor) CheckAndGenerateAlert(ctx context.Context, rule *ReorderRule) (*ReorderAlert, bool, error) {
	key := rule.Key()
	unlock := m.locks.Lock(key.String())
	alert, created, err := m.checkLocked(ctx, rule, key)
	unlock()
	if err != nil || !created {
		return alert, created, err
	}
	m.notify(ctx, alert)
	return alert, true, nil
}

func (m *ReorderMonitor) checkLocked(ctx context.Context, rule *ReorderRule, key PositionKey) (*ReorderAlert, bool, error) {
	available := decimal.Zero
	pos, err := m.stock.Position(ctx, key)
	switch {
	case err == nil:
		available = pos.Available
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("failed to read position %s: %w", key, err)
	}
	if available.GreaterThan(rule.ReorderPoint) {
		return nil, false, nil
	}

	existing, err := m.store.ActiveAlert(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := m.now()
	alert := &ReorderAlert{
		ID:                uuid.NewString(),
		RuleID:            rule.ID,
		OrgID:             rule.OrgID,
		ProductID:         rule.ProductID,
		WarehouseID:       rule.WarehouseID,
		CurrentQuantity:   available,
		ReorderPoint:      rule.ReorderPoint,
		SuggestedOrderQty: SuggestedQuantity(available, *rule),
		Priority:          PriorityFor(available, *rule),
		Status:            AlertOpen,
		CreatedAt:         now,
	}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			existing, getErr := m.store.ActiveAlert(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create reorder alert for %s: %w", key, err)
	}

	rule.LastTriggeredAt = &now
	rule.TriggerCount++
	rule.UpdatedAt = now
	if err := m.store.SaveRule(ctx, rule); err != nil {
		m.logger.Warn("failed to record rule trigger", zap.String("rule_id", rule.ID), zap.Error(err))
	}
	m.logger.Info("reorder alert raised",
		zap.String("position", key.String()),
		zap.String("priority", string(alert.Priority)),
		zap.String("available", available.String()))
	return alert, true, nil
}

// notify runs outside the position lock, so the alert may already have been
// acknowledged or closed; only the notification flag is written back.
func (m *ReorderMonitor) notify(ctx context.Context, alert *ReorderAlert) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyReorderAlert(ctx, *alert); err != nil {
		m.logger.Warn("reorder alert notification failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	if err := m.store.MarkAlertNotified(ctx, alert.ID); err != nil {
		m.logger.Warn("failed to mark alert notified", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	alert.NotificationSent = true
}

// ── Alerts ───────────────────────────────────────────────────────────────────

func (m *ReorderMonitor) GetAlert(ctx context.Context, id string) (*ReorderAlert, error) {
	return m.store.GetAlert(ctx, id)
}

// OpenAlerts lists alerts that are not closed yet.
func (m *ReorderMonitor) OpenAlerts(ctx context.Context, orgID string) ([]ReorderAlert, error) {
	return m.store.ListAlerts(ctx, orgID, []AlertStatus{AlertOpen, AlertAcknowledged})
}

func (m *ReorderMonitor) Acknowledge(ctx context.Context, alertID, actor string) (*ReorderAlert, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != AlertOpen {
		return nil, &InvalidTransitionError{Entity: "alert", Ref: alert.ID, Action: "acknowledged",
			Current: string(alert.Status), Required: []string{string(AlertOpen)}}
	}
	now := m.now()
	alert.Status = AlertAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	if err := m.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Close ends an alert from any state but CLOSED, freeing its position for a
// new alert.
func (m *ReorderMonitor) Close(ctx context.Context, alertID, notes, actor string) (*ReorderAlert, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == AlertClosed {
		return nil, &InvalidTransitionError{Entity: "alert", Ref: alert.ID, Action: "closed",
			Current: string(alert.Status), Required: []string{string(AlertOpen), string(AlertAcknowledged)}}
	}
	now := m.now()
	alert.Status = AlertClosed
	alert.ClosedBy = actor
	alert.ClosedAt = &now
	if notes != "" {
		alert.Notes = notes
	}
	if err := m.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}
