// Package notify connects the core's outbound contracts to the outbox and
// delivers drained messages to downstream systems.
package notify

import (
	"context"
	"fmt"
	"time"

	"production-ledger/internal/core"
	"production-ledger/internal/outbox"

	"github.com/shopspring/decimal"
)

// ProductionComplete is the sales.production_complete payload.
type ProductionComplete struct {
	OrgID           string          `json:"organization_id"`
	SalesOrderRef   string          `json:"sales_order_ref"`
	WorkOrderNumber string          `json:"work_order_number"`
	ProductID       string          `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
}

// OutboxCollaborators implements every collaborator contract by enqueueing a
// message. Enqueueing is local, so the engines only see an error when the
// outbox store itself fails.
type OutboxCollaborators struct {
	store outbox.Store
	now   func() time.Time
}

func NewOutboxCollaborators(store outbox.Store, now func() time.Time) *OutboxCollaborators {
	if now == nil {
		now = time.Now
	}
	return &OutboxCollaborators{store: store, now: now}
}

var (
	_ core.AccountingClient = (*OutboxCollaborators)(nil)
	_ core.PurchasingClient = (*OutboxCollaborators)(nil)
	_ core.SalesClient      = (*OutboxCollaborators)(nil)
	_ core.AlertNotifier    = (*OutboxCollaborators)(nil)
)

// Collaborators bundles the adapter for core.NewWorkOrderEngine.
func (o *OutboxCollaborators) Collaborators() core.Collaborators {
	return core.Collaborators{Accounting: o, Purchasing: o, Sales: o}
}

func (o *OutboxCollaborators) enqueue(ctx context.Context, topic, key string, payload any) error {
	msg, err := outbox.NewMessage(topic, key, payload, o.now())
	if err != nil {
		return err
	}
	if err := o.store.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to queue %s for %s: %w", topic, key, err)
	}
	return nil
}

func (o *OutboxCollaborators) PostMaterialIssuance(ctx context.Context, req core.PostingRequest) error {
	return o.enqueue(ctx, outbox.TopicMaterialIssuance, req.SourceDocNumber, req)
}

func (o *OutboxCollaborators) PostFinishedGoodsCompletion(ctx context.Context, req core.PostingRequest) error {
	return o.enqueue(ctx, outbox.TopicFinishedGoods, req.SourceDocNumber, req)
}

func (o *OutboxCollaborators) PostScrapCost(ctx context.Context, req core.PostingRequest) error {
	return o.enqueue(ctx, outbox.TopicScrapCost, req.SourceDocNumber, req)
}

func (o *OutboxCollaborators) CreatePurchaseRequisition(ctx context.Context, req core.PurchaseRequisition) error {
	return o.enqueue(ctx, outbox.TopicRequisition, req.SourceDocNumber, req)
}

func (o *OutboxCollaborators) NotifyProductionComplete(ctx context.Context, orgID, salesOrderRef, workOrderNumber, productID string, quantity decimal.Decimal) error {
	return o.enqueue(ctx, outbox.TopicProductionComplete, workOrderNumber, ProductionComplete{
		OrgID:           orgID,
		SalesOrderRef:   salesOrderRef,
		WorkOrderNumber: workOrderNumber,
		ProductID:       productID,
		Quantity:        quantity,
	})
}

func (o *OutboxCollaborators) NotifyReorderAlert(ctx context.Context, alert core.ReorderAlert) error {
	return o.enqueue(ctx, outbox.TopicReorderAlert, alert.Key().String(), alert)
}
