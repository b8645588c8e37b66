package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// External collaborators. Calls are best-effort notifications: a failure is
// logged by the caller and never rolls back the state change that caused it.

type PostingKind string

const (
	PostingMaterialIssuance PostingKind = "MATERIAL_ISSUANCE"
	PostingFinishedGoods    PostingKind = "FINISHED_GOODS_COMPLETION"
	PostingScrapCost        PostingKind = "SCRAP_COST"
)

// PostingRequest asks accounting to book an amount computed by the core.
type PostingRequest struct {
	Kind            PostingKind     `json:"kind"`
	OrgID           string          `json:"organization_id"`
	SourceDocNumber string          `json:"source_doc_number"`
	ProductID       string          `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Amount          decimal.Decimal `json:"amount"`
}

type AccountingClient interface {
	PostMaterialIssuance(ctx context.Context, req PostingRequest) error
	PostFinishedGoodsCompletion(ctx context.Context, req PostingRequest) error
	PostScrapCost(ctx context.Context, req PostingRequest) error
}

// PurchaseRequisition is raised for a material that could not be reserved.
type PurchaseRequisition struct {
	OrgID           string          `json:"organization_id"`
	ComponentID     string          `json:"component_id"`
	Code            string          `json:"code"`
	Quantity        decimal.Decimal `json:"quantity"`
	UOM             string          `json:"uom"`
	NeededBy        time.Time       `json:"needed_by"`
	SourceDocNumber string          `json:"source_doc_number"`
	RequestedBy     string          `json:"requested_by"`
}

type PurchasingClient interface {
	CreatePurchaseRequisition(ctx context.Context, req PurchaseRequisition) error
}

type SalesClient interface {
	NotifyProductionComplete(ctx context.Context, orgID, salesOrderRef, workOrderNumber, productID string, quantity decimal.Decimal) error
}

// AlertNotifier publishes newly raised reorder alerts.
type AlertNotifier interface {
	NotifyReorderAlert(ctx context.Context, alert ReorderAlert) error
}

// Collaborators bundles the outbound contracts. Nil members are skipped.
type Collaborators struct {
	Accounting AccountingClient
	Purchasing PurchasingClient
	Sales      SalesClient
}
