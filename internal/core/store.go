package core

import (
	"context"
)

// The engines are written against these repositories. internal/store/memory
// and internal/store/postgres provide the implementations.

// StockStore persists stock positions and their append-only movement log.
type StockStore interface {
	// Update locks the positions for keys, in sorted key order, and hands them
	// to fn in the order given. Missing positions arrive zero-initialized with
	// Exists=false. When fn succeeds, every position with Exists=true is written
	// together with the returned movements in one atomic step; when fn fails
	// nothing is written.
	Update(ctx context.Context, keys []PositionKey, fn func(positions []*StockPosition) ([]StockMovement, error)) error

	// Get returns ErrNotFound when the position has never been created.
	Get(ctx context.Context, key PositionKey) (StockPosition, error)

	List(ctx context.Context, orgID string) ([]StockPosition, error)

	// Movements returns history ordered oldest first by (timestamp, seq).
	Movements(ctx context.Context, key PositionKey, filter MovementFilter) ([]StockMovement, error)
}

// BomStore persists BOM headers, their line arena and routing.
type BomStore interface {
	// CreateBom fails with ErrDuplicateIdentifier on a repeated (org, bom number, version).
	CreateBom(ctx context.Context, bom *BomHeader) error
	GetBom(ctx context.Context, id string) (*BomHeader, error)
	UpdateBom(ctx context.Context, bom *BomHeader) error
	ListBoms(ctx context.Context, orgID, productID string) ([]BomHeader, error)

	Lines(ctx context.Context, bomID string) ([]BomLine, error)
	GetLine(ctx context.Context, lineID string) (*BomLine, error)
	SaveLine(ctx context.Context, line *BomLine) error
	DeleteLines(ctx context.Context, bomID string, lineIDs []string) error
}

// WorkOrderStore persists the work order aggregate with its materials and operations.
type WorkOrderStore interface {
	// Create fails with ErrDuplicateIdentifier on a repeated (org, work order number).
	Create(ctx context.Context, wo *WorkOrder) error
	Get(ctx context.Context, id string) (*WorkOrder, error)
	GetByNumber(ctx context.Context, orgID, number string) (*WorkOrder, error)
	// Save replaces the stored aggregate when its version matches wo.Version and
	// then increments wo.Version. A stale version fails with ErrConcurrentUpdate.
	Save(ctx context.Context, wo *WorkOrder) error
	List(ctx context.Context, orgID string, status *WorkOrderStatus) ([]WorkOrder, error)
}

// ReorderStore persists reorder rules and alerts.
type ReorderStore interface {
	SaveRule(ctx context.Context, rule *ReorderRule) error
	GetRule(ctx context.Context, id string) (*ReorderRule, error)
	FindRule(ctx context.Context, key PositionKey) (*ReorderRule, error)
	ActiveRules(ctx context.Context) ([]ReorderRule, error)

	// ActiveAlert returns the alert for key that is not CLOSED, or ErrNotFound.
	ActiveAlert(ctx context.Context, key PositionKey) (*ReorderAlert, error)
	// CreateAlert fails with ErrDuplicateIdentifier while another alert for the
	// same key is not CLOSED.
	CreateAlert(ctx context.Context, alert *ReorderAlert) error
	GetAlert(ctx context.Context, id string) (*ReorderAlert, error)
	SaveAlert(ctx context.Context, alert *ReorderAlert) error
	// MarkAlertNotified sets only the notification flag, leaving status and
	// audit fields as they are in the store.
	MarkAlertNotified(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, orgID string, statuses []AlertStatus) ([]ReorderAlert, error)
}

// SequenceStore hands out monotonic counters per (org, name).
type SequenceStore interface {
	NextValue(ctx context.Context, orgID, name string) (int64, error)
}
