// Package outbox spools outbound collaborator messages so that a state change
// never waits on, or fails because of, a downstream system. Messages are
// delivered at least once by a Dispatcher.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TopicMaterialIssuance   = "accounting.material_issuance"
	TopicFinishedGoods      = "accounting.finished_goods"
	TopicScrapCost          = "accounting.scrap"
	TopicRequisition        = "purchasing.requisition"
	TopicProductionComplete = "sales.production_complete"
	TopicReorderAlert       = "inventory.reorder_alert"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusDead      Status = "DEAD"
)

var ErrMessageNotFound = errors.New("outbox message not found")

// Message is one queued delivery. Key groups messages about the same document,
// e.g. a work order number.
type Message struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	Status        Status          `json:"status"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
}

// NewMessage encodes payload as JSON into a PENDING message due immediately.
func NewMessage(topic, key string, payload any, now time.Time) (*Message, error) {
	if topic == "" {
		return nil, fmt.Errorf("outbox message requires a topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return &Message{
		ID:            uuid.NewString(),
		Topic:         topic,
		Key:           key,
		Payload:       body,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// Store persists messages. Due returns PENDING messages whose NextAttemptAt is
// not after now, oldest first.
type Store interface {
	Enqueue(ctx context.Context, msg *Message) error
	Due(ctx context.Context, now time.Time, limit int) ([]Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a failed attempt and either reschedules the message or,
	// when dead is set, parks it as DEAD.
	MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error
	List(ctx context.Context, status Status) ([]Message, error)
}
