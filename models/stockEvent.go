package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/intrafmc/cbd_backend/utils"
)

const StockEventArrivalValidated = "arrival.validated"

// StockEvent is the transactional outbox row written next to every stock
// application. Publishing happens after commit via the outbox dispatcher.
type StockEvent struct {
	ID            int       `gorm:"primary_key;index:idx_stock_event_dispatch,priority:3" json:"id"`
	EventType     string    `gorm:"size:64;not null" json:"event_type"`
	ArrivalId     int       `gorm:"not null;uniqueIndex" json:"arrival_id"`
	Payload       []byte    `gorm:"type:blob" json:"payload"`
	OccurredAt    time.Time `gorm:"not null" json:"occurred_at"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	// publish metadata
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_stock_event_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_stock_event_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StockEvent) TableName() string { return "stock_events" }

type StockEventLine struct {
	ProductId int `json:"product_id"`
	Quantity  int `json:"quantity"`
	NewStock  int `json:"new_stock"`
}

type StockEventPayload struct {
	EventType  string           `json:"event_type"`
	ArrivalId  int              `json:"arrival_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	Lines      []StockEventLine `json:"lines"`
}

func newArrivalValidatedEvent(ctx context.Context, arrivalId int, at time.Time, lines []StockEventLine) (*StockEvent, error) {
	payload, err := json.Marshal(StockEventPayload{
		EventType:  StockEventArrivalValidated,
		ArrivalId:  arrivalId,
		OccurredAt: at,
		Lines:      lines,
	})
	if err != nil {
		return nil, err
	}
	return &StockEvent{
		EventType:     StockEventArrivalValidated,
		ArrivalId:     arrivalId,
		Payload:       payload,
		OccurredAt:    at,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}, nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
