package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/pos-register/pkg/db/types"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

// OutboxDLQ captures every transition to dead for auditing and manual requeue.
type OutboxDLQ struct {
	ID             uuid.UUID                  `gorm:"column:id;type:text;primaryKey"`
	EventID        uuid.UUID                  `gorm:"column:event_id;type:text;not null;index"`
	CompanyKey     string                     `gorm:"column:company_key;not null"`
	EventType      enums.OutboxEventType      `gorm:"column:event_type;not null"`
	IdempotencyKey string                     `gorm:"column:idempotency_key;not null"`
	Payload        dbtypes.JSONText           `gorm:"column:payload_json;type:text;not null"`
	ErrorReason    enums.OutboxDLQErrorReason `gorm:"column:error_reason;not null"`
	ErrorMessage   *string                    `gorm:"column:error_message"`
	AttemptCount   int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt       time.Time                  `gorm:"column:failed_at;not null"`
	RequeuedAt     *time.Time                 `gorm:"column:requeued_at"`
	RequeuedBy     *string                    `gorm:"column:requeued_by"`
	CreatedAt      time.Time                  `gorm:"column:created_at;not null"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
