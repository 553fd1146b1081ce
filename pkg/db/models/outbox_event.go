package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/pos-register/pkg/db/types"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

// OutboxEvent is a ledger write that has not been acknowledged yet. Rows are
// deleted once the ledger accepts them; dead rows stay until a manager requeues them.
type OutboxEvent struct {
	ID             uuid.UUID             `gorm:"column:id;type:text;primaryKey"`
	CompanyKey     string                `gorm:"column:company_key;not null;uniqueIndex:ux_outbox_events_company_idempotency,priority:1"`
	EventType      enums.OutboxEventType `gorm:"column:event_type;not null"`
	Payload        dbtypes.JSONText      `gorm:"column:payload;type:text;not null"`
	PayloadDigest  string                `gorm:"column:payload_digest;not null;default:''"`
	IdempotencyKey string                `gorm:"column:idempotency_key;not null;uniqueIndex:ux_outbox_events_company_idempotency,priority:2"`
	Status         enums.OutboxStatus    `gorm:"column:status;not null;default:pending"`
	AttemptCount   int                   `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt  *time.Time            `gorm:"column:next_attempt_at"`
	LastError      *string               `gorm:"column:last_error"`
	CreatedAt      time.Time             `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;not null"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
