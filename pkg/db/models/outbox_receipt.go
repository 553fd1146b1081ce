package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/pkg/enums"
)

// OutboxReceipt remembers the ledger's answer for an idempotency key after
// the outbox row is removed.
type OutboxReceipt struct {
	ID             uuid.UUID             `gorm:"column:id;type:text;primaryKey"`
	CompanyKey     string                `gorm:"column:company_key;not null;uniqueIndex:ux_outbox_receipts_company_idempotency,priority:1"`
	IdempotencyKey string                `gorm:"column:idempotency_key;not null;uniqueIndex:ux_outbox_receipts_company_idempotency,priority:2"`
	EventID        uuid.UUID             `gorm:"column:event_id;type:text;not null"`
	EventType      enums.OutboxEventType `gorm:"column:event_type;not null"`
	RemoteEventID  string                `gorm:"column:remote_event_id;not null"`
	InvoiceID      *string               `gorm:"column:invoice_id"`
	Replayed       bool                  `gorm:"column:replayed;not null;default:false"`
	SettledAt      time.Time             `gorm:"column:settled_at;not null;index"`
}

func (OutboxReceipt) TableName() string { return "outbox_receipts" }
