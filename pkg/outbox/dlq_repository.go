package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pos-register/pkg/db/models"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
)

var errNoTx = errors.New("transaction required")

// DLQRepository keeps the dead-letter audit trail. Rows are appended when an
// event goes dead and stamped when a manager requeues it; they are never
// deleted.
type DLQRepository struct {
	db *gorm.DB
}

// DLQFilter narrows a dead-letter listing. Zero values mean "any".
type DLQFilter struct {
	CompanyKey string
	Reason     enums.OutboxDLQErrorReason
	// Open keeps only entries that were not requeued yet.
	Open  bool
	Limit int
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errNoTx
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.FailedAt
	}
	if entry.ErrorMessage != nil {
		msg := clipErrorMessage(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns the most recent entry for the event, or nil.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("failed_at DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns entries matching f, newest first.
func (r *DLQRepository) List(ctx context.Context, f DLQFilter) ([]models.OutboxDLQ, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultDLQListed
	}
	q := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if f.CompanyKey != "" {
		q = q.Where("company_key = ?", f.CompanyKey)
	}
	if f.Reason != "" {
		q = q.Where("error_reason = ?", f.Reason)
	}
	if f.Open {
		q = q.Where("requeued_at IS NULL")
	}
	var rows []models.OutboxDLQ
	err := q.Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkRequeuedTx stamps every open entry of the event with the approver.
func (r *DLQRepository) MarkRequeuedTx(tx *gorm.DB, eventID uuid.UUID, approver string, at time.Time) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxDLQ{}).
		Where("event_id = ? AND requeued_at IS NULL", eventID).
		Updates(map[string]any{
			"requeued_at": at.UTC(),
			"requeued_by": approver,
		}).Error
}

// clipErrorMessage caps the stored message without splitting a rune.
func clipErrorMessage(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
