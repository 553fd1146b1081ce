package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/db/models"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

var retryableStatuses = []enums.OutboxStatus{enums.OutboxStatusPending, enums.OutboxStatusFailed}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertOrGet stores a pending row, or returns the row already queued under
// the same company and idempotency key.
func (r *Repository) InsertOrGet(ctx context.Context, event models.OutboxEvent) (*models.OutboxEvent, bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = enums.OutboxStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}

	err := r.db.WithContext(ctx).Create(&event).Error
	if err == nil {
		return &event, true, nil
	}
	if !dbpkg.IsUniqueViolation(err, "") {
		return nil, false, err
	}
	existing, findErr := r.FindByKey(ctx, event.CompanyKey, event.IdempotencyKey)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) FindByKey(ctx context.Context, companyKey, idempotencyKey string) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("company_key = ? AND idempotency_key = ?", companyKey, idempotencyKey).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FetchDue returns pending rows and failed rows whose backoff elapsed, oldest first.
// Dead rows are never selected.
func (r *Repository) FetchDue(ctx context.Context, companyKey string, now time.Time, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("company_key = ?", companyKey).
		Where("status IN ?", retryableStatuses).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DueCompanies lists the companies that have at least one due row.
func (r *Repository) DueCompanies(ctx context.Context, now time.Time) ([]string, error) {
	var companies []string
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("status IN ?", retryableStatuses).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now.UTC()).
		Distinct("company_key").
		Order("company_key ASC").
		Pluck("company_key", &companies).Error
	return companies, err
}

// MarkFailedTx records a transient failure. It reports false when the row is
// gone or no longer retryable.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, lastErr string, nextAttemptAt, now time.Time) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status IN ?", id, retryableStatuses).
		Updates(map[string]any{
			"status":          enums.OutboxStatusFailed,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttemptAt.UTC(),
			"last_error":      lastErr,
			"updated_at":      now.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDeadTx moves a retryable row to dead.
func (r *Repository) MarkDeadTx(tx *gorm.DB, id uuid.UUID, lastErr string, now time.Time) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status IN ?", id, retryableStatuses).
		Updates(map[string]any{
			"status":          enums.OutboxStatusDead,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nil,
			"last_error":      lastErr,
			"updated_at":      now.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// WithdrawUnattemptedTx removes a pending row that has no recorded attempt.
func (r *Repository) WithdrawUnattemptedTx(tx *gorm.DB, id uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Where("id = ? AND status = ? AND attempt_count = 0", id, enums.OutboxStatusPending).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected > 0, res.Error
}

// DeleteAckedTx removes a row the ledger accepted.
func (r *Repository) DeleteAckedTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Where("id = ? AND status IN ?", id, retryableStatuses).
		Delete(&models.OutboxEvent{}).Error
}

// RequeueTx moves a dead row back to pending. Only the manager requeue path calls it.
func (r *Repository) RequeueTx(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusDead).
		Updates(map[string]any{
			"status":          enums.OutboxStatusPending,
			"attempt_count":   0,
			"next_attempt_at": nil,
			"updated_at":      now.UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// CountByStatus returns the backlog of a company; an empty company counts every row.
func (r *Repository) CountByStatus(ctx context.Context, companyKey string) (map[enums.OutboxStatus]int64, error) {
	type row struct {
		Status enums.OutboxStatus
		Total  int64
	}
	var rows []row
	q := r.db.WithContext(ctx).Model(&models.OutboxEvent{})
	if companyKey != "" {
		q = q.Where("company_key = ?", companyKey)
	}
	if err := q.Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[enums.OutboxStatus]int64, len(rows))
	for _, item := range rows {
		out[item.Status] = item.Total
	}
	return out, nil
}

// List returns rows of one status, oldest first.
func (r *Repository) List(ctx context.Context, companyKey string, status enums.OutboxStatus, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if companyKey != "" {
		q = q.Where("company_key = ?", companyKey)
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}
