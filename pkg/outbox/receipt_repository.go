package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/db/models"
)

// ReceiptRepository stores the resolved remote identifier of acked events.
type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) FindByKey(ctx context.Context, companyKey, idempotencyKey string) (*models.OutboxReceipt, error) {
	var receipt models.OutboxReceipt
	err := r.db.WithContext(ctx).
		Where("company_key = ? AND idempotency_key = ?", companyKey, idempotencyKey).
		First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

// InsertTx writes a receipt. A receipt already stored for the key wins.
func (r *ReceiptRepository) InsertTx(tx *gorm.DB, receipt models.OutboxReceipt) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	exists, err := r.existsTx(tx, receipt.CompanyKey, receipt.IdempotencyKey)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := tx.Create(&receipt).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil
		}
		return err
	}
	return nil
}

func (r *ReceiptRepository) existsTx(tx *gorm.DB, companyKey, idempotencyKey string) (bool, error) {
	var count int64
	err := tx.Model(&models.OutboxReceipt{}).
		Where("company_key = ? AND idempotency_key = ?", companyKey, idempotencyKey).
		Count(&count).Error
	return count > 0, err
}

// PurgeBefore deletes receipts settled before the cutoff.
func (r *ReceiptRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("settled_at < ?", cutoff.UTC()).
		Delete(&models.OutboxReceipt{})
	return res.RowsAffected, res.Error
}
