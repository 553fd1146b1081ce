package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pos-register/pkg/db/models"
	dbtypes "github.com/angelmondragon/pos-register/pkg/db/types"
)

// DraftRepository persists the cart of a register so a crash mid-sale can be
// recovered.
type DraftRepository struct {
	db *gorm.DB
}

// NewDraftRepository binds the repository to the provided GORM handle.
func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *DraftRepository) WithTx(tx *gorm.DB) *DraftRepository {
	if tx == nil {
		return r
	}
	return &DraftRepository{db: tx}
}

// Save overwrites the register's draft with the given lines.
func (r *DraftRepository) Save(ctx context.Context, registerID string, lines []Line) error {
	if registerID == "" {
		return errors.New("register id is required")
	}
	if lines == nil {
		lines = []Line{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode cart draft: %w", err)
	}
	draft := models.CartDraft{
		RegisterID: registerID,
		Lines:      dbtypes.JSONText(data),
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "register_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"lines_json": draft.Lines,
				"version":    gorm.Expr("cart_drafts.version + 1"),
				"updated_at": draft.UpdatedAt,
			}),
		}).
		Create(&draft).Error
}

// Load returns the saved lines, or nil when the register has no draft.
func (r *DraftRepository) Load(ctx context.Context, registerID string) ([]Line, error) {
	var draft models.CartDraft
	err := r.db.WithContext(ctx).Where("register_id = ?", registerID).First(&draft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var lines []Line
	if err := json.Unmarshal(draft.Lines, &lines); err != nil {
		return nil, fmt.Errorf("decode cart draft: %w", err)
	}
	return lines, nil
}

// Delete removes the register's draft.
func (r *DraftRepository) Delete(ctx context.Context, registerID string) error {
	return r.db.WithContext(ctx).Where("register_id = ?", registerID).Delete(&models.CartDraft{}).Error
}
