package models

import (
	"time"

	dbtypes "github.com/angelmondragon/pos-register/pkg/db/types"
)

// CartDraft is the last known cart of a register, restored after a crash.
type CartDraft struct {
	RegisterID string           `gorm:"column:register_id;primaryKey"`
	Lines      dbtypes.JSONText `gorm:"column:lines_json;type:text;not null"`
	Version    int64            `gorm:"column:version;not null;default:0"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;not null"`
}

func (CartDraft) TableName() string { return "cart_drafts" }
