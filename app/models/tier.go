package models

import "time"

const (
	TierIntervalMonth = "month"
	TierIntervalYear  = "year"
)

// Tier is a creator-owned membership price point. The processor-side price
// and product handles are created lazily on first use and then cached here;
// they are written at most once (write-once-if-absent).
type Tier struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UUID              string    `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	CreatorID         uint      `gorm:"not null;index" json:"creator_id"`
	Name              string    `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=1,max=150"`
	Description       string    `gorm:"type:text" json:"description"`
	Amount            int64     `gorm:"not null" json:"amount" validate:"gt=0"`
	Currency          string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Interval          string    `gorm:"type:varchar(16);not null;default:'month'" json:"interval" validate:"oneof=month year"`
	ExternalPriceID   string    `gorm:"type:varchar(191);default:''" json:"external_price_id"`
	ExternalProductID string    `gorm:"type:varchar(191);default:''" json:"external_product_id"`
	IsActive          bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
