package models

import "time"

// Creator holds the payout side of the tier/creator directory: the
// processor-side connected account that subscription revenue is routed to and
// the platform fee retained from it. The engine reads this directory, it does
// not own profile data.
type Creator struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UUID              string    `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID            uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	DisplayName       string    `gorm:"type:varchar(150);not null" json:"display_name"`
	ExternalAccountID string    `gorm:"type:varchar(191);not null;default:''" json:"external_account_id"`
	PlatformFeePct    float64   `gorm:"not null;default:10" json:"platform_fee_pct"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
