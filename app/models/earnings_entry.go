package models

import "time"

// EarningsEntry records one paid invoice on the creator's side of the ledger.
// The unique external invoice id makes the bookkeeping idempotent under
// webhook redelivery.
type EarningsEntry struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	CreatorID         uint      `gorm:"not null;index" json:"creator_id"`
	SubscriptionID    uint      `gorm:"not null;index" json:"subscription_id"`
	ExternalInvoiceID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_earnings_external_invoice" json:"external_invoice_id"`
	GrossAmount       int64     `gorm:"not null" json:"gross_amount"`
	PlatformFee       int64     `gorm:"not null" json:"platform_fee"`
	NetAmount         int64     `gorm:"not null" json:"net_amount"`
	Currency          string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
