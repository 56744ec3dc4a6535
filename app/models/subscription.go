package models

import (
	"time"
)

const (
	// SubscriptionStatusIncomplete marks a subscription created locally but not
	// yet backed by a successful payment.
	SubscriptionStatusIncomplete = "incomplete"
	// SubscriptionStatusPending is the fail-open default for processor states
	// we do not recognize.
	SubscriptionStatusPending = "pending"
	// SubscriptionStatusActive grants access to the creator's content.
	SubscriptionStatusActive = "active"
	// SubscriptionStatusCancelling keeps access until the period end, after
	// which the subscription becomes canceled.
	SubscriptionStatusCancelling = "cancelling"
	// SubscriptionStatusCanceled is terminal. No transition leaves it.
	SubscriptionStatusCanceled = "canceled"
)

// Subscription is the canonical ledger row for one user's paid membership to
// one creator tier. The natural key is (user_id, creator_id, tier_id); the
// processor-side handle external_subscription_id is unique and, once set, is
// never reassigned to a different row.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UUID                   string     `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID                 uint       `gorm:"not null;index:idx_subscriptions_user_creator_tier,priority:1" json:"user_id"`
	CreatorID              uint       `gorm:"not null;index:idx_subscriptions_user_creator_tier,priority:2" json:"creator_id"`
	TierID                 uint       `gorm:"not null;index:idx_subscriptions_user_creator_tier,priority:3" json:"tier_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	Amount                 int64      `gorm:"not null;default:0" json:"amount"`
	Currency               string     `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	ExternalSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_external_id" json:"external_subscription_id"`
	ExternalCustomerID     string     `gorm:"type:varchar(191);not null;default:'';index" json:"external_customer_id"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLive reports whether the row still grants access. At most one live row may
// exist per (user_id, creator_id).
func (s *Subscription) IsLive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusCancelling
}

// IsTerminal reports whether the row is in its final state.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCanceled
}
