package repository

import (
	"strings"

	"github.com/TobiasKraft/FanWerk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create inserts a new ledger row
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// GetByID retrieves a subscription by its surrogate id
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByExternalID retrieves a subscription by its processor-side handle
func (r *subscriptionRepository) GetByExternalID(externalID string) (*models.Subscription, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var sub models.Subscription
	if err := r.db.Where("external_subscription_id = ?", trimmed).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindByNaturalKey retrieves the newest non-canceled row for a natural key
func (r *subscriptionRepository) FindByNaturalKey(userID, creatorID, tierID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND creator_id = ? AND tier_id = ? AND status <> ?",
			userID, creatorID, tierID, models.SubscriptionStatusCanceled).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindLiveByUserCreator retrieves the active or cancelling row for a user and
// creator across all tiers. At most one such row exists.
func (r *subscriptionRepository) FindLiveByUserCreator(userID, creatorID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND creator_id = ? AND status IN ?",
			userID, creatorID,
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusCancelling}).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByUser returns all subscriptions held by a user
func (r *subscriptionRepository) ListByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

// ListByCreator returns subscriptions to a creator with pagination
func (r *subscriptionRepository) ListByCreator(creatorID uint, offset, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("creator_id = ?", creatorID).Offset(offset).Limit(limit).Order("id DESC").Find(&subs).Error
	return subs, err
}

// Update saves a modified ledger row
func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// UpsertByExternalID inserts or updates a row keyed by the processor-side
// subscription id. Replayed or reordered webhook deliveries converge to the
// same row instead of creating duplicates.
func (r *subscriptionRepository) UpsertByExternalID(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"creator_id",
			"tier_id",
			"status",
			"amount",
			"currency",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"external_customer_id",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("external_subscription_id = ?", sub.ExternalSubscriptionID).
		First(sub).Error
}

// DeleteIncomplete removes abandoned incomplete rows for a natural key
func (r *subscriptionRepository) DeleteIncomplete(userID, creatorID, tierID uint) error {
	return r.db.
		Where("user_id = ? AND creator_id = ? AND tier_id = ? AND status = ?",
			userID, creatorID, tierID, models.SubscriptionStatusIncomplete).
		Delete(&models.Subscription{}).Error
}

// CleanupDuplicates cancels any other non-canceled rows sharing keep's
// (user_id, creator_id) so only one row remains live after a successful
// authoritative write.
func (r *subscriptionRepository) CleanupDuplicates(keep *models.Subscription) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("user_id = ? AND creator_id = ? AND id <> ? AND status <> ?",
			keep.UserID, keep.CreatorID, keep.ID, models.SubscriptionStatusCanceled).
		Update("status", models.SubscriptionStatusCanceled)
	return tx.RowsAffected, tx.Error
}
