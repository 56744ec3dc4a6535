package repository

import (
	"github.com/TobiasKraft/FanWerk/app/models"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the interface for subscription ledger operations
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByExternalID(externalID string) (*models.Subscription, error)
	FindByNaturalKey(userID, creatorID, tierID uint) (*models.Subscription, error)
	FindLiveByUserCreator(userID, creatorID uint) (*models.Subscription, error)
	ListByUser(userID uint) ([]models.Subscription, error)
	ListByCreator(creatorID uint, offset, limit int) ([]models.Subscription, error)
	Update(sub *models.Subscription) error
	UpsertByExternalID(sub *models.Subscription) error
	DeleteIncomplete(userID, creatorID, tierID uint) error
	CleanupDuplicates(keep *models.Subscription) (int64, error)
}

// TierRepository defines the interface for tier directory lookups
type TierRepository interface {
	GetByID(id uint) (*models.Tier, error)
	ListByCreator(creatorID uint) ([]models.Tier, error)
	SetExternalPriceIfAbsent(tierID uint, productID, priceID string) error
}

// CreatorRepository defines the interface for creator directory lookups
type CreatorRepository interface {
	GetByID(id uint) (*models.Creator, error)
	GetByUserID(userID uint) (*models.Creator, error)
}

// UserRepository defines the interface for user identity lookups
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	SetExternalCustomerIfAbsent(userID uint, customerID string) error
}

// WebhookEventRepository defines the interface for webhook dedup bookkeeping
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
	MarkSignatureValid(id uint) error
}

// EarningsRepository defines the interface for creator earnings bookkeeping
type EarningsRepository interface {
	CreateIfNotExists(entry *models.EarningsEntry) (bool, error)
	SumByCreator(creatorID uint) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Subscription SubscriptionRepository
	Tier         TierRepository
	Creator      CreatorRepository
	User         UserRepository
	WebhookEvent WebhookEventRepository
	Earnings     EarningsRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Subscription: NewSubscriptionRepository(db),
		Tier:         NewTierRepository(db),
		Creator:      NewCreatorRepository(db),
		User:         NewUserRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Earnings:     NewEarningsRepository(db),
	}
}
