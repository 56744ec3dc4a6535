package repository

import (
	"strings"

	"github.com/TobiasKraft/FanWerk/app/models"
	"gorm.io/gorm"
)

// tierRepository implements the TierRepository interface
type tierRepository struct {
	db *gorm.DB
}

// NewTierRepository creates a new tier repository instance
func NewTierRepository(db *gorm.DB) TierRepository {
	return &tierRepository{db: db}
}

// GetByID retrieves a tier by its ID
func (r *tierRepository) GetByID(id uint) (*models.Tier, error) {
	var tier models.Tier
	if err := r.db.First(&tier, id).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

// ListByCreator returns all active tiers owned by a creator
func (r *tierRepository) ListByCreator(creatorID uint) ([]models.Tier, error) {
	var tiers []models.Tier
	err := r.db.Where("creator_id = ? AND is_active = ?", creatorID, true).Order("amount ASC").Find(&tiers).Error
	return tiers, err
}

// SetExternalPriceIfAbsent stores the processor-side product/price handles
// only when none are set yet. The guard makes the lazy handle creation
// write-once even when two creation calls race.
func (r *tierRepository) SetExternalPriceIfAbsent(tierID uint, productID, priceID string) error {
	productID = strings.TrimSpace(productID)
	priceID = strings.TrimSpace(priceID)
	if productID == "" || priceID == "" {
		return gorm.ErrInvalidData
	}
	return r.db.Model(&models.Tier{}).
		Where("id = ? AND (external_price_id = '' OR external_price_id IS NULL)", tierID).
		Updates(map[string]interface{}{
			"external_product_id": productID,
			"external_price_id":   priceID,
		}).Error
}
