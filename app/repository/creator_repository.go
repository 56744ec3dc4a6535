package repository

import (
	"github.com/TobiasKraft/FanWerk/app/models"
	"gorm.io/gorm"
)

// creatorRepository implements the CreatorRepository interface
type creatorRepository struct {
	db *gorm.DB
}

// NewCreatorRepository creates a new creator repository instance
func NewCreatorRepository(db *gorm.DB) CreatorRepository {
	return &creatorRepository{db: db}
}

// GetByID retrieves a creator by its ID
func (r *creatorRepository) GetByID(id uint) (*models.Creator, error) {
	var creator models.Creator
	if err := r.db.First(&creator, id).Error; err != nil {
		return nil, err
	}
	return &creator, nil
}

// GetByUserID retrieves the creator profile owned by a user
func (r *creatorRepository) GetByUserID(userID uint) (*models.Creator, error) {
	var creator models.Creator
	if err := r.db.Where("user_id = ?", userID).First(&creator).Error; err != nil {
		return nil, err
	}
	return &creator, nil
}
