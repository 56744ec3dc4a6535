package repository

import (
	"strings"

	"github.com/TobiasKraft/FanWerk/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SetExternalCustomerIfAbsent stores the processor-side customer handle only
// when the user does not have one yet.
func (r *userRepository) SetExternalCustomerIfAbsent(userID uint, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return gorm.ErrInvalidData
	}
	return r.db.Model(&models.User{}).
		Where("id = ? AND (external_customer_id = '' OR external_customer_id IS NULL)", userID).
		Update("external_customer_id", customerID).Error
}
