package repository

import (
	"github.com/TobiasKraft/FanWerk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// earningsRepository implements the EarningsRepository interface
type earningsRepository struct {
	db *gorm.DB
}

// NewEarningsRepository creates a new earnings repository instance
func NewEarningsRepository(db *gorm.DB) EarningsRepository {
	return &earningsRepository{db: db}
}

// CreateIfNotExists inserts an earnings entry unless the invoice was already
// booked. Redelivered payment webhooks therefore book each invoice once.
func (r *earningsRepository) CreateIfNotExists(entry *models.EarningsEntry) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "external_invoice_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// SumByCreator returns the net amount earned by a creator
func (r *earningsRepository) SumByCreator(creatorID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.EarningsEntry{}).
		Where("creator_id = ?", creatorID).
		Select("COALESCE(SUM(net_amount), 0)").
		Scan(&total).Error
	return total, err
}
