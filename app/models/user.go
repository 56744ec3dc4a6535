package models

import (
	"time"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// User is the minimal identity row the engine consumes. Authentication and
// profile data live upstream; the engine only needs a stable id and the
// processor-side customer handle once one exists.
type User struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UUID               string    `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	Name               string    `gorm:"type:varchar(150)" json:"name"`
	Email              string    `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	Status             string    `gorm:"type:varchar(50);default:'active'" json:"status"`
	ExternalCustomerID string    `gorm:"type:varchar(191);default:'';index" json:"external_customer_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
