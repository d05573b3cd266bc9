package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// flagRepository implements the FlagRepository interface
type flagRepository struct {
	db *gorm.DB
}

// NewFlagRepository creates a new billing flag repository instance
func NewFlagRepository(db *gorm.DB) FlagRepository {
	return &flagRepository{db: db}
}

// ListOpen retrieves unresolved reconciliation flags, oldest first
func (r *flagRepository) ListOpen(offset, limit int) ([]models.BillingFlag, error) {
	var flags []models.BillingFlag
	err := r.db.Where("resolved_at IS NULL").
		Order("created_at ASC").
		Offset(offset).Limit(limit).
		Find(&flags).Error
	return flags, err
}

// CountOpen returns the number of unresolved flags
func (r *flagRepository) CountOpen() (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingFlag{}).Where("resolved_at IS NULL").Count(&count).Error
	return count, err
}

// Resolve marks a flag as handled
func (r *flagRepository) Resolve(id uint) error {
	now := time.Now()
	return r.db.Model(&models.BillingFlag{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", now).Error
}
