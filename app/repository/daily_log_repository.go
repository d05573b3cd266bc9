package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// dailyLogRepository implements the DailyLogRepository interface
type dailyLogRepository struct {
	db *gorm.DB
}

// NewDailyLogRepository creates a new work log repository instance
func NewDailyLogRepository(db *gorm.DB) DailyLogRepository {
	return &dailyLogRepository{db: db}
}

// Create creates a new log entry in the database
func (r *dailyLogRepository) Create(log *models.DailyLog) error {
	return r.db.Create(log).Error
}

// GetByUUID retrieves a log entry by its public identifier
func (r *dailyLogRepository) GetByUUID(uuid string) (*models.DailyLog, error) {
	var entry models.DailyLog
	err := r.db.Where("uuid = ?", uuid).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetByUserID retrieves a paginated list of a user's log entries, newest first
func (r *dailyLogRepository) GetByUserID(userID uint, offset, limit int) ([]models.DailyLog, error) {
	var entries []models.DailyLog
	err := r.db.Where("user_id = ?", userID).
		Order("log_date DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&entries).Error
	return entries, err
}

// GetByUserIDAndDateRange retrieves a user's log entries within [from, to]
func (r *dailyLogRepository) GetByUserIDAndDateRange(userID uint, from, to time.Time) ([]models.DailyLog, error) {
	var entries []models.DailyLog
	err := r.db.Where("user_id = ? AND log_date BETWEEN ? AND ?", userID, from, to).
		Order("log_date ASC").
		Find(&entries).Error
	return entries, err
}

// Update updates an existing log entry
func (r *dailyLogRepository) Update(log *models.DailyLog) error {
	return r.db.Save(log).Error
}

// Delete deletes a log entry by its ID
func (r *dailyLogRepository) Delete(id uint) error {
	return r.db.Delete(&models.DailyLog{}, id).Error
}

// CountByUserID returns the number of log entries for a user
func (r *dailyLogRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.DailyLog{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
