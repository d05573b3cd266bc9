package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DailyLog is one journal entry of work done on a given day.
type DailyLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	LogDate   time.Time      `gorm:"type:date;not null;index" json:"log_date"`
	Title     string         `gorm:"type:varchar(200)" json:"title" validate:"max=200"`
	Content   string         `gorm:"type:text;not null" json:"content" validate:"required,max=20000"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns the public identifier
func (d *DailyLog) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == "" {
		d.UUID = uuid.New().String()
	}
	return nil
}
