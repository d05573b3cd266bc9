package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
)

// Post is a generated social post derived from journal text.
type Post struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UUID       string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	DailyLogID *uint          `gorm:"index" json:"daily_log_id,omitempty"`
	Tone       string         `gorm:"type:varchar(50);default:''" json:"tone"`
	SourceText string         `gorm:"type:text" json:"source_text"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	Status     string         `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns the public identifier
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = uuid.New().String()
	}
	return nil
}
