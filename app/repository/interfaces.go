package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	EmailExists(email string) (bool, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
}

// DailyLogRepository defines the interface for work log operations
type DailyLogRepository interface {
	Create(log *models.DailyLog) error
	GetByUUID(uuid string) (*models.DailyLog, error)
	GetByUserID(userID uint, offset, limit int) ([]models.DailyLog, error)
	GetByUserIDAndDateRange(userID uint, from, to time.Time) ([]models.DailyLog, error)
	Update(log *models.DailyLog) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
}

// PostRepository defines the interface for generated post operations
type PostRepository interface {
	Create(post *models.Post) error
	GetByUUID(uuid string) (*models.Post, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Post, error)
	Update(post *models.Post) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
}

// FlagRepository defines the interface for billing reconciliation flags,
// surfaced on the admin side.
type FlagRepository interface {
	ListOpen(offset, limit int) ([]models.BillingFlag, error)
	CountOpen() (int64, error)
	Resolve(id uint) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User     UserRepository
	DailyLog DailyLogRepository
	Post     PostRepository
	Flag     FlagRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		DailyLog: NewDailyLogRepository(db),
		Post:     NewPostRepository(db),
		Flag:     NewFlagRepository(db),
	}
}
