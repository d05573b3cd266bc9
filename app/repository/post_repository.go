package repository

import (
	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// postRepository implements the PostRepository interface
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository instance
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

// Create creates a new post in the database
func (r *postRepository) Create(post *models.Post) error {
	return r.db.Create(post).Error
}

// GetByUUID retrieves a post by its public identifier
func (r *postRepository) GetByUUID(uuid string) (*models.Post, error) {
	var post models.Post
	err := r.db.Where("uuid = ?", uuid).First(&post).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GetByUserID retrieves a paginated list of a user's posts, newest first
func (r *postRepository) GetByUserID(userID uint, offset, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&posts).Error
	return posts, err
}

// Update updates an existing post
func (r *postRepository) Update(post *models.Post) error {
	return r.db.Save(post).Error
}

// Delete deletes a post by its ID
func (r *postRepository) Delete(id uint) error {
	return r.db.Delete(&models.Post{}, id).Error
}

// CountByUserID returns the number of posts for a user
func (r *postRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Post{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
