package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// Repository provides the DB operations used by the billing service, usage
// ledger and trial evaluator.
type Repository interface {
	GetUser(userID uint) (*models.User, error)
	GetEntitlementByUserID(userID uint) (*models.UserEntitlement, error)
	GetEntitlementBySubscriptionRef(ref string) (*models.UserEntitlement, error)
	GetEntitlementByCustomerRef(ref string) (*models.UserEntitlement, error)
	CreateEntitlement(e *models.UserEntitlement) error

	// SaveCustomerRef persists a newly created provider customer id. It only
	// fills an empty column, so a concurrent call cannot rotate the ref.
	SaveCustomerRef(userID uint, ref string) error

	// ApplyTransition performs the single conditional write per logical
	// transition: the update only lands if the row still has fromStatus.
	// Returns false when a concurrent writer got there first.
	ApplyTransition(userID uint, fromStatus string, set map[string]interface{}) (bool, error)

	// ConsumeGeneration atomically increments the usage counter, guarded so
	// it can never exceed limit. Returns false when the guard rejected it.
	ConsumeGeneration(userID uint, limit int) (bool, error)

	// ResetUsage zeroes the counter for one user (renewal reset).
	ResetUsage(userID uint) error

	// ResetUsageForStatuses zeroes counters for every user in the given
	// statuses (scheduled period reset). A point operation, not a delta.
	ResetUsageForStatuses(statuses []string) (int64, error)

	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	CreateFlag(flag *models.BillingFlag) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUser(userID uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetEntitlementByUserID(userID uint) (*models.UserEntitlement, error) {
	var e models.UserEntitlement
	if err := r.db.Where("user_id = ?", userID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) GetEntitlementBySubscriptionRef(ref string) (*models.UserEntitlement, error) {
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var e models.UserEntitlement
	if err := r.db.Where("billing_subscription_ref = ?", ref).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) GetEntitlementByCustomerRef(ref string) (*models.UserEntitlement, error) {
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var e models.UserEntitlement
	if err := r.db.Where("billing_customer_ref = ?", ref).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) CreateEntitlement(e *models.UserEntitlement) error {
	return r.db.Create(e).Error
}

func (r *gormRepository) SaveCustomerRef(userID uint, ref string) error {
	return r.db.Model(&models.UserEntitlement{}).
		Where("user_id = ? AND (billing_customer_ref = '' OR billing_customer_ref = ?)", userID, ref).
		Update("billing_customer_ref", ref).Error
}

func (r *gormRepository) ApplyTransition(userID uint, fromStatus string, set map[string]interface{}) (bool, error) {
	// has_had_trial is monotonic; never allow a transition to clear it.
	if v, ok := set["has_had_trial"]; ok {
		if b, isBool := v.(bool); isBool && !b {
			delete(set, "has_had_trial")
		}
	}
	tx := r.db.Model(&models.UserEntitlement{}).
		Where("user_id = ? AND status = ?", userID, fromStatus).
		Updates(set)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ConsumeGeneration(userID uint, limit int) (bool, error) {
	tx := r.db.Model(&models.UserEntitlement{}).
		Where("user_id = ? AND generations_used < ?", userID, limit).
		Update("generations_used", gorm.Expr("generations_used + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ResetUsage(userID uint) error {
	// Setting the counter to zero twice is naturally idempotent.
	return r.db.Model(&models.UserEntitlement{}).
		Where("user_id = ?", userID).
		Update("generations_used", 0).Error
}

func (r *gormRepository) ResetUsageForStatuses(statuses []string) (int64, error) {
	tx := r.db.Model(&models.UserEntitlement{}).
		Where("status IN ?", statuses).
		Update("generations_used", 0)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) CreateFlag(flag *models.BillingFlag) error {
	return r.db.Create(flag).Error
}

// IsNotFound reports whether an error is a missing-row error from the store.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound)
}
