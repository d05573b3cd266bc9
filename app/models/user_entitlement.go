package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

// UserEntitlement is the per-user subscription record: status, plan, usage
// counter, trial markers and the external billing references. One row per
// user, created at registration. The webhook processor is the authoritative
// writer; the checkout flow may write provisionally.
type UserEntitlement struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'no_subscription';index" json:"status"`
	Plan                   string     `gorm:"type:varchar(32);not null;default:'none'" json:"plan"`
	GenerationsUsed        int        `gorm:"not null;default:0" json:"generations_used"`
	HasHadTrial            bool       `gorm:"not null;default:false" json:"has_had_trial"`
	TrialEndsAt            *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt     *time.Time `gorm:"type:timestamp;default:null" json:"subscription_ends_at,omitempty"`
	BillingCustomerRef     string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	BillingSubscriptionRef string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// LocalStatus returns the row status as a typed value.
func (e *UserEntitlement) LocalStatus() entitlements.Status {
	return entitlements.NormalizeStatus(e.Status)
}

// LocalPlan returns the row plan as a typed value.
func (e *UserEntitlement) LocalPlan() entitlements.Plan {
	return entitlements.NormalizePlan(e.Plan)
}

// BeforeSave keeps has_had_trial monotonic: once a row carries true the hook
// refuses to write false back, regardless of what the caller assembled.
func (e *UserEntitlement) BeforeSave(tx *gorm.DB) error {
	if e.ID == 0 || e.HasHadTrial {
		return nil
	}
	var stored UserEntitlement
	if err := tx.Session(&gorm.Session{NewDB: true}).
		Select("has_had_trial").
		Where("id = ?", e.ID).
		First(&stored).Error; err == nil && stored.HasHadTrial {
		e.HasHadTrial = true
	}
	return nil
}

// NewTrialEntitlement builds the row for a user who was granted the trial.
func NewTrialEntitlement(userID uint, trialDays int) *UserEntitlement {
	ends := time.Now().AddDate(0, 0, trialDays)
	return &UserEntitlement{
		UserID:      userID,
		Status:      string(entitlements.StatusTrialing),
		Plan:        string(entitlements.PlanTrial),
		TrialEndsAt: &ends,
	}
}

// NewIneligibleEntitlement builds the row for a user whose contact address
// already has billing history: no trial, must subscribe before generating.
func NewIneligibleEntitlement(userID uint) *UserEntitlement {
	return &UserEntitlement{
		UserID:      userID,
		Status:      string(entitlements.StatusCancelled),
		Plan:        string(entitlements.PlanPremium),
		HasHadTrial: true,
	}
}
