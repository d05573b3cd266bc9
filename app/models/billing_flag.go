package models

import "time"

// Billing flag kinds. Flags mark cases that need manual reconciliation:
// trial grants made while the provider was unreachable, and webhook events
// that referenced a customer or subscription no local user matches.
const (
	FlagTrialFailOpen = "trial_fail_open"
	FlagOrphanEvent   = "orphan_event"
	FlagStateConflict = "state_conflict"
)

// BillingFlag records a reconciliation case for later review.
type BillingFlag struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Kind       string     `gorm:"type:varchar(40);not null;index" json:"kind"`
	UserID     *uint      `gorm:"index" json:"user_id,omitempty"`
	Email      string     `gorm:"type:varchar(200);default:''" json:"email"`
	Reference  string     `gorm:"type:varchar(191);default:''" json:"reference"`
	Detail     string     `gorm:"type:text" json:"detail"`
	ResolvedAt *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
