package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

// Ledger gates quota-consuming actions against the per-plan generation
// limit. Check runs before the metered action; Commit only after it
// succeeded, so failed generations never consume quota.
type Ledger struct {
	repo Repository
	cfg  entitlements.Config
}

// NewLedger creates a usage ledger.
func NewLedger(repo Repository, cfg entitlements.Config) *Ledger {
	return &Ledger{repo: repo, cfg: cfg}
}

// NewLedgerFromDB creates a usage ledger from a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB, cfg entitlements.Config) *Ledger {
	return NewLedger(NewRepository(db), cfg)
}

// Grant is the result of a successful Check.
type Grant struct {
	Plan      entitlements.Plan
	Limit     int
	Used      int
	Unmetered bool
}

// Check decides whether the user may perform one generation. It returns
// ErrNotFound, ErrSubscriptionRequired or *LimitReachedError on denial.
func (l *Ledger) Check(userID uint) (*Grant, error) {
	user, err := l.repo.GetUser(userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Administrative override: unrestricted, nothing is counted.
	if user.IsAdmin() {
		return &Grant{Unmetered: true}, nil
	}

	e, err := l.repo.GetEntitlementByUserID(userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !e.LocalStatus().GrantsAccess() {
		return nil, ErrSubscriptionRequired
	}

	// A trial that ran out is denied even before the provider's deletion
	// event lands. The local downgrade is best effort; the webhook remains
	// the authoritative writer and will settle the row either way.
	if e.LocalStatus() == entitlements.StatusTrialing && e.TrialEndsAt != nil && e.TrialEndsAt.Before(time.Now()) {
		_, _ = l.repo.ApplyTransition(userID, e.Status, map[string]interface{}{
			"status": string(entitlements.StatusNoSubscription),
			"plan":   string(entitlements.PlanNone),
		})
		return nil, ErrSubscriptionRequired
	}

	limit := l.cfg.Quota(e.LocalPlan())
	if e.GenerationsUsed >= limit {
		return nil, &LimitReachedError{Plan: e.LocalPlan(), Limit: limit, Used: e.GenerationsUsed}
	}

	return &Grant{Plan: e.LocalPlan(), Limit: limit, Used: e.GenerationsUsed}, nil
}

// Commit records one consumed generation after the metered action succeeded.
// The increment is guarded so concurrent commits can never push the counter
// past the limit; a rejected guard means another request used the last slot.
func (l *Ledger) Commit(userID uint, grant *Grant) error {
	if grant == nil {
		return errors.New("commit without a prior usage grant")
	}
	if grant.Unmetered {
		return nil
	}
	ok, err := l.repo.ConsumeGeneration(userID, grant.Limit)
	if err != nil {
		return err
	}
	if !ok {
		return &LimitReachedError{Plan: grant.Plan, Limit: grant.Limit, Used: grant.Limit}
	}
	return nil
}
