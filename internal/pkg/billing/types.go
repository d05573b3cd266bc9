package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

// ProviderName is the only billing provider ShipLog talks to.
const ProviderName = "stripe"

var (
	// ErrNotFound means no entitlement row exists for the user.
	ErrNotFound = errors.New("entitlement not found")
	// ErrInvalidPlan means the requested plan is not purchasable.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrSubscriptionRequired is the quota-gate denial for users without an
	// access-granting status.
	ErrSubscriptionRequired = errors.New("subscription required")
	// ErrProviderUnavailable marks transient provider failures; interactive
	// callers surface "try again", the webhook path returns 5xx for redelivery.
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	// ErrStateConflict is returned when a conditional entitlement write lost
	// against a concurrent transition twice in a row.
	ErrStateConflict = errors.New("entitlement state conflict")
)

// LimitReachedError is the quota-gate denial carrying the numbers the caller
// needs to render an actionable response.
type LimitReachedError struct {
	Plan  entitlements.Plan
	Limit int
	Used  int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("generation limit reached: %d/%d on plan %s", e.Used, e.Limit, e.Plan)
}

// ProviderSubscription is the provider-agnostic snapshot of a subscription,
// the shape every handler reasons about instead of raw provider payloads.
type ProviderSubscription struct {
	ID          string
	CustomerID  string
	Status      string
	PeriodEnd   *time.Time
	TrialEnd    *time.Time
	UserRefMeta string
}

// CheckoutParams describes a checkout session to create at the provider.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     uint
	TrialDays  int
	SuccessURL string
	CancelURL  string
}

// Event is a normalized webhook event. The transport layer verifies the
// signature and parses provider JSON into this; the service never sees raw
// payloads.
type Event struct {
	ID              string
	Type            string
	Kind            entitlements.EventKind
	SubscriptionRef string
	CustomerRef     string
	UserIDMeta      uint
	ProviderStatus  string
	PeriodEnd       *time.Time
	OccurredAt      time.Time
}

// KnownEventKind reports whether a provider event type is one the processor
// handles. Everything else is acknowledged and ignored.
func KnownEventKind(eventType string) (entitlements.EventKind, bool) {
	switch eventType {
	case "checkout.session.completed":
		return entitlements.EventCheckoutCompleted, true
	case "customer.subscription.updated":
		return entitlements.EventSubscriptionUpdated, true
	case "customer.subscription.deleted":
		return entitlements.EventSubscriptionDeleted, true
	case "invoice.payment_succeeded":
		return entitlements.EventInvoicePaid, true
	case "invoice.payment_failed":
		return entitlements.EventInvoicePaymentFailed, true
	default:
		return "", false
	}
}
