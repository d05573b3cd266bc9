package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

// Service owns the synchronous billing flows (checkout, portal, cancel) and
// the webhook event processor. The webhook path is the authoritative writer
// of subscription status; everything the synchronous path writes is
// provisional and gets confirmed or corrected by the next matching event.
type Service struct {
	repo     Repository
	provider Provider
	cfg      entitlements.Config
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, provider Provider, cfg entitlements.Config) *Service {
	return &Service{repo: repo, provider: provider, cfg: cfg}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider Provider, cfg entitlements.Config) *Service {
	return NewService(NewRepository(db), provider, cfg)
}

// SubscriptionSnapshot is the caller-facing view of an entitlement row.
type SubscriptionSnapshot struct {
	Status             entitlements.Status `json:"status"`
	Plan               entitlements.Plan   `json:"plan"`
	GenerationsUsed    int                 `json:"generations_used"`
	GenerationLimit    int                 `json:"generation_limit"`
	HasHadTrial        bool                `json:"has_had_trial"`
	TrialEndsAt        *time.Time          `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt *time.Time          `json:"subscription_ends_at,omitempty"`
}

// Snapshot returns the current status/plan/usage view for a user.
func (s *Service) Snapshot(userID uint) (*SubscriptionSnapshot, error) {
	e, err := s.repo.GetEntitlementByUserID(userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &SubscriptionSnapshot{
		Status:             e.LocalStatus(),
		Plan:               e.LocalPlan(),
		GenerationsUsed:    e.GenerationsUsed,
		GenerationLimit:    s.cfg.Quota(e.LocalPlan()),
		HasHadTrial:        e.HasHadTrial,
		TrialEndsAt:        e.TrialEndsAt,
		SubscriptionEndsAt: e.SubscriptionEndsAt,
	}, nil
}

// StartCheckout creates a checkout session for the single paid plan and
// returns the redirect URL. The trial inclusion decision is made here from
// persisted state only; nothing from the request body is trusted.
func (s *Service) StartCheckout(ctx context.Context, userID uint, plan string) (string, error) {
	if entitlements.NormalizePlan(plan) != entitlements.PlanPremium {
		return "", ErrInvalidPlan
	}

	e, err := s.repo.GetEntitlementByUserID(userID)
	if err != nil {
		if IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}

	// Mid-trial immediate upgrade: the provider subscription already exists,
	// so there is nothing to check out. End the trial at the provider and
	// move the local row to active right away so the UI reflects it; the
	// next webhook for this subscription confirms or corrects the write.
	if e.LocalStatus() == entitlements.StatusTrialing && e.BillingSubscriptionRef != "" {
		sub, err := s.provider.EndTrialNow(ctx, e.BillingSubscriptionRef)
		if err != nil {
			return "", err
		}
		if err := s.transition(userID, func(row *models.UserEntitlement) map[string]interface{} {
			return map[string]interface{}{
				"status":               string(entitlements.StatusActive),
				"plan":                 string(entitlements.PlanPremium),
				"subscription_ends_at": sub.PeriodEnd,
			}
		}); err != nil {
			return "", err
		}
		customerRef := e.BillingCustomerRef
		if customerRef == "" {
			customerRef = sub.CustomerID
		}
		return s.provider.CreatePortalSession(ctx, customerRef, s.cfg.PortalReturnURL)
	}

	customerID, err := s.ensureCustomer(ctx, userID, e)
	if err != nil {
		return "", err
	}

	trialDays := 0
	if !e.HasHadTrial {
		trialDays = s.cfg.TrialDays
	}

	url, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    s.cfg.PremiumPriceID,
		UserID:     userID,
		TrialDays:  trialDays,
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
	})
	if err != nil {
		return "", err
	}

	// Burn the trial as soon as a session carrying one exists. Replaying the
	// request cannot re-grant it: the next call sees has_had_trial = true.
	if trialDays > 0 {
		if _, err := s.repo.ApplyTransition(userID, e.Status, map[string]interface{}{
			"has_had_trial": true,
		}); err != nil {
			return "", err
		}
	}
	return url, nil
}

// OpenPortal returns a billing-portal redirect URL, lazily creating the
// provider customer when the user has none yet.
func (s *Service) OpenPortal(ctx context.Context, userID uint) (string, error) {
	e, err := s.repo.GetEntitlementByUserID(userID)
	if err != nil {
		if IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, userID, e)
	if err != nil {
		return "", err
	}
	return s.provider.CreatePortalSession(ctx, customerID, s.cfg.PortalReturnURL)
}

// CancelSubscription cancels immediately at the provider and provisionally
// marks the local row cancelled with an end date of now. Product policy is
// immediate-effect cancellation, not delayed-to-period-end.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) (time.Time, error) {
	e, err := s.repo.GetEntitlementByUserID(userID)
	if err != nil {
		if IsNotFound(err) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}

	if e.BillingSubscriptionRef != "" {
		if _, err := s.provider.CancelSubscription(ctx, e.BillingSubscriptionRef); err != nil {
			return time.Time{}, err
		}
	}

	now := time.Now()
	if err := s.transition(userID, func(row *models.UserEntitlement) map[string]interface{} {
		next, _ := entitlements.Transition(row.LocalStatus(), entitlements.EventSubscriptionDeleted)
		return map[string]interface{}{
			"status":               string(next),
			"subscription_ends_at": &now,
		}
	}); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// ensureCustomer returns the provider customer id for a user, looking up by
// contact address before creating so a crash between creation and persistence
// cannot produce duplicates, and persists a new ref before any redirect URL
// is handed out.
func (s *Service) ensureCustomer(ctx context.Context, userID uint, e *models.UserEntitlement) (string, error) {
	if e.BillingCustomerRef != "" {
		return e.BillingCustomerRef, nil
	}

	user, err := s.repo.GetUser(userID)
	if err != nil {
		return "", err
	}

	customerID, err := s.provider.FindCustomerByEmail(ctx, user.Email)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		customerID, err = s.provider.CreateCustomer(ctx, user.Email, user.Name, userID)
		if err != nil {
			return "", err
		}
	}
	if err := s.repo.SaveCustomerRef(userID, customerID); err != nil {
		return "", err
	}
	e.BillingCustomerRef = customerID
	return customerID, nil
}

// DeliveryResult describes how a webhook delivery was handled.
type DeliveryResult int

const (
	// DeliveryApplied means this delivery processed the event.
	DeliveryApplied DeliveryResult = iota
	// DeliveryDuplicate means an earlier delivery already applied the event.
	DeliveryDuplicate
)

// ProcessDelivery records and applies one verified event delivery. The dedup
// row alone never acknowledges a redelivery: only an event that was applied
// without error counts as a duplicate. A delivery that failed mid-processing
// keeps its row with processed_at unset or an error recorded, and the next
// delivery of the same event runs the handler again.
func (s *Service) ProcessDelivery(ctx context.Context, ev Event, rawPayload []byte) (DeliveryResult, error) {
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(rawPayload),
	})
	if err != nil {
		return 0, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return DeliveryDuplicate, nil
	}

	if err := s.HandleEvent(ctx, ev); err != nil {
		_ = s.repo.MarkWebhookProcessed(stored.ID, err.Error())
		return 0, err
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, ""); err != nil {
		return 0, err
	}
	return DeliveryApplied, nil
}

// HandleEvent applies one verified, deduplicated webhook event. A nil return
// acknowledges the event (2xx); an error return asks the provider to
// redeliver (5xx). Events that reference nobody we know are flagged and
// acknowledged, since redelivery cannot change the absence of a user.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case entitlements.EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, ev)
	case entitlements.EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ev)
	case entitlements.EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ev)
	case entitlements.EventInvoicePaid:
		return s.applyInvoicePaid(ev)
	case entitlements.EventInvoicePaymentFailed:
		return s.applyInvoicePaymentFailed(ev)
	default:
		// Unknown types are acknowledged so the provider stops retrying.
		return nil
	}
}

// applyCheckoutCompleted re-fetches the subscription from the provider
// instead of trusting the event snapshot: a later event may have superseded
// the payload by the time this handler runs.
func (s *Service) applyCheckoutCompleted(ctx context.Context, ev Event) error {
	if ev.SubscriptionRef == "" {
		return s.flagOrphan(ev, "checkout event without subscription reference")
	}

	sub, err := s.provider.GetSubscription(ctx, ev.SubscriptionRef)
	if err != nil {
		// Includes timeouts: fail closed so the provider redelivers.
		return err
	}

	e, err := s.locate(ev.UserIDMeta, sub.ID, sub.CustomerID)
	if err != nil {
		if IsNotFound(err) {
			return s.flagOrphan(ev, "no local user for checkout subscription")
		}
		return err
	}

	status, plan := entitlements.MapProviderStatus(sub.Status)
	return s.transition(e.UserID, func(row *models.UserEntitlement) map[string]interface{} {
		set := map[string]interface{}{
			"status":                   string(status),
			"plan":                     string(plan),
			"billing_subscription_ref": sub.ID,
			// A completed checkout starts a new billing cycle: clean counter.
			"generations_used": 0,
		}
		if sub.CustomerID != "" {
			set["billing_customer_ref"] = sub.CustomerID
		}
		if sub.PeriodEnd != nil {
			set["subscription_ends_at"] = sub.PeriodEnd
		}
		if status == entitlements.StatusTrialing {
			set["trial_ends_at"] = sub.TrialEnd
			set["has_had_trial"] = true
		}
		return set
	})
}

func (s *Service) applySubscriptionUpdated(ev Event) error {
	e, err := s.locate(0, ev.SubscriptionRef, ev.CustomerRef)
	if err != nil {
		if IsNotFound(err) {
			return s.flagOrphan(ev, "no local user for updated subscription")
		}
		return err
	}

	status, plan := entitlements.MapProviderStatus(ev.ProviderStatus)
	return s.transition(e.UserID, func(row *models.UserEntitlement) map[string]interface{} {
		set := map[string]interface{}{
			"status": string(status),
			"plan":   string(plan),
		}
		// A malformed or absent period end leaves the stored date untouched.
		if ev.PeriodEnd != nil {
			set["subscription_ends_at"] = ev.PeriodEnd
		}
		if status == entitlements.StatusTrialing {
			set["has_had_trial"] = true
		}
		if ev.SubscriptionRef != "" && row.BillingSubscriptionRef != ev.SubscriptionRef {
			set["billing_subscription_ref"] = ev.SubscriptionRef
		}
		return set
	})
}

func (s *Service) applySubscriptionDeleted(ev Event) error {
	e, err := s.locate(0, ev.SubscriptionRef, ev.CustomerRef)
	if err != nil {
		if IsNotFound(err) {
			return s.flagOrphan(ev, "no local user for deleted subscription")
		}
		return err
	}

	now := time.Now()
	return s.transition(e.UserID, func(row *models.UserEntitlement) map[string]interface{} {
		next, _ := entitlements.Transition(row.LocalStatus(), entitlements.EventSubscriptionDeleted)
		return map[string]interface{}{
			"status":               string(next),
			"subscription_ends_at": &now,
		}
	})
}

// applyInvoicePaid is the recurring-renewal path: the subscription renewed,
// so the user is active and the cycle counter starts clean.
func (s *Service) applyInvoicePaid(ev Event) error {
	e, err := s.locate(0, ev.SubscriptionRef, ev.CustomerRef)
	if err != nil {
		if IsNotFound(err) {
			return s.flagOrphan(ev, "no local user for paid invoice")
		}
		return err
	}

	return s.transition(e.UserID, func(row *models.UserEntitlement) map[string]interface{} {
		next, _ := entitlements.Transition(row.LocalStatus(), entitlements.EventInvoicePaid)
		set := map[string]interface{}{
			"status":           string(next),
			"plan":             string(entitlements.PlanForStatus(next, row.LocalPlan())),
			"generations_used": 0,
		}
		if ev.SubscriptionRef != "" && row.BillingSubscriptionRef != ev.SubscriptionRef {
			set["billing_subscription_ref"] = ev.SubscriptionRef
		}
		return set
	})
}

func (s *Service) applyInvoicePaymentFailed(ev Event) error {
	e, err := s.locate(0, ev.SubscriptionRef, ev.CustomerRef)
	if err != nil {
		if IsNotFound(err) {
			return s.flagOrphan(ev, "no local user for failed invoice")
		}
		return err
	}

	return s.transition(e.UserID, func(row *models.UserEntitlement) map[string]interface{} {
		next, _ := entitlements.Transition(row.LocalStatus(), entitlements.EventInvoicePaymentFailed)
		// Usage counters and quota are deliberately untouched here.
		return map[string]interface{}{
			"status": string(next),
			"plan":   string(entitlements.PlanForStatus(next, row.LocalPlan())),
		}
	})
}

// locate resolves the entitlement row an event refers to: explicit user
// metadata first, then the subscription reference, then the customer
// reference (covers refs rotated by a restart flow).
func (s *Service) locate(userIDMeta uint, subscriptionRef, customerRef string) (*models.UserEntitlement, error) {
	if userIDMeta != 0 {
		if e, err := s.repo.GetEntitlementByUserID(userIDMeta); err == nil {
			return e, nil
		} else if !IsNotFound(err) {
			return nil, err
		}
	}
	if e, err := s.repo.GetEntitlementBySubscriptionRef(subscriptionRef); err == nil {
		return e, nil
	} else if !IsNotFound(err) {
		return nil, err
	}
	return s.repo.GetEntitlementByCustomerRef(customerRef)
}

// transition runs the read-compute-conditional-write cycle, retrying once on
// a concurrent status change before surfacing StateConflict.
func (s *Service) transition(userID uint, build func(row *models.UserEntitlement) map[string]interface{}) error {
	for attempt := 0; attempt < 2; attempt++ {
		row, err := s.repo.GetEntitlementByUserID(userID)
		if err != nil {
			if IsNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		ok, err := s.repo.ApplyTransition(userID, row.Status, build(row))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	_ = s.repo.CreateFlag(&models.BillingFlag{
		Kind:   models.FlagStateConflict,
		UserID: &userID,
		Detail: "conditional entitlement write lost twice",
	})
	return ErrStateConflict
}

func (s *Service) flagOrphan(ev Event, detail string) error {
	return s.repo.CreateFlag(&models.BillingFlag{
		Kind:      models.FlagOrphanEvent,
		Reference: firstNonEmpty(ev.SubscriptionRef, ev.CustomerRef, ev.ID),
		Detail:    fmt.Sprintf("%s (event %s type %s)", detail, ev.ID, ev.Type),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
