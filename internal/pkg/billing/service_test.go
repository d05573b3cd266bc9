package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RaphaelSchmid/ShipLog/app/models"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

func newTestService(repo *memRepo, provider *fakeProvider) *Service {
	return NewService(repo, provider, entitlements.DefaultConfig())
}

func checkInvariants(t *testing.T, e models.UserEntitlement) {
	t.Helper()
	if e.Status == string(entitlements.StatusActive) && e.Plan != string(entitlements.PlanPremium) {
		t.Fatalf("invariant broken: active user on plan %q", e.Plan)
	}
	if e.Status == string(entitlements.StatusTrialing) && e.Plan != string(entitlements.PlanTrial) {
		t.Fatalf("invariant broken: trialing user on plan %q", e.Plan)
	}
}

func TestCheckoutCompletedRefreshesFromProvider(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(models.NewTrialEntitlement(1, 7))

	trialEnd := time.Now().Add(7 * 24 * time.Hour)
	provider.subs["sub_1"] = &ProviderSubscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "trialing", TrialEnd: &trialEnd,
	}

	ev := Event{
		ID: "evt_1", Type: "checkout.session.completed",
		Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1,
	}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := repo.entitlement(1)
	checkInvariants(t, e)
	if e.Status != string(entitlements.StatusTrialing) || e.Plan != string(entitlements.PlanTrial) {
		t.Fatalf("got status=%q plan=%q", e.Status, e.Plan)
	}
	if e.BillingSubscriptionRef != "sub_1" || e.BillingCustomerRef != "cus_1" {
		t.Fatalf("refs not persisted: %q %q", e.BillingSubscriptionRef, e.BillingCustomerRef)
	}
	if e.GenerationsUsed != 0 {
		t.Fatalf("usage counter not reset: %d", e.GenerationsUsed)
	}
	if !e.HasHadTrial {
		t.Fatalf("provider trial must mark has_had_trial")
	}
}

func TestCheckoutCompletedIgnoresStaleEventSnapshot(t *testing.T) {
	// The provider has already moved the subscription to active by the time
	// the checkout event is handled; the handler must use current truth.
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(models.NewTrialEntitlement(1, 7))
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"}

	ev := Event{
		ID: "evt_1", Type: "checkout.session.completed",
		Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1,
		ProviderStatus: "trialing", // stale snapshot in the payload
	}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := repo.entitlement(1)
	checkInvariants(t, e)
	if e.Status != string(entitlements.StatusActive) || e.Plan != string(entitlements.PlanPremium) {
		t.Fatalf("got status=%q plan=%q, want active/premium", e.Status, e.Plan)
	}
}

func TestCheckoutThenRenewalScenario(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(models.NewTrialEntitlement(1, 7))
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "trialing"}

	checkout := Event{
		ID: "evt_1", Type: "checkout.session.completed",
		Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1,
	}
	if err := svc.HandleEvent(context.Background(), checkout); err != nil {
		t.Fatalf("checkout event: %v", err)
	}

	paid := Event{
		ID: "evt_2", Type: "invoice.payment_succeeded",
		Kind: entitlements.EventInvoicePaid, SubscriptionRef: "sub_1", CustomerRef: "cus_1",
	}
	if err := svc.HandleEvent(context.Background(), paid); err != nil {
		t.Fatalf("invoice event: %v", err)
	}

	e := repo.entitlement(1)
	checkInvariants(t, e)
	if e.Status != string(entitlements.StatusActive) || e.Plan != string(entitlements.PlanPremium) || e.GenerationsUsed != 0 {
		t.Fatalf("got status=%q plan=%q used=%d, want active/premium/0", e.Status, e.Plan, e.GenerationsUsed)
	}
}

func TestEventHandlersAreIdempotent(t *testing.T) {
	trialEnd := time.Now().Add(24 * time.Hour)
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	events := []Event{
		{ID: "e1", Type: "checkout.session.completed", Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1},
		{ID: "e2", Type: "customer.subscription.updated", Kind: entitlements.EventSubscriptionUpdated, SubscriptionRef: "sub_1", ProviderStatus: "active", PeriodEnd: &periodEnd},
		{ID: "e3", Type: "invoice.payment_succeeded", Kind: entitlements.EventInvoicePaid, SubscriptionRef: "sub_1", CustomerRef: "cus_1"},
		{ID: "e4", Type: "invoice.payment_failed", Kind: entitlements.EventInvoicePaymentFailed, CustomerRef: "cus_1"},
		{ID: "e5", Type: "customer.subscription.deleted", Kind: entitlements.EventSubscriptionDeleted, SubscriptionRef: "sub_1"},
	}

	for _, ev := range events {
		repo := newMemRepo()
		provider := newFakeProvider()
		svc := newTestService(repo, provider)

		repo.addUser(1, "a@example.com", models.ROLE_USER)
		ent := models.NewTrialEntitlement(1, 7)
		ent.BillingSubscriptionRef = "sub_1"
		ent.BillingCustomerRef = "cus_1"
		ent.GenerationsUsed = 4
		repo.addEntitlement(ent)
		provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "trialing", TrialEnd: &trialEnd}

		if err := svc.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("%s: first apply: %v", ev.Type, err)
		}
		once := repo.entitlement(1)
		checkInvariants(t, once)

		if err := svc.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("%s: second apply: %v", ev.Type, err)
		}
		twice := repo.entitlement(1)

		// subscription_deleted stamps processing time; tolerate the clock.
		once.UpdatedAt, twice.UpdatedAt = time.Time{}, time.Time{}
		if ev.Kind == entitlements.EventSubscriptionDeleted {
			once.SubscriptionEndsAt, twice.SubscriptionEndsAt = nil, nil
		}
		if once != twice {
			t.Fatalf("%s: second apply changed state:\n once: %+v\ntwice: %+v", ev.Type, once, twice)
		}
	}
}

func TestFailedDeliveryIsReprocessedOnRedelivery(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(models.NewTrialEntitlement(1, 7))
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"}

	ev := Event{
		ID: "evt_1", Type: "checkout.session.completed",
		Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1,
	}
	payload := []byte(`{"id":"evt_1"}`)

	// First delivery dies against an unreachable provider; the stored row
	// records the failure instead of marking the event handled.
	provider.err = ErrProviderUnavailable
	if _, err := svc.ProcessDelivery(context.Background(), ev, payload); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if stored := repo.webhookEvent("evt_1"); stored.ProcessingError == "" {
		t.Fatalf("failure not recorded on the stored event")
	}

	// The redelivery must run the handler again, not be swallowed as a
	// duplicate of the failed attempt.
	provider.err = nil
	result, err := svc.ProcessDelivery(context.Background(), ev, payload)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if result != DeliveryApplied {
		t.Fatalf("redelivery result = %v, want applied", result)
	}

	e := repo.entitlement(1)
	checkInvariants(t, e)
	if e.Status != string(entitlements.StatusActive) {
		t.Fatalf("status = %q, want active after redelivery", e.Status)
	}
	stored := repo.webhookEvent("evt_1")
	if stored.ProcessedAt == nil || stored.ProcessingError != "" {
		t.Fatalf("redelivery did not settle the stored event: %+v", stored)
	}

	// Only now, after a successful apply, is the event a duplicate.
	result, err = svc.ProcessDelivery(context.Background(), ev, payload)
	if err != nil || result != DeliveryDuplicate {
		t.Fatalf("third delivery = (%v, %v), want duplicate", result, err)
	}
}

func TestEventsAreIsolatedBetweenUsers(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addUser(2, "b@example.com", models.ROLE_USER)
	entA := models.NewTrialEntitlement(1, 7)
	entA.BillingSubscriptionRef = "sub_a"
	repo.addEntitlement(entA)
	entB := models.NewTrialEntitlement(2, 7)
	entB.BillingSubscriptionRef = "sub_b"
	entB.GenerationsUsed = 3
	repo.addEntitlement(entB)

	before := repo.entitlement(2)
	ev := Event{ID: "e1", Type: "customer.subscription.deleted", Kind: entitlements.EventSubscriptionDeleted, SubscriptionRef: "sub_a"}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := repo.entitlement(1).Status; got != string(entitlements.StatusCancelled) {
		t.Fatalf("user 1 status = %q, want cancelled", got)
	}
	if after := repo.entitlement(2); after != before {
		t.Fatalf("user 2 state changed:\nbefore: %+v\n after: %+v", before, after)
	}
}

func TestSubscriptionDeletedTakesImmediateEffect(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	ent := &models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusActive),
		Plan:   string(entitlements.PlanPremium),
		BillingSubscriptionRef: "sub_1",
	}
	repo.addEntitlement(ent)

	start := time.Now()
	ev := Event{ID: "e1", Type: "customer.subscription.deleted", Kind: entitlements.EventSubscriptionDeleted, SubscriptionRef: "sub_1"}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := repo.entitlement(1)
	if e.Status != string(entitlements.StatusCancelled) {
		t.Fatalf("status = %q, want cancelled", e.Status)
	}
	if e.SubscriptionEndsAt == nil || e.SubscriptionEndsAt.Before(start) || e.SubscriptionEndsAt.After(time.Now()) {
		t.Fatalf("subscription_ends_at not stamped with processing time: %v", e.SubscriptionEndsAt)
	}
}

func TestSubscriptionUpdatedKeepsEndDateWhenPeriodEndAbsent(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	stored := time.Now().Add(20 * 24 * time.Hour).Truncate(time.Second)
	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(&models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusActive),
		Plan:   string(entitlements.PlanPremium),
		BillingSubscriptionRef: "sub_1",
		SubscriptionEndsAt:     &stored,
	})

	ev := Event{
		ID: "e1", Type: "customer.subscription.updated",
		Kind: entitlements.EventSubscriptionUpdated, SubscriptionRef: "sub_1",
		ProviderStatus: "past_due", PeriodEnd: nil,
	}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := repo.entitlement(1)
	if e.Status != string(entitlements.StatusPastDue) {
		t.Fatalf("status = %q, want past_due", e.Status)
	}
	if e.SubscriptionEndsAt == nil || !e.SubscriptionEndsAt.Equal(stored) {
		t.Fatalf("stored end date was clobbered: %v", e.SubscriptionEndsAt)
	}
}

func TestSubscriptionUpdatedFallsBackToCustomerRef(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	// Reference rotated after a restart flow: local row has an old sub ref.
	repo.addEntitlement(&models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusActive),
		Plan:   string(entitlements.PlanPremium),
		BillingSubscriptionRef: "sub_old",
		BillingCustomerRef:     "cus_1",
	})

	ev := Event{
		ID: "e1", Type: "customer.subscription.updated",
		Kind: entitlements.EventSubscriptionUpdated,
		SubscriptionRef: "sub_new", CustomerRef: "cus_1", ProviderStatus: "active",
	}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := repo.entitlement(1)
	if e.BillingSubscriptionRef != "sub_new" {
		t.Fatalf("rotated subscription ref not adopted: %q", e.BillingSubscriptionRef)
	}
}

func TestInvoicePaymentFailedLeavesUsageAlone(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(&models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusActive),
		Plan:   string(entitlements.PlanPremium),
		BillingCustomerRef: "cus_1",
		GenerationsUsed:    42,
	})

	ev := Event{ID: "e1", Type: "invoice.payment_failed", Kind: entitlements.EventInvoicePaymentFailed, CustomerRef: "cus_1"}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := repo.entitlement(1)
	if e.Status != string(entitlements.StatusPastDue) {
		t.Fatalf("status = %q, want past_due", e.Status)
	}
	if e.GenerationsUsed != 42 {
		t.Fatalf("payment failure must not touch the usage counter, got %d", e.GenerationsUsed)
	}
}

func TestOrphanEventIsAcknowledgedAndFlagged(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)
	provider.subs["sub_x"] = &ProviderSubscription{ID: "sub_x", CustomerID: "cus_x", Status: "active"}

	ev := Event{ID: "e1", Type: "checkout.session.completed", Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_x"}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("orphan events must be acknowledged, got %v", err)
	}
	if len(repo.flags) != 1 || repo.flags[0].Kind != models.FlagOrphanEvent {
		t.Fatalf("expected one orphan flag, got %+v", repo.flags)
	}
}

func TestProviderFailureIsRetryable(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(models.NewTrialEntitlement(1, 7))
	provider.err = ErrProviderUnavailable

	ev := Event{ID: "e1", Type: "checkout.session.completed", Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1}
	err := svc.HandleEvent(context.Background(), ev)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected retryable provider error, got %v", err)
	}
}

func TestStartCheckoutIncludesTrialOnlyOnce(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(&models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusNoSubscription),
		Plan:   string(entitlements.PlanNone),
	})

	url, err := svc.StartCheckout(context.Background(), 1, "premium")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Fatalf("expected a redirect url")
	}
	if provider.lastCheckout.TrialDays == 0 {
		t.Fatalf("first checkout should carry the trial")
	}
	if !repo.entitlement(1).HasHadTrial {
		t.Fatalf("trial grant must be burned before returning the redirect")
	}

	// Replaying the request cannot re-grant the trial.
	if _, err := svc.StartCheckout(context.Background(), 1, "premium"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.lastCheckout.TrialDays != 0 {
		t.Fatalf("second checkout must not carry a trial")
	}
}

func TestStartCheckoutRejectsUnknownPlan(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, newFakeProvider())
	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(models.NewTrialEntitlement(1, 7))

	if _, err := svc.StartCheckout(context.Background(), 1, "platinum"); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestStartCheckoutReusesExistingProviderCustomer(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(&models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusNoSubscription),
		Plan:   string(entitlements.PlanNone),
	})
	provider.customersByEmail["a@example.com"] = "cus_existing"

	if _, err := svc.StartCheckout(context.Background(), 1, "premium"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.createdCustomers != 0 {
		t.Fatalf("must reuse the existing customer, created %d", provider.createdCustomers)
	}
	if got := repo.entitlement(1).BillingCustomerRef; got != "cus_existing" {
		t.Fatalf("customer ref not persisted: %q", got)
	}
}

func TestMidTrialUpgradeEndsTrialSynchronously(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	ent := models.NewTrialEntitlement(1, 7)
	ent.BillingSubscriptionRef = "sub_1"
	ent.BillingCustomerRef = "cus_1"
	ent.HasHadTrial = true
	repo.addEntitlement(ent)
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "trialing"}

	url, err := svc.StartCheckout(context.Background(), 1, "premium")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Fatalf("expected a redirect url")
	}
	if len(provider.endTrialCalls) != 1 || provider.endTrialCalls[0] != "sub_1" {
		t.Fatalf("trial not ended at provider: %v", provider.endTrialCalls)
	}

	e := repo.entitlement(1)
	checkInvariants(t, e)
	if e.Status != string(entitlements.StatusActive) {
		t.Fatalf("status = %q, want provisional active", e.Status)
	}
}

func TestCancelSubscriptionIsImmediate(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	repo.addEntitlement(&models.UserEntitlement{
		UserID: 1,
		Status: string(entitlements.StatusActive),
		Plan:   string(entitlements.PlanPremium),
		BillingSubscriptionRef: "sub_1",
	})
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"}

	cancelledAt, err := svc.CancelSubscription(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.cancelCalls) != 1 {
		t.Fatalf("provider cancel not called")
	}
	e := repo.entitlement(1)
	if e.Status != string(entitlements.StatusCancelled) {
		t.Fatalf("status = %q, want cancelled", e.Status)
	}
	if e.SubscriptionEndsAt == nil || !e.SubscriptionEndsAt.Equal(cancelledAt) {
		t.Fatalf("end date %v does not match confirmation %v", e.SubscriptionEndsAt, cancelledAt)
	}
}

func TestHasHadTrialIsMonotonic(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(repo, provider)

	repo.addUser(1, "a@example.com", models.ROLE_USER)
	ent := models.NewTrialEntitlement(1, 7)
	ent.HasHadTrial = true
	ent.BillingSubscriptionRef = "sub_1"
	ent.BillingCustomerRef = "cus_1"
	repo.addEntitlement(ent)
	provider.subs["sub_1"] = &ProviderSubscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"}

	events := []Event{
		{ID: "e1", Type: "checkout.session.completed", Kind: entitlements.EventCheckoutCompleted, SubscriptionRef: "sub_1", UserIDMeta: 1},
		{ID: "e2", Type: "customer.subscription.updated", Kind: entitlements.EventSubscriptionUpdated, SubscriptionRef: "sub_1", ProviderStatus: "active"},
		{ID: "e3", Type: "invoice.payment_succeeded", Kind: entitlements.EventInvoicePaid, SubscriptionRef: "sub_1"},
		{ID: "e4", Type: "customer.subscription.deleted", Kind: entitlements.EventSubscriptionDeleted, SubscriptionRef: "sub_1"},
	}
	for _, ev := range events {
		if err := svc.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("%s: %v", ev.Type, err)
		}
		if !repo.entitlement(1).HasHadTrial {
			t.Fatalf("%s cleared has_had_trial", ev.Type)
		}
	}
}
