package billing

import "context"

// Provider is the external billing API surface the entitlement subsystem
// consumes. The Stripe implementation lives in stripe.go; tests use a fake.
type Provider interface {
	// FindCustomerByEmail returns the provider customer id for a contact
	// address, or "" when none exists.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)

	// CreateCustomer creates a provider customer and returns its id.
	CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error)

	// HasSubscriptionHistory reports whether the customer has ever held any
	// subscription, in any status. Presence of history is the trial-abuse
	// signal, not current status.
	HasSubscriptionHistory(ctx context.Context, customerID string) (bool, error)

	// GetSubscription fetches the current subscription state. Handlers use
	// this instead of trusting event payload snapshots.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// CreateCheckoutSession returns the redirect URL for a new checkout.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSession returns the redirect URL for the billing portal.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// EndTrialNow converts a trialing subscription to paid immediately.
	EndTrialNow(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// CancelSubscription cancels immediately (not at period end).
	CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}
