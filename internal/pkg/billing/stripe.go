package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/env"
)

// providerTimeout bounds every outbound Stripe call.
const providerTimeout = 15 * time.Second

// InitStripe wires the Stripe API key from the environment. Call once at startup.
func InitStripe() {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct{}

// NewStripeProvider returns the production provider.
func NewStripeProvider() *StripeProvider {
	return &StripeProvider{}
}

func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", wrapProviderErr(err)
	}
	return "", nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("userId", fmt.Sprintf("%d", userID))

	cust, err := customer.New(params)
	if err != nil {
		return "", wrapProviderErr(err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) HasSubscriptionHistory(ctx context.Context, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := subscription.List(params)
	for iter.Next() {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, wrapProviderErr(err)
	}
	return false, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapProviderErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(in.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(fmt.Sprintf("%d", in.UserID)),
	}
	params.Context = ctx
	params.AddMetadata("userId", fmt.Sprintf("%d", in.UserID))

	subData := &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: map[string]string{"userId": fmt.Sprintf("%d", in.UserID)},
	}
	if in.TrialDays > 0 {
		subData.TrialPeriodDays = stripe.Int64(int64(in.TrialDays))
	}
	params.SubscriptionData = subData

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", wrapProviderErr(err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return "", wrapProviderErr(err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) EndTrialNow(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		TrialEndNow: stripe.Bool(true),
	}
	params.Context = ctx

	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, wrapProviderErr(err)
	}
	return normalizeSubscription(sub), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := subscription.Cancel(subscriptionID, params)
	if err != nil {
		return nil, wrapProviderErr(err)
	}
	return normalizeSubscription(sub), nil
}

// normalizeSubscription maps a Stripe subscription onto the provider-agnostic
// snapshot. Period end lives on the subscription items since the 2025 API.
func normalizeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Metadata != nil {
		out.UserRefMeta = sub.Metadata["userId"]
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		out.TrialEnd = &t
	}
	if sub.Items != nil {
		var periodEnd int64
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
		if periodEnd > 0 {
			t := time.Unix(periodEnd, 0)
			out.PeriodEnd = &t
		}
	}
	return out
}

// wrapProviderErr folds timeouts and provider-side failures into
// ErrProviderUnavailable; caller mistakes (bad ids, bad params) pass through.
func wrapProviderErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return err
	}
	// Transport-level failures (connection refused, DNS) have no status code.
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
