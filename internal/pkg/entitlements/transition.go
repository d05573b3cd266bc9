package entitlements

import "strings"

// EventKind identifies the billing events the webhook processor reacts to.
type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout_completed"
	EventSubscriptionUpdated  EventKind = "subscription_updated"
	EventSubscriptionDeleted  EventKind = "subscription_deleted"
	EventInvoicePaid          EventKind = "invoice_paid"
	EventInvoicePaymentFailed EventKind = "invoice_payment_failed"
)

// MapProviderStatus is the single place provider subscription status strings
// are mapped onto a local (Status, Plan) pair. Every event handler goes
// through here; nothing else interprets provider status values.
func MapProviderStatus(providerStatus string) (Status, Plan) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "trialing":
		return StatusTrialing, PlanTrial
	case "active":
		return StatusActive, PlanPremium
	case "past_due", "unpaid":
		return StatusPastDue, PlanPremium
	case "canceled", "cancelled", "paused":
		return StatusCancelled, PlanPremium
	case "incomplete", "incomplete_expired":
		return StatusNoSubscription, PlanNone
	default:
		return StatusNoSubscription, PlanNone
	}
}

type transitionKey struct {
	from  Status
	event EventKind
}

// transitionTable spells out current status x event -> next status for the
// events whose effect does not depend on a provider status snapshot.
// Checkout-completed and subscription-updated events instead refresh from
// provider truth via MapProviderStatus and are not listed here.
var transitionTable = map[transitionKey]Status{
	{StatusNoSubscription, EventSubscriptionDeleted}: StatusCancelled,
	{StatusTrialing, EventSubscriptionDeleted}:       StatusCancelled,
	{StatusActive, EventSubscriptionDeleted}:         StatusCancelled,
	{StatusPastDue, EventSubscriptionDeleted}:        StatusCancelled,
	{StatusCancelled, EventSubscriptionDeleted}:      StatusCancelled,

	{StatusNoSubscription, EventInvoicePaid}: StatusActive,
	{StatusTrialing, EventInvoicePaid}:       StatusActive,
	{StatusActive, EventInvoicePaid}:         StatusActive,
	{StatusPastDue, EventInvoicePaid}:        StatusActive,
	{StatusCancelled, EventInvoicePaid}:      StatusActive,

	{StatusNoSubscription, EventInvoicePaymentFailed}: StatusPastDue,
	{StatusTrialing, EventInvoicePaymentFailed}:       StatusPastDue,
	{StatusActive, EventInvoicePaymentFailed}:         StatusPastDue,
	{StatusPastDue, EventInvoicePaymentFailed}:        StatusPastDue,
	{StatusCancelled, EventInvoicePaymentFailed}:      StatusPastDue,
}

// Transition returns the status after applying a fixed-effect event to the
// current status. The second return is false when the event kind needs a
// provider status snapshot instead (use MapProviderStatus for those).
func Transition(current Status, event EventKind) (Status, bool) {
	next, ok := transitionTable[transitionKey{NormalizeStatus(string(current)), event}]
	return next, ok
}
