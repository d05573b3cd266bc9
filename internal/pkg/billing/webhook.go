package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// VerifyAndParseEvent checks the webhook signature against the raw body and
// normalizes the payload into an Event. A failed signature or malformed
// payload returns an error; event types the processor does not handle come
// back with an empty Kind and are acknowledged upstream.
func VerifyAndParseEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	raw, err := webhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	ev := &Event{
		ID:         raw.ID,
		Type:       string(raw.Type),
		OccurredAt: time.Unix(raw.Created, 0),
	}
	kind, known := KnownEventKind(ev.Type)
	if !known {
		return ev, nil
	}
	ev.Kind = kind

	switch ev.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("invalid checkout session payload: %w", err)
		}
		if sess.Subscription != nil {
			ev.SubscriptionRef = sess.Subscription.ID
		}
		if sess.Customer != nil {
			ev.CustomerRef = sess.Customer.ID
		}
		ev.UserIDMeta = parseUserRef(sess.ClientReferenceID)
		if ev.UserIDMeta == 0 && sess.Metadata != nil {
			ev.UserIDMeta = parseUserRef(sess.Metadata["userId"])
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("invalid subscription payload: %w", err)
		}
		norm := normalizeSubscription(&sub)
		ev.SubscriptionRef = norm.ID
		ev.CustomerRef = norm.CustomerID
		ev.ProviderStatus = norm.Status
		ev.PeriodEnd = norm.PeriodEnd
		ev.UserIDMeta = parseUserRef(norm.UserRefMeta)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(raw.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("invalid invoice payload: %w", err)
		}
		if inv.Customer != nil {
			ev.CustomerRef = inv.Customer.ID
		}
		// Subscription invoices carry their subscription under the parent
		// since the 2025 API.
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			if inv.Parent.SubscriptionDetails.Subscription != nil {
				ev.SubscriptionRef = inv.Parent.SubscriptionDetails.Subscription.ID
			}
			if md := inv.Parent.SubscriptionDetails.Metadata; md != nil {
				ev.UserIDMeta = parseUserRef(md["userId"])
			}
		}
	}

	return ev, nil
}

func parseUserRef(raw string) uint {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
