package billing

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

const testWebhookSecret = "whsec_test_secret"

// signHeader builds a Stripe-Signature header the verifier accepts.
func signHeader(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func eventJSON(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"created":1756300000,"api_version":"2025-03-31","data":{"object":%s}}`,
		id, eventType, object,
	))
}

func TestVerifyAndParseEventRejectsBadSignature(t *testing.T) {
	payload := eventJSON("evt_1", "customer.subscription.updated", `{"id":"sub_1"}`)

	_, err := VerifyAndParseEvent(payload, "t=123,v1=deadbeef", testWebhookSecret)
	assert.Error(t, err)

	// Signing with the wrong secret must fail too.
	_, err = VerifyAndParseEvent(payload, signHeader(payload, "whsec_other"), testWebhookSecret)
	assert.Error(t, err)
}

func TestVerifyAndParseEventUnknownTypeHasNoKind(t *testing.T) {
	payload := eventJSON("evt_2", "charge.refunded", `{"id":"ch_1"}`)

	ev, err := VerifyAndParseEvent(payload, signHeader(payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	assert.Equal(t, "evt_2", ev.ID)
	assert.Equal(t, "charge.refunded", ev.Type)
	assert.Empty(t, ev.Kind, "unhandled types must come back without a kind")
}

func TestVerifyAndParseEventCheckoutSessionCompleted(t *testing.T) {
	object := `{"id":"cs_1","subscription":"sub_42","customer":"cus_42","client_reference_id":"7"}`
	payload := eventJSON("evt_3", "checkout.session.completed", object)

	ev, err := VerifyAndParseEvent(payload, signHeader(payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	assert.Equal(t, entitlements.EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, "sub_42", ev.SubscriptionRef)
	assert.Equal(t, "cus_42", ev.CustomerRef)
	assert.Equal(t, uint(7), ev.UserIDMeta)
}

func TestVerifyAndParseEventCheckoutSessionMetadataFallback(t *testing.T) {
	// No client_reference_id, user ref only in metadata.
	object := `{"id":"cs_2","subscription":"sub_43","customer":"cus_43","metadata":{"userId":"9"}}`
	payload := eventJSON("evt_4", "checkout.session.completed", object)

	ev, err := VerifyAndParseEvent(payload, signHeader(payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	assert.Equal(t, uint(9), ev.UserIDMeta)
}

func TestVerifyAndParseEventSubscriptionUpdated(t *testing.T) {
	object := `{
		"id": "sub_55",
		"status": "active",
		"customer": "cus_55",
		"metadata": {"userId": "11"},
		"items": {"data": [
			{"current_period_end": 1760000000},
			{"current_period_end": 1765000000}
		]}
	}`
	payload := eventJSON("evt_5", "customer.subscription.updated", object)

	ev, err := VerifyAndParseEvent(payload, signHeader(payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	assert.Equal(t, entitlements.EventSubscriptionUpdated, ev.Kind)
	assert.Equal(t, "sub_55", ev.SubscriptionRef)
	assert.Equal(t, "cus_55", ev.CustomerRef)
	assert.Equal(t, "active", ev.ProviderStatus)
	assert.Equal(t, uint(11), ev.UserIDMeta)
	// The latest item period end wins.
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, int64(1765000000), ev.PeriodEnd.Unix())
}

func TestVerifyAndParseEventSubscriptionDeleted(t *testing.T) {
	object := `{"id":"sub_56","status":"canceled","customer":"cus_56"}`
	payload := eventJSON("evt_6", "customer.subscription.deleted", object)

	ev, err := VerifyAndParseEvent(payload, signHeader(payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	assert.Equal(t, entitlements.EventSubscriptionDeleted, ev.Kind)
	assert.Equal(t, "canceled", ev.ProviderStatus)
	assert.Nil(t, ev.PeriodEnd)
}

func TestVerifyAndParseEventInvoicePaymentFailed(t *testing.T) {
	object := `{
		"id": "in_1",
		"customer": "cus_77",
		"parent": {"subscription_details": {
			"subscription": "sub_77",
			"metadata": {"userId": "13"}
		}}
	}`
	payload := eventJSON("evt_7", "invoice.payment_failed", object)

	ev, err := VerifyAndParseEvent(payload, signHeader(payload, testWebhookSecret), testWebhookSecret)
	require.NoError(t, err)

	assert.Equal(t, entitlements.EventInvoicePaymentFailed, ev.Kind)
	assert.Equal(t, "cus_77", ev.CustomerRef)
	assert.Equal(t, "sub_77", ev.SubscriptionRef)
	assert.Equal(t, uint(13), ev.UserIDMeta)
}
