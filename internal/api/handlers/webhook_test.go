package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/types"
)

type fakeAdapter struct {
	provider  types.PaymentProviderName
	header    string
	event     types.BillingEvent
	parseErr  error
	gotBodies []string
}

func (f *fakeAdapter) Provider() types.PaymentProviderName { return f.provider }

func (f *fakeAdapter) Matches(r *http.Request) bool {
	return r.Header.Get(f.header) != ""
}

func (f *fakeAdapter) VerifyAndParse(_ *http.Request, body []byte) (types.BillingEvent, error) {
	if f.parseErr != nil {
		return types.BillingEvent{}, f.parseErr
	}
	f.gotBodies = append(f.gotBodies, string(body))
	return f.event, nil
}

type fakeApplier struct {
	applied []types.BillingEvent
	err     error
}

func (f *fakeApplier) Apply(_ context.Context, ev types.BillingEvent) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, ev)
	return nil
}

func stripeLikeAdapter() *fakeAdapter {
	return &fakeAdapter{
		provider: types.ProviderStripe,
		header:   "Stripe-Signature",
		event: types.BillingEvent{
			ID:       "evt_1",
			Provider: types.ProviderStripe,
			Kind:     types.EventPaymentSucceeded,

			ProviderSubscriptionID: "sub_abc",
		},
	}
}

func webhookRequest(body string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestWebhookDispatchesToMatchingAdapter(t *testing.T) {
	stripe := stripeLikeAdapter()
	razorpay := &fakeAdapter{provider: types.ProviderRazorpay, header: "X-Razorpay-Signature"}
	applier := &fakeApplier{}
	h := NewWebhookHandler(applier, discardLogger(), stripe, razorpay)

	rec := httptest.NewRecorder()
	h.HandleBilling(rec, webhookRequest(`{"type":"invoice.payment_succeeded"}`,
		map[string]string{"Stripe-Signature": "t=1,v1=sig"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)
	require.Len(t, applier.applied, 1)
	assert.Equal(t, types.ProviderStripe, applier.applied[0].Provider)
	assert.Equal(t, []string{`{"type":"invoice.payment_succeeded"}`}, stripe.gotBodies)
	assert.Empty(t, razorpay.gotBodies)
}

func TestWebhookUnrecognizedProvider(t *testing.T) {
	applier := &fakeApplier{}
	h := NewWebhookHandler(applier, discardLogger(), stripeLikeAdapter())

	rec := httptest.NewRecorder()
	h.HandleBilling(rec, webhookRequest(`{}`, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationWebhookSig))
	assert.Empty(t, applier.applied)
}

func TestWebhookBadSignature(t *testing.T) {
	stripe := stripeLikeAdapter()
	stripe.parseErr = types.NewAppError(types.ErrCodeValidationWebhookSig, "invalid Stripe webhook signature", nil)
	applier := &fakeApplier{}
	h := NewWebhookHandler(applier, discardLogger(), stripe)

	rec := httptest.NewRecorder()
	h.HandleBilling(rec, webhookRequest(`{}`,
		map[string]string{"Stripe-Signature": "t=1,v1=tampered"}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationWebhookSig))
	assert.Empty(t, applier.applied)
}

func TestWebhookProcessorFailureReturns500(t *testing.T) {
	applier := &fakeApplier{err: errors.New("db down")}
	h := NewWebhookHandler(applier, discardLogger(), stripeLikeAdapter())

	rec := httptest.NewRecorder()
	h.HandleBilling(rec, webhookRequest(`{}`,
		map[string]string{"Stripe-Signature": "t=1,v1=sig"}))

	// 5xx tells the provider to redeliver later.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookAdapterOrderFirstMatchWins(t *testing.T) {
	first := &fakeAdapter{provider: types.ProviderPayPal, header: "Paypal-Transmission-Sig",
		event: types.BillingEvent{Provider: types.ProviderPayPal, Kind: types.EventSubscriptionDeleted, ProviderSubscriptionID: "I-1"}}
	second := &fakeAdapter{provider: types.ProviderStripe, header: "Stripe-Signature"}
	applier := &fakeApplier{}
	h := NewWebhookHandler(applier, discardLogger(), first, second)

	rec := httptest.NewRecorder()
	h.HandleBilling(rec, webhookRequest(`{}`, map[string]string{
		"Paypal-Transmission-Sig": "sig",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applier.applied, 1)
	assert.Equal(t, types.ProviderPayPal, applier.applied[0].Provider)
}
