package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plutov/paypal/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/types"
)

type fakePayPalAPI struct {
	resp *paypal.SubscriptionDetailResp
	err  error
	got  paypal.SubscriptionBase
}

func (f *fakePayPalAPI) CreateSubscription(_ context.Context, sub paypal.SubscriptionBase) (*paypal.SubscriptionDetailResp, error) {
	f.got = sub
	return f.resp, f.err
}

type fakePayPalVerifier struct {
	status string
	err    error
}

func (f *fakePayPalVerifier) VerifyWebhookSignature(_ context.Context, _ *http.Request, _ string) (*paypal.VerifyWebhookResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &paypal.VerifyWebhookResponse{VerificationStatus: f.status}, nil
}

func paypalWebhookRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	req.Header.Set("Paypal-Transmission-Sig", "sig")
	return req
}

func TestPayPalCreateSubscription(t *testing.T) {
	api := &fakePayPalAPI{resp: &paypal.SubscriptionDetailResp{
		SubscriptionDetails: paypal.SubscriptionDetails{ID: "I-ABC123"},
		SharedResponse: paypal.SharedResponse{Links: []paypal.Link{
			{Rel: "self", Href: "https://api.sandbox.paypal.com/v1/billing/subscriptions/I-ABC123"},
			{Rel: "approve", Href: "https://www.sandbox.paypal.com/webapps/billing/subscriptions?ba_token=BA-1"},
		}},
	}}
	c := NewPayPalClientWithAPI(api, nil)

	session, err := c.CreateSubscription(
		context.Background(), "user-1", types.PlanBasic, "P-PLAN1",
		"https://app/success", "https://app/cancel",
	)
	require.NoError(t, err)

	assert.Equal(t, "I-ABC123", session.SubscriptionID)
	assert.Equal(t, "https://www.sandbox.paypal.com/webapps/billing/subscriptions?ba_token=BA-1", session.ApprovalURL)
	assert.Equal(t, types.ProviderPayPal, session.Provider)

	assert.Equal(t, "P-PLAN1", api.got.PlanID)
	assert.Equal(t, "user-1:BASIC", api.got.CustomID)
	require.NotNil(t, api.got.ApplicationContext)
	assert.Equal(t, "https://app/success", api.got.ApplicationContext.ReturnURL)
}

func TestPayPalAdapterMatches(t *testing.T) {
	a := NewPayPalWebhookAdapter(&fakePayPalVerifier{status: "SUCCESS"}, "wh-1")

	assert.True(t, a.Matches(paypalWebhookRequest(`{}`)))
	assert.False(t, a.Matches(httptest.NewRequest(http.MethodPost, "/webhooks/billing", nil)))
}

func TestPayPalAdapterRejectsFailedVerification(t *testing.T) {
	a := NewPayPalWebhookAdapter(&fakePayPalVerifier{status: "FAILURE"}, "wh-1")

	_, err := a.VerifyAndParse(paypalWebhookRequest(`{}`), []byte(`{}`))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationWebhookSig, appErr.Code)
}

func TestPayPalAdapterParsesActivated(t *testing.T) {
	a := NewPayPalWebhookAdapter(&fakePayPalVerifier{status: "SUCCESS"}, "wh-1")
	body := []byte(`{
		"id": "WH-1",
		"event_type": "BILLING.SUBSCRIPTION.ACTIVATED",
		"create_time": "2026-03-01T12:00:00Z",
		"resource": {"id": "I-ABC123", "status": "ACTIVE", "custom_id": "user-1:PRO"}
	}`)

	ev, err := a.VerifyAndParse(paypalWebhookRequest(string(body)), body)
	require.NoError(t, err)

	assert.Equal(t, types.EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, types.ProviderPayPal, ev.Provider)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, types.PlanTier("PRO"), ev.Plan)
	assert.Equal(t, "I-ABC123", ev.ProviderSubscriptionID)
}

func TestPayPalAdapterParsesLifecycleEvents(t *testing.T) {
	a := NewPayPalWebhookAdapter(&fakePayPalVerifier{status: "SUCCESS"}, "wh-1")

	cases := []struct {
		eventType string
		wantKind  types.BillingEventKind
		wantSubID string
	}{
		{"BILLING.SUBSCRIPTION.CANCELLED", types.EventSubscriptionDeleted, "I-ABC123"},
		{"BILLING.SUBSCRIPTION.EXPIRED", types.EventSubscriptionDeleted, "I-ABC123"},
		{"BILLING.SUBSCRIPTION.SUSPENDED", types.EventSubscriptionUpdated, "I-ABC123"},
	}
	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			body := []byte(`{"id":"WH-2","event_type":"` + tc.eventType + `","resource":{"id":"I-ABC123","status":"SUSPENDED"}}`)
			ev, err := a.VerifyAndParse(paypalWebhookRequest(string(body)), body)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, ev.Kind)
			assert.Equal(t, tc.wantSubID, ev.ProviderSubscriptionID)
		})
	}
}

func TestPayPalAdapterParsesPaymentSale(t *testing.T) {
	a := NewPayPalWebhookAdapter(&fakePayPalVerifier{status: "SUCCESS"}, "wh-1")

	cases := []struct {
		eventType string
		want      types.BillingEventKind
	}{
		{"PAYMENT.SALE.COMPLETED", types.EventPaymentSucceeded},
		{"PAYMENT.SALE.DENIED", types.EventPaymentFailed},
	}
	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			body := []byte(`{"id":"WH-3","event_type":"` + tc.eventType + `","resource":{"id":"SALE-1","billing_agreement_id":"I-ABC123"}}`)
			ev, err := a.VerifyAndParse(paypalWebhookRequest(string(body)), body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.Kind)
			// Payment sales reference the subscription via billing_agreement_id.
			assert.Equal(t, "I-ABC123", ev.ProviderSubscriptionID)
		})
	}
}

func TestSplitPayPalCustomID(t *testing.T) {
	userID, plan := splitPayPalCustomID("user-1:PRO")
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, types.PlanTier("PRO"), plan)

	userID, plan = splitPayPalCustomID("orphan-value")
	assert.Equal(t, "orphan-value", userID)
	assert.Empty(t, plan)
}
