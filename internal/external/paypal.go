package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"

	"opsight/internal/types"
)

// paypalCustomIDSeparator joins the user ID and plan into the subscription's
// custom_id field. PayPal has no free-form metadata map on subscriptions, so
// the pair rides in that single field and is split back out by the webhook
// adapter.
const paypalCustomIDSeparator = ":"

// paypalAPI is the slice of the PayPal SDK client the service uses.
type paypalAPI interface {
	CreateSubscription(ctx context.Context, newSubscription paypal.SubscriptionBase) (*paypal.SubscriptionDetailResp, error)
}

// PayPalClientConfig holds the configuration for creating a PayPalClient.
type PayPalClientConfig struct {
	ClientID string
	Secret   string
	Live     bool
	Logger   *slog.Logger
}

// PayPalClient creates billing subscriptions through the PayPal REST API.
type PayPalClient struct {
	api    paypalAPI
	logger *slog.Logger
}

// NewPayPalSDKClient constructs the underlying SDK client against the sandbox
// or live API. The same instance backs both the billing client and the
// webhook adapter, so the OAuth token is fetched and refreshed once.
func NewPayPalSDKClient(cfg PayPalClientConfig) (*paypal.Client, error) {
	apiBase := paypal.APIBaseSandBox
	if cfg.Live {
		apiBase = paypal.APIBaseLive
	}
	client, err := paypal.NewClient(cfg.ClientID, cfg.Secret, apiBase)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to construct PayPal client",
			err,
		)
	}
	return client, nil
}

// NewPayPalClient creates a PayPalClient against the sandbox or live API.
// The SDK fetches and refreshes its own OAuth token on first use.
func NewPayPalClient(cfg PayPalClientConfig) (*PayPalClient, error) {
	client, err := NewPayPalSDKClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewPayPalClientWithAPI(client, cfg.Logger), nil
}

// NewPayPalClientWithAPI wraps a pre-built SDK client, useful in tests.
func NewPayPalClientWithAPI(api paypalAPI, logger *slog.Logger) *PayPalClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayPalClient{api: api, logger: logger}
}

// CreateSubscription creates a PayPal subscription for the given billing plan
// and returns its ID plus the approval URL the dashboard redirects the user
// to. The user ID and plan tier travel in custom_id.
func (p *PayPalClient) CreateSubscription(
	ctx context.Context,
	userID string,
	plan types.PlanTier,
	paypalPlanID string,
	returnURL, cancelURL string,
) (*types.CheckoutSession, error) {
	sub, err := p.api.CreateSubscription(ctx, paypal.SubscriptionBase{
		PlanID:   paypalPlanID,
		CustomID: userID + paypalCustomIDSeparator + string(plan),
		ApplicationContext: &paypal.ApplicationContext{
			ReturnURL: returnURL,
			CancelURL: cancelURL,
		},
	})
	if err != nil {
		return nil, mapPayPalError("CreateSubscription", err)
	}

	approvalURL := ""
	for _, link := range sub.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}

	return &types.CheckoutSession{
		Provider:       types.ProviderPayPal,
		SubscriptionID: sub.ID,
		ApprovalURL:    approvalURL,
	}, nil
}

// mapPayPalError translates SDK errors into the upstream error taxonomy.
func mapPayPalError(operation string, err error) error {
	var paypalErr *paypal.ErrorResponse
	if errors.As(err, &paypalErr) && paypalErr.Response != nil {
		switch {
		case paypalErr.Response.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(
				types.ErrCodeUpstreamRateLimited,
				fmt.Sprintf("%s: PayPal rate limit exceeded", operation),
				err,
			)
		case paypalErr.Response.StatusCode >= 500:
			return types.NewAppError(
				types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("%s: PayPal server error: %s", operation, paypalErr.Message),
				err,
			)
		}
		return types.NewAppError(
			types.ErrCodeUpstreamPayPal,
			fmt.Sprintf("%s: PayPal error (%d): %s", operation, paypalErr.Response.StatusCode, paypalErr.Message),
			err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamPayPal,
		fmt.Sprintf("%s: PayPal request failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Webhook adapter
// ---------------------------------------------------------------------------

// paypalWebhookVerifier verifies a webhook delivery against PayPal's
// verify-webhook-signature endpoint. Satisfied by *paypal.Client.
type paypalWebhookVerifier interface {
	VerifyWebhookSignature(ctx context.Context, httpReq *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error)
}

// PayPalWebhookAdapter verifies PayPal webhook deliveries and translates them
// into normalized billing events. Verification is remote: PayPal does not
// publish a shared-secret scheme, so each delivery is posted back to the
// verify-webhook-signature endpoint.
type PayPalWebhookAdapter struct {
	verifier  paypalWebhookVerifier
	webhookID string
}

// NewPayPalWebhookAdapter creates an adapter for the configured webhook ID.
func NewPayPalWebhookAdapter(verifier paypalWebhookVerifier, webhookID string) *PayPalWebhookAdapter {
	return &PayPalWebhookAdapter{verifier: verifier, webhookID: webhookID}
}

// Provider identifies this adapter.
func (a *PayPalWebhookAdapter) Provider() types.PaymentProviderName {
	return types.ProviderPayPal
}

// Matches reports whether the request carries PayPal transmission headers.
func (a *PayPalWebhookAdapter) Matches(r *http.Request) bool {
	return r.Header.Get("Paypal-Transmission-Sig") != ""
}

// paypalWebhookPayload is the envelope PayPal posts to webhook endpoints.
type paypalWebhookPayload struct {
	ID         string                `json:"id"`
	EventType  string                `json:"event_type"`
	CreateTime time.Time             `json:"create_time"`
	Resource   paypalWebhookResource `json:"resource"`
}

type paypalWebhookResource struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CustomID           string `json:"custom_id"`
	BillingAgreementID string `json:"billing_agreement_id"`
}

// VerifyAndParse checks the delivery against PayPal's verification endpoint
// and maps the event to the normalized shape. The request body is restored
// before verification because the SDK re-reads it.
func (a *PayPalWebhookAdapter) VerifyAndParse(r *http.Request, body []byte) (types.BillingEvent, error) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	verification, err := a.verifier.VerifyWebhookSignature(r.Context(), r, a.webhookID)
	if err != nil {
		return types.BillingEvent{}, types.NewAppError(
			types.ErrCodeValidationWebhookSig,
			"PayPal webhook verification call failed",
			err,
		)
	}
	if verification.VerificationStatus != "SUCCESS" {
		return types.BillingEvent{}, types.NewAppError(
			types.ErrCodeValidationWebhookSig,
			"PayPal webhook signature verification failed",
			nil,
		)
	}

	var payload paypalWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.BillingEvent{}, types.NewAppError(
			types.ErrCodeValidationWebhookPayload,
			"malformed PayPal webhook payload",
			err,
		)
	}

	ev := types.BillingEvent{
		ID:         payload.ID,
		Provider:   types.ProviderPayPal,
		Kind:       types.BillingEventKind(payload.EventType),
		OccurredAt: payload.CreateTime.UTC(),
	}

	switch payload.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		userID, plan := splitPayPalCustomID(payload.Resource.CustomID)
		ev.Kind = types.EventCheckoutCompleted
		ev.UserID = userID
		ev.Plan = plan
		ev.ProviderSubscriptionID = payload.Resource.ID

	case "BILLING.SUBSCRIPTION.UPDATED":
		ev.Kind = types.EventSubscriptionUpdated
		ev.ProviderSubscriptionID = payload.Resource.ID
		ev.ProviderStatus = strings.ToLower(payload.Resource.Status)

	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		ev.Kind = types.EventSubscriptionDeleted
		ev.ProviderSubscriptionID = payload.Resource.ID

	case "BILLING.SUBSCRIPTION.SUSPENDED":
		ev.Kind = types.EventSubscriptionUpdated
		ev.ProviderSubscriptionID = payload.Resource.ID
		ev.ProviderStatus = "past_due"

	case "PAYMENT.SALE.COMPLETED":
		ev.Kind = types.EventPaymentSucceeded
		ev.ProviderSubscriptionID = payload.Resource.BillingAgreementID

	case "PAYMENT.SALE.DENIED":
		ev.Kind = types.EventPaymentFailed
		ev.ProviderSubscriptionID = payload.Resource.BillingAgreementID
	}

	return ev, nil
}

// splitPayPalCustomID recovers the user ID and plan tier from a subscription's
// custom_id field. A missing separator yields an empty plan, which downstream
// treats as incomplete metadata.
func splitPayPalCustomID(customID string) (string, types.PlanTier) {
	userID, plan, found := strings.Cut(customID, paypalCustomIDSeparator)
	if !found {
		return customID, ""
	}
	return userID, types.PlanTier(plan)
}
