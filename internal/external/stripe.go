package external

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"context"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"opsight/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient creates checkout sessions by making direct HTTP calls to the
// Stripe REST API through BaseClient. Routing through BaseClient keeps all
// outbound requests behind the same resilience infrastructure (circuit
// breaker, retries, error mapping) and makes testing with httptest
// straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// be around 20 seconds; checkout session creation is slow under load.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Opsight/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient, useful in tests that control retry behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session for the given
// price. The user ID and plan travel in session metadata; the webhook
// handler reads them back on checkout.session.completed to activate the
// subscription.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	userID string,
	email string,
	plan types.PlanTier,
	priceID string,
	successURL, cancelURL string,
) (*types.CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("customer_email", email)
	params.Set("client_reference_id", userID)
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("metadata[user_id]", userID)
	params.Set("metadata[plan]", string(plan))
	params.Set("subscription_data[metadata][user_id]", userID)
	params.Set("subscription_data[metadata][plan]", string(plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return nil, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return &types.CheckoutSession{
		Provider:   types.ProviderStripe,
		SessionURL: session.URL,
	}, nil
}

// doPost performs an authenticated POST request to the Stripe API with a
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleErrorResponse reads a Stripe error response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors already carry the right upstream code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ---------------------------------------------------------------------------
// Webhook adapter
// ---------------------------------------------------------------------------

// StripeWebhookAdapter verifies Stripe webhook deliveries and translates
// their payloads into normalized billing events.
type StripeWebhookAdapter struct {
	webhookSecret string
}

// NewStripeWebhookAdapter creates an adapter with the endpoint's signing
// secret from the Stripe dashboard.
func NewStripeWebhookAdapter(webhookSecret string) *StripeWebhookAdapter {
	return &StripeWebhookAdapter{webhookSecret: webhookSecret}
}

// Provider identifies this adapter.
func (a *StripeWebhookAdapter) Provider() types.PaymentProviderName {
	return types.ProviderStripe
}

// Matches reports whether the request carries a Stripe signature header.
func (a *StripeWebhookAdapter) Matches(r *http.Request) bool {
	return r.Header.Get("Stripe-Signature") != ""
}

// VerifyAndParse validates the Stripe-Signature header via
// webhook.ConstructEvent (HMAC-SHA256 plus timestamp tolerance) and maps the
// event to the normalized shape. Unrecognized event types come back with
// their raw kind; the processor ignores them.
func (a *StripeWebhookAdapter) VerifyAndParse(r *http.Request, body []byte) (types.BillingEvent, error) {
	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), a.webhookSecret)
	if err != nil {
		return types.BillingEvent{}, types.NewAppError(
			types.ErrCodeValidationWebhookSig,
			"invalid Stripe webhook signature",
			err,
		)
	}

	ev := types.BillingEvent{
		ID:         event.ID,
		Provider:   types.ProviderStripe,
		Kind:       types.BillingEventKind(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session struct {
			Subscription jsonString        `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return types.BillingEvent{}, types.NewAppError(
				types.ErrCodeValidationWebhookPayload,
				"malformed checkout session payload",
				err,
			)
		}
		ev.Kind = types.EventCheckoutCompleted
		ev.UserID = session.Metadata["user_id"]
		ev.Plan = types.PlanTier(session.Metadata["plan"])
		ev.ProviderSubscriptionID = string(session.Subscription)

	case "customer.subscription.updated":
		sub, err := parseStripeSubscription(event.Data.Raw)
		if err != nil {
			return types.BillingEvent{}, err
		}
		ev.Kind = types.EventSubscriptionUpdated
		ev.ProviderSubscriptionID = sub.ID
		ev.ProviderStatus = sub.Status
		ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd

	case "customer.subscription.deleted":
		sub, err := parseStripeSubscription(event.Data.Raw)
		if err != nil {
			return types.BillingEvent{}, err
		}
		ev.Kind = types.EventSubscriptionDeleted
		ev.ProviderSubscriptionID = sub.ID

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var invoice struct {
			Subscription jsonString `json:"subscription"`
		}
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return types.BillingEvent{}, types.NewAppError(
				types.ErrCodeValidationWebhookPayload,
				"malformed invoice payload",
				err,
			)
		}
		if event.Type == "invoice.payment_succeeded" {
			ev.Kind = types.EventPaymentSucceeded
		} else {
			ev.Kind = types.EventPaymentFailed
		}
		ev.ProviderSubscriptionID = string(invoice.Subscription)
	}

	return ev, nil
}

type stripeWebhookSubscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func parseStripeSubscription(raw json.RawMessage) (*stripeWebhookSubscription, error) {
	var sub stripeWebhookSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationWebhookPayload,
			"malformed subscription payload",
			err,
		)
	}
	return &sub, nil
}

// jsonString decodes a field that Stripe sends either as a plain string ID or
// as an expanded object. Non-scalar values decode to the empty string, which
// downstream treats as "no subscription reference".
type jsonString string

func (s *jsonString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		*s = ""
		return nil
	}
	*s = jsonString(str)
	return nil
}
