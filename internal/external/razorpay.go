package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"

	"opsight/internal/types"
)

// razorpaySubscriptionCycles is the number of monthly charges a subscription
// is created for before it completes.
const razorpaySubscriptionCycles = 12

// razorpayAPI is the slice of the Razorpay SDK the service uses. The SDK
// exposes resource namespaces with map-based payloads and no context support.
type razorpayAPI interface {
	CreateSubscription(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	CreateOrder(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// sdkRazorpayAPI adapts *razorpay.Client to razorpayAPI.
type sdkRazorpayAPI struct {
	client *razorpay.Client
}

func (s sdkRazorpayAPI) CreateSubscription(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	return s.client.Subscription.Create(data, extraHeaders)
}

func (s sdkRazorpayAPI) CreateOrder(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	return s.client.Order.Create(data, extraHeaders)
}

// RazorpayClientConfig holds the configuration for creating a RazorpayClient.
type RazorpayClientConfig struct {
	KeyID     string
	KeySecret string
	Logger    *slog.Logger
}

// RazorpayClient creates subscriptions and one-time payment orders through
// the Razorpay REST API.
type RazorpayClient struct {
	api    razorpayAPI
	logger *slog.Logger
}

// NewRazorpayClient creates a RazorpayClient with API key credentials.
func NewRazorpayClient(cfg RazorpayClientConfig) *RazorpayClient {
	return NewRazorpayClientWithAPI(sdkRazorpayAPI{client: razorpay.NewClient(cfg.KeyID, cfg.KeySecret)}, cfg.Logger)
}

// NewRazorpayClientWithAPI wraps a pre-built API surface, useful in tests.
func NewRazorpayClientWithAPI(api razorpayAPI, logger *slog.Logger) *RazorpayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RazorpayClient{api: api, logger: logger}
}

// CreateSubscription creates a recurring subscription on the given Razorpay
// plan. The user ID and plan tier travel in the notes map; the webhook
// adapter reads them back on subscription.activated.
func (r *RazorpayClient) CreateSubscription(
	ctx context.Context,
	userID string,
	plan types.PlanTier,
	razorpayPlanID string,
) (*types.CheckoutSession, error) {
	_ = ctx // the SDK has no context support

	result, err := r.api.CreateSubscription(map[string]interface{}{
		"plan_id":         razorpayPlanID,
		"total_count":     razorpaySubscriptionCycles,
		"customer_notify": 1,
		"notes": map[string]interface{}{
			"user_id": userID,
			"plan":    string(plan),
		},
	}, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRazorpay,
			fmt.Sprintf("CreateSubscription: Razorpay request failed: %v", err),
			err,
		)
	}

	return &types.CheckoutSession{
		Provider:       types.ProviderRazorpay,
		SubscriptionID: stringField(result, "id"),
		ApprovalURL:    stringField(result, "short_url"),
	}, nil
}

// CreateOrder creates a one-time payment order for the given amount in the
// currency's smallest unit. Used for ad-hoc charges that are not tied to a
// recurring plan.
func (r *RazorpayClient) CreateOrder(
	ctx context.Context,
	userID string,
	amount int64,
	currency string,
) (*types.CheckoutSession, error) {
	_ = ctx

	result, err := r.api.CreateOrder(map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"notes": map[string]interface{}{
			"user_id": userID,
		},
	}, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRazorpay,
			fmt.Sprintf("CreateOrder: Razorpay request failed: %v", err),
			err,
		)
	}

	return &types.CheckoutSession{
		Provider: types.ProviderRazorpay,
		OrderID:  stringField(result, "id"),
		Amount:   amount,
		Currency: currency,
	}, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// ---------------------------------------------------------------------------
// Webhook adapter
// ---------------------------------------------------------------------------

// RazorpayWebhookAdapter verifies Razorpay webhook deliveries (HMAC-SHA256
// over the raw body) and translates them into normalized billing events.
type RazorpayWebhookAdapter struct {
	webhookSecret string
}

// NewRazorpayWebhookAdapter creates an adapter with the webhook secret
// configured in the Razorpay dashboard.
func NewRazorpayWebhookAdapter(webhookSecret string) *RazorpayWebhookAdapter {
	return &RazorpayWebhookAdapter{webhookSecret: webhookSecret}
}

// Provider identifies this adapter.
func (a *RazorpayWebhookAdapter) Provider() types.PaymentProviderName {
	return types.ProviderRazorpay
}

// Matches reports whether the request carries a Razorpay signature header.
func (a *RazorpayWebhookAdapter) Matches(r *http.Request) bool {
	return r.Header.Get("X-Razorpay-Signature") != ""
}

// razorpayWebhookPayload is the envelope Razorpay posts to webhook endpoints.
type razorpayWebhookPayload struct {
	Entity    string `json:"entity"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription struct {
			Entity razorpaySubscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

type razorpaySubscriptionEntity struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Notes  map[string]string `json:"notes"`
}

// VerifyAndParse validates the X-Razorpay-Signature header and maps the event
// to the normalized shape.
func (a *RazorpayWebhookAdapter) VerifyAndParse(r *http.Request, body []byte) (types.BillingEvent, error) {
	signature := r.Header.Get("X-Razorpay-Signature")
	if !utils.VerifyWebhookSignature(string(body), signature, a.webhookSecret) {
		return types.BillingEvent{}, types.NewAppError(
			types.ErrCodeValidationWebhookSig,
			"Razorpay webhook signature verification failed",
			nil,
		)
	}

	var payload razorpayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.BillingEvent{}, types.NewAppError(
			types.ErrCodeValidationWebhookPayload,
			"malformed Razorpay webhook payload",
			err,
		)
	}

	sub := payload.Payload.Subscription.Entity
	ev := types.BillingEvent{
		ID:         r.Header.Get("X-Razorpay-Event-Id"),
		Provider:   types.ProviderRazorpay,
		Kind:       types.BillingEventKind(payload.Event),
		OccurredAt: time.Unix(payload.CreatedAt, 0).UTC(),
	}

	switch payload.Event {
	case "subscription.activated":
		ev.Kind = types.EventCheckoutCompleted
		ev.UserID = sub.Notes["user_id"]
		ev.Plan = types.PlanTier(sub.Notes["plan"])
		ev.ProviderSubscriptionID = sub.ID

	case "subscription.updated":
		ev.Kind = types.EventSubscriptionUpdated
		ev.ProviderSubscriptionID = sub.ID
		ev.ProviderStatus = mapRazorpayStatus(sub.Status)

	case "subscription.charged":
		ev.Kind = types.EventPaymentSucceeded
		ev.ProviderSubscriptionID = sub.ID

	case "subscription.halted":
		ev.Kind = types.EventPaymentFailed
		ev.ProviderSubscriptionID = sub.ID

	case "subscription.cancelled", "subscription.completed":
		ev.Kind = types.EventSubscriptionDeleted
		ev.ProviderSubscriptionID = sub.ID
	}

	return ev, nil
}

// mapRazorpayStatus folds Razorpay's subscription status vocabulary onto the
// lower-case values the shared status mapper understands.
func mapRazorpayStatus(status string) string {
	switch status {
	case "active", "authenticated":
		return "active"
	case "halted":
		return "past_due"
	case "cancelled", "completed", "expired":
		return "cancelled"
	case "pending":
		return "past_due"
	default:
		return status
	}
}
