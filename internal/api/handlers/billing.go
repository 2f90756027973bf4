package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"opsight/internal/billing"
	"opsight/internal/core"
	"opsight/internal/types"
)

// --- Service Interfaces ---

// StripeCheckout creates hosted checkout sessions. Implemented by
// external.StripeClient.
type StripeCheckout interface {
	CreateCheckoutSession(
		ctx context.Context,
		userID string,
		email string,
		plan types.PlanTier,
		priceID string,
		successURL, cancelURL string,
	) (*types.CheckoutSession, error)
}

// PayPalSubscriber creates approval-flow subscriptions. Implemented by
// external.PayPalClient.
type PayPalSubscriber interface {
	CreateSubscription(
		ctx context.Context,
		userID string,
		plan types.PlanTier,
		paypalPlanID string,
		returnURL, cancelURL string,
	) (*types.CheckoutSession, error)
}

// RazorpayCharger creates subscriptions and one-time orders. Implemented by
// external.RazorpayClient.
type RazorpayCharger interface {
	CreateSubscription(ctx context.Context, userID string, plan types.PlanTier, razorpayPlanID string) (*types.CheckoutSession, error)
	CreateOrder(ctx context.Context, userID string, amount int64, currency string) (*types.CheckoutSession, error)
}

// --- Request/Response Models ---

// CheckoutSessionRequest is the request body for POST /v1/billing/checkout-session.
type CheckoutSessionRequest struct {
	PriceID string `json:"price_id" validate:"required"`
	Plan    string `json:"plan" validate:"required"`
}

// CheckoutSessionResponse is the success body for POST /v1/billing/checkout-session.
type CheckoutSessionResponse struct {
	SessionURL string `json:"session_url"`
}

// PayPalSubscriptionRequest is the request body for POST /v1/billing/paypal/subscription.
type PayPalSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
	Plan   string `json:"plan" validate:"required"`
}

// PayPalSubscriptionResponse is the success body for POST /v1/billing/paypal/subscription.
type PayPalSubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	ApprovalURL    string `json:"approval_url"`
}

// RazorpayPaymentRequest is the request body for POST /v1/billing/razorpay/payment.
// Either plan_id (recurring subscription, with plan tier) or amount (one-time
// order) must be present.
type RazorpayPaymentRequest struct {
	PlanID   string `json:"plan_id,omitempty"`
	Plan     string `json:"plan,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// defaultRazorpayCurrency applies when an order request omits the currency.
const defaultRazorpayCurrency = "INR"

// --- Handler ---

// CheckoutURLs are the dashboard redirect targets for hosted checkout flows.
type CheckoutURLs struct {
	SuccessURL string
	CancelURL  string
}

// BillingHandler serves checkout initiation across the three payment
// providers. Subscription state itself only changes via webhooks; these
// routes never write billing rows.
type BillingHandler struct {
	stripe    StripeCheckout
	paypal    PayPalSubscriber
	razorpay  RazorpayCharger
	plans     billing.PlanRegistry
	urls      CheckoutURLs
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(
	stripe StripeCheckout,
	paypal PayPalSubscriber,
	razorpay RazorpayCharger,
	plans billing.PlanRegistry,
	urls CheckoutURLs,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		stripe:    stripe,
		paypal:    paypal,
		razorpay:  razorpay,
		plans:     plans,
		urls:      urls,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the billing routes on the provided chi.Router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/checkout-session", h.CreateCheckoutSession)
		r.Post("/paypal/subscription", h.CreatePayPalSubscription)
		r.Post("/razorpay/payment", h.CreateRazorpayPayment)
	})
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	var req CheckoutSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	plan, ok := h.plans.Parse(req.Plan)
	if !ok {
		core.Error(w, r, h.unknownPlanError(req.Plan))
		return
	}

	session, err := h.stripe.CreateCheckoutSession(
		r.Context(), actor.UserID, actor.Email, plan, req.PriceID,
		h.urls.SuccessURL, h.urls.CancelURL,
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("stripe checkout session created",
		"user_id", actor.UserID,
		"plan", string(plan),
	)
	core.JSON(w, r, http.StatusOK, CheckoutSessionResponse{SessionURL: session.SessionURL})
}

// CreatePayPalSubscription handles POST /v1/billing/paypal/subscription.
func (h *BillingHandler) CreatePayPalSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	var req PayPalSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	plan, ok := h.plans.Parse(req.Plan)
	if !ok {
		core.Error(w, r, h.unknownPlanError(req.Plan))
		return
	}

	session, err := h.paypal.CreateSubscription(
		r.Context(), actor.UserID, plan, req.PlanID,
		h.urls.SuccessURL, h.urls.CancelURL,
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("paypal subscription created",
		"user_id", actor.UserID,
		"plan", string(plan),
		"subscription_id", session.SubscriptionID,
	)
	core.JSON(w, r, http.StatusOK, PayPalSubscriptionResponse{
		SubscriptionID: session.SubscriptionID,
		ApprovalURL:    session.ApprovalURL,
	})
}

// CreateRazorpayPayment handles POST /v1/billing/razorpay/payment. A plan_id
// starts a recurring subscription; an amount creates a one-time order; a
// request with neither is rejected.
func (h *BillingHandler) CreateRazorpayPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	var req RazorpayPaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	switch {
	case req.PlanID != "":
		plan, ok := h.plans.Parse(req.Plan)
		if !ok {
			core.Error(w, r, h.unknownPlanError(req.Plan))
			return
		}
		session, err := h.razorpay.CreateSubscription(r.Context(), actor.UserID, plan, req.PlanID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		h.logger.Info("razorpay subscription created",
			"user_id", actor.UserID,
			"plan", string(plan),
			"subscription_id", session.SubscriptionID,
		)
		core.JSON(w, r, http.StatusOK, session)

	case req.Amount > 0:
		currency := strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = defaultRazorpayCurrency
		}
		session, err := h.razorpay.CreateOrder(r.Context(), actor.UserID, req.Amount, currency)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		h.logger.Info("razorpay order created",
			"user_id", actor.UserID,
			"order_id", session.OrderID,
			"amount", req.Amount,
		)
		core.JSON(w, r, http.StatusOK, session)

	default:
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationPaymentFields,
			"either plan_id or amount is required",
			nil,
		))
	}
}

func (h *BillingHandler) unknownPlanError(raw string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidField,
		"unknown plan",
		nil,
		map[string]any{"field": "plan", "value": raw},
	)
}
