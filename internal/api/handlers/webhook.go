package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opsight/internal/core"
	"opsight/internal/types"
)

// maxWebhookBodySize caps webhook payloads. Provider events are small; a
// larger body is not a legitimate delivery.
const maxWebhookBodySize = 1 << 20

// WebhookAdapter verifies and normalizes one provider's webhook deliveries.
// Implemented by external.{Stripe,PayPal,Razorpay}WebhookAdapter.
type WebhookAdapter interface {
	Provider() types.PaymentProviderName
	// Matches reports whether the request carries this provider's signature
	// header. Adapters are probed in registration order.
	Matches(r *http.Request) bool
	// VerifyAndParse authenticates the raw body against the signature and
	// maps the payload to a normalized event.
	VerifyAndParse(r *http.Request, body []byte) (types.BillingEvent, error)
}

// EventApplier runs a normalized event through the subscription state
// machine. Implemented by billing.EventProcessor.
type EventApplier interface {
	Apply(ctx context.Context, ev types.BillingEvent) error
}

// WebhookHandler is the single billing webhook entry point. Provider
// detection is by signature header: all three processors post to the same
// route and the matching adapter verifies and translates the delivery.
type WebhookHandler struct {
	adapters  []WebhookAdapter
	processor EventApplier
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(processor EventApplier, logger *slog.Logger, adapters ...WebhookAdapter) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		adapters:  adapters,
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook route on the provided chi.Router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing", h.HandleBilling)
}

// HandleBilling handles POST /webhooks/billing.
//
// Status contract with the providers: 400 means "do not redeliver" (bad
// signature, unknown provider, malformed payload) and 500 means "redeliver
// later" (state machine write failed). Success always returns
// {"received": true} regardless of whether the event had any effect.
func (h *WebhookHandler) HandleBilling(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationWebhookPayload,
			"failed to read webhook body",
			err,
		))
		return
	}

	adapter := h.matchAdapter(r)
	if adapter == nil {
		h.logger.Warn("webhook delivery without a recognizable provider signature")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationWebhookSig,
			"no recognizable provider signature",
			nil,
		))
		return
	}

	ev, err := adapter.VerifyAndParse(r, body)
	if err != nil {
		h.logger.Warn("webhook verification failed",
			"provider", string(adapter.Provider()),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if err := h.processor.Apply(r.Context(), ev); err != nil {
		h.logger.Error("billing event processing failed",
			"provider", string(ev.Provider),
			"event_kind", string(ev.Kind),
			"event_id", ev.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) matchAdapter(r *http.Request) WebhookAdapter {
	for _, a := range h.adapters {
		if a.Matches(r) {
			return a
		}
	}
	return nil
}
