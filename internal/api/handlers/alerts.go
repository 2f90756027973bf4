package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"opsight/internal/core"
	"opsight/internal/quota"
	"opsight/internal/types"
)

// AlertRuleRepo defines the data access contract for alert rule operations.
// Mirrors the concrete db.AlertRepo methods used by this handler.
type AlertRuleRepo interface {
	Create(ctx context.Context, rule *types.AlertRule) error
	ListByUser(ctx context.Context, userID string) ([]*types.AlertRule, error)
}

// --- Request/Response Models ---

// CreateAlertRequest is the request body for POST /v1/alerts.
type CreateAlertRequest struct {
	Name       string   `json:"name" validate:"required,max=200"`
	Metric     string   `json:"metric" validate:"required,max=100"`
	Threshold  float64  `json:"threshold" validate:"required"`
	Condition  string   `json:"condition" validate:"required,oneof=above below equals"`
	Channel    string   `json:"channel" validate:"required,oneof=email slack"`
	Recipients []string `json:"recipients" validate:"required,min=1,max=20,dive,max=320"`
}

// AlertResponse is the success body for POST /v1/alerts.
type AlertResponse struct {
	Rule  *types.AlertRule    `json:"rule"`
	Usage types.UsageSnapshot `json:"usage"`
}

// AlertListResponse is the success body for GET /v1/alerts.
type AlertListResponse struct {
	Rules []*types.AlertRule  `json:"rules"`
	Usage types.UsageSnapshot `json:"usage"`
}

// --- Handler ---

// AlertsHandler serves alert rule creation and listing. Rules are create-only
// in the current scope; quota counts creations, not live rules.
type AlertsHandler struct {
	rules     AlertRuleRepo
	subs      SubscriptionGetter
	usage     UsageLedger
	nudger    Nudger
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewAlertsHandler creates a new AlertsHandler. A nil clock falls back to the
// real clock.
func NewAlertsHandler(
	rules AlertRuleRepo,
	subs SubscriptionGetter,
	usage UsageLedger,
	nudger Nudger,
	v *core.Validator,
	clock types.Clock,
	l *slog.Logger,
) *AlertsHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &AlertsHandler{
		rules:     rules,
		subs:      subs,
		usage:     usage,
		nudger:    nudger,
		validator: v,
		clock:     clock,
		logger:    l,
	}
}

// RegisterRoutes mounts the alert routes on the provided chi.Router.
func (h *AlertsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
	})
}

// List handles GET /v1/alerts.
func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	rules, err := h.rules.ListByUser(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	sub, err := h.subs.GetByUserID(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	usage, err := h.usage.Get(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if rules == nil {
		rules = []*types.AlertRule{}
	}
	core.JSON(w, r, http.StatusOK, AlertListResponse{
		Rules: rules,
		Usage: quota.Snapshot(sub, usage),
	})
}

// Create handles POST /v1/alerts. The quota gate runs against the creation
// counter before the insert, so pilot users get exactly the limit of rules.
func (h *AlertsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	var req CreateAlertRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	usage, err := h.usage.Get(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if d := quota.CheckAlertRule(sub, usage.AlertRulesCreated); !d.Allowed {
		if h.nudger != nil {
			h.nudger.Notify(actor, types.ResourceAlertRules)
		}
		core.Error(w, r, types.NewQuotaError(types.ErrCodeLimitAlertRules, d.Message))
		return
	}

	rule := &types.AlertRule{
		ID:         "alert_" + uuid.NewString(),
		UserID:     actor.UserID,
		Name:       req.Name,
		Metric:     req.Metric,
		Threshold:  req.Threshold,
		Condition:  types.AlertCondition(req.Condition),
		Channel:    types.AlertChannel(req.Channel),
		Recipients: req.Recipients,
		CreatedAt:  h.clock.Now(),
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		core.Error(w, r, err)
		return
	}

	updated, err := h.usage.Increment(r.Context(), actor.UserID, types.ResourceAlertRules)
	if err != nil {
		h.logger.Error("usage increment failed after alert creation",
			"user_id", actor.UserID,
			"error", err,
		)
		updated = usage
		updated.AlertRulesCreated++
	}

	core.JSON(w, r, http.StatusCreated, AlertResponse{
		Rule:  rule,
		Usage: quota.Snapshot(sub, updated),
	})
}
