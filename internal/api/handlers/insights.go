package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opsight/internal/core"
	"opsight/internal/quota"
	"opsight/internal/types"
)

// SubscriptionGetter loads a user's subscription for quota decisions.
// A nil subscription (no row) means pilot mode.
type SubscriptionGetter interface {
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)
}

// UsageLedger is the usage-counter surface the metered handlers share.
// Mirrors the concrete db.UsageRepo methods used here.
type UsageLedger interface {
	Get(ctx context.Context, userID string) (types.UsageTracking, error)
	Increment(ctx context.Context, userID string, resource types.MeteredResource) (types.UsageTracking, error)
}

// InsightGenerator produces an AI answer for a dashboard prompt, optionally
// grounded on a caller-supplied data context. Implemented by
// external.OpenAIClient.
type InsightGenerator interface {
	GenerateInsight(ctx context.Context, prompt, dataContext string) (string, error)
}

// Nudger triggers the upgrade email on quota denials.
type Nudger interface {
	Notify(actor types.Actor, resource types.MeteredResource)
}

// --- Request/Response Models ---

// InsightRequest is the request body for POST /v1/insights. Context carries
// the dashboard data excerpt the question is about; it is passed through to
// the model untouched.
type InsightRequest struct {
	Prompt  string `json:"prompt" validate:"required,max=2000"`
	Context string `json:"context,omitempty" validate:"max=8000"`
}

// InsightResponse is the success body for POST /v1/insights. Usage is the
// server-authoritative snapshot the client mirror reconciles from.
type InsightResponse struct {
	Insight string              `json:"insight"`
	Usage   types.UsageSnapshot `json:"usage"`
}

// --- Handler ---

// InsightsHandler serves AI insight generation, the primary metered action.
type InsightsHandler struct {
	subs      SubscriptionGetter
	usage     UsageLedger
	generator InsightGenerator
	nudger    Nudger
	validator *core.Validator
	logger    *slog.Logger
}

// NewInsightsHandler creates a new InsightsHandler.
func NewInsightsHandler(
	subs SubscriptionGetter,
	usage UsageLedger,
	generator InsightGenerator,
	nudger Nudger,
	v *core.Validator,
	l *slog.Logger,
) *InsightsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &InsightsHandler{
		subs:      subs,
		usage:     usage,
		generator: generator,
		nudger:    nudger,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the insights routes on the provided chi.Router.
func (h *InsightsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/insights", h.Generate)
}

// Generate handles POST /v1/insights.
//
// The quota gate runs against the pre-action counter, so exactly the pilot
// limit of queries succeeds before the first denial. The ledger increment
// happens only after the AI call succeeds: a failed generation must not
// consume quota.
func (h *InsightsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	var req InsightRequest
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

	if d := quota.CheckAIQuery(sub, usage.AIQueriesUsed); !d.Allowed {
		if h.nudger != nil {
			h.nudger.Notify(actor, types.ResourceAIQueries)
		}
		core.Error(w, r, types.NewQuotaError(types.ErrCodeLimitAIQueries, d.Message))
		return
	}

	insight, err := h.generator.GenerateInsight(r.Context(), req.Prompt, req.Context)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// The response already cost an AI call; a failed ledger write is logged
	// and the response still succeeds, with the snapshot reflecting the bump
	// locally.
	updated, err := h.usage.Increment(r.Context(), actor.UserID, types.ResourceAIQueries)
	if err != nil {
		h.logger.Error("usage increment failed after AI query",
			"user_id", actor.UserID,
			"error", err,
		)
		updated = usage
		updated.AIQueriesUsed++
	}

	core.JSON(w, r, http.StatusOK, InsightResponse{
		Insight: insight,
		Usage:   quota.Snapshot(sub, updated),
	})
}
