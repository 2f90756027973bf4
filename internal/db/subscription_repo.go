package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"opsight/internal/types"
)

// SubscriptionRepo provides data access for the subscriptions table.
//
// All webhook-driven writes are absolute (full-value SET, never deltas), so
// replaying the same provider event converges to the same row state.
type SubscriptionRepo struct {
	db DBTX
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection.
func NewSubscriptionRepo(db DBTX) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

const subscriptionColumns = `
	id, user_id, provider, provider_customer_id, provider_subscription_id,
	status, plan, current_period_start, current_period_end,
	cancel_at_period_end, created_at, updated_at`

// GetByUserID returns the user's subscription, or nil if none exists.
// A missing row is a normal state (pilot mode), not an error.
func (r *SubscriptionRepo) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1`, userID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return sub, nil
}

// GetByProviderSubscriptionID looks a subscription up by the provider's own
// subscription identifier, the correlation key for payment webhook events.
func (r *SubscriptionRepo) GetByProviderSubscriptionID(ctx context.Context, providerSubID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider_subscription_id = $1`, providerSubID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return sub, nil
}

// ActivateFromCheckout upserts the user's subscription into ACTIVE with the
// given plan and a billing period of [now, now+30d]. Used on checkout
// completion; replaying the event rewrites the same absolute values.
func (r *SubscriptionRepo) ActivateFromCheckout(
	ctx context.Context,
	userID string,
	provider types.PaymentProviderName,
	providerSubID string,
	plan types.PlanTier,
	periodStart, periodEnd time.Time,
) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscriptions (
			id, user_id, provider, provider_subscription_id,
			status, plan, current_period_start, current_period_end,
			cancel_at_period_end, created_at, updated_at
		)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, false, now(), now())
		ON CONFLICT (user_id)
		DO UPDATE SET provider                 = $2,
		              provider_subscription_id = $3,
		              status                   = $4,
		              plan                     = $5,
		              current_period_start     = $6,
		              current_period_end       = $7,
		              cancel_at_period_end     = false,
		              updated_at               = now()`,
		userID, provider, providerSubID,
		types.SubStatusActive, plan, periodStart, periodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate subscription", err)
	}
	return nil
}

// UpdateFromProvider applies a subscription-updated event: status mapped from
// the provider vocabulary, a refreshed billing window, and the provider's
// cancel-at-period-end flag copied verbatim.
func (r *SubscriptionRepo) UpdateFromProvider(
	ctx context.Context,
	providerSubID string,
	status types.SubscriptionStatus,
	periodStart, periodEnd time.Time,
	cancelAtPeriodEnd bool,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status               = $2,
		    current_period_start = $3,
		    current_period_end   = $4,
		    cancel_at_period_end = $5,
		    updated_at           = now()
		WHERE provider_subscription_id = $1`,
		providerSubID, status, periodStart, periodEnd, cancelAtPeriodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	return nil
}

// SetStatusByProviderSubscriptionID forces the subscription into the given
// status. Used for deletion (-> CANCELED) and payment success/failure
// transitions.
func (r *SubscriptionRepo) SetStatusByProviderSubscriptionID(
	ctx context.Context,
	providerSubID string,
	status types.SubscriptionStatus,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, updated_at = now()
		WHERE provider_subscription_id = $1`,
		providerSubID, status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set subscription status", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.Provider, &s.ProviderCustomerID, &s.ProviderSubscriptionID,
		&s.Status, &s.Plan, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
