package billing

import (
	"context"
	"log/slog"
	"time"

	"opsight/internal/types"
)

// billingPeriod is the length of one billing window. All three providers sell
// monthly subscriptions; the window is anchored at event processing time
// rather than parsed from provider payloads, so replays of the same event may
// shift the window slightly but never the status or plan.
const billingPeriod = 30 * 24 * time.Hour

// SubscriptionStore is the persistence surface the state machine writes to.
// Implemented by db.SubscriptionRepo. Every write is absolute so event
// replays converge to the same row state.
type SubscriptionStore interface {
	ActivateFromCheckout(
		ctx context.Context,
		userID string,
		provider types.PaymentProviderName,
		providerSubID string,
		plan types.PlanTier,
		periodStart, periodEnd time.Time,
	) error
	UpdateFromProvider(
		ctx context.Context,
		providerSubID string,
		status types.SubscriptionStatus,
		periodStart, periodEnd time.Time,
		cancelAtPeriodEnd bool,
	) error
	SetStatusByProviderSubscriptionID(
		ctx context.Context,
		providerSubID string,
		status types.SubscriptionStatus,
	) error
}

// UsageStore resets the usage ledger when a user converts from pilot to paid.
// Implemented by db.UsageRepo.
type UsageStore interface {
	Reset(ctx context.Context, userID string, at time.Time) error
}

// EventProcessor applies normalized billing events to subscription state.
// It is shared by all three provider webhook routes: adapters translate
// native payloads into types.BillingEvent before calling Apply.
type EventProcessor struct {
	subs   SubscriptionStore
	usage  UsageStore
	plans  PlanRegistry
	clock  types.Clock
	logger *slog.Logger
}

// NewEventProcessor creates an EventProcessor. A nil logger falls back to
// slog.Default, and a nil clock to the real clock.
func NewEventProcessor(
	subs SubscriptionStore,
	usage UsageStore,
	plans PlanRegistry,
	clock types.Clock,
	logger *slog.Logger,
) *EventProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &EventProcessor{
		subs:   subs,
		usage:  usage,
		plans:  plans,
		clock:  clock,
		logger: logger,
	}
}

// Apply routes a normalized event through the subscription state machine.
//
// Unrecognized event kinds and checkout events with incomplete metadata are
// acknowledged without side effects: returning an error would make the
// provider redeliver an event we will never be able to process.
func (p *EventProcessor) Apply(ctx context.Context, ev types.BillingEvent) error {
	log := p.logger.With(
		slog.String("provider", string(ev.Provider)),
		slog.String("event_kind", string(ev.Kind)),
		slog.String("event_id", ev.ID),
	)

	switch ev.Kind {
	case types.EventCheckoutCompleted:
		return p.applyCheckoutCompleted(ctx, ev, log)

	case types.EventSubscriptionUpdated, types.EventSubscriptionDeleted,
		types.EventPaymentSucceeded, types.EventPaymentFailed:
		if ev.ProviderSubscriptionID == "" {
			log.Warn("event carries no subscription id, skipping")
			return nil
		}
	}

	switch ev.Kind {
	case types.EventSubscriptionUpdated:
		now := p.clock.Now()
		status := types.MapProviderStatus(ev.ProviderStatus)
		if err := p.subs.UpdateFromProvider(ctx, ev.ProviderSubscriptionID, status, now, now.Add(billingPeriod), ev.CancelAtPeriodEnd); err != nil {
			return err
		}
		log.Info("subscription updated",
			slog.String("status", string(status)),
			slog.Bool("cancel_at_period_end", ev.CancelAtPeriodEnd))
		return nil

	case types.EventSubscriptionDeleted:
		if err := p.subs.SetStatusByProviderSubscriptionID(ctx, ev.ProviderSubscriptionID, types.SubStatusCanceled); err != nil {
			return err
		}
		log.Info("subscription canceled")
		return nil

	case types.EventPaymentSucceeded:
		// A successful payment recovers PAST_DUE subscriptions back to ACTIVE.
		// The write is unconditional; for already-ACTIVE rows it is a no-op
		// in effect.
		if err := p.subs.SetStatusByProviderSubscriptionID(ctx, ev.ProviderSubscriptionID, types.SubStatusActive); err != nil {
			return err
		}
		log.Info("payment succeeded, subscription active")
		return nil

	case types.EventPaymentFailed:
		if err := p.subs.SetStatusByProviderSubscriptionID(ctx, ev.ProviderSubscriptionID, types.SubStatusPastDue); err != nil {
			return err
		}
		log.Warn("payment failed, subscription past due")
		return nil

	default:
		log.Info("ignoring unhandled billing event kind")
		return nil
	}
}

func (p *EventProcessor) applyCheckoutCompleted(ctx context.Context, ev types.BillingEvent, log *slog.Logger) error {
	if ev.UserID == "" || ev.Plan == "" {
		log.Warn("checkout event missing user or plan metadata, skipping",
			slog.String("user_id", ev.UserID),
			slog.String("plan", string(ev.Plan)))
		return nil
	}
	plan, ok := p.plans.Parse(string(ev.Plan))
	if !ok {
		log.Warn("checkout event carries unknown plan, skipping",
			slog.String("plan", string(ev.Plan)))
		return nil
	}

	now := p.clock.Now()
	if err := p.subs.ActivateFromCheckout(ctx, ev.UserID, ev.Provider, ev.ProviderSubscriptionID, plan, now, now.Add(billingPeriod)); err != nil {
		return err
	}

	// Fresh paid period starts with a clean ledger. A failed reset is logged
	// and swallowed: the subscription row is already ACTIVE, and failing the
	// webhook here would trigger a redelivery that re-runs the whole handler.
	if err := p.usage.Reset(ctx, ev.UserID, now); err != nil {
		log.Error("usage ledger reset failed after checkout",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()))
	}

	log.Info("subscription activated from checkout",
		slog.String("user_id", ev.UserID),
		slog.String("plan", string(plan)))
	return nil
}
