package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type activateCall struct {
	userID        string
	provider      types.PaymentProviderName
	providerSubID string
	plan          types.PlanTier
	periodStart   time.Time
	periodEnd     time.Time
}

type updateCall struct {
	providerSubID     string
	status            types.SubscriptionStatus
	periodStart       time.Time
	periodEnd         time.Time
	cancelAtPeriodEnd bool
}

type statusCall struct {
	providerSubID string
	status        types.SubscriptionStatus
}

type fakeSubStore struct {
	activates []activateCall
	updates   []updateCall
	statuses  []statusCall
	err       error
}

func (f *fakeSubStore) ActivateFromCheckout(_ context.Context, userID string, provider types.PaymentProviderName, providerSubID string, plan types.PlanTier, periodStart, periodEnd time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.activates = append(f.activates, activateCall{userID, provider, providerSubID, plan, periodStart, periodEnd})
	return nil
}

func (f *fakeSubStore) UpdateFromProvider(_ context.Context, providerSubID string, status types.SubscriptionStatus, periodStart, periodEnd time.Time, cancelAtPeriodEnd bool) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, updateCall{providerSubID, status, periodStart, periodEnd, cancelAtPeriodEnd})
	return nil
}

func (f *fakeSubStore) SetStatusByProviderSubscriptionID(_ context.Context, providerSubID string, status types.SubscriptionStatus) error {
	if f.err != nil {
		return f.err
	}
	f.statuses = append(f.statuses, statusCall{providerSubID, status})
	return nil
}

type fakeUsageStore struct {
	resets []string
	err    error
}

func (f *fakeUsageStore) Reset(_ context.Context, userID string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.resets = append(f.resets, userID)
	return nil
}

func newTestProcessor(subs *fakeSubStore, usage *fakeUsageStore, now time.Time) *EventProcessor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEventProcessor(subs, usage, NewStaticPlanRegistry(), fixedClock{t: now}, logger)
}

func TestApplyCheckoutCompleted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := &fakeSubStore{}
	usage := &fakeUsageStore{}
	p := newTestProcessor(subs, usage, now)

	err := p.Apply(context.Background(), types.BillingEvent{
		ID:                     "evt_1",
		Provider:               types.ProviderStripe,
		Kind:                   types.EventCheckoutCompleted,
		UserID:                 "user-1",
		Plan:                   types.PlanPro,
		ProviderSubscriptionID: "sub_abc",
	})
	require.NoError(t, err)

	require.Len(t, subs.activates, 1)
	call := subs.activates[0]
	assert.Equal(t, "user-1", call.userID)
	assert.Equal(t, types.ProviderStripe, call.provider)
	assert.Equal(t, "sub_abc", call.providerSubID)
	assert.Equal(t, types.PlanPro, call.plan)
	assert.Equal(t, now, call.periodStart)
	assert.Equal(t, now.Add(30*24*time.Hour), call.periodEnd)

	assert.Equal(t, []string{"user-1"}, usage.resets)
}

func TestApplyCheckoutMissingMetadataIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		ev   types.BillingEvent
	}{
		{
			name: "missing user",
			ev: types.BillingEvent{
				Kind: types.EventCheckoutCompleted,
				Plan: types.PlanBasic,
			},
		},
		{
			name: "missing plan",
			ev: types.BillingEvent{
				Kind:   types.EventCheckoutCompleted,
				UserID: "user-1",
			},
		},
		{
			name: "unknown plan",
			ev: types.BillingEvent{
				Kind:   types.EventCheckoutCompleted,
				UserID: "user-1",
				Plan:   types.PlanTier("PLATINUM"),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subs := &fakeSubStore{}
			usage := &fakeUsageStore{}
			p := newTestProcessor(subs, usage, now)

			err := p.Apply(context.Background(), tc.ev)
			require.NoError(t, err)
			assert.Empty(t, subs.activates)
			assert.Empty(t, usage.resets)
		})
	}
}

func TestApplyCheckoutReplayIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := &fakeSubStore{}
	usage := &fakeUsageStore{}
	p := newTestProcessor(subs, usage, now)

	ev := types.BillingEvent{
		ID:                     "evt_1",
		Provider:               types.ProviderPayPal,
		Kind:                   types.EventCheckoutCompleted,
		UserID:                 "user-1",
		Plan:                   types.PlanBasic,
		ProviderSubscriptionID: "I-XYZ",
	}
	require.NoError(t, p.Apply(context.Background(), ev))
	require.NoError(t, p.Apply(context.Background(), ev))

	// Both deliveries write the same absolute values.
	require.Len(t, subs.activates, 2)
	assert.Equal(t, subs.activates[0], subs.activates[1])
}

func TestApplySubscriptionUpdated(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		providerStatus string
		want           types.SubscriptionStatus
	}{
		{"active", types.SubStatusActive},
		{"canceled", types.SubStatusCanceled},
		{"cancelled", types.SubStatusCanceled},
		{"past_due", types.SubStatusPastDue},
		{"unpaid", types.SubStatusUnpaid},
		{"incomplete_expired", types.SubStatusTrial},
		{"", types.SubStatusTrial},
	}

	for _, tc := range cases {
		t.Run("status "+tc.providerStatus, func(t *testing.T) {
			subs := &fakeSubStore{}
			p := newTestProcessor(subs, &fakeUsageStore{}, now)

			err := p.Apply(context.Background(), types.BillingEvent{
				Kind:                   types.EventSubscriptionUpdated,
				ProviderSubscriptionID: "sub_abc",
				ProviderStatus:         tc.providerStatus,
				CancelAtPeriodEnd:      true,
			})
			require.NoError(t, err)

			require.Len(t, subs.updates, 1)
			assert.Equal(t, tc.want, subs.updates[0].status)
			assert.True(t, subs.updates[0].cancelAtPeriodEnd)
			assert.Equal(t, now.Add(30*24*time.Hour), subs.updates[0].periodEnd)
		})
	}
}

func TestApplySubscriptionDeleted(t *testing.T) {
	subs := &fakeSubStore{}
	p := newTestProcessor(subs, &fakeUsageStore{}, time.Now())

	err := p.Apply(context.Background(), types.BillingEvent{
		Kind:                   types.EventSubscriptionDeleted,
		ProviderSubscriptionID: "sub_abc",
	})
	require.NoError(t, err)
	assert.Equal(t, []statusCall{{"sub_abc", types.SubStatusCanceled}}, subs.statuses)
}

func TestApplyPaymentLifecycle(t *testing.T) {
	subs := &fakeSubStore{}
	p := newTestProcessor(subs, &fakeUsageStore{}, time.Now())

	// Failed payment pushes the subscription into PAST_DUE, a later retry
	// that succeeds recovers it to ACTIVE.
	require.NoError(t, p.Apply(context.Background(), types.BillingEvent{
		Kind:                   types.EventPaymentFailed,
		ProviderSubscriptionID: "sub_abc",
	}))
	require.NoError(t, p.Apply(context.Background(), types.BillingEvent{
		Kind:                   types.EventPaymentSucceeded,
		ProviderSubscriptionID: "sub_abc",
	}))

	assert.Equal(t, []statusCall{
		{"sub_abc", types.SubStatusPastDue},
		{"sub_abc", types.SubStatusActive},
	}, subs.statuses)
}

func TestApplyUnknownKindIsNoOp(t *testing.T) {
	subs := &fakeSubStore{}
	usage := &fakeUsageStore{}
	p := newTestProcessor(subs, usage, time.Now())

	err := p.Apply(context.Background(), types.BillingEvent{
		Kind: types.BillingEventKind("invoice.finalized"),
	})
	require.NoError(t, err)
	assert.Empty(t, subs.activates)
	assert.Empty(t, subs.updates)
	assert.Empty(t, subs.statuses)
	assert.Empty(t, usage.resets)
}

func TestApplyMissingSubscriptionIDIsNoOp(t *testing.T) {
	subs := &fakeSubStore{}
	p := newTestProcessor(subs, &fakeUsageStore{}, time.Now())

	for _, kind := range []types.BillingEventKind{
		types.EventSubscriptionUpdated,
		types.EventSubscriptionDeleted,
		types.EventPaymentSucceeded,
		types.EventPaymentFailed,
	} {
		require.NoError(t, p.Apply(context.Background(), types.BillingEvent{Kind: kind}))
	}
	assert.Empty(t, subs.updates)
	assert.Empty(t, subs.statuses)
}

func TestApplyCheckoutLedgerResetFailureIsSwallowed(t *testing.T) {
	subs := &fakeSubStore{}
	usage := &fakeUsageStore{err: errors.New("db down")}
	p := newTestProcessor(subs, usage, time.Now())

	err := p.Apply(context.Background(), types.BillingEvent{
		Kind:                   types.EventCheckoutCompleted,
		UserID:                 "user-1",
		Plan:                   types.PlanBasic,
		ProviderSubscriptionID: "sub_abc",
	})
	require.NoError(t, err)
	require.Len(t, subs.activates, 1)
}

func TestApplySubscriptionStoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("db down")
	subs := &fakeSubStore{err: storeErr}
	p := newTestProcessor(subs, &fakeUsageStore{}, time.Now())

	err := p.Apply(context.Background(), types.BillingEvent{
		Kind:                   types.EventSubscriptionDeleted,
		ProviderSubscriptionID: "sub_abc",
	})
	require.ErrorIs(t, err, storeErr)
}

func TestStaticPlanRegistry(t *testing.T) {
	reg := NewStaticPlanRegistry()

	pro, ok := reg.Get(types.PlanPro)
	require.True(t, ok)
	assert.Equal(t, "Pro", pro.Name)
	assert.Equal(t, int64(9900), pro.AmountCents)

	_, ok = reg.Get(types.PlanTier("PLATINUM"))
	assert.False(t, ok)

	tier, ok := reg.Parse("  pro ")
	require.True(t, ok)
	assert.Equal(t, types.PlanPro, tier)

	_, ok = reg.Parse("platinum")
	assert.False(t, ok)
}
