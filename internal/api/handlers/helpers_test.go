package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"opsight/internal/core"
	"opsight/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(discardLogger())
}

// withActor attaches an authenticated actor to the request, standing in for
// the session middleware.
func withActor(r *http.Request, actor types.Actor) *http.Request {
	return r.WithContext(types.WithActor(r.Context(), actor))
}

var testActor = types.Actor{
	UserID:    "user-1",
	Email:     "owner@example.com",
	SessionID: "sess_test",
}

// --- Shared fakes ---

type fakeSubs struct {
	sub *types.Subscription
	err error
}

func (f *fakeSubs) GetByUserID(_ context.Context, _ string) (*types.Subscription, error) {
	return f.sub, f.err
}

type fakeUsage struct {
	usage        types.UsageTracking
	getErr       error
	incrementErr error
	increments   []types.MeteredResource
}

func (f *fakeUsage) Get(_ context.Context, userID string) (types.UsageTracking, error) {
	if f.getErr != nil {
		return types.UsageTracking{}, f.getErr
	}
	u := f.usage
	u.UserID = userID
	return u, nil
}

func (f *fakeUsage) Increment(_ context.Context, userID string, resource types.MeteredResource) (types.UsageTracking, error) {
	if f.incrementErr != nil {
		return types.UsageTracking{}, f.incrementErr
	}
	f.increments = append(f.increments, resource)
	u := f.usage
	u.UserID = userID
	switch resource {
	case types.ResourceAIQueries:
		u.AIQueriesUsed++
	case types.ResourceAlertRules:
		u.AlertRulesCreated++
	case types.ResourceCSVUploads:
		u.CSVFilesUploaded++
	}
	f.usage = u
	return u, nil
}

type fakeNudger struct {
	mu    sync.Mutex
	calls []types.MeteredResource
}

func (f *fakeNudger) Notify(_ types.Actor, resource types.MeteredResource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resource)
}

func (f *fakeNudger) notified() []types.MeteredResource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.MeteredResource(nil), f.calls...)
}

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

func activeSubscription() *types.Subscription {
	return &types.Subscription{
		UserID: "user-1",
		Status: types.SubStatusActive,
		Plan:   types.PlanPro,
	}
}
