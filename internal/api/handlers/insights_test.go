package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/quota"
	"opsight/internal/types"
)

type fakeGenerator struct {
	insight  string
	err      error
	prompts  []string
	contexts []string
}

func (f *fakeGenerator) GenerateInsight(_ context.Context, prompt, dataContext string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, prompt)
	f.contexts = append(f.contexts, dataContext)
	return f.insight, nil
}

func insightRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/insights", strings.NewReader(body))
	return withActor(req, testActor)
}

func TestGenerateInsight(t *testing.T) {
	usage := &fakeUsage{usage: types.UsageTracking{AIQueriesUsed: 3}}
	gen := &fakeGenerator{insight: "CPU load spikes every day at 14:00 UTC."}
	h := NewInsightsHandler(&fakeSubs{}, usage, gen, &fakeNudger{}, testValidator(), discardLogger())

	rec := httptest.NewRecorder()
	h.Generate(rec, insightRequest(`{"prompt":"when does cpu spike?","context":"cpu_usage: 91%"}`))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp InsightResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gen.insight, resp.Insight)
	assert.Equal(t, 4, resp.Usage.AIQueriesUsed)
	assert.Equal(t, quota.PilotAIQueryLimit-4, resp.Usage.AIQueriesRemaining)
	assert.True(t, resp.Usage.PilotMode)
	assert.Equal(t, []types.MeteredResource{types.ResourceAIQueries}, usage.increments)
	assert.Equal(t, []string{"when does cpu spike?"}, gen.prompts)
	assert.Equal(t, []string{"cpu_usage: 91%"}, gen.contexts)
}

func TestGenerateInsightDeniedAtLimit(t *testing.T) {
	usage := &fakeUsage{usage: types.UsageTracking{AIQueriesUsed: quota.PilotAIQueryLimit}}
	gen := &fakeGenerator{insight: "unreachable"}
	nudger := &fakeNudger{}
	h := NewInsightsHandler(&fakeSubs{}, usage, gen, nudger, testValidator(), discardLogger())

	rec := httptest.NewRecorder()
	h.Generate(rec, insightRequest(`{"prompt":"one more"}`))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeLimitAIQueries))
	assert.Contains(t, rec.Body.String(), `"limit_reached":true`)
	assert.Empty(t, gen.prompts)
	assert.Empty(t, usage.increments)
	assert.Equal(t, []types.MeteredResource{types.ResourceAIQueries}, nudger.notified())
}

func TestGenerateInsightPaidUserBypassesLimit(t *testing.T) {
	usage := &fakeUsage{usage: types.UsageTracking{AIQueriesUsed: 500}}
	gen := &fakeGenerator{insight: "plenty of headroom"}
	h := NewInsightsHandler(&fakeSubs{sub: activeSubscription()}, usage, gen, &fakeNudger{}, testValidator(), discardLogger())

	rec := httptest.NewRecorder()
	h.Generate(rec, insightRequest(`{"prompt":"still works?"}`))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp InsightResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Usage.PilotMode)
	assert.Equal(t, -1, resp.Usage.AIQueriesRemaining)
}

func TestGenerateInsightAIFailureDoesNotConsumeQuota(t *testing.T) {
	usage := &fakeUsage{usage: types.UsageTracking{AIQueriesUsed: 1}}
	gen := &fakeGenerator{err: types.NewAppError(types.ErrCodeUpstreamAI, "AI provider request failed", nil)}
	h := NewInsightsHandler(&fakeSubs{}, usage, gen, &fakeNudger{}, testValidator(), discardLogger())

	rec := httptest.NewRecorder()
	h.Generate(rec, insightRequest(`{"prompt":"broken upstream"}`))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, usage.increments)
}

func TestGenerateInsightRateLimitedUpstream(t *testing.T) {
	usage := &fakeUsage{}
	gen := &fakeGenerator{err: types.NewAppError(types.ErrCodeUpstreamRateLimited, "AI provider rate limit exceeded", nil)}
	h := NewInsightsHandler(&fakeSubs{}, usage, gen, &fakeNudger{}, testValidator(), discardLogger())

	rec := httptest.NewRecorder()
	h.Generate(rec, insightRequest(`{"prompt":"rate limited"}`))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGenerateInsightLedgerWriteFailureStillSucceeds(t *testing.T) {
	usage := &fakeUsage{
		usage:        types.UsageTracking{AIQueriesUsed: 2},
		incrementErr: errors.New("db down"),
	}
	gen := &fakeGenerator{insight: "insight despite ledger outage"}
	h := NewInsightsHandler(&fakeSubs{}, usage, gen, &fakeNudger{}, testValidator(), discardLogger())

	rec := httptest.NewRecorder()
	h.Generate(rec, insightRequest(`{"prompt":"ledger down"}`))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp InsightResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gen.insight, resp.Insight)
	assert.Equal(t, 3, resp.Usage.AIQueriesUsed)
}

func TestGenerateInsightValidation(t *testing.T) {
	h := NewInsightsHandler(&fakeSubs{}, &fakeUsage{}, &fakeGenerator{}, &fakeNudger{}, testValidator(), discardLogger())

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing prompt", `{}`},
		{"unknown field", `{"prompt":"q","extra":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Generate(rec, insightRequest(tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGenerateInsightWithoutActor(t *testing.T) {
	h := NewInsightsHandler(&fakeSubs{}, &fakeUsage{}, &fakeGenerator{}, &fakeNudger{}, testValidator(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/insights", strings.NewReader(`{"prompt":"q"}`))
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
