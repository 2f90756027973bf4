package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/types"
)

func nudgeSendInput() types.SendInput {
	return types.SendInput{
		To:         "owner@example.com",
		From:       types.SenderIdentity{Name: "Opsight", Address: "noreply@opsight.io"},
		TemplateID: "d-upgrade-nudge",
		TemplateData: map[string]interface{}{
			"resource": "ai_queries",
		},
		ReferenceID: "user-1",
	}
}

func TestSendGridSend(t *testing.T) {
	var gotAuth string
	var gotPayload sendGridMailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		w.Header().Set("X-Message-Id", "msg-abc123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewSendGridClientWithBase(newTestBaseClient(0), SendGridClientConfig{
		APIKey:  "SG.key",
		BaseURL: srv.URL,
	})

	msgID, err := c.Send(context.Background(), nudgeSendInput())
	require.NoError(t, err)

	assert.Equal(t, "msg-abc123", msgID)
	assert.Equal(t, "Bearer SG.key", gotAuth)
	assert.Equal(t, "d-upgrade-nudge", gotPayload.TemplateID)
	assert.Equal(t, "noreply@opsight.io", gotPayload.From.Email)
	require.Len(t, gotPayload.Personalizations, 1)
	require.Len(t, gotPayload.Personalizations[0].To, 1)
	assert.Equal(t, "owner@example.com", gotPayload.Personalizations[0].To[0].Email)
	assert.Equal(t, "ai_queries", gotPayload.Personalizations[0].DynamicData["resource"])
	assert.Equal(t, "user-1", gotPayload.CustomArgs["reference_id"])
}

func TestSendGridSendOmitsCustomArgsWithoutReference(t *testing.T) {
	var rawBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewSendGridClientWithBase(newTestBaseClient(0), SendGridClientConfig{BaseURL: srv.URL})

	input := nudgeSendInput()
	input.ReferenceID = ""
	_, err := c.Send(context.Background(), input)
	require.NoError(t, err)

	assert.NotContains(t, string(rawBody), "custom_args")
}

func TestSendGridSendErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"message":"The from address does not match a verified Sender Identity","field":"from"}]}`)
	}))
	defer srv.Close()

	c := NewSendGridClientWithBase(newTestBaseClient(0), SendGridClientConfig{BaseURL: srv.URL})

	_, err := c.Send(context.Background(), nudgeSendInput())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamEmail, appErr.Code)
	assert.Contains(t, appErr.Message, "verified Sender Identity")
}

func TestSendGridSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewSendGridClientWithBase(newTestBaseClient(0), SendGridClientConfig{BaseURL: srv.URL})

	_, err := c.Send(context.Background(), nudgeSendInput())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}
