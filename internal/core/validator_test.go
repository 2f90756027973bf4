package core

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/types"
)

type alertRequest struct {
	Name      string  `json:"name" validate:"required"`
	Metric    string  `json:"metric" validate:"required"`
	Threshold float64 `json:"threshold" validate:"required"`
	Channel   string  `json:"channel" validate:"required,oneof=email slack"`
}

func newTestValidator() *Validator {
	return NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidateStructOK(t *testing.T) {
	v := newTestValidator()
	err := v.ValidateStruct(alertRequest{
		Name:      "high cpu",
		Metric:    "cpu_percent",
		Threshold: 90,
		Channel:   "email",
	})
	require.NoError(t, err)
}

func TestValidateStructMissingField(t *testing.T) {
	v := newTestValidator()
	err := v.ValidateStruct(alertRequest{
		Metric:    "cpu_percent",
		Threshold: 90,
		Channel:   "email",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Equal(t, "name", appErr.Details["field"])
	assert.Equal(t, 400, appErr.HTTPStatus())
}

func TestValidateStructInvalidValue(t *testing.T) {
	v := newTestValidator()
	err := v.ValidateStruct(alertRequest{
		Name:      "high cpu",
		Metric:    "cpu_percent",
		Threshold: 90,
		Channel:   "pager",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidField, appErr.Code)
	assert.Equal(t, "channel", appErr.Details["field"])
	assert.Equal(t, "oneof", appErr.Details["rule"])
}
