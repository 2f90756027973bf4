package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"opsight/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// structured AppErrors for the API layer.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator. Struct fields are reported by their
// json tag name rather than the Go field name.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request struct against its validate tags.
//
// The first failing field determines the error code: "required" failures map
// to validation_missing_required_field, everything else to
// validation_invalid_field. The failing field and tag are included in the
// error details.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	first := verrs[0]
	field := first.Field()

	if first.Tag() == "required" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"missing required field: "+field,
			err,
			map[string]any{"field": field},
		)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidField,
		"invalid value for field: "+field,
		err,
		map[string]any{
			"field": field,
			"rule":  first.Tag(),
		},
	)
}
