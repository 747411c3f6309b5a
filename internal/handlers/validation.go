package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps request bodies; batches of 100 care records fit well
// within it.
const maxBodyBytes = 1 << 20

// Global validator instance (reused across all handlers)
var validate = validator.New()

// ValidateRequest validates a request struct using go-playground/validator.
// All failing fields are reported, one reason each.
func ValidateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	reasons := make([]string, 0, len(ve))
	for _, fe := range ve {
		reasons = append(reasons, fmt.Sprintf("%s: %s", fe.Field(), formatValidationError(fe)))
	}
	return &models.ValidationError{Field: "request", Reasons: reasons}
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have a minimum of %s", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// decodeBody decodes and validates a JSON body into dst. Unknown fields are
// rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &models.ValidationError{Field: "body", Reasons: []string{"request body is required"}}
		}
		return &models.ValidationError{Field: "body", Reasons: []string{"invalid JSON"}}
	}
	return ValidateRequest(dst)
}
