// Package validation provides field-level validation for fact records and
// API request bodies.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)

	if len(s) > maxLen {
		s = s[:maxLen]
	}

	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error on a single field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// Err returns nil when there are no errors, so callers never hand back a
// non-nil interface wrapping an empty slice.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Prefix qualifies every field with a parent path (e.g. "user_profile").
func (e ValidationErrors) Prefix(parent string) ValidationErrors {
	out := make(ValidationErrors, len(e))
	for i, fe := range e {
		out[i] = ValidationError{Field: parent + "." + fe.Field, Message: fe.Message}
	}
	return out
}

// Has reports whether a field has at least one error.
func (e ValidationErrors) Has(field string) bool {
	for _, fe := range e {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MinLength checks that a field has at least min characters.
func MinLength(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.TrimSpace(value)) < min {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be at least %d characters", min)}
		}
		return nil
	}
}

// MinWords checks that free text is substantive rather than a label.
func MinWords(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.Fields(value)) < min {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be at least %d words", min)}
		}
		return nil
	}
}

// IntRange checks lo <= value <= hi.
func IntRange(field string, value, lo, hi int) func() *ValidationError {
	return func() *ValidationError {
		if value < lo || value > hi {
			return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
		}
		return nil
	}
}

// NonNegative checks value >= 0.
func NonNegative(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// OneOf checks that value is one of the allowed strings. Empty values pass;
// combine with Required for mandatory fields.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// ErrorBody renders a validation failure as an API error body. Errors that
// are not ValidationErrors are reported as a plain invalid_request message.
func ErrorBody(err error) gin.H {
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return gin.H{"error": "invalid_request", "message": err.Error()}
	}
	body := gin.H{
		"error":   "invalid_request",
		"message": verrs.Error(),
		"fields":  []ValidationError(verrs),
	}
	if hints := verrs.Hints(); len(hints) > 0 {
		body["hints"] = hints
	}
	return body
}
