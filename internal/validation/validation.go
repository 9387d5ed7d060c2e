// Package validation provides input validation helpers for the dispute API.
package validation

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	// idRegex matches internal IDs: a short prefix, underscore, hex tail
	idRegex = regexp.MustCompile(`^[a-z]{2,8}_[a-f0-9]{8,32}$`)
	// currencyRegex matches ISO 4217 currency codes
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	// storageKeyRegex matches object storage keys like "evidence/2026/08/abc.png"
	storageKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_\-.]{2,511}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string looks like one of our prefixed IDs
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidCurrency checks for a three-letter uppercase currency code
func IsValidCurrency(code string) bool {
	return currencyRegex.MatchString(code)
}

// IsValidEvidenceRef accepts either an https URL or an object storage key.
// Raw file content is never accepted here.
func IsValidEvidenceRef(ref string) bool {
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		u, err := url.Parse(ref)
		return err == nil && u.Host != ""
	}
	return storageKeyRegex.MatchString(ref)
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

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects errors
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

// MinLength checks if a field meets a minimum length after trimming
func MinLength(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if len(strings.TrimSpace(value)) < min {
			return &ValidationError{Field: field, Message: "is too short"}
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

// ValidCurrency checks for an ISO 4217 code. Empty values pass; combine with Required.
func ValidCurrency(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCurrency(value) {
			return &ValidationError{Field: field, Message: "must be a three-letter currency code"}
		}
		return nil
	}
}

// PositiveAmount checks that a minor-unit amount is greater than zero
func PositiveAmount(field string, value int64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// EvidenceRefs checks a list of evidence references against count and format limits
func EvidenceRefs(field string, refs []string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(refs) > max {
			return &ValidationError{Field: field, Message: "too many evidence references"}
		}
		for _, ref := range refs {
			if !IsValidEvidenceRef(ref) {
				return &ValidationError{Field: field, Message: "invalid evidence reference"}
			}
		}
		return nil
	}
}

// IDParamMiddleware validates the :id URL parameter on routes that use it.
// Apply to route groups with :id params to reject malformed IDs early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be a prefixed identifier",
			})
			return
		}
		c.Next()
	}
}
