package validator

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range v {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any errors
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Add adds a validation error
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// Required records an error when value is blank
func (v *ValidationErrors) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "is required")
		return false
	}
	return true
}

// MaxLength records an error when value is longer than max runes
func (v *ValidationErrors) MaxLength(field, value string, max int) bool {
	if utf8.RuneCountInString(value) > max {
		v.Add(field, "is too long")
		return false
	}
	return true
}

// OneOf records an error when a non-empty value is not in allowed
func (v *ValidationErrors) OneOf(field, value string, allowed ...string) bool {
	if value == "" {
		return true
	}
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	v.Add(field, "must be one of "+strings.Join(allowed, ", "))
	return false
}

// UUID records an error when value is not a valid UUID
func (v *ValidationErrors) UUID(field, value string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		v.Add(field, "must be a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

// SanitizeString trims whitespace and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxLen {
		return string([]rune(s)[:maxLen])
	}
	return s
}
