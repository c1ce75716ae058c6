// Package notification sends transactional email. Every send is wrapped in a trace span with a nested
// delivery span, counted on success, and logged as a structured record; delivery failures come back
// as a Result instead of an error.
package notification

import (
	"errors"
	"regexp"
	"strings"
)

// Validation errors for caller-supplied addresses.
var (
	ErrEmailRequired = errors.New("email is required")
	ErrInvalidEmail  = errors.New("invalid email format")
)

// Email types, used as the app.email.type attribute.
const (
	TypeSignupConfirmation = "signup_confirmation"
	TypeTest               = "test"
)

// Result is the outcome of a send. Message is the success text or the delivery error text.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

var emailPattern = regexp.MustCompile(`(?i)^[\w+\-.]+@[a-z\d\-]+(\.[a-z\d\-]+)*\.[a-z]+$`)

// ValidateEmail returns ErrEmailRequired for a blank address and ErrInvalidEmail for a malformed one.
func ValidateEmail(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return ErrEmailRequired
	}
	if !emailPattern.MatchString(addr) {
		return ErrInvalidEmail
	}
	return nil
}
