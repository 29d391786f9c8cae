package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the points ledger policy checks. Balance is always
// checked before the minimum-amount floor.
var (
	ErrInsufficientBalance = errors.New("points: insufficient balance")
	ErrBelowMinimumAmount  = errors.New("points: final amount below gateway minimum")
)

// ConfigurationError marks missing credentials or settings detected before any
// network call is made.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration incomplete: missing %v", e.Missing)
}

// AuthError is a failed OAuth2 token exchange.
type AuthError struct {
	Cause string
}

func (e *AuthError) Error() string {
	return "oauth2 token exchange failed: " + e.Cause
}

// GatewayError is a non-2xx or malformed response from the remote gateway.
// Timeout marks a network timeout, which callers must not retry automatically.
type GatewayError struct {
	StatusCode int
	Code       string
	Detail     string
	Timeout    bool
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return "gateway request timed out"
	}
	if e.Detail != "" {
		return fmt.Sprintf("gateway error (HTTP %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("gateway error (HTTP %d)", e.StatusCode)
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Timeout
}

// ValidationError is a malformed checkout request rejected at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ResolutionError means no local order could be found or created for a
// notification reference.
type ResolutionError struct {
	Ref string
}

func (e *ResolutionError) Error() string {
	return "no order resolvable for reference " + e.Ref
}

// AuthenticityError is an invalid callback correlation token or webhook
// signature. Adapters reject these loudly before any order lookup.
type AuthenticityError struct {
	Reason string
}

func (e *AuthenticityError) Error() string {
	return "authenticity check failed: " + e.Reason
}
