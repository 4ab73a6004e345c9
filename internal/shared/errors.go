package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrPlaylistNotFound   = fmt.Errorf("playlist not found")
	ErrTrackNotFound      = fmt.Errorf("track not found")

	// Persistence errors
	ErrNotFound      = fmt.Errorf("record not found")
	ErrAlreadyExists = fmt.Errorf("record already exists")
	ErrImmutable     = fmt.Errorf("record is immutable")
	ErrNoMigrations  = fmt.Errorf("no migrations applied")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)

// ValidationError reports malformed schedule configuration.
//
// Raised synchronously by creation and manual-run paths; never produced at tick time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match [ErrInvalidInput] with errors.Is.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError builds a [ValidationError] with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientProviderError is a retryable failure talking to the provider (429, 5xx, network).
type TransientProviderError struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *TransientProviderError) Error() string {
	msg := "transient provider error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// AuthExpiredError means the stored refresh credential was rejected permanently.
type AuthExpiredError struct {
	OwnerID string
	Err     error
}

func (e *AuthExpiredError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authorization expired for owner %s", e.OwnerID)
	}
	return fmt.Sprintf("authorization expired for owner %s: %v", e.OwnerID, e.Err)
}

// Unwrap exposes the cause, falling back to [ErrTokenExpired].
func (e *AuthExpiredError) Unwrap() error {
	if e.Err == nil {
		return ErrTokenExpired
	}
	return e.Err
}

// IsTransient reports whether err carries a [TransientProviderError].
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsAuthExpired reports whether err carries an [AuthExpiredError].
func IsAuthExpired(err error) bool {
	var a *AuthExpiredError
	return errors.As(err, &a)
}

// IsValidation reports whether err carries a [ValidationError].
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
