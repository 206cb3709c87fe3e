package provider

import (
	"errors"
	"fmt"

	"github.com/nhle/mailhub/internal/model"
)

// UnauthorizedError indicates the credentials supplied to a call were
// missing or rejected. The retry protocol recovers exactly one
// occurrence per call by refreshing the access token.
type UnauthorizedError struct {
	Provider model.Provider
	Message  string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized (%s): %s", e.Provider, e.Message)
}

// AuthFailedError indicates authentication failed permanently: a token
// refresh was attempted and still rejected, or app-password auth was
// rejected (which has no refresh path).
type AuthFailedError struct {
	Provider model.Provider
	Message  string
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication failed (%s): %s", e.Provider, e.Message)
}

// NotFoundError indicates the message or account id is unknown to the
// provider.
type NotFoundError struct {
	Provider model.Provider
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: message %q not found", e.Provider, e.ID)
}

// UnsupportedProviderError is returned by the factory for any provider
// type outside gmail/outlook/yahoo.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// ProviderError is any other non-2xx or transport failure. Status is
// the HTTP status code as text, or "timeout" when the per-call
// deadline elapsed.
type ProviderError struct {
	Provider model.Provider
	Status   string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Status, e.Message)
}

// ValidationError indicates malformed caller input, detected before any
// network call is made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Message
}

// IsUnauthorized reports whether err (or any error in its chain) is an
// UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// IsAuthFailed reports whether err is a permanent authentication failure.
func IsAuthFailed(err error) bool {
	var target *AuthFailedError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
