package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken is returned when a refresh is requested without a stored refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrInvalidTokenResponse is returned when the identity endpoint answers 2xx with an unusable body.
	ErrInvalidTokenResponse = errors.New("invalid token response")
)

// AuthError represents an authentication error.
type AuthError struct {
	Op      string // The operation that failed
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
