package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Token errors
	ErrMalformedToken       = errors.New("malformed token")
	ErrInvalidEncoding      = errors.New("invalid token encoding")
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	ErrWrongTokenType       = errors.New("wrong token type")
	ErrInvalidPayload       = errors.New("invalid token payload")
	ErrInvalidSignature     = errors.New("invalid token signature")
	ErrAccessTokenExpired   = errors.New("access token expired")

	// Session errors
	ErrSessionRevoked   = errors.New("session revoked")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTooSoon          = errors.New("session refreshed too recently")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Storage could not complete the operation. Result is unknown, caller may retry
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// TooSoonError is returned when a refresh comes before the minimum validity window has passed.
// errors.Is(err, ErrTooSoon) is true for it.
type TooSoonError struct {
	RefreshedAt time.Time
	RetryAt     time.Time

	// Time left until RetryAt by the clock that made the decision
	RetryAfter time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("%s: last refresh at %s, retry at %s",
		ErrTooSoon.Error(),
		e.RefreshedAt.UTC().Format(time.RFC3339),
		e.RetryAt.UTC().Format(time.RFC3339),
	)
}

func (e *TooSoonError) Unwrap() error {
	return ErrTooSoon
}
