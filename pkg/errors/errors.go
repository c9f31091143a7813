package studysphere_errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ErrNotParticipant is a validation error: callers can match either sentinel.
var ErrNotParticipant = fmt.Errorf("%w: user is not a participant of this conversation", ErrInvalidInput)

// IsConflict reports whether err came from a uniqueness constraint.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists)
}

// Store wraps a raw persistence failure so callers see ErrStoreUnavailable
// while the driver error stays inspectable.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Code maps err to the stable code clients see in HTTP bodies and realtime
// error frames.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case IsConflict(err):
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
