// Package apperror defines the domain error taxonomy.
//
// Every error that crosses a layer boundary is an *AppError wrapping one of
// the sentinels below. Callers classify with errors.Is against the sentinel
// and read the human-readable Message off the *AppError (errors.As).
//
// Some sentinels are themselves wrapped forms of a broader one:
//
//	ErrUserNotFound → ErrNotFound
//	ErrDeckNotFound → ErrNotFound
//
// so errors.Is(err, ErrNotFound) holds for both, while errors.Is(err,
// ErrUserNotFound) tells them apart.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")

	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	ErrDeckNotFound = fmt.Errorf("deck %w", ErrNotFound)

	// ErrDeckPrivate is benign: the deck is skipped, the request continues.
	ErrDeckPrivate = errors.New("deck is not public")

	// ErrUpstreamUnavailable aborts a whole collection. Further calls are
	// presumed to fail the same way.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamHTTP        = errors.New("upstream http error")

	ErrPersistence = errors.New("persistence failure")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Status  int    // Optional: upstream HTTP status for ErrUpstreamHTTP
	Cause   error  // Optional: lower-level error that triggered this one
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// UserNotFound is returned when the upstream has no user with that name.
func UserNotFound(username string) *AppError {
	return &AppError{
		Err:     ErrUserNotFound,
		Message: fmt.Sprintf("user %q was not found upstream", username),
	}
}

// DeckNotFound is returned when a deck disappeared between listing and detail fetch.
func DeckNotFound(deckID string) *AppError {
	return &AppError{
		Err:     ErrDeckNotFound,
		Message: fmt.Sprintf("deck %s was not found upstream", deckID),
	}
}

// DeckPrivate is returned when the upstream reports a deck as not public.
func DeckPrivate(deckID string) *AppError {
	return &AppError{
		Err:     ErrDeckPrivate,
		Message: fmt.Sprintf("deck %s is not public", deckID),
	}
}

func UpstreamUnavailable(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstreamUnavailable,
		Message: message,
		Cause:   cause,
	}
}

func UpstreamTimeout(path string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstreamTimeout,
		Message: fmt.Sprintf("upstream request to %s timed out", path),
		Cause:   cause,
	}
}

// UpstreamHTTP is a non-2xx upstream response that is not a challenge.
func UpstreamHTTP(status int, path string) *AppError {
	return &AppError{
		Err:     ErrUpstreamHTTP,
		Message: fmt.Sprintf("upstream request to %s failed with status %d", path, status),
		Status:  status,
	}
}

func Persistence(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: fmt.Sprintf("persisting %s failed", op),
		Cause:   cause,
	}
}

// Detail is err's message followed by the cause an AppError keeps out of its
// client-facing Message. It is meant for logs, never for responses.
func Detail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return err.Error() + ": " + appErr.Cause.Error()
	}
	return err.Error()
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}
