package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// Each case checks that errors.Is() walks from the constructor's *AppError to
// the expected sentinel, and does not match unrelated ones.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("deck", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("username", "username is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "UserNotFound is also a generic NotFound",
			err:       UserNotFound("BimboLegrand"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "DeckNotFound is also a generic NotFound",
			err:       DeckNotFound("d1"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "DeckNotFound is not UserNotFound",
			err:       DeckNotFound("d1"),
			target:    ErrUserNotFound,
			wantMatch: false,
		},
		{
			name:      "DeckPrivate is not NotFound",
			err:       DeckPrivate("d1"),
			target:    ErrNotFound,
			wantMatch: false,
		},
		{
			name:      "wrapped UpstreamUnavailable still matches",
			err:       fmt.Errorf("collecting decks: %w", UpstreamUnavailable("challenge failed", nil)),
			target:    ErrUpstreamUnavailable,
			wantMatch: true,
		},
		{
			name:      "UpstreamTimeout exposes its cause",
			err:       UpstreamTimeout("/v2/decks", context.DeadlineExceeded),
			target:    context.DeadlineExceeded,
			wantMatch: true,
		},
		{
			name:      "Persistence exposes its cause",
			err:       Persistence("deck d1", ValidationFailed("visibility", "deck is not public")),
			target:    ErrValidation,
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("deck", "abc123"),
			wantMessage: "deck not found with id abc123",
		},
		{
			name:        "UserNotFound quotes the username",
			err:         UserNotFound("BimboLegrand"),
			wantMessage: `user "BimboLegrand" was not found upstream`,
		},
		{
			name:        "UpstreamHTTP includes status and path",
			err:         UpstreamHTTP(500, "/v3/decks/all/x"),
			wantMessage: "upstream request to /v3/decks/all/x failed with status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("fetching: %w", UpstreamHTTP(502, "/x"))
	if got := StatusOf(err); got != 502 {
		t.Errorf("StatusOf() = %d, want 502", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("StatusOf(plain) = %d, want 0", got)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("username", "invalid username")

	if err.Field != "username" {
		t.Errorf("Field = %q, want %q", err.Field, "username")
	}
}

func TestDetail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "cause is appended",
			err:  Persistence("deck d1", errors.New("database is locked")),
			want: "persisting deck d1 failed: database is locked",
		},
		{
			name: "wrapped AppError keeps the outer text",
			err:  fmt.Errorf("syncing: %w", Persistence("user bob", errors.New("disk full"))),
			want: "syncing: persisting user bob failed: disk full",
		},
		{
			name: "no cause",
			err:  DeckNotFound("d1"),
			want: DeckNotFound("d1").Error(),
		},
		{
			name: "plain error",
			err:  errors.New("plain"),
			want: "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detail(tt.err); got != tt.want {
				t.Errorf("Detail() = %q, want %q", got, tt.want)
			}
		})
	}
}
