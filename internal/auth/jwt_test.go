package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestTokenService uses a fixed secret and clock so tests are deterministic.
func newTestTokenService(t *testing.T, now time.Time) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	ts.now = func() time.Time { return now }
	return ts
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ValidSecret(t *testing.T) {
	if _, err := NewTokenService("this-is-16-chars"); err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
}

// =========================================================================
// GENERATE / VALIDATE TESTS
// =========================================================================

func TestGenerate_RejectsBadInput(t *testing.T) {
	ts := newTestTokenService(t, testNow)

	if _, err := ts.Generate("", time.Hour); err == nil {
		t.Error("Generate() should reject an empty client name")
	}
	if _, err := ts.Generate("ci", 0); err == nil {
		t.Error("Generate() should reject a non-positive lifetime")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t, testNow)

	token, err := ts.Generate("dashboard", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token %q is not header.payload.signature", token)
	}

	client, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if client != "dashboard" {
		t.Errorf("Validate() client = %q, want %q", client, "dashboard")
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t, testNow)
	token, err := ts.Generate("dashboard", time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	ts.now = func() time.Time { return testNow.Add(2 * time.Minute) }

	_, err = ts.Validate(token)
	if err == nil {
		t.Fatal("Validate() should reject an expired token")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("Validate() error = %v, want an expiry error", err)
	}
}

func TestValidate_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t, testNow)
	token, err := ts.Generate("dashboard", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	parts := strings.Split(token, ".")
	other, _ := ts.Generate("admin", time.Hour)
	parts[1] = strings.Split(other, ".")[1]

	if _, err := ts.Validate(strings.Join(parts, ".")); err == nil {
		t.Fatal("Validate() should reject a token with a swapped payload")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	ts := newTestTokenService(t, testNow)
	other, err := NewTokenService("a-completely-different-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	other.now = ts.now

	token, _ := other.Generate("dashboard", time.Hour)
	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should reject a token signed with another secret")
	}
}

func TestValidate_GarbageString(t *testing.T) {
	ts := newTestTokenService(t, testNow)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ts.Validate(token); err == nil {
			t.Errorf("Validate(%q) should fail", token)
		}
	}
}

// =========================================================================
// MIDDLEWARE TESTS
// =========================================================================

func TestRequireBearer(t *testing.T) {
	ts := newTestTokenService(t, testNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen string
	h := RequireBearer(ts, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClientFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid, err := ts.Generate("dashboard", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/users/x/decks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != "dashboard" {
				t.Errorf("client in context = %q, want %q", seen, "dashboard")
			}
			if tt.want == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 response is missing WWW-Authenticate")
			}
		})
	}
}

func TestClientFromContext_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := ClientFromContext(req.Context()); ok {
		t.Error("ClientFromContext() should report no client for an anonymous request")
	}
}
