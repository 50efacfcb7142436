package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/deckvault/internal/app"
	"github.com/sakif/deckvault/internal/auth"
	"github.com/sakif/deckvault/internal/config"
	"github.com/sakif/deckvault/internal/model"
	"github.com/sakif/deckvault/internal/server"
)

const testSecret = "server-test-secret-0123456789"

func newTestServer(t *testing.T, extra ...string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	environment := map[string]string{
		"STORE_BACKEND":     "memory",
		"UPSTREAM_BASE_URL": "http://127.0.0.1:1",
		"UPSTREAM_SITE_URL": "http://127.0.0.1:1",
	}
	for i := 0; i+1 < len(extra); i += 2 {
		environment[extra[i]] = extra[i+1]
	}
	cfg, err := config.LoadFrom(environment)
	require.NoError(t, err)

	a, err := app.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	srv, err := server.New(cfg, a, logger)
	require.NoError(t, err)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, path string, token ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token[0])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t)

	rr := get(t, h, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestServer_InvalidUsernameNeverReachesUpstream(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{
		"/users/bad!name/decks",
		"/users/bad!name/deck-summaries",
		"/users/bad!name/deck-summaries/stored",
	} {
		rr := get(t, h, path)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestServer_StoredSummariesForUnknownUser(t *testing.T) {
	h := newTestServer(t)

	rr := get(t, h, "/users/nobody/deck-summaries/stored")

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_SyncRunsEmpty(t *testing.T) {
	h := newTestServer(t)

	rr := get(t, h, "/users/nobody/sync-runs")

	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.SyncRun
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&runs))
	assert.Empty(t, runs)
}

func TestServer_UnknownRoute(t *testing.T) {
	h := newTestServer(t)

	rr := get(t, h, "/users/someone")

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_BearerTokenRequiredWhenConfigured(t *testing.T) {
	h := newTestServer(t, "API_JWT_SECRET", testSecret)

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	token, err := tokens.Generate("test", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "health stays open")
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/users/nobody/sync-runs").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/sync-runs/abc").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/users/nobody/sync-runs", token).Code)
}
