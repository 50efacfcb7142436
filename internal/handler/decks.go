package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/auth"
	"github.com/sakif/deckvault/internal/model"
)

// DeckService is what the deck handlers need from the service layer.
// *service.DeckService implements it; tests pass a fake.
type DeckService interface {
	ConsolidatedView(ctx context.Context, username string) (*model.ConsolidatedView, error)
	SummaryView(ctx context.Context, username string) (*model.SummaryView, error)
	StoredSummaryView(ctx context.Context, username string) (*model.SummaryView, error)
	SyncRuns(ctx context.Context, username string, limit int) ([]model.SyncRun, error)
	SyncRun(ctx context.Context, id string) (*model.SyncRun, error)
}

// DeckHandler exposes the aggregation service over HTTP. It only parses
// path parameters and maps results; every rule lives in the service.
type DeckHandler struct {
	svc    DeckService
	logger *slog.Logger
}

func NewDeckHandler(svc DeckService, logger *slog.Logger) *DeckHandler {
	return &DeckHandler{svc: svc, logger: logger}
}

// HandleConsolidated returns every public deck of the user with all cards.
//
// HTTP: GET /users/{username}/decks
func (h *DeckHandler) HandleConsolidated(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	view, err := h.svc.ConsolidatedView(r.Context(), username)
	if err != nil {
		h.fail(w, r, err, username)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSummaries returns the user's public decks without cards.
//
// HTTP: GET /users/{username}/deck-summaries
func (h *DeckHandler) HandleSummaries(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	view, err := h.svc.SummaryView(r.Context(), username)
	if err != nil {
		h.fail(w, r, err, username)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleStoredSummaries returns what is stored for the user without calling
// the upstream.
//
// HTTP: GET /users/{username}/deck-summaries/stored
func (h *DeckHandler) HandleStoredSummaries(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	view, err := h.svc.StoredSummaryView(r.Context(), username)
	if err != nil {
		h.fail(w, r, err, username)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSyncRuns lists recent sync runs for the user.
//
// HTTP: GET /users/{username}/sync-runs?limit=20
func (h *DeckHandler) HandleSyncRuns(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "limit must be a non-negative integer",
				Field:   "limit",
			})
			return
		}
		limit = n
	}

	runs, err := h.svc.SyncRuns(r.Context(), username, limit)
	if err != nil {
		h.fail(w, r, err, username)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleSyncRun returns one sync run.
//
// HTTP: GET /sync-runs/{id}
func (h *DeckHandler) HandleSyncRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.SyncRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// fail logs server-side failures and writes the error response. Client
// errors (4xx) are expected and only logged at debug.
func (h *DeckHandler) fail(w http.ResponseWriter, r *http.Request, err error, username string) {
	status, _ := errorStatus(err)
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("path", r.URL.Path),
		slog.String("username", username),
		slog.Int("status", status),
		slog.String("error", apperror.Detail(err)),
	}
	if client, ok := auth.ClientFromContext(r.Context()); ok {
		attrs = append(attrs, slog.String("client", client))
	}
	h.logger.LogAttrs(r.Context(), level, "request failed", attrs...)
	writeError(w, err)
}
