// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the store
//
// DeckService sits between the upstream gateway and the store. It does not
// know about HTTP, so the same code serves the API server and the deckctl
// CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
	"github.com/sakif/deckvault/internal/repository"
	"github.com/sakif/deckvault/internal/upstream"
)

var tracer = otel.Tracer("deckvault/service")

const (
	MaxUsernameLength   = 64
	DefaultSyncRunLimit = 20
	MaxSyncRunLimit     = 100
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// Collector yields a user's decks one at a time. *upstream.Gateway
// implements it.
type Collector interface {
	CollectUserDecksWithDetails(ctx context.Context, username string) (*model.User, iter.Seq2[*model.Deck, error], error)
}

// DeckService runs the fetch → persist → assemble pipeline.
type DeckService struct {
	collector Collector
	store     repository.Store
	logger    *slog.Logger
	now       func() time.Time
}

func NewDeckService(collector Collector, store repository.Store, logger *slog.Logger) *DeckService {
	return &DeckService{
		collector: collector,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// ValidateUsername trims the name and checks it against the characters the
// upstream allows in usernames.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", apperror.ValidationFailed("username", "username is required")
	}
	if len(username) > MaxUsernameLength {
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return "", apperror.ValidationFailed("username",
			"username may only contain letters, digits, '_', '.' and '-'")
	}
	return username, nil
}

// ConsolidatedView fetches the user's public decks with every card,
// persisting each deck as it arrives.
func (s *DeckService) ConsolidatedView(ctx context.Context, username string) (*model.ConsolidatedView, error) {
	ctx, span := tracer.Start(ctx, "service.ConsolidatedView")
	defer span.End()

	res, err := s.sync(ctx, username, model.SyncModeConsolidated)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		return nil, err
	}

	return &model.ConsolidatedView{
		SyncID:     res.runID,
		User:       res.user,
		TotalDecks: len(res.decks),
		Decks:      res.decks,
		Degraded:   res.degraded,
		Warnings:   res.warnings,
	}, nil
}

// SummaryView runs the same pipeline as ConsolidatedView (cards are still
// fetched and stored) and returns the decks without their cards.
func (s *DeckService) SummaryView(ctx context.Context, username string) (*model.SummaryView, error) {
	ctx, span := tracer.Start(ctx, "service.SummaryView")
	defer span.End()

	res, err := s.sync(ctx, username, model.SyncModeSummary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		return nil, err
	}

	decks := make([]model.ViewDeckSummary, 0, len(res.decks))
	for _, d := range res.decks {
		decks = append(decks, model.ViewDeckSummary{DeckSummary: d.Summary(), Stale: d.Stale})
	}
	return &model.SummaryView{
		SyncID:     res.runID,
		User:       res.user,
		TotalDecks: len(decks),
		Decks:      decks,
		Degraded:   res.degraded,
		Warnings:   res.warnings,
	}, nil
}

// StoredSummaryView reads what is already stored for the user. It makes no
// upstream call. Returns apperror.ErrNotFound if the user was never synced.
func (s *DeckService) StoredSummaryView(ctx context.Context, username string) (*model.SummaryView, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	summaries, err := s.store.GetDeckSummariesForUser(ctx, username)
	if err != nil {
		s.logger.Error("failed to read stored decks",
			slog.String("username", username),
			slog.String("error", apperror.Detail(err)),
		)
		return nil, fmt.Errorf("reading stored decks: %w", err)
	}

	decks := make([]model.ViewDeckSummary, 0, len(summaries))
	for _, d := range summaries {
		decks = append(decks, model.ViewDeckSummary{DeckSummary: d})
	}
	return &model.SummaryView{
		User:       *user,
		TotalDecks: len(decks),
		Decks:      decks,
	}, nil
}

// SyncRuns lists the user's most recent sync runs, newest first.
func (s *DeckService) SyncRuns(ctx context.Context, username string, limit int) ([]model.SyncRun, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSyncRunLimit
	}
	if limit > MaxSyncRunLimit {
		limit = MaxSyncRunLimit
	}
	return s.store.ListSyncRuns(ctx, username, limit)
}

// SyncRun returns one sync run by id.
func (s *DeckService) SyncRun(ctx context.Context, id string) (*model.SyncRun, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "sync run id is required")
	}
	return s.store.GetSyncRun(ctx, id)
}

type syncResult struct {
	runID    string
	user     model.User
	decks    []model.ViewDeck
	degraded bool
	warnings []string

	fetched         int
	skipped         int
	stale           int
	persistFailures int
}

// sync is the shared pipeline behind both live views.
//
// The user is stored before the first deck. Each deck is stored as soon as
// it arrives, so decks fetched before a failure stay stored. How each
// per-deck failure is handled:
//   - private / not found: skipped and removed from the store
//   - upstream unavailable or cancelled: the whole sync fails
//   - anything else: the stored copy is served, flagged Stale, if there is one
//   - store write failure: the live deck is still served; the view is Degraded
func (s *DeckService) sync(ctx context.Context, username string, mode model.SyncMode) (*syncResult, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}

	res := &syncResult{decks: []model.ViewDeck{}}
	run := s.startRun(ctx, username, mode)

	user, decks, err := s.collector.CollectUserDecksWithDetails(ctx, username)
	if err != nil {
		s.logger.Warn("deck collection failed",
			slog.String("username", username),
			slog.String("error", apperror.Detail(err)),
		)
		s.finishRun(ctx, run, res, model.SyncFailed, err)
		return nil, err
	}
	if run != nil {
		run.Username = user.Username
	}

	user.SyncedAt = s.now().UTC()
	userStored := true
	if err := s.store.UpsertUser(ctx, user); err != nil {
		userStored = false
		res.degraded = true
		s.logger.Error("failed to persist user",
			slog.String("username", user.Username),
			slog.String("error", apperror.Detail(err)),
		)
		res.warn("user %s was not stored; decks from this sync are not persisted", user.Username)
	}
	res.user = *user

	var fatal error
	for deck, err := range decks {
		if err != nil {
			if isFatal(ctx, err) {
				fatal = err
				break
			}
			s.handleDeckError(ctx, res, err, userStored)
			continue
		}

		deck.LastSyncedAt = s.now().UTC()
		res.fetched++
		if !userStored {
			res.persistFailures++
		} else if err := s.store.UpsertDeck(ctx, deck); err != nil {
			s.logger.Error("failed to persist deck",
				slog.String("deck_id", deck.ID),
				slog.String("error", apperror.Detail(err)),
			)
			res.warn("deck %s was fetched but could not be stored", deck.ID)
			res.persistFailures++
			res.degraded = true
		}
		res.decks = append(res.decks, model.ViewDeck{Deck: *deck})
	}

	if fatal != nil {
		s.logger.Warn("deck collection aborted",
			slog.String("username", user.Username),
			slog.Int("decks_before_abort", len(res.decks)),
			slog.String("error", fatal.Error()),
		)
		s.finishRun(ctx, run, res, model.SyncFailed, fatal)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unwrapDeckError(fatal)
	}

	outcome := model.SyncOK
	if res.degraded {
		outcome = model.SyncDegraded
	}
	s.finishRun(ctx, run, res, outcome, nil)
	if run != nil {
		res.runID = run.ID
	}

	s.logger.Info("decks synced",
		slog.String("username", user.Username),
		slog.String("mode", string(mode)),
		slog.Int("decks", len(res.decks)),
		slog.Int("stale", res.stale),
		slog.Bool("degraded", res.degraded),
	)
	return res, nil
}

// handleDeckError absorbs one non-fatal per-deck failure.
func (s *DeckService) handleDeckError(ctx context.Context, res *syncResult, err error, userStored bool) {
	deckID := ""
	var deckErr *upstream.DeckError
	if errors.As(err, &deckErr) {
		deckID = deckErr.DeckID
	}

	if errors.Is(err, apperror.ErrDeckPrivate) || errors.Is(err, apperror.ErrDeckNotFound) {
		s.logger.Info("skipping deck",
			slog.String("deck_id", deckID),
			slog.String("reason", err.Error()),
		)
		res.skipped++
		// A deck that turned private or vanished must not linger in the store.
		if deckID != "" && userStored {
			if err := s.store.DeleteDeck(ctx, deckID); err != nil {
				s.logger.Error("failed to remove deck from store",
					slog.String("deck_id", deckID),
					slog.String("error", apperror.Detail(err)),
				)
			}
		}
		return
	}

	if deckID != "" {
		stored, getErr := s.store.GetDeck(ctx, deckID)
		if getErr == nil && stored.IsPublic() {
			s.logger.Warn("serving stored copy of deck",
				slog.String("deck_id", deckID),
				slog.String("error", apperror.Detail(err)),
			)
			res.warn("deck %s could not be refreshed (%v); serving stored copy", deckID, unwrapDeckError(err))
			res.decks = append(res.decks, model.ViewDeck{Deck: *stored, Stale: true})
			res.stale++
			return
		}
	}

	s.logger.Warn("skipping deck after fetch error",
		slog.String("deck_id", deckID),
		slog.String("error", apperror.Detail(err)),
	)
	res.warn("deck %s could not be fetched (%v) and has no stored copy", deckID, unwrapDeckError(err))
	res.skipped++
}

func (r *syncResult) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// isFatal reports whether err ends the whole sync. A per-deck timeout wraps
// the transport's deadline error, so only the request's own context decides
// whether cancellation is fatal.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, apperror.ErrUpstreamUnavailable) || ctx.Err() != nil
}

// unwrapDeckError strips the per-deck wrapper so callers see the apperror.
func unwrapDeckError(err error) error {
	var deckErr *upstream.DeckError
	if errors.As(err, &deckErr) {
		return deckErr.Err
	}
	return err
}

func (s *DeckService) startRun(ctx context.Context, username string, mode model.SyncMode) *model.SyncRun {
	run := &model.SyncRun{
		Username:  username,
		Mode:      mode,
		Outcome:   model.SyncRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.store.CreateSyncRun(ctx, run); err != nil {
		s.logger.Error("failed to record sync run",
			slog.String("username", username),
			slog.String("error", apperror.Detail(err)),
		)
		return nil
	}
	return run
}

// finishRun records the outcome and counters. The write ignores ctx
// cancellation so aborted runs are still closed out.
func (s *DeckService) finishRun(ctx context.Context, run *model.SyncRun, res *syncResult, outcome model.SyncOutcome, cause error) {
	if run == nil {
		return
	}
	run.Outcome = outcome
	run.Fetched = res.fetched
	run.Skipped = res.skipped
	run.Stale = res.stale
	run.PersistFailures = res.persistFailures
	if cause != nil {
		run.Error = unwrapDeckError(cause).Error()
	}
	finished := s.now().UTC()
	run.FinishedAt = &finished

	_, span := tracer.Start(ctx, "service.finishRun")
	span.SetAttributes(
		attribute.String("sync.id", run.ID),
		attribute.String("sync.outcome", string(outcome)),
		attribute.Int("sync.fetched", run.Fetched),
	)
	defer span.End()

	if err := s.store.FinishSyncRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("failed to finish sync run",
			slog.String("sync_id", run.ID),
			slog.String("error", apperror.Detail(err)),
		)
	}
}
