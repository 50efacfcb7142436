// Package memory is an in-process repository.Store. It backs tests and the
// STORE_BACKEND=memory mode; nothing survives a restart.
//
// Stored values are never handed out or mutated in place: writes store fresh
// copies and reads return copies, so a reader can never observe a deck whose
// card list is being replaced.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
	"github.com/sakif/deckvault/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type Store struct {
	mu    sync.RWMutex
	users map[string]model.User    // by normalized username
	decks map[string]model.Deck    // by deck id
	runs  map[string]model.SyncRun // by run id
}

func New() *Store {
	return &Store{
		users: map[string]model.User{},
		decks: map[string]model.Deck{},
		runs:  map[string]model.SyncRun{},
	}
}

func (s *Store) UpsertUser(_ context.Context, user *model.User) error {
	key := user.Key()
	if key == "" {
		return apperror.ValidationFailed("username", "username is required")
	}

	u := *user
	u.Badges = bytes.Clone(user.Badges)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[key] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*model.User, error) {
	key := model.NormalizeUsername(username)

	s.mu.RLock()
	u, ok := s.users[key]
	s.mu.RUnlock()

	if !ok {
		return nil, apperror.NotFound("user", key)
	}
	u.Badges = bytes.Clone(u.Badges)
	return &u, nil
}

// UpsertDeck mirrors the sqlite store: non-public decks and decks of unknown
// users are rejected, and LastSyncedAt is clamped so it never moves back.
func (s *Store) UpsertDeck(_ context.Context, deck *model.Deck) error {
	if deck.ID == "" {
		return apperror.ValidationFailed("id", "deck id is required")
	}
	if !deck.IsPublic() {
		return apperror.ValidationFailed("visibility",
			fmt.Sprintf("deck %s is %q; only public decks are stored", deck.ID, deck.Visibility))
	}
	key := model.NormalizeUsername(deck.Username)
	stored := cloneDeck(*deck)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key]; !ok {
		return apperror.NotFound("user", key)
	}
	if prev, ok := s.decks[deck.ID]; ok && prev.LastSyncedAt.After(stored.LastSyncedAt) {
		stored.LastSyncedAt = prev.LastSyncedAt
	}
	s.decks[deck.ID] = stored
	deck.LastSyncedAt = stored.LastSyncedAt
	return nil
}

func (s *Store) GetDeck(_ context.Context, id string) (*model.Deck, error) {
	s.mu.RLock()
	d, ok := s.decks[id]
	s.mu.RUnlock()

	if !ok {
		return nil, apperror.NotFound("deck", id)
	}
	d = cloneDeck(d)
	return &d, nil
}

func (s *Store) GetDecksForUser(_ context.Context, username string) ([]model.Deck, error) {
	key := model.NormalizeUsername(username)

	s.mu.RLock()
	decks := []model.Deck{}
	for _, d := range s.decks {
		if model.NormalizeUsername(d.Username) == key {
			decks = append(decks, cloneDeck(d))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(decks, func(a, b model.Deck) int {
		return compareDecks(a.LastUpdatedAt, a.ID, b.LastUpdatedAt, b.ID)
	})
	return decks, nil
}

// GetDeckSummariesForUser projects without copying card lists.
func (s *Store) GetDeckSummariesForUser(_ context.Context, username string) ([]model.DeckSummary, error) {
	key := model.NormalizeUsername(username)

	s.mu.RLock()
	summaries := []model.DeckSummary{}
	for _, d := range s.decks {
		if model.NormalizeUsername(d.Username) == key {
			summary := d.Summary()
			summary.Colors = slices.Clone(summary.Colors)
			summary.ColorIdentity = slices.Clone(summary.ColorIdentity)
			summary.Authors = slices.Clone(summary.Authors)
			summary.Tags = cloneTags(summary.Tags)
			summary.Hubs = slices.Clone(summary.Hubs)
			summaries = append(summaries, summary)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(summaries, func(a, b model.DeckSummary) int {
		return compareDecks(a.LastUpdatedAt, a.ID, b.LastUpdatedAt, b.ID)
	})
	return summaries, nil
}

func (s *Store) DeleteDeck(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.decks, id)
	return nil
}

func (s *Store) CreateSyncRun(_ context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = xid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Outcome == "" {
		run.Outcome = model.SyncRunning
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return apperror.Conflict("sync run", run.ID)
	}
	s.runs[run.ID] = cloneRun(*run)
	return nil
}

func (s *Store) FinishSyncRun(_ context.Context, run *model.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[run.ID]
	if !ok {
		return apperror.NotFound("sync run", run.ID)
	}
	updated := cloneRun(*run)
	updated.Mode = prev.Mode
	updated.StartedAt = prev.StartedAt
	s.runs[run.ID] = updated
	return nil
}

func (s *Store) GetSyncRun(_ context.Context, id string) (*model.SyncRun, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, apperror.NotFound("sync run", id)
	}
	run = cloneRun(run)
	return &run, nil
}

func (s *Store) ListSyncRuns(_ context.Context, username string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	key := model.NormalizeUsername(username)

	s.mu.RLock()
	runs := []model.SyncRun{}
	for _, r := range s.runs {
		if model.NormalizeUsername(r.Username) == key {
			runs = append(runs, cloneRun(r))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b model.SyncRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// compareDecks orders by last-updated time descending with unknown times
// last, then by id ascending.
func compareDecks(aUpdated *time.Time, aID string, bUpdated *time.Time, bID string) int {
	switch {
	case aUpdated != nil && bUpdated != nil:
		if c := bUpdated.Compare(*aUpdated); c != 0 {
			return c
		}
	case aUpdated != nil:
		return -1
	case bUpdated != nil:
		return 1
	}
	return cmp.Compare(aID, bID)
}

func cloneDeck(d model.Deck) model.Deck {
	d.CreatedAt = cloneTime(d.CreatedAt)
	d.LastUpdatedAt = cloneTime(d.LastUpdatedAt)
	d.Colors = nonNil(slices.Clone(d.Colors))
	d.ColorIdentity = nonNil(slices.Clone(d.ColorIdentity))
	d.Authors = nonNil(slices.Clone(d.Authors))
	d.Tags = cloneTags(d.Tags)
	d.Hubs = nonNil(slices.Clone(d.Hubs))
	d.BoardCounts = nonNil(slices.Clone(d.BoardCounts))
	d.Tokens = json.RawMessage(bytes.Clone(d.Tokens))
	if len(d.Tokens) == 0 {
		d.Tokens = json.RawMessage(`[]`)
	}

	cards := make([]model.Card, len(d.Cards))
	for i, c := range d.Cards {
		c.Payload = json.RawMessage(bytes.Clone(c.Payload))
		if len(c.Payload) == 0 {
			c.Payload = json.RawMessage(`{}`)
		}
		cards[i] = c
	}
	d.Cards = cards
	return d
}

func cloneTags(tags []model.DeckTag) []model.DeckTag {
	out := make([]model.DeckTag, len(tags))
	for i, t := range tags {
		out[i] = model.DeckTag{CardName: t.CardName, Tags: nonNil(slices.Clone(t.Tags))}
	}
	return out
}

func cloneRun(r model.SyncRun) model.SyncRun {
	r.FinishedAt = cloneTime(r.FinishedAt)
	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
