// Package storetest is a conformance suite for repository.Store
// implementations. Each backend's tests call Run with a constructor.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
	"github.com/sakif/deckvault/internal/repository"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) repository.Store

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s repository.Store)
	}{
		{"UserUpsertIsCaseInsensitive", testUserUpsert},
		{"UserNotFound", testUserNotFound},
		{"DeckRequiresUser", testDeckRequiresUser},
		{"DeckMustBePublic", testDeckMustBePublic},
		{"DeckUpsertIsIdempotent", testDeckIdempotent},
		{"DeckUpsertReplacesCards", testDeckReplacesCards},
		{"PayloadBytesPreserved", testPayloadPreserved},
		{"DeckMetadataRoundTrip", testMetadataRoundTrip},
		{"SummariesAreProjections", testProjectionLaw},
		{"ReadOrdering", testReadOrdering},
		{"LastSyncedAtNeverMovesBack", testMonotonicSync},
		{"DeleteDeck", testDeleteDeck},
		{"UnknownUserHasNoDecks", testUnknownUserEmpty},
		{"ConcurrentUpserts", testConcurrentUpserts},
		{"ReadersNeverSeeHalfReplacedCards", testReadersSeeWholeCardLists},
		{"SyncRunLifecycle", testSyncRuns},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func seedUser(t *testing.T, s repository.Store, username string) {
	t.Helper()
	require.NoError(t, s.UpsertUser(context.Background(), &model.User{
		Username:    username,
		DisplayName: username + " display",
		SyncedAt:    t0,
	}))
}

func card(board model.Board, qty int, name string) model.Card {
	return model.Card{
		Board:    board,
		Quantity: qty,
		Payload:  json.RawMessage(fmt.Sprintf(`{"name":%q}`, name)),
	}
}

func newDeck(id, username string, updated *time.Time, cards ...model.Card) *model.Deck {
	d := &model.Deck{
		ID:            id,
		UpstreamID:    "up-" + id,
		Name:          "Deck " + id,
		Format:        "commander",
		Visibility:    model.VisibilityPublic,
		Username:      username,
		LastUpdatedAt: updated,
		Stats:         model.DeckStats{Likes: 3, Views: 10},
		Colors:        []string{"W", "B"},
		ColorIdentity: []string{"W", "B", "R"},
		LastSyncedAt:  t1,
		Cards:         cards,
	}
	if d.Cards == nil {
		d.Cards = []model.Card{}
	}
	d.CardCount = d.CountCards()
	return d
}

func ptr(t time.Time) *time.Time { return &t }

func testUserUpsert(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "BimboLegrand")

	require.NoError(t, s.UpsertUser(ctx, &model.User{
		Username:    "bimbolegrand",
		DisplayName: "Renamed",
		Badges:      json.RawMessage(`[{"name":"supporter"}]`),
		SyncedAt:    t1,
	}))

	u, err := s.GetUser(ctx, "BIMBOLEGRAND")
	require.NoError(t, err)
	assert.Equal(t, "bimbolegrand", u.Username)
	assert.Equal(t, "Renamed", u.DisplayName)
	assert.JSONEq(t, `[{"name":"supporter"}]`, string(u.Badges))
	assert.Equal(t, t1, u.SyncedAt)
}

func testUserNotFound(t *testing.T, s repository.Store) {
	_, err := s.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testDeckRequiresUser(t *testing.T, s repository.Store) {
	ctx := context.Background()
	err := s.UpsertDeck(ctx, newDeck("d1", "nobody", nil))
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = s.GetDeck(ctx, "d1")
	assert.ErrorIs(t, err, apperror.ErrNotFound, "orphan deck must not be stored")
}

func testDeckMustBePublic(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	for _, vis := range []string{model.VisibilityPrivate, model.VisibilityUnlisted, ""} {
		d := newDeck("d-"+vis, "owner", nil)
		d.Visibility = vis
		assert.ErrorIs(t, s.UpsertDeck(ctx, d), apperror.ErrValidation, "visibility %q", vis)
	}

	decks, err := s.GetDecksForUser(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, decks)
}

func testDeckIdempotent(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	d := newDeck("d1", "owner", ptr(t0), card(model.BoardMainboard, 4, "Plains"), card(model.BoardSideboard, 1, "Duress"))
	require.NoError(t, s.UpsertDeck(ctx, d))
	first, err := s.GetDecksForUser(ctx, "owner")
	require.NoError(t, err)

	again := newDeck("d1", "owner", ptr(t0), card(model.BoardMainboard, 4, "Plains"), card(model.BoardSideboard, 1, "Duress"))
	require.NoError(t, s.UpsertDeck(ctx, again))
	second, err := s.GetDecksForUser(ctx, "owner")
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 5, second[0].CardCount)
}

func testDeckReplacesCards(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	require.NoError(t, s.UpsertDeck(ctx, newDeck("d1", "owner", nil,
		card(model.BoardCommanders, 1, "A"),
		card(model.BoardMainboard, 1, "B"),
		card(model.BoardMainboard, 1, "C"),
	)))
	require.NoError(t, s.UpsertDeck(ctx, newDeck("d1", "owner", nil,
		card(model.BoardMainboard, 2, "Z"),
	)))

	got, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got.Cards, 1)
	assert.Equal(t, 2, got.Cards[0].Quantity)
	assert.JSONEq(t, `{"name":"Z"}`, string(got.Cards[0].Payload))
	assert.Equal(t, 2, got.CardCount)
}

func testPayloadPreserved(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	raw := `{"name":"Kaalia",  "unknown": {"nested": [1, 2, 3]}, "z": null}`
	d := newDeck("d1", "owner", nil,
		model.Card{Board: model.BoardCommanders, Quantity: 1, Finish: "foil", Payload: json.RawMessage(raw)},
		card(model.Board("experimentalBoard"), 1, "Mystery"),
	)
	require.NoError(t, s.UpsertDeck(ctx, d))

	got, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got.Cards, 2)
	assert.Equal(t, raw, string(got.Cards[0].Payload))
	assert.Equal(t, "foil", got.Cards[0].Finish)
	assert.Equal(t, model.Board("experimentalBoard"), got.Cards[1].Board)
}

func testMetadataRoundTrip(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	d := newDeck("d1", "owner", ptr(t0),
		model.Card{Board: model.BoardCommanders, Quantity: 1, Finish: "foil", IsFoil: true, Payload: json.RawMessage(`{"name":"A"}`)},
		model.Card{Board: model.BoardMainboard, Quantity: 1, IsAlter: true, IsProxy: true, Payload: json.RawMessage(`{"name":"B"}`)},
	)
	d.Authors = []model.Author{{UserName: "owner", DisplayName: "Owner"}, {UserName: "friend"}}
	d.Tags = []model.DeckTag{{CardName: "B", Tags: []string{"ramp"}}, {CardName: "A", Tags: []string{}}}
	d.Hubs = []string{"Angels"}
	d.BoardCounts = []model.BoardCount{{Board: model.BoardCommanders, Count: 1}, {Board: model.BoardMainboard, Count: 1}}
	d.Tokens = json.RawMessage(`[{"name":"Angel"}]`)
	require.NoError(t, s.UpsertDeck(ctx, d))

	got, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, d.Authors, got.Authors)
	assert.Equal(t, d.Tags, got.Tags)
	assert.Equal(t, d.Hubs, got.Hubs)
	assert.Equal(t, d.BoardCounts, got.BoardCounts)
	assert.JSONEq(t, `[{"name":"Angel"}]`, string(got.Tokens))
	require.Len(t, got.Cards, 2)
	assert.True(t, got.Cards[0].IsFoil)
	assert.False(t, got.Cards[0].IsAlter)
	assert.True(t, got.Cards[1].IsAlter)
	assert.True(t, got.Cards[1].IsProxy)

	summaries, err := s.GetDeckSummariesForUser(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, d.Authors, summaries[0].Authors)
	assert.Equal(t, d.Tags, summaries[0].Tags)
	assert.Equal(t, d.Hubs, summaries[0].Hubs)
}

func testProjectionLaw(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	require.NoError(t, s.UpsertDeck(ctx, newDeck("d1", "owner", ptr(t1), card(model.BoardMainboard, 60, "Island"))))
	require.NoError(t, s.UpsertDeck(ctx, newDeck("d2", "owner", ptr(t0), card(model.BoardMainboard, 99, "Forest"))))

	decks, err := s.GetDecksForUser(ctx, "owner")
	require.NoError(t, err)
	summaries, err := s.GetDeckSummariesForUser(ctx, "owner")
	require.NoError(t, err)

	require.Len(t, summaries, len(decks))
	for i := range decks {
		assert.Equal(t, decks[i].Summary(), summaries[i])
	}
}

func testReadOrdering(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	for _, d := range []*model.Deck{
		newDeck("c", "owner", ptr(t0)),
		newDeck("none", "owner", nil),
		newDeck("b", "owner", ptr(t2)),
		newDeck("a", "owner", ptr(t2)),
	} {
		require.NoError(t, s.UpsertDeck(ctx, d))
	}

	summaries, err := s.GetDeckSummariesForUser(ctx, "owner")
	require.NoError(t, err)
	ids := make([]string, len(summaries))
	for i, d := range summaries {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "none"}, ids)
}

func testMonotonicSync(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	later := newDeck("d1", "owner", nil)
	later.LastSyncedAt = t2
	require.NoError(t, s.UpsertDeck(ctx, later))

	earlier := newDeck("d1", "owner", nil, card(model.BoardMainboard, 1, "New"))
	earlier.LastSyncedAt = t1
	require.NoError(t, s.UpsertDeck(ctx, earlier))
	assert.Equal(t, t2, earlier.LastSyncedAt, "caller sees the clamped value")

	got, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, t2, got.LastSyncedAt)
	assert.Len(t, got.Cards, 1, "content still updates")
}

func testDeleteDeck(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")
	require.NoError(t, s.UpsertDeck(ctx, newDeck("d1", "owner", nil, card(model.BoardMainboard, 1, "X"))))

	require.NoError(t, s.DeleteDeck(ctx, "d1"))
	_, err := s.GetDeck(ctx, "d1")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	assert.NoError(t, s.DeleteDeck(ctx, "d1"), "deleting twice is fine")
}

func testUnknownUserEmpty(t *testing.T, s repository.Store) {
	ctx := context.Background()
	decks, err := s.GetDecksForUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, decks)

	summaries, err := s.GetDeckSummariesForUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func testConcurrentUpserts(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			own := newDeck(fmt.Sprintf("own-%d", i), "owner", nil, card(model.BoardMainboard, i+1, "X"))
			errs <- s.UpsertDeck(ctx, own)
			shared := newDeck("shared", "owner", nil, card(model.BoardMainboard, 1, "A"), card(model.BoardMainboard, 1, "B"))
			errs <- s.UpsertDeck(ctx, shared)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	decks, err := s.GetDecksForUser(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, decks, workers+1)
	for _, d := range decks {
		if d.ID == "shared" {
			assert.Len(t, d.Cards, 2, "replacements must not interleave")
		}
	}
}

// testReadersSeeWholeCardLists alternates one deck between two card lists
// while readers poll it. Every read must see one list or the other, with a
// matching CardCount.
func testReadersSeeWholeCardLists(t *testing.T, s repository.Store) {
	ctx := context.Background()
	seedUser(t, s, "owner")

	const (
		short  = 3
		long   = 5
		writes = 40
	)
	cardsOf := func(n int) []model.Card {
		cards := make([]model.Card, n)
		for i := range cards {
			cards[i] = card(model.BoardMainboard, 1, fmt.Sprintf("C%d", i))
		}
		return cards
	}
	require.NoError(t, s.UpsertDeck(ctx, newDeck("d1", "owner", nil, cardsOf(short)...)))

	done := make(chan struct{})
	writeErr := make(chan error, 1)
	go func() {
		defer close(done)
		for i := range writes {
			n := short
			if i%2 == 0 {
				n = long
			}
			if err := s.UpsertDeck(ctx, newDeck("d1", "owner", nil, cardsOf(n)...)); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		observed []string
	)
	record := func(format string, args ...any) {
		mu.Lock()
		observed = append(observed, fmt.Sprintf(format, args...))
		mu.Unlock()
	}
	check := func(source string, d model.Deck) {
		whole := len(d.Cards) == short || len(d.Cards) == long
		if !whole || d.CardCount != len(d.Cards) {
			record("%s: %d cards, cardCount %d", source, len(d.Cards), d.CardCount)
		}
	}
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				d, err := s.GetDeck(ctx, "d1")
				if err != nil {
					record("GetDeck: %v", err)
					return
				}
				check("GetDeck", *d)

				decks, err := s.GetDecksForUser(ctx, "owner")
				if err != nil {
					record("GetDecksForUser: %v", err)
					return
				}
				for _, d := range decks {
					check("GetDecksForUser", d)
				}
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-writeErr:
		require.NoError(t, err)
	default:
	}
	assert.Empty(t, observed, "readers saw a partially replaced card list or failed")

	final, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, final.Cards, short, "the last write wins")
}

func testSyncRuns(t *testing.T, s repository.Store) {
	ctx := context.Background()

	first := &model.SyncRun{Username: "Owner", Mode: model.SyncModeConsolidated, StartedAt: t0}
	require.NoError(t, s.CreateSyncRun(ctx, first))
	require.NotEmpty(t, first.ID)
	assert.Equal(t, model.SyncRunning, first.Outcome)

	first.Outcome = model.SyncDegraded
	first.Fetched = 3
	first.Skipped = 1
	first.PersistFailures = 1
	first.FinishedAt = ptr(t1)
	require.NoError(t, s.FinishSyncRun(ctx, first))

	second := &model.SyncRun{Username: "owner", Mode: model.SyncModeSummary, StartedAt: t2}
	require.NoError(t, s.CreateSyncRun(ctx, second))

	got, err := s.GetSyncRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, *first, *got)

	runs, err := s.ListSyncRuns(ctx, "OWNER", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")

	_, err = s.GetSyncRun(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, s.FinishSyncRun(ctx, &model.SyncRun{ID: "missing"}), apperror.ErrNotFound)
}
