package upstream

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
)

//go:embed testdata/deck_detail.json
var deckDetailFixture string

type fakeResponse struct {
	body string
	err  error
}

// fakeFetcher serves canned responses by route and records the order in
// which fetches start and finish.
type fakeFetcher struct {
	mu       sync.Mutex
	routes   map[string]fakeResponse
	events   []string
	inFlight int
	overlap  bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: map[string]fakeResponse{}}
}

func routeKey(path string, query url.Values) string {
	if path == deckSearchPath {
		return fmt.Sprintf("%s?page=%s", path, query.Get("pageNumber"))
	}
	return path
}

func (f *fakeFetcher) on(key string, body string) {
	f.routes[key] = fakeResponse{body: body}
}

func (f *fakeFetcher) fail(key string, err error) {
	f.routes[key] = fakeResponse{err: err}
}

func (f *fakeFetcher) Fetch(_ context.Context, path string, query url.Values) ([]byte, error) {
	key := routeKey(path, query)

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.events = append(f.events, "start "+key)
	resp, ok := f.routes[key]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.events = append(f.events, "end "+key)
		f.mu.Unlock()
	}()

	if !ok {
		return nil, apperror.UpstreamHTTP(404, path)
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return []byte(resp.body), nil
}

func (f *fakeFetcher) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if strings.HasPrefix(e, "start ") {
			out = append(out, strings.TrimPrefix(e, "start "))
		}
	}
	return out
}

func userSearchJSON(names ...string) string {
	entries := make([]string, len(names))
	for i, n := range names {
		entries[i] = fmt.Sprintf(`{"id": %d, "userName": %q, "displayName": %q, "badges": [{"name":"supporter"}]}`, 1000+i, n, n+" display")
	}
	return `{"data": [` + strings.Join(entries, ",") + `]}`
}

func listingEntry(id, visibility string) string {
	return fmt.Sprintf(`{"id": "up-%s", "publicId": %q, "name": "Deck %s", "format": "commander", "visibility": %q}`, id, id, id, visibility)
}

func listingJSON(totalPages int, entries ...string) string {
	return fmt.Sprintf(`{"pageNumber": 1, "totalPages": %d, "data": [%s]}`, totalPages, strings.Join(entries, ","))
}

// deckDetailJSON builds a public detail document with n single copies in the
// mainboard.
func deckDetailJSON(id string, n int) string {
	cards := make([]string, n)
	for i := range n {
		cards[i] = fmt.Sprintf(`"c%03d": {"quantity": 1, "card": {"name": "Card %d"}}`, i, i)
	}
	return fmt.Sprintf(`{"id": "up-%s", "publicId": %q, "name": "Deck %s", "format": "commander", "visibility": "public",
		"boards": {"mainboard": {"count": %d, "cards": {%s}}}}`, id, id, id, n, strings.Join(cards, ","))
}

func newTestGateway(f Fetcher) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(f, Config{SiteURL: "https://www.moxfield.com"}, logger)
}

func TestResolveUser(t *testing.T) {
	t.Run("exact case-insensitive match among partial matches", func(t *testing.T) {
		f := newFakeFetcher()
		f.on(userSearchPath, userSearchJSON("BimboLegrandFan", "BimboLegrand"))
		g := newTestGateway(f)

		user, err := g.ResolveUser(context.Background(), "bimbolegrand")
		require.NoError(t, err)
		assert.Equal(t, "BimboLegrand", user.Username)
		assert.Equal(t, "1001", user.UpstreamID)
		assert.Equal(t, "https://www.moxfield.com/users/BimboLegrand", user.ProfileURL)
		assert.JSONEq(t, `[{"name":"supporter"}]`, string(user.Badges))
	})

	t.Run("no exact match", func(t *testing.T) {
		f := newFakeFetcher()
		f.on(userSearchPath, userSearchJSON("BimboLegrandFan"))
		g := newTestGateway(f)

		_, err := g.ResolveUser(context.Background(), "BimboLegrand")
		assert.ErrorIs(t, err, apperror.ErrUserNotFound)
	})

	t.Run("404 maps to user not found", func(t *testing.T) {
		g := newTestGateway(newFakeFetcher())

		_, err := g.ResolveUser(context.Background(), "ghost")
		assert.ErrorIs(t, err, apperror.ErrUserNotFound)
	})

	t.Run("outage propagates", func(t *testing.T) {
		f := newFakeFetcher()
		f.fail(userSearchPath, apperror.UpstreamUnavailable("down", nil))
		g := newTestGateway(f)

		_, err := g.ResolveUser(context.Background(), "BimboLegrand")
		assert.ErrorIs(t, err, apperror.ErrUpstreamUnavailable)
	})
}

func TestListPublicDecks_PaginatesAndFilters(t *testing.T) {
	f := newFakeFetcher()
	f.on(deckSearchPath+"?page=1", listingJSON(2,
		listingEntry("d1", "public"),
		listingEntry("d2", "private"),
		`{"name": "no public id", "visibility": "public"}`,
	))
	f.on(deckSearchPath+"?page=2", listingJSON(2,
		listingEntry("d3", "Public"),
		listingEntry("d4", "unlisted"),
	))
	g := newTestGateway(f)

	refs, err := g.ListPublicDecks(context.Background(), "BimboLegrand")
	require.NoError(t, err)

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"d1", "d3"}, ids)
	assert.Equal(t, []string{deckSearchPath + "?page=1", deckSearchPath + "?page=2"}, f.started())
}

func TestListPublicDecks_UnknownUser(t *testing.T) {
	g := newTestGateway(newFakeFetcher())

	_, err := g.ListPublicDecks(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)
}

func TestFetchDeckDetail_MapsFixture(t *testing.T) {
	f := newFakeFetcher()
	f.on(deckDetailPath+"pub-kaalia", deckDetailFixture)
	g := newTestGateway(f)

	deck, err := g.FetchDeckDetail(context.Background(), "pub-kaalia")
	require.NoError(t, err)

	assert.Equal(t, "pub-kaalia", deck.ID)
	assert.Equal(t, "a1B2c3", deck.UpstreamID)
	assert.Equal(t, model.VisibilityPublic, deck.Visibility)
	assert.Equal(t, "BimboLegrand", deck.Username)
	assert.Equal(t, model.DeckStats{Likes: 12, Views: 340, Comments: 2, Bookmarks: 7}, deck.Stats)
	require.NotNil(t, deck.CreatedAt)
	assert.Equal(t, time.Date(2023, 5, 14, 18, 20, 47, 413000000, time.UTC), *deck.CreatedAt)
	require.NotNil(t, deck.LastUpdatedAt)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC), *deck.LastUpdatedAt)

	// Document order, not key order.
	require.Len(t, deck.Cards, 4)
	assert.Equal(t, model.BoardCommanders, deck.Cards[0].Board)
	assert.Equal(t, model.BoardMainboard, deck.Cards[1].Board)
	assert.Equal(t, 2, deck.Cards[1].Quantity)
	assert.JSONEq(t, `{"name": "Plains"}`, string(deck.Cards[1].Payload))
	assert.JSONEq(t, `{"name": "Sol Ring", "prices": {"usd": 1.5}}`, string(deck.Cards[2].Payload))
	assert.Equal(t, model.Board("experimentalBoard"), deck.Cards[3].Board)
	assert.False(t, deck.Cards[3].Board.Known())
	assert.Equal(t, 5, deck.CardCount)

	// Payload bytes are kept exactly as sent, including spacing.
	assert.Equal(t,
		`{"name":"Kaalia of the Vast",  "cmc": 4, "type_line": "Legendary Creature — Human Cleric", "unknownFutureField": {"nested": [1, 2, 3]}}`,
		string(deck.Cards[0].Payload),
	)
	assert.Equal(t, "foil", deck.Cards[0].Finish)

	assert.True(t, deck.Cards[0].IsFoil)
	assert.False(t, deck.Cards[1].IsAlter)
	assert.True(t, deck.Cards[2].IsAlter)
	assert.True(t, deck.Cards[2].IsProxy)
	assert.False(t, deck.Cards[2].IsFoil)

	// The reported count wins; a board without one gets its summed quantities.
	assert.Equal(t, []model.BoardCount{
		{Board: model.BoardCommanders, Count: 1},
		{Board: model.BoardMainboard, Count: 3},
		{Board: model.BoardAttractions, Count: 0},
		{Board: "experimentalBoard", Count: 1},
	}, deck.BoardCounts)

	assert.Equal(t, []model.Author{
		{UserName: "BimboLegrand", DisplayName: "Bimbo", ProfileImageURL: "https://assets.moxfield.net/profile/bimbo.png"},
		{UserName: "CoBuilder"},
	}, deck.Authors)
	assert.Equal(t, []model.DeckTag{
		{CardName: "Sol Ring", Tags: []string{"ramp", "artifact"}},
		{CardName: "Plains", Tags: []string{}},
	}, deck.Tags)
	assert.Equal(t, []string{"Angels", "Budget"}, deck.Hubs)
	assert.JSONEq(t, `[{"name": "Angel", "type_line": "Token Creature — Angel"}]`, string(deck.Tokens))

	summary := deck.Summary()
	assert.Equal(t, deck.Authors, summary.Authors)
	assert.Equal(t, deck.Hubs, summary.Hubs)
}

func TestFetchDeckDetail_OptionalMetadataDefaults(t *testing.T) {
	f := newFakeFetcher()
	f.on(deckDetailPath+"d1", `{"publicId": "d1", "visibility": "public", "tokens": null,
		"authorTags": [{"card_name": "Island", "tags": ["land"]}, {"tags": ["orphan"]}],
		"boards": {"mainboard": {"cards": {"x": {"quantity": 2, "card": {"name": "Island"}}}}}}`)
	g := newTestGateway(f)

	deck, err := g.FetchDeckDetail(context.Background(), "d1")
	require.NoError(t, err)

	assert.Empty(t, deck.Authors)
	assert.NotNil(t, deck.Authors)
	assert.NotNil(t, deck.Hubs)
	assert.Equal(t, []model.DeckTag{{CardName: "Island", Tags: []string{"land"}}}, deck.Tags)
	assert.Equal(t, "[]", string(deck.Tokens))
	assert.Equal(t, []model.BoardCount{{Board: model.BoardMainboard, Count: 2}}, deck.BoardCounts)
	assert.False(t, deck.Cards[0].IsFoil)
}

func TestFetchDeckDetail_LogsUnrecognisedBoards(t *testing.T) {
	f := newFakeFetcher()
	f.on(deckDetailPath+"pub-kaalia", deckDetailFixture)
	var logs bytes.Buffer
	g := NewGateway(f, Config{}, slog.New(slog.NewTextHandler(&logs, nil)))

	_, err := g.FetchDeckDetail(context.Background(), "pub-kaalia")
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "board=experimentalBoard")
	assert.NotContains(t, out, "board=mainboard")
	assert.Equal(t, 1, strings.Count(out, "unrecognised board"))
}

func TestFetchDeckDetail_Classification(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fakeFetcher)
		wantErr error
	}{
		{
			name:    "404 is deck not found",
			setup:   func(f *fakeFetcher) {},
			wantErr: apperror.ErrDeckNotFound,
		},
		{
			name:    "403 is private",
			setup:   func(f *fakeFetcher) { f.fail(deckDetailPath+"d1", apperror.UpstreamHTTP(403, "/x")) },
			wantErr: apperror.ErrDeckPrivate,
		},
		{
			name: "private visibility in detail",
			setup: func(f *fakeFetcher) {
				f.on(deckDetailPath+"d1", `{"publicId": "d1", "visibility": "private", "boards": {}}`)
			},
			wantErr: apperror.ErrDeckPrivate,
		},
		{
			name:    "500 passes through",
			setup:   func(f *fakeFetcher) { f.fail(deckDetailPath+"d1", apperror.UpstreamHTTP(500, "/x")) },
			wantErr: apperror.ErrUpstreamHTTP,
		},
		{
			name:    "timeout passes through",
			setup:   func(f *fakeFetcher) { f.fail(deckDetailPath+"d1", apperror.UpstreamTimeout("/x", nil)) },
			wantErr: apperror.ErrUpstreamTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			tt.setup(f)
			g := newTestGateway(f)

			_, err := g.FetchDeckDetail(context.Background(), "d1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchDeckDetail_MalformedJSON(t *testing.T) {
	f := newFakeFetcher()
	f.on(deckDetailPath+"d1", `{"publicId": "d1", `)
	g := newTestGateway(f)

	_, err := g.FetchDeckDetail(context.Background(), "d1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperror.ErrUpstreamUnavailable)
}

// collect drains the sequence into decks and per-deck errors.
func collect(t *testing.T, g *Gateway, username string) (*model.User, []*model.Deck, []error) {
	t.Helper()
	user, seq, err := g.CollectUserDecksWithDetails(context.Background(), username)
	require.NoError(t, err)

	var decks []*model.Deck
	var errs []error
	for deck, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		decks = append(decks, deck)
	}
	return user, decks, errs
}

func threeDeckUpstream() *fakeFetcher {
	f := newFakeFetcher()
	f.on(userSearchPath, userSearchJSON("BimboLegrand"))
	f.on(deckSearchPath+"?page=1", listingJSON(1,
		listingEntry("d1", "public"),
		listingEntry("d2", "public"),
		listingEntry("d3", "public"),
	))
	f.on(deckDetailPath+"d1", deckDetailJSON("d1", 60))
	f.on(deckDetailPath+"d2", deckDetailJSON("d2", 40))
	f.on(deckDetailPath+"d3", deckDetailJSON("d3", 99))
	return f
}

func TestCollect_SequentialInListingOrder(t *testing.T) {
	f := threeDeckUpstream()
	g := newTestGateway(f)

	user, decks, errs := collect(t, g, "bimbolegrand")
	assert.Empty(t, errs)
	assert.Equal(t, "BimboLegrand", user.Username)

	require.Len(t, decks, 3)
	for i, want := range []string{"d1", "d2", "d3"} {
		assert.Equal(t, want, decks[i].ID)
		assert.Equal(t, "BimboLegrand", decks[i].Username)
	}
	assert.Equal(t, 60, decks[0].CardCount)
	assert.Equal(t, 99, decks[2].CardCount)

	assert.False(t, f.overlap, "fetches must never overlap")
	var details []string
	for i, e := range f.events {
		if strings.Contains(e, deckDetailPath) {
			details = append(details, e)
			if strings.HasPrefix(e, "start ") && i+1 < len(f.events) {
				assert.Equal(t, "end "+strings.TrimPrefix(e, "start "), f.events[i+1],
					"a detail fetch must resolve before the next one starts")
			}
		}
	}
	assert.Equal(t, []string{
		"start " + deckDetailPath + "d1", "end " + deckDetailPath + "d1",
		"start " + deckDetailPath + "d2", "end " + deckDetailPath + "d2",
		"start " + deckDetailPath + "d3", "end " + deckDetailPath + "d3",
	}, details)
}

func TestCollect_DeckNotFoundIsSkipped(t *testing.T) {
	f := threeDeckUpstream()
	delete(f.routes, deckDetailPath+"d2")
	g := newTestGateway(f)

	_, decks, errs := collect(t, g, "BimboLegrand")

	require.Len(t, decks, 2)
	assert.Equal(t, "d1", decks[0].ID)
	assert.Equal(t, "d3", decks[1].ID)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperror.ErrDeckNotFound)
	var deckErr *DeckError
	require.True(t, errors.As(errs[0], &deckErr))
	assert.Equal(t, "d2", deckErr.DeckID)
}

func TestCollect_OutageStopsCollection(t *testing.T) {
	f := threeDeckUpstream()
	f.fail(deckDetailPath+"d2", apperror.UpstreamUnavailable("challenge could not be passed", nil))
	g := newTestGateway(f)

	_, decks, errs := collect(t, g, "BimboLegrand")

	require.Len(t, decks, 1)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperror.ErrUpstreamUnavailable)
	assert.NotContains(t, f.started(), deckDetailPath+"d3", "no fetch after an outage")
}

func TestCollect_PrivateListingEntryIsNotFetched(t *testing.T) {
	f := threeDeckUpstream()
	f.on(deckSearchPath+"?page=1", listingJSON(1,
		listingEntry("d1", "public"),
		listingEntry("d2", "private"),
		listingEntry("d3", "public"),
	))
	g := newTestGateway(f)

	_, decks, errs := collect(t, g, "BimboLegrand")

	require.Len(t, decks, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], apperror.ErrDeckPrivate)
	assert.NotContains(t, f.started(), deckDetailPath+"d2")
}

func TestCollect_BreakStopsFetching(t *testing.T) {
	f := threeDeckUpstream()
	g := newTestGateway(f)

	_, seq, err := g.CollectUserDecksWithDetails(context.Background(), "BimboLegrand")
	require.NoError(t, err)
	for deck := range seq {
		assert.Equal(t, "d1", deck.ID)
		break
	}
	assert.NotContains(t, f.started(), deckDetailPath+"d2")
}

func TestCollect_CancelledContextEndsSequence(t *testing.T) {
	f := threeDeckUpstream()
	g := newTestGateway(f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, seq, err := g.CollectUserDecksWithDetails(ctx, "BimboLegrand")
	require.NoError(t, err)

	var gotErr error
	n := 0
	for deck, err := range seq {
		if err != nil {
			gotErr = err
			continue
		}
		n++
		if deck.ID == "d1" {
			cancel()
		}
	}
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestCollect_UnknownUserFailsUpFront(t *testing.T) {
	f := newFakeFetcher()
	f.on(userSearchPath, userSearchJSON("someoneElse"))
	g := newTestGateway(f)

	_, _, err := g.CollectUserDecksWithDetails(context.Background(), "BimboLegrand")
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)
}
