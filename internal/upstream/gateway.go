// Package upstream knows the upstream deck service's resource shapes. It maps
// raw payloads to model types and upstream statuses to apperror kinds, and
// owns the sequential collection of a user's decks.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
)

var tracer = otel.Tracer("deckvault/upstream")

const (
	userSearchPath = "/v2/users/search-sfw"
	deckSearchPath = "/v2/decks/search-sfw"
	deckDetailPath = "/v3/decks/all/"

	DefaultPageSize = 100
	// maxListingPages bounds pagination if the upstream reports a bogus
	// totalPages.
	maxListingPages = 50
)

// Fetcher is the raw transport the gateway needs. *challenge.Client
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// DeckRef is one entry of a user's deck listing.
type DeckRef struct {
	ID            string
	UpstreamID    string
	Name          string
	Format        string
	Visibility    string
	LastUpdatedAt *time.Time
}

// DeckError ties a per-deck failure to the deck it happened on.
type DeckError struct {
	DeckID string
	Err    error
}

func (e *DeckError) Error() string {
	return fmt.Sprintf("deck %s: %v", e.DeckID, e.Err)
}

func (e *DeckError) Unwrap() error {
	return e.Err
}

// Config configures a Gateway.
type Config struct {
	// SiteURL is the human-facing origin used to build profile links.
	SiteURL  string
	PageSize int
}

// Gateway talks to the upstream through a Fetcher.
type Gateway struct {
	fetcher  Fetcher
	siteURL  string
	pageSize int
	logger   *slog.Logger
}

func NewGateway(fetcher Fetcher, cfg Config, logger *slog.Logger) *Gateway {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Gateway{
		fetcher:  fetcher,
		siteURL:  cfg.SiteURL,
		pageSize: pageSize,
		logger:   logger,
	}
}

// ResolveUser looks the user up by exact, case-insensitive name.
func (g *Gateway) ResolveUser(ctx context.Context, username string) (*model.User, error) {
	ctx, span := tracer.Start(ctx, "upstream.ResolveUser")
	defer span.End()

	body, err := g.fetcher.Fetch(ctx, userSearchPath, url.Values{
		"filter":     {username},
		"pageNumber": {"1"},
		"pageSize":   {"10"},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user search failed")
		if apperror.StatusOf(err) == http.StatusNotFound {
			return nil, apperror.UserNotFound(username)
		}
		return nil, err
	}

	var payload userSearchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("upstream: decoding user search: %w", err)
	}
	for _, entry := range payload.Data {
		if strings.EqualFold(entry.UserName, username) {
			return entry.toModel(g.siteURL), nil
		}
	}
	return nil, apperror.UserNotFound(username)
}

// ListPublicDecks returns the user's public decks in listing order.
func (g *Gateway) ListPublicDecks(ctx context.Context, username string) ([]DeckRef, error) {
	refs, err := g.listDecks(ctx, username)
	if err != nil {
		return nil, err
	}
	public := make([]DeckRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Visibility == model.VisibilityPublic {
			public = append(public, ref)
		}
	}
	return public, nil
}

// listDecks walks every listing page, keeping entries of any visibility.
func (g *Gateway) listDecks(ctx context.Context, username string) ([]DeckRef, error) {
	ctx, span := tracer.Start(ctx, "upstream.ListDecks")
	defer span.End()

	var refs []DeckRef
	for page := 1; page <= maxListingPages; page++ {
		body, err := g.fetcher.Fetch(ctx, deckSearchPath, url.Values{
			"authorUserNames": {username},
			"pageNumber":      {strconv.Itoa(page)},
			"pageSize":        {strconv.Itoa(g.pageSize)},
			"sortType":        {"Updated"},
			"sortDirection":   {"Descending"},
			"filter":          {""},
			"fmt":             {""},
			"includePinned":   {"true"},
			"showIllegal":     {"true"},
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deck listing failed")
			if apperror.StatusOf(err) == http.StatusNotFound {
				return nil, apperror.UserNotFound(username)
			}
			return nil, err
		}

		var payload deckSearchPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("upstream: decoding deck listing page %d: %w", page, err)
		}
		for _, entry := range payload.Data {
			if entry.PublicID == "" {
				g.logger.Debug("skipping listing entry without public id",
					slog.String("username", username),
					slog.String("name", entry.Name),
				)
				continue
			}
			refs = append(refs, entry.toRef())
		}

		if len(payload.Data) == 0 || page >= payload.TotalPages {
			break
		}
	}

	span.SetAttributes(attribute.Int("upstream.decks", len(refs)))
	return refs, nil
}

// FetchDeckDetail fetches one deck with its cards.
//
// A deck can turn private or vanish between listing and detail fetch; that
// surfaces as ErrDeckPrivate or ErrDeckNotFound.
func (g *Gateway) FetchDeckDetail(ctx context.Context, deckID string) (*model.Deck, error) {
	ctx, span := tracer.Start(ctx, "upstream.FetchDeckDetail")
	defer span.End()
	span.SetAttributes(attribute.String("deck.id", deckID))

	body, err := g.fetcher.Fetch(ctx, deckDetailPath+url.PathEscape(deckID), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deck detail failed")
		switch apperror.StatusOf(err) {
		case http.StatusNotFound, http.StatusGone:
			return nil, apperror.DeckNotFound(deckID)
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, apperror.DeckPrivate(deckID)
		}
		return nil, err
	}

	deck, err := decodeDeckDetail(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: deck %s: %w", deckID, err)
	}
	if deck.ID == "" {
		deck.ID = deckID
	}
	if !deck.IsPublic() {
		return nil, apperror.DeckPrivate(deckID)
	}
	for _, bc := range deck.BoardCounts {
		if !bc.Board.Known() {
			g.logger.Info("keeping unrecognised board as reported",
				slog.String("deck_id", deck.ID),
				slog.String("board", string(bc.Board)),
			)
		}
	}
	span.SetAttributes(attribute.Int("deck.cards", deck.CardCount))
	return deck, nil
}

// CollectUserDecksWithDetails resolves the user and lists their decks, then
// returns a sequence that fetches each deck's detail one at a time, in
// listing order. A detail fetch is only issued after the previous one has
// resolved.
//
// Per-deck failures are yielded as *DeckError and collection continues.
// Listing entries that are not public are yielded as ErrDeckPrivate without a
// detail fetch. ErrUpstreamUnavailable and context cancellation are yielded
// once and end the sequence. Breaking out of the loop stops fetching.
func (g *Gateway) CollectUserDecksWithDetails(ctx context.Context, username string) (*model.User, iter.Seq2[*model.Deck, error], error) {
	user, err := g.ResolveUser(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	refs, err := g.listDecks(ctx, user.Username)
	if err != nil {
		return nil, nil, err
	}

	g.logger.Debug("collecting decks",
		slog.String("username", user.Username),
		slog.Int("listed", len(refs)),
	)

	seq := func(yield func(*model.Deck, error) bool) {
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			if ref.Visibility != model.VisibilityPublic {
				if !yield(nil, &DeckError{DeckID: ref.ID, Err: apperror.DeckPrivate(ref.ID)}) {
					return
				}
				continue
			}

			deck, err := g.FetchDeckDetail(ctx, ref.ID)
			if err != nil {
				fatal := errors.Is(err, apperror.ErrUpstreamUnavailable) || ctx.Err() != nil
				if !yield(nil, &DeckError{DeckID: ref.ID, Err: err}) || fatal {
					return
				}
				continue
			}

			deck.Username = user.Username
			if !yield(deck, nil) {
				return
			}
		}
	}
	return user, seq, nil
}
