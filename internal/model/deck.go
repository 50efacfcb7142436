package model

import (
	"encoding/json"
	"time"
)

// Visibility values reported by the upstream. Only VisibilityPublic decks are
// ever stored or returned.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
)

// DeckStats are the upstream engagement counters for a deck.
type DeckStats struct {
	Likes     int `json:"likeCount"`
	Views     int `json:"viewCount"`
	Comments  int `json:"commentCount"`
	Bookmarks int `json:"bookmarkCount"`
}

// Author is a user credited on a deck.
type Author struct {
	UserName        string `json:"userName"`
	DisplayName     string `json:"displayName,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

// DeckTag is the author's tag list for one card of the deck.
type DeckTag struct {
	CardName string   `json:"cardName"`
	Tags     []string `json:"tags"`
}

// Deck is a full deck, including its ordered card list.
//
// ID is the upstream public id. It is globally unique and is the only key the
// store uses; two decks with the same owner and name are still two decks.
// A Deck exclusively owns its Cards: replacing a deck replaces the whole list.
// BoardCounts and Tokens are detail data and are not part of the summary.
type Deck struct {
	ID            string     `json:"id"`
	UpstreamID    string     `json:"upstreamId,omitempty"`
	Name          string     `json:"name"`
	Format        string     `json:"format"`
	Visibility    string     `json:"visibility"`
	Username      string     `json:"userName"`
	Description   string     `json:"description"`
	PublicURL     string     `json:"publicUrl,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
	Stats         DeckStats  `json:"stats"`
	Colors        []string   `json:"colors"`
	ColorIdentity []string   `json:"colorIdentity"`
	Authors       []Author   `json:"authors"`
	Tags          []DeckTag  `json:"tags"`
	Hubs          []string   `json:"hubs"`
	CardCount     int        `json:"cardCount"`
	LastSyncedAt  time.Time  `json:"lastSyncedAt"`

	BoardCounts []BoardCount    `json:"boardCounts"`
	Tokens      json.RawMessage `json:"tokens"`
	Cards       []Card          `json:"cards"`
}

// IsPublic reports whether the deck may be stored and returned.
func (d *Deck) IsPublic() bool {
	return d.Visibility == VisibilityPublic
}

// CountCards sums the card quantities across every board.
func (d *Deck) CountCards() int {
	total := 0
	for _, c := range d.Cards {
		total += c.Quantity
	}
	return total
}

// Summary projects the deck onto its summary shape. No card data is carried.
func (d *Deck) Summary() DeckSummary {
	return DeckSummary{
		ID:            d.ID,
		UpstreamID:    d.UpstreamID,
		Name:          d.Name,
		Format:        d.Format,
		Visibility:    d.Visibility,
		Username:      d.Username,
		Description:   d.Description,
		PublicURL:     d.PublicURL,
		CreatedAt:     d.CreatedAt,
		LastUpdatedAt: d.LastUpdatedAt,
		Stats:         d.Stats,
		Colors:        d.Colors,
		ColorIdentity: d.ColorIdentity,
		Authors:       d.Authors,
		Tags:          d.Tags,
		Hubs:          d.Hubs,
		CardCount:     d.CardCount,
		LastSyncedAt:  d.LastSyncedAt,
	}
}

// DeckSummary is Deck without its cards. It is never stored on its own; it is
// always derived from a Deck (or read back as a projection of stored decks).
type DeckSummary struct {
	ID            string     `json:"id"`
	UpstreamID    string     `json:"upstreamId,omitempty"`
	Name          string     `json:"name"`
	Format        string     `json:"format"`
	Visibility    string     `json:"visibility"`
	Username      string     `json:"userName"`
	Description   string     `json:"description"`
	PublicURL     string     `json:"publicUrl,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
	Stats         DeckStats  `json:"stats"`
	Colors        []string   `json:"colors"`
	ColorIdentity []string   `json:"colorIdentity"`
	Authors       []Author   `json:"authors"`
	Tags          []DeckTag  `json:"tags"`
	Hubs          []string   `json:"hubs"`
	CardCount     int        `json:"cardCount"`
	LastSyncedAt  time.Time  `json:"lastSyncedAt"`
}
