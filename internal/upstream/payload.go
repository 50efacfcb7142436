package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sakif/deckvault/internal/model"
)

// opaqueID decodes an upstream identifier that may arrive as a JSON string or
// a JSON number. We never do arithmetic on it.
type opaqueID string

func (o *opaqueID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*o = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = opaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("opaque id: %w", err)
	}
	*o = opaqueID(n.String())
	return nil
}

type userPayload struct {
	ID              opaqueID        `json:"id"`
	UserName        string          `json:"userName"`
	DisplayName     string          `json:"displayName"`
	ProfileImageURL string          `json:"profileImageUrl"`
	Badges          json.RawMessage `json:"badges"`
}

type userSearchPayload struct {
	Data []userPayload `json:"data"`
}

type authorPayload struct {
	UserName string `json:"userName"`
}

// deckPayload covers the fields shared by the listing entries and the detail
// document. Boards are read separately with gjson to keep their order.
type deckPayload struct {
	ID               opaqueID        `json:"id"`
	PublicID         string          `json:"publicId"`
	Name             string          `json:"name"`
	Format           string          `json:"format"`
	Visibility       string          `json:"visibility"`
	Description      string          `json:"description"`
	PublicURL        string          `json:"publicUrl"`
	CreatedAtUTC     string          `json:"createdAtUtc"`
	LastUpdatedAtUTC string          `json:"lastUpdatedAtUtc"`
	LikeCount        int             `json:"likeCount"`
	ViewCount        int             `json:"viewCount"`
	CommentCount     int             `json:"commentCount"`
	BookmarkCount    int             `json:"bookmarkCount"`
	CreatedByUser    *authorPayload  `json:"createdByUser"`
	Authors          json.RawMessage `json:"authors"`
	Hubs             json.RawMessage `json:"hubs"`
	Colors           []string        `json:"colors"`
	ColorIdentity    []string        `json:"colorIdentity"`
}

type deckSearchPayload struct {
	PageNumber int           `json:"pageNumber"`
	TotalPages int           `json:"totalPages"`
	Data       []deckPayload `json:"data"`
}

func (p userPayload) toModel(profileBase string) *model.User {
	u := &model.User{
		Username:        p.UserName,
		DisplayName:     p.DisplayName,
		UpstreamID:      string(p.ID),
		ProfileImageURL: p.ProfileImageURL,
	}
	if profileBase != "" {
		u.ProfileURL = strings.TrimRight(profileBase, "/") + "/users/" + p.UserName
	}
	if len(p.Badges) > 0 && !bytes.Equal(p.Badges, []byte("null")) {
		u.Badges = p.Badges
	}
	return u
}

func (p deckPayload) toRef() DeckRef {
	return DeckRef{
		ID:            p.PublicID,
		UpstreamID:    string(p.ID),
		Name:          p.Name,
		Format:        p.Format,
		Visibility:    strings.ToLower(p.Visibility),
		LastUpdatedAt: parseTimestamp(p.LastUpdatedAtUTC),
	}
}

func (p deckPayload) toModel() *model.Deck {
	d := &model.Deck{
		ID:            p.PublicID,
		UpstreamID:    string(p.ID),
		Name:          p.Name,
		Format:        p.Format,
		Visibility:    strings.ToLower(p.Visibility),
		Description:   p.Description,
		PublicURL:     p.PublicURL,
		CreatedAt:     parseTimestamp(p.CreatedAtUTC),
		LastUpdatedAt: parseTimestamp(p.LastUpdatedAtUTC),
		Stats: model.DeckStats{
			Likes:     p.LikeCount,
			Views:     p.ViewCount,
			Comments:  p.CommentCount,
			Bookmarks: p.BookmarkCount,
		},
		Colors:        nonNil(p.Colors),
		ColorIdentity: nonNil(p.ColorIdentity),
		Authors:       []model.Author{},
		Tags:          []model.DeckTag{},
		Hubs:          []string{},
	}
	if p.CreatedByUser != nil {
		d.Username = p.CreatedByUser.UserName
	}
	// authors and hubs are read leniently; a malformed entry is dropped
	// rather than failing the whole deck.
	for _, a := range gjson.ParseBytes(p.Authors).Array() {
		if name := a.Get("userName").String(); a.IsObject() && name != "" {
			d.Authors = append(d.Authors, model.Author{
				UserName:        name,
				DisplayName:     a.Get("displayName").String(),
				ProfileImageURL: a.Get("profileImageUrl").String(),
			})
		}
	}
	for _, h := range gjson.ParseBytes(p.Hubs).Array() {
		if name := h.Get("name").String(); h.IsObject() && name != "" {
			d.Hubs = append(d.Hubs, name)
		}
	}
	return d
}

// decodeDeckDetail maps a detail document onto a Deck with its cards.
// Cards keep the upstream order: boards in document order, then cards in
// document order within each board. Each card object is copied verbatim.
func decodeDeckDetail(body []byte) (*model.Deck, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("deck detail is not valid JSON")
	}

	var p deckPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding deck detail: %w", err)
	}
	deck := p.toModel()

	deck.Cards = []model.Card{}
	deck.BoardCounts = []model.BoardCount{}
	gjson.GetBytes(body, "boards").ForEach(func(boardName, board gjson.Result) bool {
		name := model.Board(boardName.String())
		summed := 0
		board.Get("cards").ForEach(func(_, entry gjson.Result) bool {
			c := model.Card{
				Board:    name,
				Quantity: int(entry.Get("quantity").Int()),
				Finish:   entry.Get("finish").String(),
				IsFoil:   entry.Get("isFoil").Bool(),
				IsAlter:  entry.Get("isAlter").Bool(),
				IsProxy:  entry.Get("isProxy").Bool(),
				Payload:  rawJSON(entry.Get("card"), `{}`),
			}
			summed += c.Quantity
			deck.Cards = append(deck.Cards, c)
			return true
		})
		count := summed
		if reported := board.Get("count"); reported.Type == gjson.Number {
			count = int(reported.Int())
		}
		deck.BoardCounts = append(deck.BoardCounts, model.BoardCount{Board: name, Count: count})
		return true
	})
	deck.CardCount = deck.CountCards()
	deck.Tags = decodeAuthorTags(gjson.GetBytes(body, "authorTags"))
	deck.Tokens = rawJSON(gjson.GetBytes(body, "tokens"), `[]`)
	return deck, nil
}

// decodeAuthorTags accepts both shapes the upstream has used: an object
// keyed by card name, and a list of {"card_name", "tags"} entries.
func decodeAuthorTags(r gjson.Result) []model.DeckTag {
	tags := []model.DeckTag{}
	switch {
	case r.IsObject():
		r.ForEach(func(cardName, list gjson.Result) bool {
			tags = append(tags, model.DeckTag{CardName: cardName.String(), Tags: stringList(list)})
			return true
		})
	case r.IsArray():
		r.ForEach(func(_, entry gjson.Result) bool {
			if name := entry.Get("card_name"); entry.IsObject() && name.Exists() {
				tags = append(tags, model.DeckTag{CardName: name.String(), Tags: stringList(entry.Get("tags"))})
			}
			return true
		})
	}
	return tags
}

func stringList(r gjson.Result) []string {
	out := []string{}
	if !r.IsArray() {
		return out
	}
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

// rawJSON returns the value's bytes verbatim, or fallback when it is absent
// or null.
func rawJSON(r gjson.Result, fallback string) json.RawMessage {
	if !r.Exists() || r.Raw == "" || r.Type == gjson.Null {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(r.Raw)
}

// parseTimestamp accepts RFC 3339 and the zone-less form the upstream
// sometimes emits (treated as UTC). Anything else yields nil.
func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
