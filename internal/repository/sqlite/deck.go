package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
)

// deckColumns is shared by every deck SELECT so scanDeckSummary can rely on
// the column order. deckDetailColumns follow it when the full deck is read.
const (
	deckColumns = `id, username, upstream_id, name, format, visibility, description, public_url,
	created_at, last_updated_at, like_count, view_count, comment_count, bookmark_count,
	colors, color_identity, authors, tags, hubs, card_count, last_synced_at`
	deckDetailColumns = `board_counts, tokens`
	cardColumns       = `deck_id, board, quantity, finish, is_foil, is_alter, is_proxy, payload`
)

// deckOrder mirrors the upstream listing sort. SQLite sorts NULL lowest, so
// decks without a last-updated time come last.
const deckOrder = `ORDER BY last_updated_at DESC, id ASC`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertDeck writes the deck row and replaces its card list in one
// transaction.
//
// The first statement is the deck write, so the transaction takes the write
// lock up front instead of upgrading from a read lock (which can fail with
// SQLITE_BUSY under concurrent writers). last_synced_at is clamped with MAX
// in SQL; fixed-width timestamps compare correctly as text.
//
// On success deck.LastSyncedAt holds the stored (possibly clamped) value.
// Write failures are returned as apperror.ErrPersistence.
func (db *DB) UpsertDeck(ctx context.Context, deck *model.Deck) error {
	if deck.ID == "" {
		return apperror.ValidationFailed("id", "deck id is required")
	}
	if !deck.IsPublic() {
		return apperror.ValidationFailed("visibility",
			fmt.Sprintf("deck %s is %q; only public decks are stored", deck.ID, deck.Visibility))
	}
	if err := db.upsertDeck(ctx, deck); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return apperror.Persistence("deck "+deck.ID, err)
	}
	return nil
}

func (db *DB) upsertDeck(ctx context.Context, deck *model.Deck) error {
	key := model.NormalizeUsername(deck.Username)

	encoded, err := encodeDeckJSON(deck)
	if err != nil {
		return fmt.Errorf("sqlite: encoding deck %s: %w", deck.ID, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning deck %s upsert: %w", deck.ID, err)
	}
	defer tx.Rollback() // no-op after Commit

	var storedSyncedAt string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO decks (id, username_key, username, upstream_id, name, format, visibility,
		                    description, public_url, created_at, last_updated_at,
		                    like_count, view_count, comment_count, bookmark_count,
		                    colors, color_identity, authors, tags, hubs, board_counts, tokens,
		                    card_count, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     username_key    = excluded.username_key,
		     username        = excluded.username,
		     upstream_id     = excluded.upstream_id,
		     name            = excluded.name,
		     format          = excluded.format,
		     visibility      = excluded.visibility,
		     description     = excluded.description,
		     public_url      = excluded.public_url,
		     created_at      = excluded.created_at,
		     last_updated_at = excluded.last_updated_at,
		     like_count      = excluded.like_count,
		     view_count      = excluded.view_count,
		     comment_count   = excluded.comment_count,
		     bookmark_count  = excluded.bookmark_count,
		     colors          = excluded.colors,
		     color_identity  = excluded.color_identity,
		     authors         = excluded.authors,
		     tags            = excluded.tags,
		     hubs            = excluded.hubs,
		     board_counts    = excluded.board_counts,
		     tokens          = excluded.tokens,
		     card_count      = excluded.card_count,
		     last_synced_at  = MAX(decks.last_synced_at, excluded.last_synced_at)
		 RETURNING last_synced_at`,
		deck.ID,
		key,
		deck.Username,
		deck.UpstreamID,
		deck.Name,
		deck.Format,
		deck.Visibility,
		deck.Description,
		deck.PublicURL,
		formatTimePtr(deck.CreatedAt),
		formatTimePtr(deck.LastUpdatedAt),
		deck.Stats.Likes,
		deck.Stats.Views,
		deck.Stats.Comments,
		deck.Stats.Bookmarks,
		encoded.colors,
		encoded.identity,
		encoded.authors,
		encoded.tags,
		encoded.hubs,
		encoded.boardCounts,
		encoded.tokens,
		deck.CardCount,
		formatTime(deck.LastSyncedAt),
	).Scan(&storedSyncedAt)
	if err != nil {
		_ = tx.Rollback()
		if exists, lookupErr := db.userExists(ctx, key); lookupErr == nil && !exists {
			return apperror.NotFound("user", key)
		}
		return fmt.Errorf("sqlite: upserting deck %s: %w", deck.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE deck_id = ?`, deck.ID); err != nil {
		return fmt.Errorf("sqlite: clearing cards of deck %s: %w", deck.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cards (deck_id, position, board, quantity, finish, is_foil, is_alter, is_proxy, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: preparing card insert for deck %s: %w", deck.ID, err)
	}
	defer stmt.Close()

	for i, c := range deck.Cards {
		payload := string(c.Payload)
		if payload == "" {
			payload = "{}"
		}
		_, err := stmt.ExecContext(ctx, deck.ID, i, string(c.Board), c.Quantity, c.Finish,
			c.IsFoil, c.IsAlter, c.IsProxy, payload)
		if err != nil {
			return fmt.Errorf("sqlite: inserting card %d of deck %s: %w", i, deck.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing deck %s: %w", deck.ID, err)
	}

	if deck.LastSyncedAt, err = parseTime(storedSyncedAt); err != nil {
		return fmt.Errorf("sqlite: deck %s: %w", deck.ID, err)
	}
	return nil
}

// deckJSON holds the deck fields stored as JSON text columns.
type deckJSON struct {
	colors, identity, authors, tags, hubs, boardCounts, tokens string
}

func encodeDeckJSON(deck *model.Deck) (deckJSON, error) {
	var out deckJSON
	fields := []struct {
		dst *string
		v   any
	}{
		{&out.colors, nonNilSlice(deck.Colors)},
		{&out.identity, nonNilSlice(deck.ColorIdentity)},
		{&out.authors, nonNilSlice(deck.Authors)},
		{&out.tags, nonNilSlice(deck.Tags)},
		{&out.hubs, nonNilSlice(deck.Hubs)},
		{&out.boardCounts, nonNilSlice(deck.BoardCounts)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, err
		}
		*f.dst = string(b)
	}
	out.tokens = "[]"
	if len(deck.Tokens) > 0 {
		if !json.Valid(deck.Tokens) {
			return out, errors.New("tokens are not valid JSON")
		}
		out.tokens = string(deck.Tokens)
	}
	return out, nil
}

func (db *DB) userExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username_key = ?`, key,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking user %s: %w", key, err)
	}
	return n > 0, nil
}

// GetDeck returns one deck with its cards.
// Returns apperror.ErrNotFound if the deck is not stored.
func (db *DB) GetDeck(ctx context.Context, id string) (*model.Deck, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning read of deck %s: %w", id, err)
	}
	defer tx.Rollback()

	deck, err := scanDeck(tx.QueryRowContext(ctx,
		`SELECT `+deckColumns+`, `+deckDetailColumns+` FROM decks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("deck", id)
		}
		return nil, fmt.Errorf("sqlite: getting deck %s: %w", id, err)
	}

	cards, err := queryCards(ctx, tx,
		`SELECT `+cardColumns+` FROM cards WHERE deck_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}

	deck.Cards = nonNilSlice(cards[id])
	return &deck, nil
}

// GetDecksForUser returns every stored deck of the user with its cards.
// Both queries run in one transaction so a concurrent upsert cannot be seen
// half applied.
func (db *DB) GetDecksForUser(ctx context.Context, username string) ([]model.Deck, error) {
	key := model.NormalizeUsername(username)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning read of decks for %s: %w", key, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+deckColumns+`, `+deckDetailColumns+` FROM decks WHERE username_key = ? `+deckOrder, key)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing decks for %s: %w", key, err)
	}
	decks := []model.Deck{}
	for rows.Next() {
		deck, err := scanDeck(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning deck for %s: %w", key, err)
		}
		decks = append(decks, deck)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating decks for %s: %w", key, err)
	}

	cards, err := queryCards(ctx, tx,
		`SELECT c.deck_id, c.board, c.quantity, c.finish, c.is_foil, c.is_alter, c.is_proxy, c.payload
		 FROM cards c JOIN decks d ON d.id = c.deck_id
		 WHERE d.username_key = ?
		 ORDER BY c.deck_id, c.position`, key)
	if err != nil {
		return nil, err
	}

	for i := range decks {
		decks[i].Cards = nonNilSlice(cards[decks[i].ID])
	}
	return decks, nil
}

// GetDeckSummariesForUser reads only the decks table.
func (db *DB) GetDeckSummariesForUser(ctx context.Context, username string) ([]model.DeckSummary, error) {
	return querySummaries(ctx, db.conn, model.NormalizeUsername(username))
}

// DeleteDeck removes the deck; its cards go with it (ON DELETE CASCADE).
func (db *DB) DeleteDeck(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id); err != nil {
		return apperror.Persistence("deck "+id, fmt.Errorf("sqlite: deleting deck %s: %w", id, err))
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySummaries(ctx context.Context, q queryer, key string) ([]model.DeckSummary, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+deckColumns+` FROM decks WHERE username_key = ? `+deckOrder, key)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing decks for %s: %w", key, err)
	}
	defer rows.Close()

	summaries := []model.DeckSummary{}
	for rows.Next() {
		s, err := scanDeckSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning deck for %s: %w", key, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating decks for %s: %w", key, err)
	}
	return summaries, nil
}

// queryCards runs a card query and groups the rows by deck id, keeping row
// order within each deck.
func queryCards(ctx context.Context, q queryer, query string, arg any) (map[string][]model.Card, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cards: %w", err)
	}
	defer rows.Close()

	cards := map[string][]model.Card{}
	for rows.Next() {
		var (
			deckID  string
			board   string
			c       model.Card
			payload string
		)
		if err := rows.Scan(&deckID, &board, &c.Quantity, &c.Finish, &c.IsFoil, &c.IsAlter, &c.IsProxy, &payload); err != nil {
			return nil, fmt.Errorf("sqlite: scanning card: %w", err)
		}
		c.Board = model.Board(board)
		c.Payload = json.RawMessage(payload)
		cards[deckID] = append(cards[deckID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cards: %w", err)
	}
	return cards, nil
}

// scanDeckSummary scans deckColumns. Any extra destinations are scanned from
// the columns that follow them.
func scanDeckSummary(row rowScanner, extra ...any) (model.DeckSummary, error) {
	var (
		s             model.DeckSummary
		createdAt     sql.NullString
		lastUpdatedAt sql.NullString
		colors        string
		identity      string
		authors       string
		tags          string
		hubs          string
		lastSyncedAt  string
	)
	dest := []any{
		&s.ID,
		&s.Username,
		&s.UpstreamID,
		&s.Name,
		&s.Format,
		&s.Visibility,
		&s.Description,
		&s.PublicURL,
		&createdAt,
		&lastUpdatedAt,
		&s.Stats.Likes,
		&s.Stats.Views,
		&s.Stats.Comments,
		&s.Stats.Bookmarks,
		&colors,
		&identity,
		&authors,
		&tags,
		&hubs,
		&s.CardCount,
		&lastSyncedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return s, err
	}

	var err error
	if s.CreatedAt, err = parseTimePtr(createdAt); err != nil {
		return s, err
	}
	if s.LastUpdatedAt, err = parseTimePtr(lastUpdatedAt); err != nil {
		return s, err
	}
	if s.LastSyncedAt, err = parseTime(lastSyncedAt); err != nil {
		return s, err
	}
	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"colors", colors, &s.Colors},
		{"color identity", identity, &s.ColorIdentity},
		{"authors", authors, &s.Authors},
		{"tags", tags, &s.Tags},
		{"hubs", hubs, &s.Hubs},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return s, fmt.Errorf("decoding %s: %w", col.name, err)
		}
	}
	s.Colors = nonNilSlice(s.Colors)
	s.ColorIdentity = nonNilSlice(s.ColorIdentity)
	s.Authors = nonNilSlice(s.Authors)
	s.Tags = nonNilSlice(s.Tags)
	for i := range s.Tags {
		s.Tags[i].Tags = nonNilSlice(s.Tags[i].Tags)
	}
	s.Hubs = nonNilSlice(s.Hubs)
	return s, nil
}

// scanDeck scans deckColumns followed by deckDetailColumns. Cards are read
// separately.
func scanDeck(row rowScanner) (model.Deck, error) {
	var boardCounts, tokens string
	summary, err := scanDeckSummary(row, &boardCounts, &tokens)
	if err != nil {
		return model.Deck{}, err
	}
	deck := deckFromSummary(summary)
	if err := json.Unmarshal([]byte(boardCounts), &deck.BoardCounts); err != nil {
		return deck, fmt.Errorf("decoding board counts: %w", err)
	}
	deck.BoardCounts = nonNilSlice(deck.BoardCounts)
	deck.Tokens = json.RawMessage(tokens)
	return deck, nil
}

func deckFromSummary(s model.DeckSummary) model.Deck {
	return model.Deck{
		ID:            s.ID,
		UpstreamID:    s.UpstreamID,
		Name:          s.Name,
		Format:        s.Format,
		Visibility:    s.Visibility,
		Username:      s.Username,
		Description:   s.Description,
		PublicURL:     s.PublicURL,
		CreatedAt:     s.CreatedAt,
		LastUpdatedAt: s.LastUpdatedAt,
		Stats:         s.Stats,
		Colors:        s.Colors,
		ColorIdentity: s.ColorIdentity,
		Authors:       s.Authors,
		Tags:          s.Tags,
		Hubs:          s.Hubs,
		CardCount:     s.CardCount,
		LastSyncedAt:  s.LastSyncedAt,
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
