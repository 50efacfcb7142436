// Package repository defines the storage contracts. Implementations live in
// the sqlite and memory sub-packages.
package repository

import (
	"context"

	"github.com/sakif/deckvault/internal/model"
)

// DeckStore persists users and their public decks.
//
// Every write is idempotent. UpsertDeck replaces the deck's card list as a
// whole, so a reader sees either the old list or the new one, never a mix.
// Reads return decks ordered by LastUpdatedAt descending (unknown last), then
// by ID.
type DeckStore interface {
	UpsertUser(ctx context.Context, user *model.User) error
	// UpsertDeck rejects decks that are not public and decks whose user has
	// not been stored. LastSyncedAt never moves backwards.
	UpsertDeck(ctx context.Context, deck *model.Deck) error
	GetUser(ctx context.Context, username string) (*model.User, error)
	GetDeck(ctx context.Context, id string) (*model.Deck, error)
	GetDecksForUser(ctx context.Context, username string) ([]model.Deck, error)
	// GetDeckSummariesForUser never reads card data.
	GetDeckSummariesForUser(ctx context.Context, username string) ([]model.DeckSummary, error)
	// DeleteDeck removes a deck and its cards. Deleting a missing deck is not
	// an error.
	DeleteDeck(ctx context.Context, id string) error
}

// SyncRunStore journals aggregation runs.
type SyncRunStore interface {
	CreateSyncRun(ctx context.Context, run *model.SyncRun) error
	FinishSyncRun(ctx context.Context, run *model.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*model.SyncRun, error)
	ListSyncRuns(ctx context.Context, username string, limit int) ([]model.SyncRun, error)
}

// Store is everything the aggregation service needs from storage.
type Store interface {
	DeckStore
	SyncRunStore
}
