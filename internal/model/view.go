package model

// ViewDeck is a deck as returned in the consolidated view.
// Stale is set when the live fetch of this deck failed transiently and the
// stored copy was served in its place.
type ViewDeck struct {
	Deck
	Stale bool `json:"stale,omitempty"`
}

// ViewDeckSummary is the summary-view counterpart of ViewDeck.
type ViewDeckSummary struct {
	DeckSummary
	Stale bool `json:"stale,omitempty"`
}

// ConsolidatedView is the full response: user, decks and every card.
type ConsolidatedView struct {
	SyncID     string     `json:"syncId,omitempty"`
	User       User       `json:"user"`
	TotalDecks int        `json:"totalDecks"`
	Decks      []ViewDeck `json:"decks"`
	Degraded   bool       `json:"degraded"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// SummaryView is the light response: user and deck metadata, no cards.
type SummaryView struct {
	SyncID     string            `json:"syncId,omitempty"`
	User       User              `json:"user"`
	TotalDecks int               `json:"totalDecks"`
	Decks      []ViewDeckSummary `json:"decks"`
	Degraded   bool              `json:"degraded"`
	Warnings   []string          `json:"warnings,omitempty"`
}
