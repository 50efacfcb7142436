package model

import "encoding/json"

// Board names the section of a deck a card sits in.
//
// The upstream adds boards from time to time, so Board is an open set: the
// constants below are the ones we know about, anything else is kept as
// reported.
type Board string

const (
	BoardMainboard       Board = "mainboard"
	BoardSideboard       Board = "sideboard"
	BoardMaybeboard      Board = "maybeboard"
	BoardCommanders      Board = "commanders"
	BoardCompanions      Board = "companions"
	BoardSignatureSpells Board = "signatureSpells"
	BoardAttractions     Board = "attractions"
	BoardStickers        Board = "stickers"
	BoardContraptions    Board = "contraptions"
	BoardPlanes          Board = "planes"
	BoardSchemes         Board = "schemes"
	BoardTokens          Board = "tokens"
)

var knownBoards = map[Board]bool{
	BoardMainboard: true, BoardSideboard: true, BoardMaybeboard: true,
	BoardCommanders: true, BoardCompanions: true, BoardSignatureSpells: true,
	BoardAttractions: true, BoardStickers: true, BoardContraptions: true,
	BoardPlanes: true, BoardSchemes: true, BoardTokens: true,
}

// Known reports whether b is one of the boards listed above.
func (b Board) Known() bool {
	return knownBoards[b]
}

// Card is one entry of a deck's card list.
//
// Payload is the upstream card object exactly as received. We never decode it
// into a fixed schema because the upstream does not promise its fields.
type Card struct {
	Board    Board           `json:"board"`
	Quantity int             `json:"quantity"`
	Finish   string          `json:"finish,omitempty"`
	IsFoil   bool            `json:"isFoil"`
	IsAlter  bool            `json:"isAlter"`
	IsProxy  bool            `json:"isProxy"`
	Payload  json.RawMessage `json:"card"`
}

// BoardCount is the card count the upstream reports for one board. It is
// kept as reported and may differ from the summed quantities of the board's
// cards.
type BoardCount struct {
	Board Board `json:"board"`
	Count int   `json:"count"`
}
