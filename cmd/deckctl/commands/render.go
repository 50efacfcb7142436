package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sakif/deckvault/internal/model"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

func deckRow(d model.DeckSummary, stale bool) table.Row {
	flag := ""
	if stale {
		flag = "stale"
	}
	return table.Row{d.ID, d.Name, d.Format, strings.Join(d.ColorIdentity, ""), d.CardCount, formatTime(d.LastUpdatedAt), flag}
}

var deckHeader = table.Row{"ID", "Name", "Format", "Colors", "Cards", "Last updated", ""}

func renderHeader(w io.Writer, user model.User, total int, degraded bool, warnings []string) {
	fmt.Fprintf(w, "%s: %d public decks\n", user.Username, total)
	if degraded {
		fmt.Fprintln(w, "degraded: some decks could not be stored")
	}
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func renderSummaryView(w io.Writer, view *model.SummaryView) {
	renderHeader(w, view.User, view.TotalDecks, view.Degraded, view.Warnings)

	t := newTable(w)
	t.AppendHeader(deckHeader)
	total := 0
	for _, d := range view.Decks {
		t.AppendRow(deckRow(d.DeckSummary, d.Stale))
		total += d.CardCount
	}
	t.AppendFooter(table.Row{"", "", "", "", total, "", ""})
	t.Render()
}

// renderConsolidatedView prints the deck table plus a per-board card count
// for every deck. Card payloads are only available with --output json.
func renderConsolidatedView(w io.Writer, view *model.ConsolidatedView) {
	renderHeader(w, view.User, view.TotalDecks, view.Degraded, view.Warnings)

	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Format", "Colors", "Cards", "Last updated", "", "Boards"})
	total := 0
	for _, d := range view.Decks {
		row := deckRow(d.Summary(), d.Stale)
		t.AppendRow(append(row, boardCounts(d.Cards)))
		total += d.CardCount
	}
	t.AppendFooter(table.Row{"", "", "", "", total, "", "", ""})
	t.Render()
}

// boardCounts renders "commanders:1 mainboard:99" in first-seen board order.
func boardCounts(cards []model.Card) string {
	counts := map[model.Board]int{}
	var order []model.Board
	for _, c := range cards {
		if _, ok := counts[c.Board]; !ok {
			order = append(order, c.Board)
		}
		counts[c.Board] += c.Quantity
	}
	parts := make([]string, 0, len(order))
	for _, b := range order {
		parts = append(parts, fmt.Sprintf("%s:%d", b, counts[b]))
	}
	return strings.Join(parts, " ")
}

func renderSyncRuns(w io.Writer, runs []model.SyncRun) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Mode", "Outcome", "Fetched", "Skipped", "Stale", "Persist failures", "Started", "Took", "Error"})
	for _, r := range runs {
		took := "-"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			r.ID, r.Mode, r.Outcome, r.Fetched, r.Skipped, r.Stale, r.PersistFailures,
			formatTime(&r.StartedAt), took, r.Error,
		})
	}
	t.Render()
}
