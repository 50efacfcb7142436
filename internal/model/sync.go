package model

import "time"

// SyncMode records which entry point triggered a sync.
type SyncMode string

const (
	SyncModeConsolidated SyncMode = "consolidated"
	SyncModeSummary      SyncMode = "summary"
)

// SyncOutcome is the terminal state of a sync run.
type SyncOutcome string

const (
	SyncRunning  SyncOutcome = "running"
	SyncOK       SyncOutcome = "ok"
	SyncDegraded SyncOutcome = "degraded" // finished, but some decks failed to persist
	SyncFailed   SyncOutcome = "failed"
)

// SyncRun is one pass of the fetch-persist pipeline for a user.
// ID is an xid, so runs sort by start time.
type SyncRun struct {
	ID              string      `json:"id"              db:"id"`
	Username        string      `json:"userName"        db:"username"`
	Mode            SyncMode    `json:"mode"            db:"mode"`
	Outcome         SyncOutcome `json:"outcome"         db:"outcome"`
	Fetched         int         `json:"fetched"         db:"fetched"`
	Skipped         int         `json:"skipped"         db:"skipped"`
	Stale           int         `json:"stale"           db:"stale"`
	PersistFailures int         `json:"persistFailures" db:"persist_failures"`
	Error           string      `json:"error,omitempty" db:"error"`
	StartedAt       time.Time   `json:"startedAt"       db:"started_at"`
	FinishedAt      *time.Time  `json:"finishedAt,omitempty" db:"finished_at"`
}
