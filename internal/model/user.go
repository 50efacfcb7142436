// Package model defines the data structures used throughout the application.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// User is an upstream account whose public decks we mirror.
//
// The identity key is the normalized username (see NormalizeUsername), so
// "BimboLegrand" and "bimbolegrand" are the same user. Username itself keeps
// the casing the upstream reports, which is what we display.
//
// Users are created or refreshed on every successful fetch and never deleted
// by the aggregation pipeline.
type User struct {
	Username        string          `json:"userName"                  db:"username"`
	DisplayName     string          `json:"displayName,omitempty"     db:"display_name"`
	UpstreamID      string          `json:"upstreamId,omitempty"      db:"upstream_id"`
	ProfileImageURL string          `json:"profileImageUrl,omitempty" db:"profile_image_url"`
	ProfileURL      string          `json:"profileUrl,omitempty"      db:"profile_url"`
	Badges          json.RawMessage `json:"badges,omitempty"          db:"badges"` // upstream badge list, kept verbatim
	SyncedAt        time.Time       `json:"syncedAt"                  db:"synced_at"`
}

// Key returns the store key for the user.
func (u *User) Key() string {
	return NormalizeUsername(u.Username)
}

// NormalizeUsername maps a username to its case-insensitive identity key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
