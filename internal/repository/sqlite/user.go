package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
	"github.com/sakif/deckvault/internal/repository"
)

// compile-time check that *DB implements the whole store contract
var _ repository.Store = (*DB)(nil)

// UpsertUser inserts the user or refreshes their profile.
//
// The row is keyed by the normalized username, so a user fetched as
// "BimboLegrand" and later as "bimbolegrand" is the same row. ON CONFLICT ...
// DO UPDATE keeps the row in place, which matters because decks reference it.
// (INSERT OR REPLACE would delete and re-insert, tripping the foreign key.)
// Write failures are returned as apperror.ErrPersistence.
func (db *DB) UpsertUser(ctx context.Context, user *model.User) error {
	key := user.Key()
	if key == "" {
		return apperror.ValidationFailed("username", "username is required")
	}

	var badges sql.NullString
	if len(user.Badges) > 0 {
		badges = sql.NullString{String: string(user.Badges), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (username_key, username, display_name, upstream_id,
		                    profile_image_url, profile_url, badges, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username_key) DO UPDATE SET
		     username          = excluded.username,
		     display_name      = excluded.display_name,
		     upstream_id       = excluded.upstream_id,
		     profile_image_url = excluded.profile_image_url,
		     profile_url       = excluded.profile_url,
		     badges            = excluded.badges,
		     synced_at         = excluded.synced_at`,
		key,
		user.Username,
		user.DisplayName,
		user.UpstreamID,
		user.ProfileImageURL,
		user.ProfileURL,
		badges,
		formatTime(user.SyncedAt),
	)
	if err != nil {
		return apperror.Persistence("user "+key, fmt.Errorf("sqlite: upserting user %s: %w", key, err))
	}
	return nil
}

// GetUser looks a user up by name, case-insensitively.
// Returns apperror.ErrNotFound if the user was never stored.
func (db *DB) GetUser(ctx context.Context, username string) (*model.User, error) {
	key := model.NormalizeUsername(username)

	var (
		u        model.User
		badges   sql.NullString
		syncedAt string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT username, display_name, upstream_id, profile_image_url, profile_url, badges, synced_at
		 FROM users WHERE username_key = ?`,
		key,
	).Scan(
		&u.Username,
		&u.DisplayName,
		&u.UpstreamID,
		&u.ProfileImageURL,
		&u.ProfileURL,
		&badges,
		&syncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", key, err)
	}

	if badges.Valid {
		u.Badges = []byte(badges.String)
	}
	if u.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", key, err)
	}
	return &u, nil
}
