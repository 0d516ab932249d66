package repository

import (
	"context"
	"database/sql"
	"errors"
)

func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	return r.GetSettings(ctx, guild)
}

func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT guild_id, playlist_limit, seconds_wait_after_empty,
		       queue_add_ephemeral, default_queue_page_size
		FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var eph int
	if err := row.Scan(&s.GuildID, &s.PlaylistLimit, &s.SecondsWaitAfterEmpty,
		&eph, &s.DefaultQueuePageSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	s.QAddEphemeral = eph != 0
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE settings SET
		  playlist_limit=?,
		  seconds_wait_after_empty=?,
		  queue_add_ephemeral=?,
		  default_queue_page_size=?
		WHERE guild_id=?`,
		s.PlaylistLimit, s.SecondsWaitAfterEmpty, boolToInt(s.QAddEphemeral),
		s.DefaultQueuePageSize, s.GuildID,
	)
	return err
}
