package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (r *Repo) SaveResumeState(ctx context.Context, st *PersistedGuildState) error {
	item := st.Item
	if item == nil {
		item = &QueueItem{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO resume_state (
			guild_id, voice_channel_id, feedback_channel_id, resume_position,
			item_id, item_added_by, item_source, item_url, item_title,
			item_artist, item_length, item_offset, item_is_live, item_thumbnail,
			saved_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.GuildID, st.VoiceChannelID, st.FeedbackChannelID, st.ResumePosition,
		item.ID, item.AddedBy, item.Source, item.URL, item.Title,
		item.Artist, item.Length, item.Offset, boolToInt(item.IsLive), item.Thumbnail,
		time.Now().Unix(),
	)
	return err
}

func (r *Repo) GetResumeState(ctx context.Context, guildID string) (*PersistedGuildState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT guild_id, voice_channel_id, feedback_channel_id, resume_position,
		       item_id, item_added_by, item_source, item_url, item_title,
		       item_artist, item_length, item_offset, item_is_live, item_thumbnail
		FROM resume_state WHERE guild_id = ?`, guildID)
	st, err := scanResumeState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}

// AllResumeStates is read once at process start to offer automatic resume.
func (r *Repo) AllResumeStates(ctx context.Context) ([]PersistedGuildState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT guild_id, voice_channel_id, feedback_channel_id, resume_position,
		       item_id, item_added_by, item_source, item_url, item_title,
		       item_artist, item_length, item_offset, item_is_live, item_thumbnail
		FROM resume_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersistedGuildState
	for rows.Next() {
		st, err := scanResumeState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// DeleteResumeState clears the snapshot on clean disconnect so a stale
// resume target is never replayed into an empty channel. Idempotent.
func (r *Repo) DeleteResumeState(ctx context.Context, guildID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM resume_state WHERE guild_id = ?`, guildID)
	return err
}

func scanResumeState(row interface{ Scan(...any) error }) (*PersistedGuildState, error) {
	var st PersistedGuildState
	var it QueueItem
	var itemID sql.NullString
	var live int
	if err := row.Scan(&st.GuildID, &st.VoiceChannelID, &st.FeedbackChannelID,
		&st.ResumePosition, &itemID, &it.AddedBy, &it.Source, &it.URL,
		&it.Title, &it.Artist, &it.Length, &it.Offset, &live, &it.Thumbnail); err != nil {
		return nil, err
	}
	if itemID.Valid && itemID.String != "" {
		it.ID = itemID.String
		it.GuildID = st.GuildID
		it.IsLive = live != 0
		st.Item = &it
	}
	return &st, nil
}
