package repository

import (
	"context"
	"time"
)

func (r *Repo) RecordPlayed(ctx context.Context, item *QueueItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (guild_id, added_by, source, url, title, artist, played_at)
		VALUES (?,?,?,?,?,?,?)`,
		item.GuildID, item.AddedBy, item.Source, item.URL,
		item.Title, item.Artist, time.Now().Unix(),
	)
	return err
}

// RecentlyPlayed returns distinct recent tracks, newest first. Feeds the
// /play autocomplete.
func (r *Repo) RecentlyPlayed(ctx context.Context, guildID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT guild_id, added_by, source, url, title, artist, MAX(played_at)
		FROM history WHERE guild_id = ?
		GROUP BY url
		ORDER BY MAX(played_at) DESC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.GuildID, &h.AddedBy, &h.Source, &h.URL,
			&h.Title, &h.Artist, &h.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
