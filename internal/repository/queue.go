package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sonroyaalmerol/mizubot/internal/utils"
)

var ErrEmptyQueue = errors.New("queue is empty")

const queueCols = `id, guild_id, added_by, source, url, title, artist, length, start_offset, is_live, thumbnail`

func scanQueueItem(row interface{ Scan(...any) error }) (*QueueItem, error) {
	var it QueueItem
	var live int
	if err := row.Scan(&it.ID, &it.GuildID, &it.AddedBy, &it.Source, &it.URL,
		&it.Title, &it.Artist, &it.Length, &it.Offset, &live, &it.Thumbnail); err != nil {
		return nil, err
	}
	it.IsLive = live != 0
	return &it, nil
}

// Enqueue appends an item to the tail of the guild's queue. A missing ID
// is filled in so callers can enqueue bare metadata.
func (r *Repo) Enqueue(ctx context.Context, item *QueueItem) error {
	return r.insertAt(ctx, item, false)
}

// EnqueueFront inserts an item at the head of the queue. Used for
// "play next" additions and for restoring the in-flight item on resume.
func (r *Repo) EnqueueFront(ctx context.Context, item *QueueItem) error {
	return r.insertAt(ctx, item, true)
}

func (r *Repo) insertAt(ctx context.Context, item *QueueItem, front bool) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	pos := `COALESCE((SELECT MAX(position) FROM queue_items WHERE guild_id = ?), 0) + 1`
	if front {
		pos = `COALESCE((SELECT MIN(position) FROM queue_items WHERE guild_id = ?), 0) - 1`
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO queue_items (%s, position)
		VALUES (?,?,?,?,?,?,?,?,?,?,?, (%s))`, queueCols, pos),
		item.ID, item.GuildID, item.AddedBy, item.Source, item.URL,
		item.Title, item.Artist, item.Length, item.Offset,
		boolToInt(item.IsLive), item.Thumbnail, item.GuildID,
	)
	return err
}

// DequeueHead removes and returns the head of the guild's queue.
// Returns (nil, nil) when the queue is empty. Safe for concurrent
// per-guild use: the delete is keyed by the selected row id inside a
// transaction, so the same item is never handed out twice.
func (r *Repo) DequeueHead(ctx context.Context, guildID string) (*QueueItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM queue_items WHERE guild_id = ?
		ORDER BY position ASC LIMIT 1`, queueCols), guildID)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, item.ID); err != nil {
		return nil, err
	}
	return item, tx.Commit()
}

func (r *Repo) GetAllQueued(ctx context.Context, guildID string) ([]QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM queue_items WHERE guild_id = ?
		ORDER BY position ASC`, queueCols), guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (r *Repo) QueueCount(ctx context.Context, guildID string) (int, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE guild_id = ?`, guildID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ShuffleRemaining randomizes the order of the guild's queued items. The
// currently playing item was already dequeued, so it is untouched by
// construction. Returns ErrEmptyQueue when there is nothing to shuffle.
func (r *Repo) ShuffleRemaining(ctx context.Context, guildID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM queue_items WHERE guild_id = ? ORDER BY position ASC`, guildID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrEmptyQueue
	}

	utils.ShuffleSlice(ids)
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET position = ? WHERE id = ?`, i+1, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) ClearQueue(ctx context.Context, guildID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE guild_id = ?`, guildID)
	return err
}
