package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// QueueItem is one track reference awaiting playback. Immutable once
// enqueued; the engine only ever holds the current item by value.
type QueueItem struct {
	ID        string
	GuildID   string
	AddedBy   string
	Source    string // "youtube" or "hls"
	URL       string // canonical reference, re-resolved on every play
	Title     string
	Artist    string
	Length    int // seconds; 0 when unknown or live
	Offset    int // seconds to start from (chapter splits)
	IsLive    bool
	Thumbnail string
}

const (
	SourceYouTube = "youtube"
	SourceHLS     = "hls"
)

// PersistedGuildState is the resume snapshot written when playback is
// interrupted by a disconnect or shutdown. It embeds the full in-flight
// item because the queue row is deleted at dequeue time.
type PersistedGuildState struct {
	GuildID           string
	VoiceChannelID    string
	FeedbackChannelID string
	ResumePosition    int // seconds into the item
	Item              *QueueItem
}

type Settings struct {
	GuildID               string
	PlaylistLimit         int
	SecondsWaitAfterEmpty int
	QAddEphemeral         bool
	DefaultQueuePageSize  int
}

type HistoryEntry struct {
	GuildID  string
	AddedBy  string
	Source   string
	URL      string
	Title    string
	Artist   string
	PlayedAt int64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
