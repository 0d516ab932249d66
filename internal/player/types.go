// Package player holds the per-guild playback engine: a single
// advancement loop per guild that dequeues, resolves, transcodes and
// delivers tracks until the queue drains or the loop is stopped.
package player

import (
	"context"
	"io"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/resolver"
)

type Status int

const (
	StatusStopped Status = iota
	StatusPlaying
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// QueueStore is the durable per-guild FIFO the loop advances through.
// Dequeue removes the head; a nil item with nil error means drained.
type QueueStore interface {
	DequeueHead(ctx context.Context, guildID string) (*repository.QueueItem, error)
	ShuffleRemaining(ctx context.Context, guildID string) error
}

type HistoryStore interface {
	RecordPlayed(ctx context.Context, item *repository.QueueItem) error
}

type ResumeStore interface {
	SaveResumeState(ctx context.Context, st *repository.PersistedGuildState) error
	DeleteResumeState(ctx context.Context, guildID string) error
}

// AudioStream is a live PCM feed. Close must not block on subprocess
// teardown.
type AudioStream interface {
	io.Reader
	Close()
}

type Pipeline interface {
	Stream(ctx context.Context, src *resolver.ResolvedStream, startAt time.Duration) (AudioStream, error)
}

type Encoder interface {
	Close()
	FrameBytes() int
	EncodeFrame(pcm []byte, onPacket func(pkt []byte) error) error
}

// EncoderFactory builds one encoder per track; encoder state never
// crosses track boundaries.
type EncoderFactory func() (Encoder, error)

// Sink delivers encoded packets to the guild's voice transport.
type Sink interface {
	Speaking(on bool) error
	WriteOpus(ctx context.Context, pkt []byte) error
}

// VoiceProvider yields the guild's current sink. The loop re-fetches it
// lazily so a reconnect lands in a new sink without restarting the track.
type VoiceProvider interface {
	Sink(guildID string) (Sink, bool)
}

// Deps is the engine's wiring surface. Everything is an interface so
// the loop's behavior is testable without a network, ffmpeg or Discord.
type Deps struct {
	Queue      QueueStore
	History    HistoryStore
	Resume     ResumeStore
	Resolver   resolver.Resolver
	Pipeline   Pipeline
	NewEncoder EncoderFactory
	Voice      VoiceProvider

	ResolveTimeout time.Duration
	// StreamStartTimeout bounds the wait for the first PCM bytes after
	// the transcode subprocess launches.
	StreamStartTimeout time.Duration
	LoopStopWait       time.Duration
}

// Events are optional notifications fired outside the player mutex.
// Callbacks must not call back into the same Player synchronously.
type Events struct {
	TrackStarted func(guildID string, item repository.QueueItem)
	Stopped      func(guildID string)
}
