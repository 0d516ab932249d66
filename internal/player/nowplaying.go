package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
)

// Snapshot is one guild's playback state as seen by the projector.
type Snapshot struct {
	GuildID string
	Item    *repository.QueueItem
	Elapsed time.Duration
	Status  Status
}

// StateSource yields the current snapshots of all guilds with a track
// in flight.
type StateSource interface {
	Snapshots() []Snapshot
}

// Publisher renders a snapshot to wherever the guild watches it (a
// pinned message, typically). Failures are the publisher's problem;
// they must never reach playback.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context, guildID string)
}

// Projector periodically pushes playback snapshots to the publisher and
// clears panels for guilds whose playback stopped. It runs on its own
// goroutine with its own lifecycle: cancelling it never touches
// playback, and vice versa.
type Projector struct {
	src      StateSource
	pub      Publisher
	interval time.Duration
	kick     chan struct{}
}

func NewProjector(src StateSource, pub Publisher, interval time.Duration) *Projector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Projector{
		src:      src,
		pub:      pub,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Notify requests an immediate republish, used on track transitions so
// the panel doesn't lag a full interval behind. Never blocks.
func (pr *Projector) Notify() {
	select {
	case pr.kick <- struct{}{}:
	default:
	}
}

// Run drives the projector until ctx is cancelled.
func (pr *Projector) Run(ctx context.Context) {
	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	// Guilds that currently have a panel up, so stopping clears exactly
	// once.
	active := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pr.kick:
		case <-ticker.C:
		}
		pr.publishAll(ctx, active)
	}
}

func (pr *Projector) publishAll(ctx context.Context, active map[string]bool) {
	seen := make(map[string]bool)
	for _, snap := range pr.src.Snapshots() {
		seen[snap.GuildID] = true
		if err := pr.pub.Publish(ctx, snap); err != nil {
			slog.Warn("now-playing publish failed", "guildID", snap.GuildID, "err", err)
			continue
		}
		active[snap.GuildID] = true
	}
	for guildID := range active {
		if !seen[guildID] {
			pr.pub.Clear(ctx, guildID)
			delete(active, guildID)
		}
	}
}
