package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *fakeSource) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot{}, s.snaps...)
}

func (s *fakeSource) set(snaps ...Snapshot) {
	s.mu.Lock()
	s.snaps = snaps
	s.mu.Unlock()
}

type fakePublisher struct {
	mu        sync.Mutex
	published []Snapshot
	cleared   []string
}

func (p *fakePublisher) Publish(ctx context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, snap)
	return nil
}

func (p *fakePublisher) Clear(ctx context.Context, guildID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, guildID)
}

func (p *fakePublisher) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakePublisher) at(i int) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[i]
}

func (p *fakePublisher) clearedGuilds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.cleared...)
}

func playingSnap(guildID, url string) Snapshot {
	return Snapshot{
		GuildID: guildID,
		Item:    &repository.QueueItem{GuildID: guildID, URL: url, Title: url},
		Status:  StatusPlaying,
	}
}

func TestProjectorPublishesImmediatelyOnNotify(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	// Interval far beyond the test window; only Notify can trigger.
	pr := NewProjector(src, pub, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pr.Run(ctx)

	src.set(playingSnap("g1", "a"))
	pr.Notify()

	require.Eventually(t, func() bool { return pub.publishCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a", pub.at(0).Item.URL)
}

func TestProjectorClearsStoppedGuildsOnce(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	pr := NewProjector(src, pub, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pr.Run(ctx)

	src.set(playingSnap("g1", "a"))
	pr.Notify()
	require.Eventually(t, func() bool { return pub.publishCount() == 1 }, time.Second, 5*time.Millisecond)

	src.set()
	pr.Notify()
	require.Eventually(t, func() bool { return len(pub.clearedGuilds()) == 1 }, time.Second, 5*time.Millisecond)

	pr.Notify()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"g1"}, pub.clearedGuilds(), "clear must fire exactly once per stop")
}

func TestProjectorStopsWithItsOwnContext(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	pr := NewProjector(src, pub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pr.Run(ctx)
		close(done)
	}()

	src.set(playingSnap("g1", "a"))
	require.Eventually(t, func() bool { return pub.publishCount() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("projector did not stop on context cancel")
	}
}

func TestProgressBarPlacesMarker(t *testing.T) {
	bar := ProgressBar(30*time.Second, 60*time.Second, 10)
	assert.Contains(t, bar, "🔘")

	full := ProgressBar(0, 0, 10)
	assert.NotContains(t, full, "🔘", "unknown length renders no marker")
}
