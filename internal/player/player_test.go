package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrameBytes = 64

type fakeQueue struct {
	mu    sync.Mutex
	items []repository.QueueItem
}

func (q *fakeQueue) DequeueHead(ctx context.Context, guildID string) (*repository.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return &item, nil
}

func (q *fakeQueue) ShuffleRemaining(ctx context.Context, guildID string) error { return nil }

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
}

func (r *fakeResolver) Resolve(ctx context.Context, url string) (*resolver.ResolvedStream, error) {
	r.mu.Lock()
	r.calls = append(r.calls, url)
	fail := r.failFor[url]
	r.mu.Unlock()
	if fail {
		return nil, resolver.ErrUnresolvable
	}
	return &resolver.ResolvedStream{StreamURL: "media://" + url, SourceURL: url}, nil
}

// fakeStream serves `frames` zero frames, then either reports EOF or
// blocks like a live source until the track context dies or Close runs.
type fakeStream struct {
	ctx       context.Context
	mu        sync.Mutex
	remaining int
	live      bool
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeStream(ctx context.Context, frames int, live bool) *fakeStream {
	return &fakeStream{
		ctx:       ctx,
		remaining: frames * testFrameBytes,
		live:      live,
		done:      make(chan struct{}),
	}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.remaining > 0 {
		n := len(p)
		if n > s.remaining {
			n = s.remaining
		}
		s.remaining -= n
		s.mu.Unlock()
		for i := 0; i < n; i++ {
			p[i] = 0
		}
		return n, nil
	}
	s.mu.Unlock()
	if !s.live {
		return 0, io.EOF
	}
	select {
	case <-s.ctx.Done():
		return 0, io.EOF
	case <-s.done:
		return 0, io.EOF
	}
}

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type streamCall struct {
	url     string
	startAt time.Duration
}

type fakePipeline struct {
	mu      sync.Mutex
	calls   []streamCall
	streams []*fakeStream

	// frames/live per source URL; defaults to a short finite track.
	framesFor map[string]int
	liveFor   map[string]bool
}

func (p *fakePipeline) Stream(ctx context.Context, src *resolver.ResolvedStream, startAt time.Duration) (AudioStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames, ok := p.framesFor[src.SourceURL]
	if !ok {
		frames = 3
	}
	s := newFakeStream(ctx, frames, p.liveFor[src.SourceURL])
	p.calls = append(p.calls, streamCall{url: src.SourceURL, startAt: startAt})
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakePipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePipeline) call(i int) streamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[i]
}

func (p *fakePipeline) stream(i int) *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[i]
}

type fakeEncoder struct{}

func (fakeEncoder) Close()          {}
func (fakeEncoder) FrameBytes() int { return testFrameBytes }
func (fakeEncoder) EncodeFrame(pcm []byte, onPacket func(pkt []byte) error) error {
	return onPacket(pcm)
}

type fakeSink struct {
	mu      sync.Mutex
	packets int
	fail    bool
}

func (s *fakeSink) Speaking(on bool) error { return nil }

func (s *fakeSink) WriteOpus(ctx context.Context, pkt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("transport rejected packet")
	}
	s.packets++
	return nil
}

func (s *fakeSink) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

func (s *fakeSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

type fakeVoice struct {
	mu      sync.Mutex
	sink    *fakeSink
	present bool
}

func (v *fakeVoice) Sink(guildID string) (Sink, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.present {
		return nil, false
	}
	return v.sink, true
}

func (v *fakeVoice) setPresent(p bool) {
	v.mu.Lock()
	v.present = p
	v.mu.Unlock()
}

func (v *fakeVoice) setSink(s *fakeSink) {
	v.mu.Lock()
	v.sink = s
	v.mu.Unlock()
}

type fakeHistory struct {
	mu     sync.Mutex
	played []string
}

func (h *fakeHistory) RecordPlayed(ctx context.Context, item *repository.QueueItem) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.played = append(h.played, item.URL)
	return nil
}

func (h *fakeHistory) playedURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.played...)
}

type fakeResume struct {
	mu    sync.Mutex
	saved *repository.PersistedGuildState
}

func (r *fakeResume) SaveResumeState(ctx context.Context, st *repository.PersistedGuildState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = st
	return nil
}

func (r *fakeResume) DeleteResumeState(ctx context.Context, guildID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = nil
	return nil
}

func (r *fakeResume) snapshot() *repository.PersistedGuildState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}

type fixture struct {
	queue  *fakeQueue
	res    *fakeResolver
	pipe   *fakePipeline
	sink   *fakeSink
	voice  *fakeVoice
	hist   *fakeHistory
	resume *fakeResume
	player *Player
}

func item(url string) repository.QueueItem {
	return repository.QueueItem{
		ID:      "id-" + url,
		GuildID: "g1",
		Source:  repository.SourceYouTube,
		URL:     url,
		Title:   url,
	}
}

func newFixture(t *testing.T, events Events, items ...repository.QueueItem) *fixture {
	t.Helper()
	f := &fixture{
		queue:  &fakeQueue{items: items},
		res:    &fakeResolver{failFor: map[string]bool{}},
		pipe:   &fakePipeline{framesFor: map[string]int{}, liveFor: map[string]bool{}},
		sink:   &fakeSink{},
		hist:   &fakeHistory{},
		resume: &fakeResume{},
	}
	f.voice = &fakeVoice{sink: f.sink, present: true}
	deps := Deps{
		Queue:              f.queue,
		History:            f.hist,
		Resume:             f.resume,
		Resolver:           f.res,
		Pipeline:           f.pipe,
		NewEncoder:         func() (Encoder, error) { return fakeEncoder{}, nil },
		Voice:              f.voice,
		ResolveTimeout:     time.Second,
		StreamStartTimeout: 250 * time.Millisecond,
		LoopStopWait:       2 * time.Second,
	}
	f.player = NewManager(deps, events).Get("g1")
	t.Cleanup(f.player.Stop)
	return f
}

func (f *fixture) markLive(url string) {
	f.pipe.mu.Lock()
	f.pipe.framesFor[url] = 500
	f.pipe.liveFor[url] = true
	f.pipe.mu.Unlock()
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func TestConcurrentStartSpawnsOneLoop(t *testing.T) {
	f := newFixture(t, Events{}, item("a"), item("b"))
	f.markLive("a")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.player.Start("vc1", "tc1")
		}()
	}
	wg.Wait()

	eventually(t, func() bool { return f.sink.sent() > 0 }, "first track never delivered")
	time.Sleep(50 * time.Millisecond)

	// A second loop would have dequeued "b" and launched its stream.
	assert.Equal(t, 1, f.pipe.callCount())
	assert.Equal(t, 1, f.queue.size())
	assert.Equal(t, StatusPlaying, f.player.Status())
}

func TestSkipAdvancesWithoutStoppingLoop(t *testing.T) {
	f := newFixture(t, Events{}, item("a"), item("b"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.sink.sent() > 0 }, "track a never delivered")

	skippedAt := time.Now()
	f.player.Skip()

	eventually(t, func() bool { return f.pipe.callCount() == 2 }, "loop never advanced to b")
	assert.Less(t, time.Since(skippedAt), time.Second, "skip latency must be bounded")
	assert.Equal(t, "b", f.pipe.call(1).url)

	// b is short and finite, so the loop drains and shuts itself down.
	eventually(t, func() bool { return f.player.Status() == StatusStopped }, "loop never drained")
	assert.Equal(t, []string{"b"}, f.hist.playedURLs(), "skipped tracks must not enter history")
	assert.True(t, f.pipe.stream(0).closed(), "skipped track's stream must be torn down")
}

func TestStopDiscardsCurrentAndPreservesQueue(t *testing.T) {
	f := newFixture(t, Events{}, item("a"), item("b"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.sink.sent() > 0 }, "track a never delivered")
	f.player.Stop()

	assert.Equal(t, StatusStopped, f.player.Status())
	assert.Nil(t, f.player.GetCurrent())
	assert.Equal(t, 1, f.queue.size(), "stop must not clear queued items")

	// A fresh start plays the preserved head, not the discarded track.
	f.player.Start("", "")
	eventually(t, func() bool { return f.pipe.callCount() == 2 }, "restart never played")
	assert.Equal(t, "b", f.pipe.call(1).url)
}

func TestElapsedFrozenWhilePaused(t *testing.T) {
	f := newFixture(t, Events{}, item("a"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.player.Elapsed() > 0 }, "elapsed never advanced")

	require.NoError(t, f.player.Pause())
	e1 := f.player.Elapsed()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, e1, f.player.Elapsed(), "elapsed must freeze while paused")
	assert.Equal(t, StatusPaused, f.player.Status())

	require.NoError(t, f.player.Resume())
	eventually(t, func() bool { return f.player.Elapsed() > e1 }, "elapsed never resumed")
}

func TestPauseWhenStoppedErrs(t *testing.T) {
	f := newFixture(t, Events{})
	assert.ErrorIs(t, f.player.Pause(), ErrNotPlaying)
	assert.ErrorIs(t, f.player.Resume(), ErrNotPaused)
}

func TestFailedTrackAdvancesToNext(t *testing.T) {
	f := newFixture(t, Events{}, item("bad"), item("good"))
	f.res.failFor["bad"] = true
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.player.Status() == StatusStopped }, "loop never drained")
	assert.Equal(t, []string{"good"}, f.hist.playedURLs())
}

func TestQueueDrainsInOrderThenStops(t *testing.T) {
	var mu sync.Mutex
	var started []string
	stopped := 0
	events := Events{
		TrackStarted: func(guildID string, it repository.QueueItem) {
			mu.Lock()
			started = append(started, it.URL)
			mu.Unlock()
		},
		Stopped: func(guildID string) {
			mu.Lock()
			stopped++
			mu.Unlock()
		},
	}
	f := newFixture(t, events, item("a"), item("b"))
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.player.Status() == StatusStopped }, "loop never drained")
	assert.Equal(t, []string{"a", "b"}, f.hist.playedURLs())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, started)
	assert.Equal(t, 1, stopped)
}

func TestTransportLossPausesPreservingCurrent(t *testing.T) {
	f := newFixture(t, Events{}, item("a"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.sink.sent() > 0 }, "track never delivered")

	f.voice.setPresent(false)
	f.sink.setFail(true)
	f.player.HandleVoiceDisconnected()

	assert.Equal(t, StatusPaused, f.player.Status())
	require.NotNil(t, f.player.GetCurrent())
	assert.Equal(t, "a", f.player.GetCurrent().URL)

	snap := f.resume.snapshot()
	require.NotNil(t, snap, "transport loss must persist a resume snapshot")
	assert.Equal(t, "a", snap.Item.URL)
	assert.Equal(t, "vc1", snap.VoiceChannelID)

	before := f.sink.sent()
	f.sink.setFail(false)
	f.voice.setPresent(true)
	f.player.HandleVoiceConnected()

	eventually(t, func() bool { return f.sink.sent() > before }, "delivery never resumed")
	assert.Equal(t, StatusPlaying, f.player.Status())
}

func TestReconnectDeliversToReplacementSink(t *testing.T) {
	f := newFixture(t, Events{}, item("a"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")
	eventually(t, func() bool { return f.sink.sent() > 0 }, "track never delivered")

	f.voice.setPresent(false)
	f.sink.setFail(true)
	f.player.HandleVoiceDisconnected()
	require.Equal(t, StatusPaused, f.player.Status())

	// The reconnect hands out a brand new sink while the old one stays
	// dead; delivery must land on the new one, not park paused again.
	fresh := &fakeSink{}
	f.voice.setSink(fresh)
	f.voice.setPresent(true)
	f.player.HandleVoiceConnected()

	eventually(t, func() bool { return fresh.sent() > 0 }, "replacement sink never received packets")
	assert.Equal(t, StatusPlaying, f.player.Status())
}

func TestReconnectDoesNotOverrideUserPause(t *testing.T) {
	f := newFixture(t, Events{}, item("a"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")
	eventually(t, func() bool { return f.sink.sent() > 0 }, "track never delivered")

	require.NoError(t, f.player.Pause())
	f.player.HandleVoiceConnected()
	assert.Equal(t, StatusPaused, f.player.Status())
}

func TestRepeatedSendFailuresParkPaused(t *testing.T) {
	f := newFixture(t, Events{}, item("a"))
	f.markLive("a")
	f.player.Start("vc1", "tc1")
	eventually(t, func() bool { return f.sink.sent() > 0 }, "track never delivered")

	f.sink.setFail(true)
	eventually(t, func() bool { return f.player.Status() == StatusPaused }, "drops never parked playback")
	require.NotNil(t, f.player.GetCurrent())

	f.sink.setFail(false)
	f.player.HandleVoiceConnected()
	eventually(t, func() bool { return f.player.Status() == StatusPlaying }, "playback never came back")
}

func TestSilentStreamFailsAndAdvances(t *testing.T) {
	f := newFixture(t, Events{}, item("silent"), item("good"))
	f.pipe.mu.Lock()
	f.pipe.framesFor["silent"] = 0
	f.pipe.liveFor["silent"] = true
	f.pipe.mu.Unlock()
	f.player.Start("vc1", "tc1")

	// The silent stream never produces a byte; the start deadline must
	// fail it and move on.
	eventually(t, func() bool { return f.player.Status() == StatusStopped }, "loop never advanced past silent stream")
	assert.Equal(t, []string{"good"}, f.hist.playedURLs())
}

func TestPendingSeekConsumedByNextTrackOnly(t *testing.T) {
	second := item("b")
	second.Offset = 10
	f := newFixture(t, Events{}, item("a"), second)
	f.player.SetPendingSeek(30 * time.Second)
	f.player.Start("vc1", "tc1")

	eventually(t, func() bool { return f.player.Status() == StatusStopped }, "loop never drained")
	require.Equal(t, 2, f.pipe.callCount())
	assert.Equal(t, 30*time.Second, f.pipe.call(0).startAt, "restored snapshot position must seek")
	assert.Equal(t, 10*time.Second, f.pipe.call(1).startAt, "chapter offset must seek, pending seek must not leak")
}

func TestDurationLimitCutsRunawayStream(t *testing.T) {
	runaway := item("a")
	runaway.Length = 1 // declared one second, stream never ends
	f := newFixture(t, Events{}, runaway)
	f.markLive("a")
	f.player.Start("vc1", "tc1")

	// 1s declared + 2s grace, paced at 20ms per frame.
	eventually2 := func(cond func() bool, msg string) {
		require.Eventually(t, cond, 6*time.Second, 10*time.Millisecond, msg)
	}
	eventually2(func() bool { return f.player.Status() == StatusStopped }, "runaway stream never cut off")
	assert.Equal(t, []string{"a"}, f.hist.playedURLs(), "cut-off track still counts as played")
}
