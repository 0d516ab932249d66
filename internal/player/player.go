package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
)

var (
	ErrNotPlaying = errors.New("not currently playing")
	ErrNotPaused  = errors.New("not currently paused")
)

// outcome classifies how one track's playback ended.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSkipped
	outcomeStopped
	outcomeFailed
)

// maxConsecutiveDrops is how many packet sends may fail in a row before
// the transport is treated as gone and playback parks itself paused.
const maxConsecutiveDrops = 5

// Player is one guild's playback engine. All mutating operations are
// serialized on mu; the advancement loop runs on its own goroutine and
// owns the stream, encoder and sink for the track it is playing.
type Player struct {
	guildID string
	deps    Deps
	events  Events

	mu      sync.Mutex
	status  Status
	current *repository.QueueItem

	// Elapsed accounting. trackStartedAt is zero while paused or before
	// the first frame is delivered; elapsedBeforePause accumulates the
	// frozen portion across pauses.
	trackStartedAt     time.Time
	elapsedBeforePause time.Duration

	// pendingSeek is consumed by the next track start. Set when restoring
	// a persisted snapshot after a restart.
	pendingSeek time.Duration

	voiceChannelID    string
	feedbackChannelID string

	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	trackCancel context.CancelFunc

	// resumeCh is non-nil while paused; closing it releases the delivery
	// loop. pausedByTransport marks pauses the engine imposed itself, so
	// a reconnect may auto-resume without overriding a user's pause.
	resumeCh          chan struct{}
	pausedByTransport bool
}

func newPlayer(guildID string, deps Deps, events Events) *Player {
	return &Player{guildID: guildID, deps: deps, events: events}
}

// Start spawns the advancement loop. A no-op when the loop is already
// alive, so concurrent play commands can race it safely.
func (p *Player) Start(voiceChannelID, feedbackChannelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if voiceChannelID != "" {
		p.voiceChannelID = voiceChannelID
	}
	if feedbackChannelID != "" {
		p.feedbackChannelID = feedbackChannelID
	}
	if p.loopDone != nil {
		select {
		case <-p.loopDone:
		default:
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.loopCancel = cancel
	p.loopDone = done
	go p.run(ctx, done)
}

// Stop cancels the whole loop and waits, bounded, for it to unwind.
// Queued items stay in storage; only the in-flight track is discarded.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.loopCancel
	done := p.loopDone
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	wait := p.deps.LoopStopWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(wait):
		slog.Warn("playback loop did not unwind in time", "guildID", p.guildID)
	}
}

// Skip cancels only the current track; the loop survives and advances.
// No-op when nothing is playing.
func (p *Player) Skip() {
	p.mu.Lock()
	cancel := p.trackCancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause freezes delivery and elapsed accounting without discarding the
// current track.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPlaying {
		return ErrNotPlaying
	}
	p.pauseLocked()
	p.pausedByTransport = false
	return nil
}

// Resume releases a paused delivery loop.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPaused {
		return ErrNotPaused
	}
	p.resumeLocked()
	p.pausedByTransport = false
	return nil
}

// Shuffle reorders the queued items; the current track is unaffected.
func (p *Player) Shuffle(ctx context.Context) error {
	return p.deps.Queue.ShuffleRemaining(ctx, p.guildID)
}

// SetPendingSeek arranges for the next track to start that far in.
func (p *Player) SetPendingSeek(d time.Duration) {
	p.mu.Lock()
	p.pendingSeek = d
	p.mu.Unlock()
}

func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Player) IsPlaying() bool { return p.Status() == StatusPlaying }

// GetCurrent returns a copy of the in-flight item, or nil.
func (p *Player) GetCurrent() *repository.QueueItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	item := *p.current
	return &item
}

// Elapsed is the playback position within the current track. Monotonic
// while playing, frozen while paused.
func (p *Player) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsedLocked()
}

func (p *Player) VoiceChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannelID
}

func (p *Player) FeedbackChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feedbackChannelID
}

// Snapshot captures the current playback state for persistence. Nil
// when nothing is in flight.
func (p *Player) Snapshot() *repository.PersistedGuildState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Player) snapshotLocked() *repository.PersistedGuildState {
	if p.current == nil {
		return nil
	}
	item := *p.current
	return &repository.PersistedGuildState{
		GuildID:           p.guildID,
		VoiceChannelID:    p.voiceChannelID,
		FeedbackChannelID: p.feedbackChannelID,
		ResumePosition:    int(p.elapsedLocked().Seconds()),
		Item:              &item,
	}
}

// HandleVoiceDisconnected reacts to passive transport loss: playback
// parks itself paused with the loop alive, and a resume snapshot is
// written in case the process dies before the transport comes back.
func (p *Player) HandleVoiceDisconnected() {
	p.mu.Lock()
	if p.status == StatusPlaying {
		p.pauseLocked()
		p.pausedByTransport = true
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if snap == nil || p.deps.Resume == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Resume.SaveResumeState(ctx, snap); err != nil {
		slog.Error("saving resume snapshot failed", "guildID", p.guildID, "err", err)
	}
}

// HandleVoiceConnected resumes playback that the engine paused for a
// lost transport. User-initiated pauses are left alone.
func (p *Player) HandleVoiceConnected() {
	p.mu.Lock()
	if p.status == StatusPaused && p.pausedByTransport {
		p.pausedByTransport = false
		p.resumeLocked()
	}
	p.mu.Unlock()
}

func (p *Player) elapsedLocked() time.Duration {
	if p.status == StatusPlaying && !p.trackStartedAt.IsZero() {
		return p.elapsedBeforePause + time.Since(p.trackStartedAt)
	}
	return p.elapsedBeforePause
}

func (p *Player) pauseLocked() {
	p.elapsedBeforePause = p.elapsedLocked()
	p.trackStartedAt = time.Time{}
	p.status = StatusPaused
	if p.resumeCh == nil {
		p.resumeCh = make(chan struct{})
	}
}

func (p *Player) resumeLocked() {
	p.status = StatusPlaying
	if p.resumeCh != nil {
		close(p.resumeCh)
		p.resumeCh = nil
	}
}

func (p *Player) takePendingSeek() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.pendingSeek
	p.pendingSeek = 0
	return s
}

// run is the advancement loop: dequeue, resolve, stream, deliver,
// advance. It exits when the queue drains, the loop context is
// cancelled, or the queue store fails.
func (p *Player) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("playback loop panic recovered", "guildID", p.guildID, "panic", r)
		}
		p.mu.Lock()
		p.status = StatusStopped
		p.current = nil
		p.trackCancel = nil
		p.trackStartedAt = time.Time{}
		p.elapsedBeforePause = 0
		p.pausedByTransport = false
		if p.resumeCh != nil {
			close(p.resumeCh)
			p.resumeCh = nil
		}
		p.mu.Unlock()
		p.emitStopped()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		item, err := p.deps.Queue.DequeueHead(ctx, p.guildID)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("queue dequeue failed", "guildID", p.guildID, "err", err)
			}
			return
		}
		if item == nil {
			slog.Debug("queue drained", "guildID", p.guildID)
			return
		}

		switch p.playItem(ctx, item, p.takePendingSeek()) {
		case outcomeCompleted:
			p.recordPlayed(item)
			p.clearResumeState()
		case outcomeSkipped:
			slog.Debug("track skipped", "guildID", p.guildID, "title", item.Title)
		case outcomeFailed:
			slog.Warn("track failed, advancing", "guildID", p.guildID, "url", item.URL)
		case outcomeStopped:
			return
		}
	}
}

// playItem owns a single track from resolution to last frame. startAt
// is the position within the item (a chapter item's own offset is added
// on top when seeking the source).
func (p *Player) playItem(loopCtx context.Context, item *repository.QueueItem, startAt time.Duration) outcome {
	trackCtx, cancelTrack := context.WithCancel(loopCtx)
	defer cancelTrack()

	p.mu.Lock()
	p.current = item
	p.trackCancel = cancelTrack
	p.trackStartedAt = time.Time{}
	p.elapsedBeforePause = startAt
	p.status = StatusPlaying
	if p.resumeCh != nil {
		close(p.resumeCh)
		p.resumeCh = nil
	}
	p.mu.Unlock()
	p.emitTrackStarted(*item)

	resolveCtx := trackCtx
	if p.deps.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		resolveCtx, cancel = context.WithTimeout(trackCtx, p.deps.ResolveTimeout)
		defer cancel()
	}
	// Media URLs expire; resolve fresh on every attempt, resume included.
	src, err := p.deps.Resolver.Resolve(resolveCtx, item.URL)
	if err != nil {
		if out, cancelled := classifyCancel(loopCtx, trackCtx); cancelled {
			return out
		}
		slog.Warn("resolve failed", "guildID", p.guildID, "url", item.URL, "err", err)
		return outcomeFailed
	}

	seek := time.Duration(item.Offset)*time.Second + startAt
	st, err := p.deps.Pipeline.Stream(trackCtx, src, seek)
	if err != nil {
		if out, cancelled := classifyCancel(loopCtx, trackCtx); cancelled {
			return out
		}
		slog.Warn("transcode launch failed", "guildID", p.guildID, "url", item.URL, "err", err)
		return outcomeFailed
	}
	defer st.Close()

	enc, err := p.deps.NewEncoder()
	if err != nil {
		slog.Error("encoder init failed", "guildID", p.guildID, "err", err)
		return outcomeFailed
	}
	defer enc.Close()

	return p.deliver(loopCtx, trackCtx, item, st, enc)
}

// deliver pumps PCM frames through the encoder into the sink at frame
// cadence. The sink is fetched lazily so reconnects slot in without a
// restart; when it is missing or keeps rejecting writes, the loop parks
// itself paused until the transport returns.
func (p *Player) deliver(loopCtx, trackCtx context.Context, item *repository.QueueItem, st AudioStream, enc Encoder) outcome {
	var sink Sink
	frame := make([]byte, enc.FrameBytes())
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	// Known-length tracks get a hard ceiling: declared length plus a
	// short grace, measured in delivered time so pauses don't count.
	var limit time.Duration
	if item.Length > 0 && !item.IsLive {
		limit = time.Duration(item.Length)*time.Second + 2*time.Second
	}
	drops := 0
	awaitingFirst := true

	for {
		waited, err := p.waitWhilePaused(trackCtx)
		if err != nil {
			out, _ := classifyCancel(loopCtx, trackCtx)
			return out
		}
		if waited {
			// The transport may have been replaced while parked; the old
			// sink must never be written to again.
			sink = nil
			drops = 0
		}

		if sink == nil {
			s, ok := p.deps.Voice.Sink(p.guildID)
			if !ok {
				p.pauseForTransport()
				continue
			}
			sink = s
			if err := sink.Speaking(true); err != nil {
				slog.Warn("speaking toggle failed", "guildID", p.guildID, "err", err)
			}
		}

		if limit > 0 && p.Elapsed() >= limit {
			slog.Warn("track exceeded declared length, cutting off",
				"guildID", p.guildID, "title", item.Title, "limit", limit)
			return outcomeCompleted
		}

		var n int
		if awaitingFirst && p.deps.StreamStartTimeout > 0 {
			// A subprocess that launches fine but never produces output
			// must not wedge the loop.
			n, err = readFullTimeout(trackCtx, st, frame, p.deps.StreamStartTimeout)
		} else {
			n, err = io.ReadFull(st, frame)
		}
		if err != nil {
			if out, cancelled := classifyCancel(loopCtx, trackCtx); cancelled {
				return out
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if n > 0 {
					for i := n; i < len(frame); i++ {
						frame[i] = 0
					}
					_ = p.sendFrame(trackCtx, sink, enc, frame)
				}
				return outcomeCompleted
			}
			slog.Warn("pcm read failed", "guildID", p.guildID, "err", err)
			return outcomeFailed
		}
		awaitingFirst = false

		select {
		case <-trackCtx.Done():
			out, _ := classifyCancel(loopCtx, trackCtx)
			return out
		case <-ticker.C:
		}

		if err := p.sendFrame(trackCtx, sink, enc, frame); err != nil {
			if out, cancelled := classifyCancel(loopCtx, trackCtx); cancelled {
				return out
			}
			drops++
			if drops >= maxConsecutiveDrops {
				slog.Warn("transport rejecting packets, parking paused",
					"guildID", p.guildID, "drops", drops)
				sink = nil
				drops = 0
				p.pauseForTransport()
			}
			continue
		}
		drops = 0
		p.markDelivering()
	}
}

func (p *Player) sendFrame(ctx context.Context, sink Sink, enc Encoder, frame []byte) error {
	return enc.EncodeFrame(frame, func(pkt []byte) error {
		return sink.WriteOpus(ctx, pkt)
	})
}

var errNoStreamData = errors.New("no data from transcode pipeline")

// readFullTimeout races one full-frame read against a deadline. Used
// only for a track's first frame; the reader goroutine unblocks when
// the caller tears the stream down.
func readFullTimeout(ctx context.Context, r io.Reader, buf []byte, d time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := io.ReadFull(r, buf)
		ch <- result{n: n, err: err}
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
		return 0, errNoStreamData
	}
}

// waitWhilePaused blocks until playback is live again or the track is
// torn down, and reports whether it blocked at all.
func (p *Player) waitWhilePaused(ctx context.Context) (bool, error) {
	waited := false
	for {
		p.mu.Lock()
		ch := p.resumeCh
		p.mu.Unlock()
		if ch == nil {
			return waited, nil
		}
		waited = true
		select {
		case <-ctx.Done():
			return waited, ctx.Err()
		case <-ch:
		}
	}
}

// markDelivering starts the elapsed clock at the first delivered frame
// after a (re)start, so resolution and buffering time never count.
func (p *Player) markDelivering() {
	p.mu.Lock()
	if p.status == StatusPlaying && p.trackStartedAt.IsZero() {
		p.trackStartedAt = time.Now()
	}
	p.mu.Unlock()
}

func (p *Player) pauseForTransport() {
	p.mu.Lock()
	if p.status == StatusPlaying {
		p.pauseLocked()
		p.pausedByTransport = true
	}
	p.mu.Unlock()
}

// classifyCancel tells stop apart from skip once a context error shows
// up: loop cancellation wins over track cancellation.
func classifyCancel(loopCtx, trackCtx context.Context) (outcome, bool) {
	if loopCtx.Err() != nil {
		return outcomeStopped, true
	}
	if trackCtx.Err() != nil {
		return outcomeSkipped, true
	}
	return outcomeFailed, false
}

func (p *Player) recordPlayed(item *repository.QueueItem) {
	if p.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.History.RecordPlayed(ctx, item); err != nil {
		slog.Error("recording history failed", "guildID", p.guildID, "err", err)
	}
}

func (p *Player) clearResumeState() {
	if p.deps.Resume == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Resume.DeleteResumeState(ctx, p.guildID); err != nil {
		slog.Error("clearing resume snapshot failed", "guildID", p.guildID, "err", err)
	}
}

func (p *Player) emitTrackStarted(item repository.QueueItem) {
	if p.events.TrackStarted != nil {
		p.events.TrackStarted(p.guildID, item)
	}
}

func (p *Player) emitStopped() {
	if p.events.Stopped != nil {
		p.events.Stopped(p.guildID)
	}
}
