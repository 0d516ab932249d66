// Package handlers wires the Discord gateway to the playback engine:
// session lifecycle, slash commands, voice state tracking and the
// now-playing panel.
package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/mizubot/internal/config"
	"github.com/sonroyaalmerol/mizubot/internal/player"
	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/resolver"
	"github.com/sonroyaalmerol/mizubot/internal/sources"
	"github.com/sonroyaalmerol/mizubot/internal/spotify"
	"github.com/sonroyaalmerol/mizubot/internal/stream"
	"github.com/sonroyaalmerol/mizubot/internal/voice"
)

type Bot struct {
	cfg  *config.Config
	repo *repository.Repo
	vm   *voice.Manager
	pm   *player.Manager
	cmd  *CommandHandler
	proj *player.Projector

	projMu sync.Mutex

	idleMu     sync.Mutex
	idleTimers map[string]*time.Timer
}

func NewBot(cfg *config.Config, repo *repository.Repo) *Bot {
	b := &Bot{
		cfg:        cfg,
		repo:       repo,
		vm:         voice.NewManager(),
		idleTimers: make(map[string]*time.Timer),
	}

	var sp *spotify.Client
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp = spotify.NewClientCredentials(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}

	deps := player.Deps{
		Queue:              repo,
		History:            repo,
		Resume:             repo,
		Resolver:           resolver.NewYTDLP(cfg.ResolveTimeout),
		Pipeline:           pipelineAdapter{p: stream.NewPipeline(cfg.FFmpegPath)},
		NewEncoder:         newEncoder,
		Voice:              sinkProvider{vm: b.vm},
		ResolveTimeout:     cfg.ResolveTimeout,
		StreamStartTimeout: cfg.StreamStartTimeout,
		LoopStopWait:       cfg.LoopStopWait,
	}
	events := player.Events{
		TrackStarted: func(guildID string, item repository.QueueItem) {
			b.cancelIdleTimer(guildID)
			b.notifyProjector()
		},
		Stopped: func(guildID string) {
			b.notifyProjector()
			b.scheduleIdleDisconnect(guildID)
		},
	}
	b.pm = player.NewManager(deps, events)

	b.vm.OnConnected(func(guildID, channelID string) {
		if p, ok := b.pm.Peek(guildID); ok {
			p.HandleVoiceConnected()
		}
	})
	b.vm.OnDisconnected(func(guildID, channelID string) {
		if p, ok := b.pm.Peek(guildID); ok {
			p.HandleVoiceDisconnected()
		}
	})

	b.cmd = NewCommandHandler(cfg, repo, b.vm, b.pm, sources.NewService(sp), sp)
	return b
}

// Run opens the gateway session and blocks until ctx is cancelled, then
// persists in-flight playback so it can resume after the next start.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	var restoreOnce sync.Once
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected to gateway", "user", s.State.User.Username)
		if b.cfg.BotActivity != "" {
			if err := s.UpdateGameStatus(0, b.cfg.BotActivity); err != nil {
				slog.Warn("setting activity failed", "err", err)
			}
		}
		b.registerCommands(s)
		restoreOnce.Do(func() { b.restorePlayback(context.Background(), s) })
	})

	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot {
			return
		}
		if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			slog.Error("registering commands on new guild failed", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)
	dg.AddHandler(b.vm.HandleVoiceStateUpdate)

	proj := player.NewProjector(b.pm, newPanelPublisher(dg, b.pm), b.cfg.NowPlayingInterval)
	b.projMu.Lock()
	b.proj = proj
	b.projMu.Unlock()
	go proj.Run(ctx)

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	b.persistAndStopAll()
	return nil
}

func (b *Bot) registerCommands(s *discordgo.Session) {
	appID := s.State.User.ID
	if b.cfg.RegisterCommandsOnBot {
		if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
			slog.Error("registering global commands failed", "err", err)
		}
		return
	}
	var wg sync.WaitGroup
	for _, g := range s.State.Guilds {
		wg.Add(1)
		go func(guildID string) {
			defer wg.Done()
			if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
				slog.Error("registering guild commands failed", "guildID", guildID, "err", err)
			}
		}(g.ID)
	}
	wg.Wait()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
		slog.Error("clearing global commands failed", "err", err)
	}
}

// restorePlayback re-queues persisted snapshots from the last run and
// starts each guild's loop with a seek to where it left off.
func (b *Bot) restorePlayback(ctx context.Context, s *discordgo.Session) {
	states, err := b.repo.AllResumeStates(ctx)
	if err != nil {
		slog.Error("loading resume snapshots failed", "err", err)
		return
	}
	for _, st := range states {
		if st.Item == nil {
			continue
		}
		if err := b.repo.EnqueueFront(ctx, st.Item); err != nil {
			slog.Error("requeueing resume snapshot failed", "guildID", st.GuildID, "err", err)
			continue
		}
		// The snapshot is consumed now; a fresh one gets written on the
		// next interruption.
		if err := b.repo.DeleteResumeState(ctx, st.GuildID); err != nil {
			slog.Warn("deleting consumed snapshot failed", "guildID", st.GuildID, "err", err)
		}

		p := b.pm.Get(st.GuildID)
		p.SetPendingSeek(time.Duration(st.ResumePosition) * time.Second)
		if _, err := b.vm.Join(ctx, s, st.GuildID, st.VoiceChannelID); err != nil {
			// Playback parks itself paused until a connection shows up.
			slog.Warn("rejoining voice for resume failed", "guildID", st.GuildID, "err", err)
		}
		p.Start(st.VoiceChannelID, st.FeedbackChannelID)
		slog.Info("resumed playback from snapshot",
			"guildID", st.GuildID, "title", st.Item.Title, "position", st.ResumePosition)
	}
}

func (b *Bot) persistAndStopAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, snap := range b.pm.Snapshots() {
		p, ok := b.pm.Peek(snap.GuildID)
		if !ok {
			continue
		}
		state := p.Snapshot()
		if state != nil {
			if err := b.repo.SaveResumeState(ctx, state); err != nil {
				slog.Error("persisting playback on shutdown failed", "guildID", snap.GuildID, "err", err)
			}
		}
		p.Stop()
		b.vm.Disconnect(snap.GuildID)
	}
}

func (b *Bot) notifyProjector() {
	b.projMu.Lock()
	proj := b.proj
	b.projMu.Unlock()
	if proj != nil {
		proj.Notify()
	}
}

func (b *Bot) cancelIdleTimer(guildID string) {
	b.idleMu.Lock()
	if t, ok := b.idleTimers[guildID]; ok {
		t.Stop()
		delete(b.idleTimers, guildID)
	}
	b.idleMu.Unlock()
}

// scheduleIdleDisconnect leaves the voice channel a configurable while
// after the queue drains, unless playback starts again first.
func (b *Bot) scheduleIdleDisconnect(guildID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	set, err := b.repo.GetSettings(ctx, guildID)
	if err != nil || set == nil || set.SecondsWaitAfterEmpty <= 0 {
		return
	}
	wait := time.Duration(set.SecondsWaitAfterEmpty) * time.Second

	b.idleMu.Lock()
	defer b.idleMu.Unlock()
	if t, ok := b.idleTimers[guildID]; ok {
		t.Stop()
	}
	b.idleTimers[guildID] = time.AfterFunc(wait, func() {
		if p, ok := b.pm.Peek(guildID); ok && p.Status() != player.StatusStopped {
			return
		}
		slog.Info("idle timeout, leaving voice", "guildID", guildID)
		b.vm.Disconnect(guildID)
	})
}
