package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/mizubot/internal/autocomplete"
	"github.com/sonroyaalmerol/mizubot/internal/config"
	"github.com/sonroyaalmerol/mizubot/internal/player"
	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/sources"
	"github.com/sonroyaalmerol/mizubot/internal/spotify"
	"github.com/sonroyaalmerol/mizubot/internal/ui"
	"github.com/sonroyaalmerol/mizubot/internal/utils"
	"github.com/sonroyaalmerol/mizubot/internal/voice"
)

type CommandHandler struct {
	cfg  *config.Config
	repo *repository.Repo
	vm   *voice.Manager
	pm   *player.Manager
	src  *sources.Service
	sp   *spotify.Client
}

func NewCommandHandler(cfg *config.Config, repo *repository.Repo, vm *voice.Manager, pm *player.Manager, src *sources.Service, sp *spotify.Client) *CommandHandler {
	return &CommandHandler{cfg: cfg, repo: repo, vm: vm, pm: pm, src: src, sp: sp}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	start := time.Now()
	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song (YouTube URL/ID, Spotify link, HLS URL, or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
				{Name: "immediate", Description: "add to front of queue", Type: discordgo.ApplicationCommandOptionBoolean},
				{Name: "shuffle", Description: "shuffle additions", Type: discordgo.ApplicationCommandOptionBoolean},
				{Name: "split", Description: "split video chapters into tracks", Type: discordgo.ApplicationCommandOptionBoolean},
				{Name: "skip", Description: "skip the current track", Type: discordgo.ApplicationCommandOptionBoolean},
			},
		},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "next", Description: "Skip to the next track"},
		{Name: "shuffle", Description: "Shuffle the queue"},
		{Name: "stop", Description: "Stop playback and clear the queue"},
		{Name: "clear", Description: "Clear the queue except the current track"},
		{Name: "disconnect", Description: "Pause and leave the voice channel"},
		{Name: "now-playing", Description: "Show the current track"},
		{
			Name:        "queue",
			Description: "Show the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "page-size", Description: "items per page [default: 10, max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-playlist-limit", Description: "max tracks added per playlist", Options: []*discordgo.ApplicationCommandOption{
					{Name: "limit", Description: "max tracks", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-wait-after-queue-empties", Description: "seconds to stay in voice after the queue drains", Options: []*discordgo.ApplicationCommandOption{
					{Name: "delay", Description: "seconds (0 never leave)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-queue-add-response-hidden", Description: "make queue-add responses ephemeral", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-queue-page-size", Description: "queue page size", Options: []*discordgo.ApplicationCommandOption{
					{Name: "page_size", Description: "1-30", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
			},
		},
	}

	for _, c := range cmds {
		if _, err := s.ApplicationCommandCreate(appID, guildID, c); err != nil {
			slog.Error("creating application command failed", "guildID", guildID, "command", c.Name, "err", err)
			return err
		}
	}
	slog.Info("registered commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.handleChatCommand(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name
	slog.Debug("command", "name", name, "guildID", i.GuildID, "userID", userIDOf(i))
	switch name {
	case "play":
		h.cmdPlay(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "next":
		h.cmdNext(s, i)
	case "shuffle":
		h.cmdShuffle(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "clear":
		h.cmdClear(s, i)
	case "disconnect":
		h.cmdDisconnect(s, i)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "queue":
		h.cmdQueue(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		slog.Debug("unknown command", "name", name, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	choices := autocomplete.Suggest(ctx, strings.TrimSpace(query), i.GuildID, h.sp, h.repo, 10)
	if choices == nil {
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	var immediate, shuffleAdd, split, skip bool
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "query":
			query = o.StringValue()
		case "immediate":
			immediate = o.BoolValue()
		case "shuffle":
			shuffleAdd = o.BoolValue()
		case "split":
			split = o.BoolValue()
		case "skip":
			skip = o.BoolValue()
		}
	}

	guildID := i.GuildID
	userID := userIDOf(i)
	chID, inVoice := userInVoice(s, guildID, userID)
	if !inVoice {
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}

	ctx := context.Background()
	set, err := h.repo.UpsertSettings(ctx, guildID)
	if err != nil {
		slog.Error("loading settings failed", "guildID", guildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	h.deferReply(s, i, set.QAddEphemeral)

	if _, err := h.vm.Join(ctx, s, guildID, chID); err != nil {
		slog.Warn("voice join failed", "guildID", guildID, "channelID", chID, "err", err)
		h.editReply(s, i, "couldn't connect to your channel")
		return
	}
	p := h.pm.Get(guildID)

	added, failed := 0, 0
	var firstTitle, note string
	for r := range h.src.Resolve(ctx, sources.Request{
		GuildID:       guildID,
		AddedBy:       userID,
		Query:         query,
		Limit:         set.PlaylistLimit,
		SplitChapters: split,
	}) {
		switch {
		case r.Note != "":
			note = r.Note
		case r.Err != nil:
			failed++
			slog.Debug("resolve entry failed", "guildID", guildID, "query", query, "err", r.Err)
		case r.Item != nil:
			if immediate {
				err = h.repo.EnqueueFront(ctx, r.Item)
			} else {
				err = h.repo.Enqueue(ctx, r.Item)
			}
			if err != nil {
				slog.Error("enqueue failed", "guildID", guildID, "err", err)
				failed++
				continue
			}
			added++
			if added == 1 {
				firstTitle = r.Item.Title
				if skip {
					p.Skip()
				}
				p.Start(chID, i.ChannelID)
				h.editReply(s, i, fmt.Sprintf("**%s** added to the queue", utils.EscapeMd(firstTitle)))
			}
		}
	}

	if added == 0 {
		h.editReply(s, i, "no songs found")
		return
	}
	if shuffleAdd {
		if err := h.repo.ShuffleRemaining(ctx, guildID); err != nil && !errors.Is(err, repository.ErrEmptyQueue) {
			slog.Warn("shuffle after add failed", "guildID", guildID, "err", err)
		}
	}
	if added > 1 || note != "" {
		msg := fmt.Sprintf("**%s** and %d more added to the queue", utils.EscapeMd(firstTitle), added-1)
		if added == 1 {
			msg = fmt.Sprintf("**%s** added to the queue", utils.EscapeMd(firstTitle))
		}
		if note != "" {
			msg += " (" + note + ")"
		}
		if failed > 0 {
			msg += fmt.Sprintf(", %d entries failed", failed)
		}
		h.editReply(s, i, msg)
	}
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	p, ok := h.pm.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	if err := p.Pause(); err != nil {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	h.reply(s, i, "paused", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	p, ok := h.pm.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing to resume", true)
		return
	}
	if err := p.Resume(); err != nil {
		h.reply(s, i, "playback isn't paused", true)
		return
	}
	h.reply(s, i, "resumed", false)
}

func (h *CommandHandler) cmdNext(s *discordgo.Session, i *discordgo.InteractionCreate) {
	p, ok := h.pm.Peek(i.GuildID)
	if !ok || p.GetCurrent() == nil {
		h.reply(s, i, "nothing to skip", true)
		return
	}
	p.Skip()
	h.reply(s, i, "skipped", false)
}

func (h *CommandHandler) cmdShuffle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	p := h.pm.Get(i.GuildID)
	if err := p.Shuffle(context.Background()); err != nil {
		if errors.Is(err, repository.ErrEmptyQueue) {
			h.reply(s, i, "the queue is empty", true)
			return
		}
		slog.Error("shuffle failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	h.reply(s, i, "queue shuffled", false)
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	if p, ok := h.pm.Peek(i.GuildID); ok {
		p.Stop()
	}
	if err := h.repo.ClearQueue(ctx, i.GuildID); err != nil {
		slog.Error("clearing queue failed", "guildID", i.GuildID, "err", err)
	}
	if err := h.repo.DeleteResumeState(ctx, i.GuildID); err != nil {
		slog.Warn("clearing resume snapshot failed", "guildID", i.GuildID, "err", err)
	}
	h.reply(s, i, "stopped and cleared the queue", false)
}

func (h *CommandHandler) cmdClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.repo.ClearQueue(context.Background(), i.GuildID); err != nil {
		slog.Error("clearing queue failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	h.reply(s, i, "queue cleared, current track kept", false)
}

func (h *CommandHandler) cmdDisconnect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.disconnectGuild(i.GuildID)
	h.reply(s, i, "paused and disconnected", false)
}

// disconnectGuild pauses playback and leaves voice. A deliberate leave
// also drops the resume snapshot so the next process start doesn't
// rejoin an empty channel; passive transport loss and shutdown are the
// paths that keep one.
func (h *CommandHandler) disconnectGuild(guildID string) {
	if p, ok := h.pm.Peek(guildID); ok {
		_ = p.Pause()
	}
	if err := h.repo.DeleteResumeState(context.Background(), guildID); err != nil {
		slog.Warn("clearing resume snapshot failed", "guildID", guildID, "err", err)
	}
	h.vm.Disconnect(guildID)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	snap, ok := h.snapshotOf(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	h.replyEmbed(s, i, ui.NowPlayingEmbed(snap))
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	page := 1
	pageSize := 0
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "page":
			page = int(o.IntValue())
		case "page-size":
			pageSize = int(o.IntValue())
		}
	}
	if pageSize > 30 {
		pageSize = 30
	}

	ctx := context.Background()
	if pageSize <= 0 {
		if set, err := h.repo.GetSettings(ctx, i.GuildID); err == nil && set != nil {
			pageSize = set.DefaultQueuePageSize
		}
	}

	snap, ok := h.snapshotOf(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing is playing", true)
		return
	}
	queued, err := h.repo.GetAllQueued(ctx, i.GuildID)
	if err != nil {
		slog.Error("loading queue failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	embed, err := ui.QueueEmbed(snap, queued, page, pageSize)
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	h.replyEmbed(s, i, embed)
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return
	}
	sub := opts[0]
	ctx := context.Background()

	set, err := h.repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("loading settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}

	switch sub.Name {
	case "get":
		h.reply(s, i, fmt.Sprintf(
			"playlist limit: %d\nwait after queue empties: %ds\nqueue-add responses hidden: %t\nqueue page size: %d",
			set.PlaylistLimit, set.SecondsWaitAfterEmpty, set.QAddEphemeral, set.DefaultQueuePageSize), true)
		return
	case "set-playlist-limit":
		v := int(sub.Options[0].IntValue())
		if v < 0 {
			h.reply(s, i, "limit can't be negative", true)
			return
		}
		set.PlaylistLimit = v
	case "set-wait-after-queue-empties":
		v := int(sub.Options[0].IntValue())
		if v < 0 {
			h.reply(s, i, "delay can't be negative", true)
			return
		}
		set.SecondsWaitAfterEmpty = v
	case "set-queue-add-response-hidden":
		set.QAddEphemeral = sub.Options[0].BoolValue()
	case "set-default-queue-page-size":
		v := int(sub.Options[0].IntValue())
		if v < 1 || v > 30 {
			h.reply(s, i, "page size must be 1-30", true)
			return
		}
		set.DefaultQueuePageSize = v
	default:
		return
	}

	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		slog.Error("updating settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	h.reply(s, i, "setting updated", true)
}

func (h *CommandHandler) snapshotOf(guildID string) (player.Snapshot, bool) {
	p, ok := h.pm.Peek(guildID)
	if !ok {
		return player.Snapshot{}, false
	}
	cur := p.GetCurrent()
	if cur == nil {
		return player.Snapshot{}, false
	}
	return player.Snapshot{
		GuildID: guildID,
		Item:    cur,
		Elapsed: p.Elapsed(),
		Status:  p.Status(),
	}, true
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags},
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	}); err != nil {
		slog.Warn("embed reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "err", err)
	}
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}
