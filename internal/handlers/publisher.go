package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/mizubot/internal/player"
	"github.com/sonroyaalmerol/mizubot/internal/ui"
)

// panelPublisher keeps one now-playing message per guild in the
// channel the last play command came from, editing it in place as
// snapshots arrive and deleting it when playback stops.
type panelPublisher struct {
	session *discordgo.Session
	pm      *player.Manager

	mu     sync.Mutex
	panels map[string]panelRef
}

type panelRef struct {
	channelID string
	messageID string
}

func newPanelPublisher(session *discordgo.Session, pm *player.Manager) *panelPublisher {
	return &panelPublisher{
		session: session,
		pm:      pm,
		panels:  make(map[string]panelRef),
	}
}

func (p *panelPublisher) Publish(ctx context.Context, snap player.Snapshot) error {
	pl, ok := p.pm.Peek(snap.GuildID)
	if !ok {
		return fmt.Errorf("no player for guild %s", snap.GuildID)
	}
	channelID := pl.FeedbackChannelID()
	if channelID == "" {
		return nil
	}
	embed := ui.NowPlayingEmbed(snap)

	p.mu.Lock()
	ref, exists := p.panels[snap.GuildID]
	p.mu.Unlock()

	if exists && ref.channelID == channelID {
		if _, err := p.session.ChannelMessageEditEmbed(ref.channelID, ref.messageID, embed); err == nil {
			return nil
		}
		// Edit failed (message deleted, permissions changed); fall
		// through and post a fresh panel.
	}

	msg, err := p.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.panels[snap.GuildID] = panelRef{channelID: channelID, messageID: msg.ID}
	p.mu.Unlock()

	if exists && ref.channelID != channelID {
		_ = p.session.ChannelMessageDelete(ref.channelID, ref.messageID)
	}
	return nil
}

func (p *panelPublisher) Clear(ctx context.Context, guildID string) {
	p.mu.Lock()
	ref, ok := p.panels[guildID]
	delete(p.panels, guildID)
	p.mu.Unlock()
	if ok {
		_ = p.session.ChannelMessageDelete(ref.channelID, ref.messageID)
	}
}
