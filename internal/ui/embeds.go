// Package ui renders playback state into Discord embeds.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/mizubot/internal/player"
	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorIdle    = 0x992222

	maxDescription = 4096
)

func trackLink(item repository.QueueItem) string {
	url := item.URL
	if item.Source == repository.SourceYouTube && item.Offset > 0 {
		url += "&t=" + fmt.Sprint(item.Offset)
	}
	return fmt.Sprintf("[%s](%s)", utils.EscapeMd(item.Title), url)
}

func positionLine(snap player.Snapshot) string {
	item := snap.Item
	bar := player.ProgressBar(snap.Elapsed, 0, 10)
	elapsed := "live"
	if !item.IsLive && item.Length > 0 {
		bar = player.ProgressBar(snap.Elapsed, time.Duration(item.Length)*time.Second, 10)
		elapsed = fmt.Sprintf("%s/%s",
			utils.PrettyTime(int(snap.Elapsed.Seconds())),
			utils.PrettyTime(item.Length))
	}
	button := "▶️"
	if snap.Status == player.StatusPlaying {
		button = "⏸️"
	}
	return fmt.Sprintf("%s %s `[ %s ]`", button, bar, elapsed)
}

// NowPlayingEmbed renders the live playback panel for one guild.
func NowPlayingEmbed(snap player.Snapshot) *discordgo.MessageEmbed {
	if snap.Item == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "The queue is empty.",
			Color:       colorIdle,
		}
	}
	item := snap.Item

	title := "Now Playing"
	color := colorPlaying
	if snap.Status == player.StatusPaused {
		title = "Paused"
		color = colorPaused
	}

	desc := fmt.Sprintf("**%s**\nRequested by: <@%s>\n\n%s",
		trackLink(*item), item.AddedBy, positionLine(snap))

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Source: " + item.Artist},
	}
	if item.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: item.Thumbnail}
	}
	return embed
}

// QueueEmbed renders one page of the upcoming queue under the current
// track. Pages are 1-based.
func QueueEmbed(snap player.Snapshot, queued []repository.QueueItem, page, pageSize int) (*discordgo.MessageEmbed, error) {
	if snap.Item == nil {
		return nil, fmt.Errorf("nothing is playing")
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	maxPage := (len(queued) + pageSize - 1) / pageSize
	if maxPage == 0 {
		maxPage = 1
	}
	if page < 1 || page > maxPage {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\nRequested by: <@%s>\n\n%s\n\n",
		trackLink(*snap.Item), snap.Item.AddedBy, positionLine(snap))

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(queued) {
		end = len(queued)
	}
	if end > start {
		b.WriteString("**Up next:**\n")
		for i := start; i < end; i++ {
			item := queued[i]
			dur := "live"
			if !item.IsLive {
				dur = utils.PrettyTime(item.Length)
			}
			line := fmt.Sprintf("`%d.` %s `[ %s ]`\n", i+1, trackLink(item), dur)
			if b.Len()+len(line) > maxDescription {
				fmt.Fprintf(&b, "…and %d more", len(queued)-i)
				break
			}
			b.WriteString(line)
		}
	}

	totalSec := 0
	for _, item := range queued {
		totalSec += item.Length
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: countLabel(len(queued)), Inline: true},
			{Name: "Total length", Value: lengthLabel(totalSec), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
	}
	if snap.Item.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: snap.Item.Thumbnail}
	}
	return embed, nil
}

func countLabel(n int) string {
	switch n {
	case 0:
		return "-"
	case 1:
		return "1 song"
	default:
		return fmt.Sprintf("%d songs", n)
	}
}

func lengthLabel(sec int) string {
	if sec <= 0 {
		return "-"
	}
	return utils.PrettyTime(sec)
}
