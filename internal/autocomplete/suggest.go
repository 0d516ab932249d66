// Package autocomplete builds slash-command suggestion lists from
// YouTube search completion, Spotify catalog search and the guild's own
// listening history.
package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/spotify"
)

var httpClient = &http.Client{Timeout: 3 * time.Second}

// YouTubeSuggestions queries the public search completion endpoint.
func YouTubeSuggestions(ctx context.Context, query string) ([]string, error) {
	u, _ := url.Parse("https://suggestqueries.google.com/complete/search")
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Response shape: [query, [suggestion, ...], ...]
	var parsed []any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	arr, ok := parsed[1].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// HistoryStore is the slice of the repository this package reads.
type HistoryStore interface {
	RecentlyPlayed(ctx context.Context, guildID string, limit int) ([]repository.HistoryEntry, error)
}

// Suggest assembles up to limit choices: recent plays when the query is
// empty, otherwise YouTube completions topped up with Spotify hits.
// Provider failures degrade to fewer choices, never to an error.
func Suggest(ctx context.Context, query, guildID string, sp *spotify.Client, hist HistoryStore, limit int) []*discordgo.ApplicationCommandOptionChoice {
	if limit <= 0 {
		limit = 10
	}

	if query == "" && hist != nil {
		return recentChoices(ctx, guildID, hist, limit)
	}

	var out []*discordgo.ApplicationCommandOptionChoice
	yt, err := YouTubeSuggestions(ctx, query)
	if err == nil {
		for _, s := range yt {
			if len(out) >= limit {
				break
			}
			out = append(out, &discordgo.ApplicationCommandOptionChoice{
				Name:  "YouTube: " + s,
				Value: s,
			})
		}
	}

	if sp != nil {
		albums, tracks, err := sp.Search(ctx, query, limit/2)
		if err == nil {
			room := limit - len(albums) - len(tracks)
			if room >= 0 && len(out) > room {
				out = out[:room]
			}
			for _, a := range albums {
				name := "Spotify: 💿 " + a.Name
				if len(a.Artists) > 0 {
					name += " - " + a.Artists[0].Name
				}
				out = append(out, &discordgo.ApplicationCommandOptionChoice{
					Name:  truncate(name),
					Value: "spotify:album:" + a.ID.String(),
				})
			}
			for _, t := range tracks {
				name := "Spotify: 🎵 " + t.Name
				if len(t.Artists) > 0 {
					name += " - " + t.Artists[0].Name
				}
				out = append(out, &discordgo.ApplicationCommandOptionChoice{
					Name:  truncate(name),
					Value: "spotify:track:" + t.ID.String(),
				})
			}
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func recentChoices(ctx context.Context, guildID string, hist HistoryStore, limit int) []*discordgo.ApplicationCommandOptionChoice {
	entries, err := hist.RecentlyPlayed(ctx, guildID, limit)
	if err != nil {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(entries))
	for _, e := range entries {
		name := e.Title
		if e.Artist != "" {
			name = fmt.Sprintf("%s - %s", e.Title, e.Artist)
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  truncate("Recent: " + name),
			Value: e.URL,
		})
	}
	return out
}

// Discord rejects choice names over 100 characters.
func truncate(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:97] + "..."
}
