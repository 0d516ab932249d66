package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Result) (items []repository.QueueItem, notes []string, errs []error) {
	t.Helper()
	for r := range ch {
		switch {
		case r.Item != nil:
			items = append(items, *r.Item)
		case r.Err != nil:
			errs = append(errs, r.Err)
		default:
			notes = append(notes, r.Note)
		}
	}
	return items, notes, errs
}

func TestParseChapters(t *testing.T) {
	desc := "great album\n0:00 Intro\n1:30 - Second Song\n1:23:45 Outro\nrandom line"
	chapters := ParseChapters(desc, 6000)

	require.Len(t, chapters, 3)
	assert.Equal(t, Chapter{Title: "Intro", Start: 0, Length: 90}, chapters[0])
	assert.Equal(t, Chapter{Title: "Second Song", Start: 90, Length: 5025 - 90}, chapters[1])
	assert.Equal(t, Chapter{Title: "Outro", Start: 5025, Length: 6000 - 5025}, chapters[2])
}

func TestParseChaptersRequiresZeroAnchor(t *testing.T) {
	assert.Nil(t, ParseChapters("1:30 not a chapter list\n2:00 still not", 300))
	assert.Nil(t, ParseChapters("no timestamps here", 300))
}

func TestResolveFreeTextSearches(t *testing.T) {
	s := NewService(nil)
	var target string
	s.fetchInfo = func(ctx context.Context, url string) (*resolver.Info, error) {
		target = url
		return &resolver.Info{ID: "abc123def45", Title: "A Song", Uploader: "Someone", Duration: 180}, nil
	}

	items, _, errs := collect(t, s.Resolve(context.Background(), Request{
		GuildID: "g1", AddedBy: "u1", Query: "some song name",
	}))

	require.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, "ytsearch1:some song name", target)
	assert.Equal(t, "A Song", items[0].Title)
	assert.Equal(t, repository.SourceYouTube, items[0].Source)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123def45", items[0].URL,
		"missing page URL falls back to canonical watch URL")
	assert.NotEmpty(t, items[0].ID)
}

func TestResolveDirectURLBecomesLiveItem(t *testing.T) {
	s := NewService(nil)
	s.fetchInfo = func(ctx context.Context, url string) (*resolver.Info, error) {
		t.Fatal("direct URLs must not hit yt-dlp at enqueue time")
		return nil, nil
	}

	items, _, errs := collect(t, s.Resolve(context.Background(), Request{
		GuildID: "g1", AddedBy: "u1", Query: "https://radio.example.com/live.m3u8",
	}))

	require.Empty(t, errs)
	require.Len(t, items, 1)
	assert.Equal(t, repository.SourceHLS, items[0].Source)
	assert.True(t, items[0].IsLive)
	assert.Zero(t, items[0].Length)
}

func TestResolvePlaylistSamplesOverLimit(t *testing.T) {
	s := NewService(nil)
	s.fetchPlaylist = func(ctx context.Context, url string) ([]resolver.Info, error) {
		out := make([]resolver.Info, 10)
		for i := range out {
			out[i] = resolver.Info{ID: string(rune('a' + i))}
		}
		return out, nil
	}
	s.fetchInfo = func(ctx context.Context, url string) (*resolver.Info, error) {
		return &resolver.Info{ID: "x", Title: "t", WebpageURL: url}, nil
	}

	items, notes, errs := collect(t, s.Resolve(context.Background(), Request{
		GuildID: "g1", AddedBy: "u1", Limit: 3,
		Query: "https://www.youtube.com/playlist?list=PLxyz",
	}))

	require.Empty(t, errs)
	assert.Len(t, items, 3)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "random sample of 3")
}

func TestResolvePlaylistSkipsBrokenEntries(t *testing.T) {
	s := NewService(nil)
	s.fetchPlaylist = func(ctx context.Context, url string) ([]resolver.Info, error) {
		return []resolver.Info{{ID: "good1"}, {ID: "bad"}, {ID: "good2"}}, nil
	}
	s.fetchInfo = func(ctx context.Context, url string) (*resolver.Info, error) {
		if url == "https://www.youtube.com/watch?v=bad" {
			return nil, errors.New("unavailable")
		}
		return &resolver.Info{ID: "x", Title: url, WebpageURL: url}, nil
	}

	items, _, errs := collect(t, s.Resolve(context.Background(), Request{
		GuildID: "g1", AddedBy: "u1",
		Query: "https://www.youtube.com/playlist?list=PLxyz",
	}))

	assert.Len(t, items, 2, "a broken entry must not abort the rest")
	assert.Len(t, errs, 1)
}

func TestResolveSplitsChapters(t *testing.T) {
	s := NewService(nil)
	s.fetchInfo = func(ctx context.Context, url string) (*resolver.Info, error) {
		return &resolver.Info{
			ID:          "vid",
			Title:       "Full Album",
			Uploader:    "Band",
			Duration:    300,
			WebpageURL:  "https://www.youtube.com/watch?v=vid",
			Description: "0:00 One\n2:00 Two",
		}, nil
	}

	items, _, errs := collect(t, s.Resolve(context.Background(), Request{
		GuildID: "g1", AddedBy: "u1", Query: "https://www.youtube.com/watch?v=vid",
		SplitChapters: true,
	}))

	require.Empty(t, errs)
	require.Len(t, items, 2)
	assert.Equal(t, "One (Full Album)", items[0].Title)
	assert.Equal(t, 0, items[0].Offset)
	assert.Equal(t, 120, items[0].Length)
	assert.Equal(t, "Two (Full Album)", items[1].Title)
	assert.Equal(t, 120, items[1].Offset)
	assert.Equal(t, 180, items[1].Length)
	// Both chapters point at the same source video.
	assert.Equal(t, items[0].URL, items[1].URL)
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestResolveSpotifyUnconfigured(t *testing.T) {
	s := NewService(nil)
	_, _, errs := collect(t, s.Resolve(context.Background(), Request{
		GuildID: "g1", AddedBy: "u1", Query: "spotify:track:abc",
	}))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not configured")
}
