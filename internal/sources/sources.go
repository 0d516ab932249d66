// Package sources turns whatever a user types into playable queue
// items: YouTube links and playlists, Spotify links mapped through a
// YouTube search, direct HLS/radio URLs, and free-text search.
package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/mizubot/internal/repository"
	"github.com/sonroyaalmerol/mizubot/internal/resolver"
	"github.com/sonroyaalmerol/mizubot/internal/spotify"
	"github.com/sonroyaalmerol/mizubot/internal/utils"
)

// Result is one event on the resolution stream: an item ready to
// enqueue, a user-facing note, or a per-entry failure. The stream keeps
// going after entry failures so a half-broken playlist still queues
// what it can.
type Result struct {
	Item *repository.QueueItem
	Note string
	Err  error
}

// Request describes one resolution job.
type Request struct {
	GuildID string
	AddedBy string
	Query   string
	// Limit caps playlist expansion; 0 means unlimited.
	Limit int
	// SplitChapters expands a single chaptered video into one item per
	// chapter.
	SplitChapters bool
}

type Service struct {
	sp *spotify.Client // nil when Spotify is not configured

	// yt-dlp entry points, swappable for tests.
	fetchInfo     func(ctx context.Context, url string) (*resolver.Info, error)
	fetchPlaylist func(ctx context.Context, url string) ([]resolver.Info, error)
}

func NewService(sp *spotify.Client) *Service {
	return &Service{
		sp:            sp,
		fetchInfo:     resolver.FetchInfo,
		fetchPlaylist: resolver.FetchPlaylist,
	}
}

func isYouTube(q string) bool {
	return strings.Contains(q, "youtube.com") ||
		strings.Contains(q, "youtu.be") ||
		strings.Contains(q, "music.youtube.")
}

// Resolve streams results for a query. The channel closes when the
// query is fully expanded or ctx dies.
func (s *Service) Resolve(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 8)
	go func() {
		defer close(ch)
		q := strings.TrimSpace(req.Query)

		switch {
		case spotify.IsSpotifyRef(q):
			s.resolveSpotify(ctx, req, q, ch)
		case isYouTube(q) && strings.Contains(q, "list="):
			s.resolvePlaylist(ctx, req, q, ch)
		case strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://"):
			if isYouTube(q) {
				s.resolveSingle(ctx, req, q, ch)
				return
			}
			// Anything else fetchable over HTTP is treated as a live
			// stream: radio, raw HLS.
			emit(ctx, ch, Result{Item: &repository.QueueItem{
				ID:      uuid.NewString(),
				GuildID: req.GuildID,
				AddedBy: req.AddedBy,
				Source:  repository.SourceHLS,
				URL:     q,
				Title:   q,
				Artist:  q,
				IsLive:  true,
			}})
		default:
			s.resolveSingle(ctx, req, "ytsearch1:"+q, ch)
		}
	}()
	return ch
}

func (s *Service) resolveSingle(ctx context.Context, req Request, target string, ch chan<- Result) {
	info, err := s.fetchInfo(ctx, target)
	if err != nil {
		emit(ctx, ch, Result{Err: fmt.Errorf("nothing found for %q", req.Query)})
		return
	}
	for _, item := range s.infoToItems(info, req) {
		item := item
		if !emit(ctx, ch, Result{Item: &item}) {
			return
		}
	}
}

func (s *Service) resolvePlaylist(ctx context.Context, req Request, q string, ch chan<- Result) {
	entries, err := s.fetchPlaylist(ctx, q)
	if err != nil || len(entries) == 0 {
		emit(ctx, ch, Result{Err: fmt.Errorf("playlist not found")})
		return
	}
	if req.Limit > 0 && len(entries) > req.Limit {
		utils.ShuffleSlice(entries)
		entries = entries[:req.Limit]
		if !emit(ctx, ch, Result{Note: fmt.Sprintf("a random sample of %d songs was taken", req.Limit)}) {
			return
		}
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		info, err := s.fetchInfo(ctx, "https://www.youtube.com/watch?v="+e.ID)
		if err != nil {
			if !emit(ctx, ch, Result{Err: fmt.Errorf("failed to load playlist entry %s", e.ID)}) {
				return
			}
			continue
		}
		for _, item := range s.infoToItems(info, req) {
			item := item
			if !emit(ctx, ch, Result{Item: &item}) {
				return
			}
		}
	}
}

func (s *Service) resolveSpotify(ctx context.Context, req Request, q string, ch chan<- Result) {
	if s.sp == nil {
		emit(ctx, ch, Result{Err: fmt.Errorf("spotify support is not configured")})
		return
	}
	typ, id, err := spotify.ParseRef(q)
	if err != nil {
		emit(ctx, ch, Result{Err: fmt.Errorf("invalid spotify reference")})
		return
	}

	var tracks []spotify.Track
	var meta spotify.CollectionMeta
	switch typ {
	case "album":
		tracks, meta, err = s.sp.Album(ctx, id, req.Limit)
	case "playlist":
		tracks, meta, err = s.sp.Playlist(ctx, id, req.Limit)
	case "track":
		var t spotify.Track
		t, err = s.sp.Track(ctx, id)
		tracks = []spotify.Track{t}
	case "artist":
		tracks, err = s.sp.ArtistTop(ctx, id, "US", req.Limit)
	default:
		err = fmt.Errorf("unsupported spotify resource %q", typ)
	}
	if err != nil {
		emit(ctx, ch, Result{Err: err})
		return
	}
	if meta.Title != "" {
		if !emit(ctx, ch, Result{Note: fmt.Sprintf("loading %q", meta.Title)}) {
			return
		}
	}

	if req.Limit > 0 && len(tracks) > req.Limit {
		utils.ShuffleSlice(tracks)
		tracks = tracks[:req.Limit]
	}
	for _, t := range tracks {
		if ctx.Err() != nil {
			return
		}
		// Spotify can't be streamed directly; find the same song on
		// YouTube instead.
		search := fmt.Sprintf("ytsearch1:%q %q", t.Name, t.Artist)
		info, err := s.fetchInfo(ctx, search)
		if err != nil {
			if !emit(ctx, ch, Result{Err: fmt.Errorf("not found: %s - %s", t.Artist, t.Name)}) {
				return
			}
			continue
		}
		for _, item := range s.infoToItems(info, req) {
			item := item
			if !emit(ctx, ch, Result{Item: &item}) {
				return
			}
		}
	}
}

// infoToItems maps one extracted video to queue items: normally one,
// several when chapter splitting applies. The stored URL is always the
// canonical page URL so playback re-resolves fresh media later.
func (s *Service) infoToItems(info *resolver.Info, req Request) []repository.QueueItem {
	canonical := info.WebpageURL
	if canonical == "" && info.ID != "" {
		canonical = "https://www.youtube.com/watch?v=" + info.ID
	}
	base := repository.QueueItem{
		ID:        uuid.NewString(),
		GuildID:   req.GuildID,
		AddedBy:   req.AddedBy,
		Source:    repository.SourceYouTube,
		URL:       canonical,
		Title:     info.Title,
		Artist:    info.Uploader,
		Length:    int(info.Duration),
		IsLive:    info.IsLive,
		Thumbnail: info.Thumbnail,
	}
	if base.Length < 0 {
		base.Length = 0
	}

	if req.SplitChapters && !base.IsLive && base.Length > 0 {
		if chapters := ParseChapters(info.Description, base.Length); len(chapters) > 0 {
			out := make([]repository.QueueItem, 0, len(chapters))
			for _, c := range chapters {
				item := base
				item.ID = uuid.NewString()
				item.Title = c.Title + " (" + base.Title + ")"
				item.Offset = c.Start
				item.Length = c.Length
				out = append(out, item)
			}
			return out
		}
	}
	return []repository.QueueItem{base}
}

func emit(ctx context.Context, ch chan<- Result, r Result) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- r:
		return true
	}
}
