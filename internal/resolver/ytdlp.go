package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

// Info is the subset of yt-dlp's extracted info the bot consumes. For
// playlist containers Entries is populated and the top-level fields
// mirror the first entry.
type Info struct {
	ID          string
	Title       string
	Uploader    string
	Duration    float64
	IsLive      bool
	Description string
	WebpageURL  string
	URL         string
	Thumbnail   string
	MediaURLs   []string // candidate direct media URLs, best first

	Entries []Info
}

var installOnce sync.Once

func ensureInstalled(ctx context.Context) {
	installOnce.Do(func() {
		// Availability issues surface on the first Run if this fails.
		ytdlp.MustInstall(ctx, nil)
	})
}

func strOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatOf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolOf(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func mapExtracted(e *ytdlp.ExtractedInfo) Info {
	info := Info{
		ID:          e.ID,
		Title:       strOf(e.Title),
		Uploader:    strOf(e.Uploader),
		Duration:    floatOf(e.Duration),
		IsLive:      boolOf(e.IsLive),
		Description: strOf(e.Description),
		WebpageURL:  strOf(e.WebpageURL),
		URL:         strOf(e.URL),
	}
	if n := len(e.Thumbnails); n > 0 && e.Thumbnails[n-1] != nil {
		info.Thumbnail = e.Thumbnails[n-1].URL
	}
	for _, rf := range e.RequestedFormats {
		if rf != nil && strings.HasPrefix(rf.URL, "http") {
			info.MediaURLs = append(info.MediaURLs, rf.URL)
		}
	}
	if strings.HasPrefix(info.URL, "http") {
		info.MediaURLs = append(info.MediaURLs, info.URL)
	}
	for _, f := range e.Formats {
		if f != nil && strings.HasPrefix(f.URL, "http") {
			info.MediaURLs = append(info.MediaURLs, f.URL)
		}
	}
	return info
}

// FetchInfo runs yt-dlp with -J and a best-audio format preference.
func FetchInfo(ctx context.Context, url string) (*Info, error) {
	ensureInstalled(ctx)

	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("parse yt-dlp json: no info returned")
	}
	ext := infos[0]

	out := mapExtracted(ext)
	if len(ext.Entries) > 0 {
		out.Entries = make([]Info, 0, len(ext.Entries))
		for _, e := range ext.Entries {
			if e == nil {
				continue
			}
			out.Entries = append(out.Entries, mapExtracted(e))
		}
		if len(out.Entries) > 0 {
			first := out.Entries[0]
			entries := out.Entries
			out = first
			out.Entries = entries
		}
	}
	return &out, nil
}

// FetchPlaylist runs a flat-playlist extraction: ids and titles only,
// cheap enough to enumerate large playlists before resolving entries
// one by one.
func FetchPlaylist(ctx context.Context, url string) ([]Info, error) {
	ensureInstalled(ctx)

	cmd := ytdlp.New().
		FlatPlaylist().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist fetch for %s: %w", url, err)
	}
	parsed, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp playlist json: %w", err)
	}
	if len(parsed) == 0 || parsed[0] == nil {
		return nil, fmt.Errorf("yt-dlp returned empty playlist info for %s", url)
	}

	pl := parsed[0]
	out := make([]Info, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e == nil {
			continue
		}
		out = append(out, Info{
			ID:       e.ID,
			Title:    strOf(e.Title),
			Uploader: strOf(e.Uploader),
			Duration: floatOf(e.Duration),
			IsLive:   boolOf(e.IsLive),
		})
	}
	return out, nil
}

// BestMediaURL picks the preferred directly fetchable URL out of an Info.
func BestMediaURL(info *Info) string {
	if len(info.MediaURLs) > 0 {
		return info.MediaURLs[0]
	}
	return ""
}
