// Package spotify wraps the Spotify Web API behind the small surface
// the source layer needs: turning share links into track name/artist
// pairs that get re-found on YouTube.
package spotify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Track is the minimum needed to search the same song elsewhere.
type Track struct {
	Name   string
	Artist string
}

// CollectionMeta describes the album/playlist a batch of tracks came
// from, for queue feedback messages.
type CollectionMeta struct {
	Title  string
	Source string
}

type Client struct {
	api *spotify.Client
}

// NewClientCredentials builds an app-auth client. No user scope is
// needed; everything read is public catalog data.
func NewClientCredentials(clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	api := spotify.New(cfg.Client(context.Background()), spotify.WithRetry(true))
	return &Client{api: api}
}

// IsSpotifyRef reports whether a query points at Spotify at all.
func IsSpotifyRef(q string) bool {
	return strings.HasPrefix(q, "spotify:") || strings.Contains(q, "open.spotify.com")
}

// ParseRef extracts the resource type and id from a spotify: URI or an
// open.spotify.com link.
func ParseRef(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return "", "", fmt.Errorf("malformed spotify URI %q", raw)
		}
		return parts[1], spotify.ID(parts[2]), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if !strings.HasSuffix(u.Host, "open.spotify.com") {
		return "", "", fmt.Errorf("not a spotify link")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed spotify link path %q", u.Path)
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify resource %q", parts[0])
}

func firstArtist(artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func simpleTrack(t spotify.SimpleTrack) Track {
	return Track{Name: t.Name, Artist: firstArtist(t.Artists)}
}

// Album returns up to limit tracks of an album (0 means all).
func (c *Client) Album(ctx context.Context, id spotify.ID, limit int) ([]Track, CollectionMeta, error) {
	alb, err := c.api.GetAlbum(ctx, id)
	if err != nil {
		return nil, CollectionMeta{}, err
	}
	page, err := c.api.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, CollectionMeta{}, err
	}
	var out []Track
	for {
		for _, t := range page.Tracks {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, simpleTrack(t))
		}
		if page.Next == "" || (limit > 0 && len(out) >= limit) {
			break
		}
		if err := c.api.NextPage(ctx, page); err != nil {
			break
		}
	}
	meta := CollectionMeta{Title: alb.Name, Source: alb.ExternalURLs["spotify"]}
	return out, meta, nil
}

// Playlist returns up to limit tracks of a playlist (0 means all).
func (c *Client) Playlist(ctx context.Context, id spotify.ID, limit int) ([]Track, CollectionMeta, error) {
	pl, err := c.api.GetPlaylist(ctx, id)
	if err != nil {
		return nil, CollectionMeta{}, err
	}
	page, err := c.api.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, CollectionMeta{}, err
	}
	var out []Track
	for {
		for _, it := range page.Items {
			if it.Track.Track == nil {
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			t := it.Track.Track
			out = append(out, Track{Name: t.Name, Artist: firstArtist(t.Artists)})
		}
		if page.Next == "" || (limit > 0 && len(out) >= limit) {
			break
		}
		if err := c.api.NextPage(ctx, page); err != nil {
			break
		}
	}
	meta := CollectionMeta{Title: pl.Name, Source: pl.ExternalURLs["spotify"]}
	return out, meta, nil
}

func (c *Client) Track(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.api.GetTrack(ctx, id)
	if err != nil {
		return Track{}, err
	}
	return Track{Name: t.Name, Artist: firstArtist(t.Artists)}, nil
}

// ArtistTop returns an artist's top tracks for the given market.
func (c *Client) ArtistTop(ctx context.Context, id spotify.ID, market string, limit int) ([]Track, error) {
	full, err := c.api.GetArtistsTopTracks(ctx, id, market)
	if err != nil {
		return nil, err
	}
	var out []Track
	for _, t := range full {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, Track{Name: t.Name, Artist: firstArtist(t.Artists)})
	}
	return out, nil
}

// Search returns album and track hits for autocomplete.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]spotify.SimpleAlbum, []spotify.FullTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	res, err := c.api.Search(ctx, query, spotify.SearchTypeAlbum|spotify.SearchTypeTrack)
	if err != nil {
		return nil, nil, err
	}
	albums := res.Albums.Albums
	if len(albums) > limit {
		albums = albums[:limit]
	}
	tracks := res.Tracks.Tracks
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return albums, tracks, nil
}
