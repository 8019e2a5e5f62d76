package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/ytget/yt-audio/internal/model"
)

// Timeout constants
const (
	DefaultParseTimeout = 60 * time.Second
)

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// URL templates
const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// PlaylistFetcher lists the entries of a playlist by its ID
type PlaylistFetcher func(ctx context.Context, playlistID string) ([]model.PlaylistEntry, error)

// PlaylistExpander turns playlist URLs into the list of video URLs to submit
type PlaylistExpander struct {
	timeout time.Duration
	fetch   PlaylistFetcher
}

// NewPlaylistExpander creates an expander backed by the ytdlp library
func NewPlaylistExpander() *PlaylistExpander {
	return &PlaylistExpander{
		timeout: DefaultParseTimeout,
		fetch:   fetchWithYTDLP,
	}
}

// SetTimeout sets the timeout for a single playlist lookup
func (p *PlaylistExpander) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// SetFetcher replaces the playlist backend
func (p *PlaylistExpander) SetFetcher(fetch PlaylistFetcher) {
	p.fetch = fetch
}

// IsPlaylistURL reports whether url carries a playlist ID
func IsPlaylistURL(url string) bool {
	return ExtractPlaylistID(url) != ""
}

// ExtractPlaylistID extracts the playlist ID from a URL's list= parameter
func ExtractPlaylistID(url string) string {
	idx := strings.Index(url, PlaylistParam)
	if idx < 0 {
		return ""
	}
	id := url[idx+len(PlaylistParam):]
	if cut := strings.Index(id, ParamSeparator); cut >= 0 {
		id = id[:cut]
	}
	return strings.TrimSpace(id)
}

// Expand resolves url into a playlist. Non-playlist URLs are returned as a
// single-entry playlist without a network round-trip.
func (p *PlaylistExpander) Expand(ctx context.Context, url string) (*model.Playlist, error) {
	playlistID := ExtractPlaylistID(url)
	if playlistID == "" {
		single := model.NewPlaylist("", url)
		single.AddEntry(model.PlaylistEntry{URL: url})
		return single, nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	entries, err := p.fetch(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("playlist %s has no entries", playlistID)
	}

	playlist := model.NewPlaylist(playlistID, url)
	for _, e := range entries {
		playlist.AddEntry(e)
	}
	playlist.Title = playlistTitle(playlist)
	return playlist, nil
}

// ExpandAll expands each input URL and returns the flattened video URLs in order
func (p *PlaylistExpander) ExpandAll(ctx context.Context, urls []string) ([]string, error) {
	var out []string
	for _, u := range urls {
		playlist, err := p.Expand(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", u, err)
		}
		out = append(out, playlist.URLs()...)
	}
	return out, nil
}

func fetchWithYTDLP(ctx context.Context, playlistID string) ([]model.PlaylistEntry, error) {
	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]model.PlaylistEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, model.PlaylistEntry{
			VideoID: it.VideoID,
			Title:   it.Title,
			URL:     fmt.Sprintf(YouTubeVideoURLTemplate, it.VideoID),
		})
	}
	return entries, nil
}

func playlistTitle(p *model.Playlist) string {
	if len(p.Entries) == 0 || p.Entries[0].Title == "" {
		return p.ID
	}
	return p.Entries[0].Title + " Playlist"
}
