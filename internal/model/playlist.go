package model

import (
	"time"
)

// PlaylistEntry is a single video listed in a playlist
type PlaylistEntry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// Playlist represents a resolved YouTube playlist. Each entry is submitted
// as an independent download item.
type Playlist struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	URL       string          `json:"url"`
	Entries   []PlaylistEntry `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewPlaylist creates a new playlist instance
func NewPlaylist(id, url string) *Playlist {
	return &Playlist{
		ID:        id,
		URL:       url,
		Entries:   make([]PlaylistEntry, 0),
		CreatedAt: time.Now(),
	}
}

// AddEntry appends an entry unless its video ID is already present
func (p *Playlist) AddEntry(entry PlaylistEntry) bool {
	for _, e := range p.Entries {
		if e.VideoID == entry.VideoID {
			return false
		}
	}
	p.Entries = append(p.Entries, entry)
	return true
}

// URLs returns the entry URLs in playlist order
func (p *Playlist) URLs() []string {
	urls := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		urls = append(urls, e.URL)
	}
	return urls
}

// Len returns the number of entries
func (p *Playlist) Len() int {
	return len(p.Entries)
}
