package resolver

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNoAudioStreams is returned when a video exposes no audio-only stream
var ErrNoAudioStreams = errors.New("no audio streams")

// Resolver fetches metadata and stream candidates for a URL
type Resolver interface {
	Resolve(ctx context.Context, url string) (*Metadata, error)
}

// Metadata describes a resolved video
type Metadata struct {
	ID           string
	Title        string
	Author       string
	Duration     time.Duration
	ThumbnailURL string
	Streams      []Stream
}

// Stream is one downloadable media stream
type Stream struct {
	ID         string
	MimeType   string
	Bitrate    int
	TotalBytes int64
	AudioOnly  bool

	// Open starts reading the stream. The returned size is the byte length
	// reported by the server, or 0 when unknown.
	Open func(ctx context.Context) (io.ReadCloser, int64, error)
}

// SelectHighestBitrateAudio picks the audio-only stream with the highest
// bitrate. Ties keep the earlier stream.
func SelectHighestBitrateAudio(streams []Stream) (Stream, error) {
	best := -1
	for i, s := range streams {
		if !s.AudioOnly {
			continue
		}
		if best < 0 || s.Bitrate > streams[best].Bitrate {
			best = i
		}
	}
	if best < 0 {
		return Stream{}, ErrNoAudioStreams
	}
	return streams[best], nil
}
