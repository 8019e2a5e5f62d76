package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"
)

// videoClient is the subset of *youtube.Client used by YouTubeResolver
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

// YouTubeResolver resolves YouTube URLs through the innertube API
type YouTubeResolver struct {
	client videoClient
	log    *zap.Logger
}

// NewYouTubeResolver creates a resolver using httpClient for all requests.
// A nil httpClient falls back to http.DefaultClient.
func NewYouTubeResolver(httpClient *http.Client, log *zap.Logger) *YouTubeResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &YouTubeResolver{
		client: &youtube.Client{HTTPClient: httpClient},
		log:    log,
	}
}

// Resolve fetches video metadata and converts every format into a Stream
func (r *YouTubeResolver) Resolve(ctx context.Context, url string) (*Metadata, error) {
	video, err := r.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch video info: %w", err)
	}

	meta := &Metadata{
		ID:           video.ID,
		Title:        video.Title,
		Author:       video.Author,
		Duration:     video.Duration,
		ThumbnailURL: largestThumbnail(video.Thumbnails),
		Streams:      make([]Stream, 0, len(video.Formats)),
	}

	for i := range video.Formats {
		meta.Streams = append(meta.Streams, r.toStream(video, &video.Formats[i]))
	}

	r.log.Debug("video resolved",
		zap.String("video_id", video.ID),
		zap.String("title", video.Title),
		zap.Int("formats", len(video.Formats)))

	return meta, nil
}

func (r *YouTubeResolver) toStream(video *youtube.Video, format *youtube.Format) Stream {
	return Stream{
		ID:         strconv.Itoa(format.ItagNo),
		MimeType:   format.MimeType,
		Bitrate:    bitrateOf(format),
		TotalBytes: format.ContentLength,
		AudioOnly:  isAudioOnly(format),
		Open: func(ctx context.Context) (io.ReadCloser, int64, error) {
			body, size, err := r.client.GetStreamContext(ctx, video, format)
			if err != nil {
				return nil, 0, fmt.Errorf("open stream itag %d: %w", format.ItagNo, err)
			}
			return body, size, nil
		},
	}
}

func isAudioOnly(f *youtube.Format) bool {
	return f.AudioChannels > 0 && f.Width == 0 && f.Height == 0
}

func bitrateOf(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}

func largestThumbnail(thumbs youtube.Thumbnails) string {
	var (
		url  string
		area uint
	)
	for _, t := range thumbs {
		if a := t.Width * t.Height; url == "" || a > area {
			url, area = t.URL, a
		}
	}
	return url
}
