package download

import (
	"context"

	"github.com/ytget/yt-audio/internal/model"
)

// Downloader defines the interface for the download engine.
type Downloader interface {
	Submit(url string, format model.OutputFormat) (model.DownloadItem, error)
	Retry(id string) error
	Remove(id string) error
	Cancel(id string) error
	Registry() *Registry

	// Wait blocks until no pipeline is running or ctx is done
	Wait(ctx context.Context) error

	// Shutdown aborts all running pipelines and waits for them to exit
	Shutdown()
}

// PostProcessor transforms a finished download. It returns the final path,
// which may differ from path when the file was converted.
type PostProcessor interface {
	Name() string
	Process(ctx context.Context, item model.DownloadItem, path string) (string, error)
}

// Recorder persists items that reached a terminal state
type Recorder interface {
	Record(item model.DownloadItem) error
}

var _ Downloader = (*Engine)(nil)
