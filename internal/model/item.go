package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemIDPrefix prefixes every generated item identifier
const ItemIDPrefix = "item-"

// ErrInvalidTransition is returned when a transition is not allowed from the current status
var ErrInvalidTransition = errors.New("invalid status transition")

// DownloadItem holds the lifecycle state of one requested download
type DownloadItem struct {
	ID           string
	URL          string
	Title        string // resolved video title
	Author       string // resolved channel/author
	Duration     string // minutes:seconds
	ThumbnailURL string // preview image reference, never fetched
	Format       OutputFormat
	Status       ItemStatus
	Progress     float64 // 0.0 to 1.0
	ErrorMessage string  // set only while Status is Error
	ErrorKind    ErrorKind
	OutputPath   string // destination of the current or last attempt

	BytesReceived int64
	TotalBytes    int64
	Attempts      int

	CreatedAt  time.Time
	StartedAt  time.Time // start of the current attempt
	FinishedAt time.Time
}

// NewDownloadItem creates an idle item for url with the requested format
func NewDownloadItem(url string, format OutputFormat) *DownloadItem {
	return &DownloadItem{
		ID:        generateItemID(),
		URL:       url,
		Format:    format,
		Status:    ItemStatusIdle,
		CreatedAt: time.Now(),
	}
}

// BeginFetch moves an idle item into metadata resolution
func (it *DownloadItem) BeginFetch() error {
	if it.Status != ItemStatusIdle {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, ItemStatusFetching)
	}
	it.Status = ItemStatusFetching
	it.Attempts++
	it.StartedAt = time.Now()
	return nil
}

// ApplyMetadata stores resolved metadata and moves the item into downloading
func (it *DownloadItem) ApplyMetadata(title, author string, duration time.Duration, thumbnailURL string) error {
	if it.Status != ItemStatusFetching {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, ItemStatusDownloading)
	}
	it.Title = title
	it.Author = author
	it.Duration = FormatDuration(duration)
	it.ThumbnailURL = thumbnailURL
	it.Status = ItemStatusDownloading
	it.Progress = 0
	it.BytesReceived = 0
	it.TotalBytes = 0
	return nil
}

// SetProgress records transfer progress. Progress never decreases within an attempt.
func (it *DownloadItem) SetProgress(fraction float64, received, total int64) {
	if it.Status != ItemStatusDownloading {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > it.Progress {
		it.Progress = fraction
	}
	it.BytesReceived = received
	it.TotalBytes = total
}

// Complete marks the item done and forces progress to 1.0
func (it *DownloadItem) Complete(outputPath string) error {
	if it.Status != ItemStatusDownloading {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, ItemStatusDone)
	}
	it.Status = ItemStatusDone
	it.Progress = 1.0
	it.OutputPath = outputPath
	it.ErrorMessage = ""
	it.ErrorKind = ErrorKindNone
	it.FinishedAt = time.Now()
	return nil
}

// Fail moves the item into the error state. Progress keeps its partial value.
func (it *DownloadItem) Fail(kind ErrorKind, message string) {
	if strings.TrimSpace(message) == "" {
		message = "download failed"
	}
	it.Status = ItemStatusError
	it.ErrorMessage = message
	it.ErrorKind = kind
	it.FinishedAt = time.Now()
}

// ResetForRetry moves a failed item back into metadata resolution
func (it *DownloadItem) ResetForRetry() error {
	if !it.Status.CanRetry() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, ItemStatusFetching)
	}
	it.Status = ItemStatusFetching
	it.ErrorMessage = ""
	it.ErrorKind = ErrorKindNone
	it.Progress = 0
	it.BytesReceived = 0
	it.TotalBytes = 0
	it.FinishedAt = time.Time{}
	it.Attempts++
	it.StartedAt = time.Now()
	return nil
}

// GetPercent returns progress as an integer percentage
func (it *DownloadItem) GetPercent() int {
	return int(it.Progress * 100)
}

// GetDisplayTitle returns title, filename, or URL in order of preference
func (it *DownloadItem) GetDisplayTitle() string {
	if it.Title != "" {
		return it.Title
	}

	if it.OutputPath != "" {
		parts := strings.FieldsFunc(it.OutputPath, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			filename := parts[len(parts)-1]
			if idx := strings.LastIndex(filename, "."); idx > 0 {
				filename = filename[:idx]
			}
			return filename
		}
	}

	return it.URL
}

// generateItemID generates a time-ordered unique item ID
func generateItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(ItemIDPrefix+"%d", time.Now().UnixNano())
	}
	return ItemIDPrefix + id.String()
}
