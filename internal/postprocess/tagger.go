package postprocess

import (
	"context"

	"github.com/Sorrow446/go-mp4tag"
	"go.uber.org/zap"

	"github.com/ytget/yt-audio/internal/model"
)

// tagFile is the part of *mp4tag.MP4 the tagger uses
type tagFile interface {
	Write(tags *mp4tag.MP4Tags, delStrings []string) error
	Close() error
}

// Tagger writes title and artist atoms into M4A downloads. Failures are
// logged and never fail the item.
type Tagger struct {
	open func(path string) (tagFile, error)
	log  *zap.Logger
}

// NewTagger creates a tagger backed by go-mp4tag
func NewTagger(log *zap.Logger) *Tagger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tagger{
		open: func(path string) (tagFile, error) {
			return mp4tag.Open(path)
		},
		log: log.Named("tag"),
	}
}

// Name identifies the step in error messages
func (t *Tagger) Name() string {
	return "tag"
}

// Process tags the file at path. The path is returned unchanged.
func (t *Tagger) Process(ctx context.Context, item model.DownloadItem, path string) (string, error) {
	if item.Format != model.FormatM4A || (item.Title == "" && item.Author == "") {
		return path, nil
	}

	log := t.log.With(zap.String("item_id", item.ID), zap.String("path", path))

	f, err := t.open(path)
	if err != nil {
		log.Warn("skipping tags, file not readable as mp4", zap.Error(err))
		return path, nil
	}
	defer f.Close()

	tags := &mp4tag.MP4Tags{
		Title:   item.Title,
		Artist:  item.Author,
		Comment: item.URL,
	}
	if err := f.Write(tags, []string{}); err != nil {
		log.Warn("failed to write tags", zap.Error(err))
		return path, nil
	}

	log.Debug("tags written", zap.String("title", item.Title), zap.String("artist", item.Author))
	return path, nil
}
