package main

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ytget/yt-audio/internal/config"
	"github.com/ytget/yt-audio/internal/download"
	"github.com/ytget/yt-audio/internal/history"
	"github.com/ytget/yt-audio/internal/logger"
	"github.com/ytget/yt-audio/internal/platform"
	"github.com/ytget/yt-audio/internal/postprocess"
	"github.com/ytget/yt-audio/internal/resolver"
	"github.com/ytget/yt-audio/internal/transfer"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string

	configOnce sync.Once
	config     *config.Settings
	configErr  error

	// overridable in tests
	newResolver     func(cfg *config.Settings, log *zap.Logger) resolver.Resolver
	playlistFetcher platform.PlaylistFetcher
}

func newCommandContext() *commandContext {
	return &commandContext{
		newResolver: newYouTubeResolver,
	}
}

func (c *commandContext) ensureConfig() (*config.Settings, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != "" {
			cfg.Logging.Level = c.logLevelFlag
			if err := cfg.Validate(); err != nil {
				c.configErr = err
				return
			}
		}
		if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) playlistExpander(cfg *config.Settings) *platform.PlaylistExpander {
	expander := platform.NewPlaylistExpander()
	expander.SetTimeout(cfg.Download.GetRequestTimeout())
	if c.playlistFetcher != nil {
		expander.SetFetcher(c.playlistFetcher)
	}
	return expander
}

// openHistory returns nil when history is disabled
func (c *commandContext) openHistory(cfg *config.Settings) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// newYouTubeResolver builds the resolver with a client whose timeout only
// bounds waiting for response headers, so long stream bodies are not cut off
func newYouTubeResolver(cfg *config.Settings, log *zap.Logger) resolver.Resolver {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.Download.GetRequestTimeout()
	return resolver.NewYouTubeResolver(&http.Client{Transport: tr}, log)
}

func buildEngineOptions(cfg *config.Settings, log *zap.Logger, rec download.Recorder) download.Options {
	opts := download.Options{
		BaseDir:     cfg.Download.Dir,
		MaxParallel: cfg.Download.MaxParallel,
		ChunkSize:   cfg.Download.GetChunkSize(),
		Limiter:     transfer.NewLimiter(cfg.Download.GetRateLimit(), cfg.Download.GetChunkSize()),
		UniqueNames: cfg.Download.UniqueNames,
		History:     rec,
		Logger:      log,
	}
	if cfg.PostProcess.Transcode {
		opts.PostProcessors = append(opts.PostProcessors,
			postprocess.NewTranscoder(cfg.PostProcess.FFmpegPath, cfg.PostProcess.MP3Bitrate, log))
	}
	if cfg.PostProcess.Tag {
		opts.PostProcessors = append(opts.PostProcessors, postprocess.NewTagger(log))
	}
	return opts
}
