package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ytget/yt-audio/internal/model"
	"github.com/ytget/yt-audio/internal/platform"
)

// AppName names the per-user config directory
const AppName = "yt-audio"

// EnvPrefix prefixes environment overrides, e.g. YTAUDIO_DOWNLOAD_DIR
const EnvPrefix = "YTAUDIO"

// DotEnvFile is loaded into the environment before configuration is read
var DotEnvFile = ".env"

// Settings keys
const (
	KeyDownloadDir    = "download.dir"
	KeyMaxParallel    = "download.max_parallel"
	KeyFormat         = "download.format"
	KeyChunkSizeKB    = "download.chunk_size_kb"
	KeyRateLimitKBps  = "download.rate_limit_kbps"
	KeyUniqueNames    = "download.unique_names"
	KeyRequestTimeout = "download.request_timeout"
	KeyTranscode      = "postprocess.transcode"
	KeyFFmpegPath     = "postprocess.ffmpeg_path"
	KeyMP3Bitrate     = "postprocess.mp3_bitrate"
	KeyTag            = "postprocess.tag"
	KeyHistoryEnabled = "history.enabled"
	KeyHistoryPath    = "history.path"
	KeyLogLevel       = "logging.level"
	KeyLogFormat      = "logging.format"
)

// Default values
const (
	DefaultMaxParallel    = 2
	MaxParallelLimit      = 10
	DefaultFormat         = model.FormatM4A
	DefaultChunkSizeKB    = 64
	DefaultRequestTimeout = "60s"
	DefaultFFmpegPath     = "ffmpeg"
	DefaultMP3Bitrate     = "192k"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	fallbackDownloadDir   = "downloads"
	historyFileName       = "history.db"
)

// Settings represents the entire application configuration
type Settings struct {
	Download    DownloadConfig    `mapstructure:"download"`
	PostProcess PostProcessConfig `mapstructure:"postprocess"`
	History     HistoryConfig     `mapstructure:"history"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DownloadConfig contains engine settings
type DownloadConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	Format         string `mapstructure:"format"`
	ChunkSizeKB    int    `mapstructure:"chunk_size_kb"`
	RateLimitKBps  int    `mapstructure:"rate_limit_kbps"` // 0 = unlimited
	UniqueNames    bool   `mapstructure:"unique_names"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

// PostProcessConfig contains transcoding and tagging settings
type PostProcessConfig struct {
	Transcode  bool   `mapstructure:"transcode"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	MP3Bitrate string `mapstructure:"mp3_bitrate"`
	Tag        bool   `mapstructure:"tag"`
}

// HistoryConfig contains history store settings
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from configPath, or from config.yaml in the user
// config directory when configPath is empty. A missing default file is not
// an error. Environment variables override file values.
func Load(configPath string) (*Settings, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := platform.GetConfigDir(AppName); err == nil {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	downloadDir, err := platform.GetHomeDownloadsDir()
	if err != nil {
		downloadDir = fallbackDownloadDir
	}
	historyPath := historyFileName
	if dir, err := platform.GetConfigDir(AppName); err == nil {
		historyPath = filepath.Join(dir, historyFileName)
	}

	v.SetDefault(KeyDownloadDir, downloadDir)
	v.SetDefault(KeyMaxParallel, DefaultMaxParallel)
	v.SetDefault(KeyFormat, string(DefaultFormat))
	v.SetDefault(KeyChunkSizeKB, DefaultChunkSizeKB)
	v.SetDefault(KeyRateLimitKBps, 0)
	v.SetDefault(KeyUniqueNames, false)
	v.SetDefault(KeyRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeyTranscode, false)
	v.SetDefault(KeyFFmpegPath, DefaultFFmpegPath)
	v.SetDefault(KeyMP3Bitrate, DefaultMP3Bitrate)
	v.SetDefault(KeyTag, true)
	v.SetDefault(KeyHistoryEnabled, true)
	v.SetDefault(KeyHistoryPath, historyPath)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
}

// Validate validates the configuration
func (s *Settings) Validate() error {
	d := s.Download
	if strings.TrimSpace(d.Dir) == "" {
		return fmt.Errorf("%s is required", KeyDownloadDir)
	}
	if d.MaxParallel < 1 || d.MaxParallel > MaxParallelLimit {
		return fmt.Errorf("%s must be between 1 and %d", KeyMaxParallel, MaxParallelLimit)
	}
	if _, err := model.ParseOutputFormat(d.Format); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyFormat, err)
	}
	if d.ChunkSizeKB <= 0 {
		return fmt.Errorf("%s must be positive", KeyChunkSizeKB)
	}
	if d.RateLimitKBps < 0 {
		return fmt.Errorf("%s must not be negative", KeyRateLimitKBps)
	}
	if timeout, err := time.ParseDuration(d.RequestTimeout); err != nil || timeout <= 0 {
		return fmt.Errorf("invalid %s: %q", KeyRequestTimeout, d.RequestTimeout)
	}

	if s.PostProcess.Transcode && strings.TrimSpace(s.PostProcess.FFmpegPath) == "" {
		return fmt.Errorf("%s is required when transcoding", KeyFFmpegPath)
	}
	if s.PostProcess.Transcode && strings.TrimSpace(s.PostProcess.MP3Bitrate) == "" {
		return fmt.Errorf("%s is required when transcoding", KeyMP3Bitrate)
	}

	if s.History.Enabled && strings.TrimSpace(s.History.Path) == "" {
		return fmt.Errorf("%s is required when history is enabled", KeyHistoryPath)
	}

	switch s.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", s.Logging.Level)
	}

	switch s.Logging.Format {
	case "json", "console":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", s.Logging.Format)
	}

	return nil
}

// GetFormat returns the configured output format
func (c *DownloadConfig) GetFormat() model.OutputFormat {
	f, err := model.ParseOutputFormat(c.Format)
	if err != nil {
		return DefaultFormat
	}
	return f
}

// GetChunkSize returns the transfer chunk size in bytes
func (c *DownloadConfig) GetChunkSize() int {
	if c.ChunkSizeKB <= 0 {
		return DefaultChunkSizeKB * 1024
	}
	return c.ChunkSizeKB * 1024
}

// GetRateLimit returns the transfer rate limit in bytes per second, 0 if unlimited
func (c *DownloadConfig) GetRateLimit() int {
	if c.RateLimitKBps <= 0 {
		return 0
	}
	return c.RateLimitKBps * 1024
}

// GetRequestTimeout returns the HTTP request timeout as time.Duration
func (c *DownloadConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
