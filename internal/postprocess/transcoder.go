package postprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/yt-audio/internal/model"
)

// FFmpeg constants for audio conversion
const (
	AudioCodecMP3     = "libmp3lame"
	DefaultMP3Bitrate = "192k"

	FFmpegCommand       = "ffmpeg"
	FFprobeCommand      = "ffprobe"
	FFprobeLogLevel     = "error"
	FFprobeShowEntries  = "format=duration"
	FFprobeOutputFormat = "csv=p=0"
	ProgressPipeTarget  = "pipe:2"
	ProgressTimePrefix  = "out_time_us="
	TempSuffix          = ".transcoding"

	stderrTailLines = 5
)

// Transcoder re-encodes downloads requested as MP3 with ffmpeg. Other formats
// pass through untouched.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	bitrate     string
	log         *zap.Logger
}

// NewTranscoder creates a transcoder. Empty values fall back to defaults.
func NewTranscoder(ffmpegPath, bitrate string, log *zap.Logger) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = FFmpegCommand
	}
	if bitrate == "" {
		bitrate = DefaultMP3Bitrate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: siblingProbe(ffmpegPath),
		bitrate:     bitrate,
		log:         log.Named("transcode"),
	}
}

// Name identifies the step in error messages
func (t *Transcoder) Name() string {
	return "transcode"
}

// Process converts the file at path in place
func (t *Transcoder) Process(ctx context.Context, item model.DownloadItem, path string) (string, error) {
	if item.Format != model.FormatMP3 {
		return path, nil
	}

	tmp := tempPath(path)
	duration, err := t.probeDuration(ctx, path)
	if err != nil {
		t.log.Debug("duration probe failed, progress disabled", zap.String("path", path), zap.Error(err))
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath, t.BuildFFmpegArgs(path, tmp)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// stderr must be drained before Wait closes it
	msg := <-t.monitorProgress(stderr, item.ID, duration)
	if err := cmd.Wait(); err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg != "" {
			return "", fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to replace source with transcoded file: %w", err)
	}

	t.log.Info("transcoded", zap.String("item_id", item.ID), zap.String("path", path), zap.String("bitrate", t.bitrate))
	return path, nil
}

// BuildFFmpegArgs builds the ffmpeg command arguments
func (t *Transcoder) BuildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",            // Overwrite output file
		"-i", inputPath, // Input file
		"-vn",           // Drop video and cover art streams
		"-c:a", AudioCodecMP3, // Audio codec
		"-b:a", t.bitrate, // Audio bitrate
		"-f", "mp3", // Temp file has no .mp3 extension
		"-progress", ProgressPipeTarget, // Progress to stderr
		"-nostats", // No stats output
		outputPath, // Output file
	}
}

// probeDuration gets the duration of a media file using ffprobe
func (t *Transcoder) probeDuration(ctx context.Context, filePath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath, "-v", FFprobeLogLevel, "-show_entries", FFprobeShowEntries, "-of", FFprobeOutputFormat, filePath)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}
	return parseProbeDuration(output)
}

func parseProbeDuration(output []byte) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// monitorProgress consumes ffmpeg stderr, logging progress and keeping the
// last non-progress lines for error reporting. The channel yields that tail
// once stderr is closed.
func (t *Transcoder) monitorProgress(stderr io.Reader, itemID string, total time.Duration) <-chan string {
	tail := make(chan string, 1)

	go func() {
		var lines []string
		lastStep := -1
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if fraction, ok := parseProgressLine(line, total); ok {
				// log every 10%
				if step := int(fraction * 10); step > lastStep {
					lastStep = step
					t.log.Debug("transcode progress", zap.String("item_id", itemID), zap.Float64("progress", fraction))
				}
				continue
			}
			if line == "" || strings.Contains(line, "=") {
				continue
			}
			lines = append(lines, line)
			if len(lines) > stderrTailLines {
				lines = lines[1:]
			}
		}
		tail <- strings.Join(lines, "; ")
	}()

	return tail
}

// parseProgressLine parses "out_time_us=123456" into a fraction of total
func parseProgressLine(line string, total time.Duration) (float64, bool) {
	if !strings.HasPrefix(line, ProgressTimePrefix) || total <= 0 {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimPrefix(line, ProgressTimePrefix), 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	fraction := float64(time.Duration(us)*time.Microsecond) / float64(total)
	if fraction > 1.0 {
		fraction = 1.0
	}
	return fraction, true
}

// tempPath returns the sibling path ffmpeg writes to before the rename
func tempPath(path string) string {
	return path + TempSuffix
}

// siblingProbe locates ffprobe next to a configured ffmpeg binary
func siblingProbe(ffmpegPath string) string {
	dir := filepath.Dir(ffmpegPath)
	if dir == "." && !strings.ContainsRune(ffmpegPath, filepath.Separator) {
		return FFprobeCommand
	}
	name := FFprobeCommand
	if ext := filepath.Ext(ffmpegPath); ext != "" {
		name += ext
	}
	return filepath.Join(dir, name)
}
