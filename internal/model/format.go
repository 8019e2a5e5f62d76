package model

import (
	"fmt"
	"strings"
	"time"
)

// OutputFormat is the container label requested for the produced audio file.
// It only selects the file extension; the payload is whatever the source
// stream delivers unless a transcoder is configured.
type OutputFormat string

const (
	FormatM4A OutputFormat = "m4a"
	FormatMP3 OutputFormat = "mp3"
)

// Extension returns the file extension including the leading dot
func (f OutputFormat) Extension() string {
	return "." + string(f)
}

// String returns the string representation of OutputFormat
func (f OutputFormat) String() string {
	return string(f)
}

// ParseOutputFormat converts user input into an OutputFormat
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "."))) {
	case "m4a":
		return FormatM4A, nil
	case "mp3":
		return FormatMP3, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

// FormatDuration renders d as minutes:seconds with zero-padded seconds.
// Minutes are not folded into hours. Zero or negative durations yield "".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
