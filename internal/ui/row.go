package ui

import (
	"fmt"
	"strings"

	"github.com/ytget/yt-audio/internal/model"
)

// Row is the display form of one item
type Row struct {
	Title    string
	Status   string
	Progress string
	Detail   string
}

var controlReplacer = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")

// FormatRow converts an item snapshot into display strings
func FormatRow(item model.DownloadItem) Row {
	row := Row{
		Title:  cleanText(item.GetDisplayTitle()),
		Status: statusLabel(item.Status),
	}

	if item.Status != model.ItemStatusDone {
		row.Progress = fmt.Sprintf(ProgressLabelFormat, effectivePercent(item))
	}

	switch item.Status {
	case model.ItemStatusDownloading:
		row.Detail = transferDetail(item)
	case model.ItemStatusDone:
		parts := []string{}
		if item.Duration != "" {
			parts = append(parts, item.Duration)
		}
		if item.OutputPath != "" {
			parts = append(parts, item.OutputPath)
		}
		row.Detail = strings.Join(parts, MiddleDotSeparator)
	case model.ItemStatusError:
		row.Detail = cleanText(item.ErrorMessage)
	}

	return row
}

func cleanText(s string) string {
	return strings.TrimSpace(controlReplacer.Replace(s))
}

func statusLabel(status model.ItemStatus) string {
	switch status {
	case model.ItemStatusIdle:
		return IconPending + " " + status.String()
	case model.ItemStatusFetching:
		return IconFetch + " " + status.String()
	case model.ItemStatusDownloading:
		return IconPlay + " " + status.String()
	case model.ItemStatusDone:
		return IconDone + " " + status.String()
	case model.ItemStatusError:
		return IconError + " " + status.String()
	default:
		return status.String()
	}
}

// effectivePercent never shows 0% once any progress was made
func effectivePercent(item model.DownloadItem) int {
	if item.Status == model.ItemStatusDone {
		return MaxProgressPercent
	}
	percent := item.GetPercent()
	if percent == 0 && item.Progress > 0 {
		percent = int(item.Progress*MaxProgressPercent + RoundingCoefficient)
		if percent == 0 {
			percent = MinProgressPercent
		}
	}
	if percent < 0 {
		percent = 0
	}
	if percent > MaxProgressPercent {
		percent = MaxProgressPercent
	}
	return percent
}

func transferDetail(item model.DownloadItem) string {
	if item.BytesReceived <= 0 {
		return DashPlaceholder
	}
	if item.TotalBytes <= 0 {
		return formatFileSize(item.BytesReceived)
	}
	return formatFileSize(item.BytesReceived) + " / " + formatFileSize(item.TotalBytes)
}

// formatFileSize formats file size in bytes to human readable format
func formatFileSize(bytes int64) string {
	if bytes < FileSizeUnit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(FileSizeUnit), 0
	for n := bytes / FileSizeUnit; n >= FileSizeUnit; n /= FileSizeUnit {
		div *= FileSizeUnit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), FileSizeUnits[exp])
}
