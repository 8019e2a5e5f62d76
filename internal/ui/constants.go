package ui

import "time"

// Status icons
const (
	IconPending = "⏳"
	IconFetch   = "🔎"
	IconPlay    = "▶"
	IconDone    = "✔"
	IconError   = "❌"
)

// Text fragments
const (
	MiddleDotSeparator  = " · "
	DashPlaceholder     = "—"
	ProgressLabelFormat = "%d%%"
)

// Progress calculation constants
const (
	MaxProgressPercent  = 100
	MinProgressPercent  = 1
	RoundingCoefficient = 0.5
)

// File size formatting constants
const (
	FileSizeUnit  = 1024
	FileSizeUnits = "KMGTPE"
)

// Progress bar behaviour
const (
	BarWidth    = 30
	BarThrottle = 65 * time.Millisecond
)
