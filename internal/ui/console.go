package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/ytget/yt-audio/internal/download"
	"github.com/ytget/yt-audio/internal/model"
)

// Console renders registry events to a terminal
type Console struct {
	out         io.Writer
	log         *zap.Logger
	interactive bool

	mu       sync.Mutex
	items    map[string]model.DownloadItem
	order    []string
	bar      *progressbar.ProgressBar
	finished int
}

// NewConsole creates a console writing to out. The progress bar is only
// used when out is a terminal.
func NewConsole(out io.Writer, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{
		out:         out,
		log:         log.Named("ui"),
		interactive: IsTerminal(out),
		items:       make(map[string]model.DownloadItem),
	}
}

// SetInteractive overrides terminal detection
func (c *Console) SetInteractive(interactive bool) {
	c.mu.Lock()
	c.interactive = interactive
	c.mu.Unlock()
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Attach subscribes the console to reg and returns the unsubscribe function
func (c *Console) Attach(reg *download.Registry) func() {
	return reg.Subscribe(c.Handle)
}

// Handle applies one registry event
func (c *Console) Handle(ev download.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := ev.Item
	prev, known := c.items[item.ID]

	switch ev.Kind {
	case download.EventInserted:
		if !known {
			c.order = append(c.order, item.ID)
		}
		c.items[item.ID] = item
		c.log.Debug("queued", zap.String("item_id", item.ID), zap.String("url", item.URL))
	case download.EventRemoved:
		if known {
			delete(c.items, item.ID)
			c.dropFromOrder(item.ID)
			if prev.Status.IsFinished() {
				c.finished--
			}
		}
	case download.EventUpdated:
		if !known {
			return
		}
		c.items[item.ID] = item
		if prev.Status != item.Status {
			c.transition(prev, item)
		}
	}

	if c.interactive {
		c.renderBar()
	}
}

func (c *Console) transition(prev, item model.DownloadItem) {
	if prev.Status.IsFinished() && !item.Status.IsFinished() {
		c.finished--
	}
	if !prev.Status.IsFinished() && item.Status.IsFinished() {
		c.finished++
	}

	row := FormatRow(item)
	fields := []zap.Field{
		zap.String("item_id", item.ID),
		zap.String("title", row.Title),
		zap.Stringer("status", item.Status),
	}

	switch item.Status {
	case model.ItemStatusDownloading:
		c.log.Info("downloading", append(fields, zap.String("duration", item.Duration))...)
	case model.ItemStatusDone:
		c.log.Info("download finished", append(fields, zap.String("path", item.OutputPath))...)
		c.printLine(row)
	case model.ItemStatusError:
		c.log.Warn("download failed", append(fields, zap.Stringer("kind", item.ErrorKind), zap.String("error", item.ErrorMessage))...)
		c.printLine(row)
	case model.ItemStatusFetching:
		c.log.Debug("fetching metadata", fields...)
	}
}

// printLine writes a permanent line above the bar on terminals
func (c *Console) printLine(row Row) {
	if !c.interactive {
		return
	}
	if c.bar != nil {
		c.bar.Clear()
	}
	fmt.Fprintf(c.out, "%s  %s  %s\n", row.Status, row.Title, row.Detail)
}

func (c *Console) renderBar() {
	total := len(c.order) * MaxProgressPercent
	if total == 0 {
		return
	}
	if c.bar == nil {
		c.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionSetWidth(BarWidth),
			progressbar.OptionThrottle(BarThrottle),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	} else if c.bar.GetMax() != total {
		c.bar.ChangeMax(total)
	}

	sum := 0
	for _, id := range c.order {
		sum += effectivePercent(c.items[id])
	}
	c.bar.Describe(fmt.Sprintf("%d/%d done", c.finished, len(c.order)))
	c.bar.Set(sum)
}

func (c *Console) dropFromOrder(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Finish completes the progress bar so following output starts on a new line
func (c *Console) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		c.bar.Finish()
		fmt.Fprintln(c.out)
		c.bar = nil
	}
}

// Rows returns display rows in submission order
func (c *Console) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]Row, 0, len(c.order))
	for _, id := range c.order {
		rows = append(rows, FormatRow(c.items[id]))
	}
	return rows
}

// Finished returns how many items reached Done or Error
func (c *Console) Finished() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
