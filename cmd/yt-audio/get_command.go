package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ytget/yt-audio/internal/config"
	"github.com/ytget/yt-audio/internal/download"
	"github.com/ytget/yt-audio/internal/logger"
	"github.com/ytget/yt-audio/internal/model"
	"github.com/ytget/yt-audio/internal/ui"
)

type getOptions struct {
	format      string
	retryFailed int
	dir         string
	parallel    int
	unique      bool
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "Download audio for one or more video or playlist URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			effective, err := applyGetOverrides(*cfg, cmd, opts)
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.runGet(signalCtx, &effective, opts.retryFailed, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format label (m4a, mp3)")
	cmd.Flags().IntVar(&opts.retryFailed, "retry-failed", 0, "Retry failed downloads up to N more times")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "Download directory")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 0, "Maximum concurrent downloads")
	cmd.Flags().BoolVar(&opts.unique, "unique", false, "Pick a free file name instead of overwriting")

	return cmd
}

func applyGetOverrides(cfg config.Settings, cmd *cobra.Command, opts getOptions) (config.Settings, error) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Download.Format = opts.format
	}
	if flags.Changed("dir") {
		cfg.Download.Dir = opts.dir
	}
	if flags.Changed("parallel") {
		cfg.Download.MaxParallel = opts.parallel
	}
	if flags.Changed("unique") {
		cfg.Download.UniqueNames = opts.unique
	}
	if opts.retryFailed < 0 {
		return cfg, fmt.Errorf("--retry-failed must not be negative")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *commandContext) runGet(ctx context.Context, cfg *config.Settings, retries int, args []string, stdout, stderr io.Writer) error {
	log := logger.L()

	urls, err := c.playlistExpander(cfg).ExpandAll(ctx, args)
	if err != nil {
		return err
	}

	store, err := c.openHistory(cfg)
	if err != nil {
		return err
	}
	var recorder download.Recorder
	if store != nil {
		defer store.Close()
		recorder = store
	}

	registry := download.NewRegistry()
	engine := download.NewEngine(registry, c.newResolver(cfg, log), buildEngineOptions(cfg, log, recorder))
	defer engine.Shutdown()

	console := ui.NewConsole(stderr, log)
	console.SetInteractive(ui.IsTerminal(stderr))
	detach := console.Attach(registry)
	defer detach()

	format := cfg.Download.GetFormat()
	for _, u := range urls {
		if _, err := engine.Submit(u, format); err != nil {
			return err
		}
	}

	waitErr := engine.Wait(ctx)
	for round := 0; waitErr == nil && round < retries; round++ {
		retried := retryFailed(engine, log)
		if retried == 0 {
			break
		}
		log.Info("retrying failed downloads", zap.Int("round", round+1), zap.Int("items", retried))
		waitErr = engine.Wait(ctx)
	}
	if waitErr != nil {
		// abort pipelines so every item settles before the summary
		engine.Shutdown()
	}
	console.Finish()

	items := registry.Items()
	fmt.Fprint(stdout, renderSummary(items))

	if waitErr != nil {
		return waitErr
	}
	if failed := countFailed(items); failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(items))
	}
	return nil
}

// retryFailed retries every failed item that was not cancelled and returns how many were restarted
func retryFailed(engine *download.Engine, log *zap.Logger) int {
	retried := 0
	for _, item := range engine.Registry().Items() {
		if item.Status != model.ItemStatusError || item.ErrorKind == model.ErrorKindCancelled {
			continue
		}
		if err := engine.Retry(item.ID); err != nil {
			if !errors.Is(err, download.ErrItemBusy) {
				log.Warn("retry rejected", zap.String("item_id", item.ID), zap.Error(err))
			}
			continue
		}
		retried++
	}
	return retried
}

func countFailed(items []model.DownloadItem) int {
	n := 0
	for _, item := range items {
		if item.Status == model.ItemStatusError {
			n++
		}
	}
	return n
}

func renderSummary(items []model.DownloadItem) string {
	if len(items) == 0 {
		return "No downloads\n"
	}
	rows := make([][]string, 0, len(items))
	// registry is newest first; print in submission order
	for i := len(items) - 1; i >= 0; i-- {
		row := ui.FormatRow(items[i])
		rows = append(rows, []string{row.Title, row.Status, row.Detail})
	}
	return renderTable([]string{"Title", "Status", "Detail"}, rows, nil) + "\n"
}
