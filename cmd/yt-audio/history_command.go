package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ytget/yt-audio/internal/history"
)

const defaultHistoryLimit = 20

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openHistory(cfg)
			if err != nil {
				return err
			}
			if store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "History is disabled")
				return nil
			}
			defer store.Close()

			if clearAll {
				if err := store.Clear(); err != nil {
					return fmt.Errorf("clear history: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
				return nil
			}
			return printHistory(cmd.OutOrStdout(), store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete all history entries")

	return cmd
}

func printHistory(w io.Writer, store *history.Store, limit int) error {
	entries, err := store.List(limit)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "History is empty")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = e.URL
		}
		detail := e.OutputPath
		if e.ErrorMessage != "" {
			detail = e.ErrorMessage
		}
		rows = append(rows, []string{
			e.FinishedAt.Local().Format("2006-01-02 15:04"),
			title,
			e.Status,
			strconv.Itoa(e.Attempts),
			detail,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Finished", "Title", "Status", "Attempts", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}
