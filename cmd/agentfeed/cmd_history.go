package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/agentfeed/internal/pagefetch"
	"github.com/user/agentfeed/internal/reconcile"
	"github.com/user/agentfeed/internal/render"
	"github.com/user/agentfeed/internal/types"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("pages", 1, "number of history pages to fetch")
	historyCmd.Flags().Bool("all", false, "fetch the full history")
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Print a conversation's event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		client := newClient(cfg)
		chatID := types.ChatID(args[0])

		pager := pagefetch.New(client.Events(chatID), cfg.Pages.Events,
			pagefetch.WithAppendFilter[types.ChatEvent](reconcile.DedupeEvents))

		ctx := context.Background()
		if _, err := pager.Fetch(ctx, false); err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		pages, _ := cmd.Flags().GetInt("pages")
		all, _ := cmd.Flags().GetBool("all")
		for fetched := 1; pager.HasMore() && (all || fetched < pages); fetched++ {
			if _, err := pager.FetchMore(ctx); err != nil {
				return fmt.Errorf("load older history: %w", err)
			}
		}

		events := pager.Items()
		if len(events) == 0 {
			fmt.Println("No events.")
			return nil
		}

		// Items accumulate newest first; print oldest first.
		for i := len(events) - 1; i >= 0; i-- {
			fmt.Fprintln(os.Stdout, render.Event(events[i]))
		}
		if pager.HasMore() {
			fmt.Fprintln(os.Stdout, "(older events not shown; use --all)")
		}
		return nil
	},
}
