package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/agentfeed/internal/archive"
	"github.com/user/agentfeed/internal/pagefetch"
	"github.com/user/agentfeed/internal/refresh"
	"github.com/user/agentfeed/internal/render"
	"github.com/user/agentfeed/internal/transport"
	"github.com/user/agentfeed/internal/types"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("archive", false, "persist events and screenshots to the data dir")
}

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Tail a conversation's live stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		chatID := types.ChatID(args[0])
		archiving, _ := cmd.Flags().GetBool("archive")

		conn, err := transport.New(transportConfig(cfg, chatID))
		if err != nil {
			return fmt.Errorf("open live channel: %w", err)
		}
		defer conn.Close()
		if err := conn.Dial(cmd.Context()); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		var store *archive.Archive
		if archiving {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			store = archive.New(cfg.DataDir)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		// The chat list is re-fetched on a schedule so renames and activity
		// in other conversations still surface while tailing this one.
		client := newClient(cfg)
		chats := pagefetch.New(client.Chats, cfg.Pages.Chats)
		refresher := refresh.New(cfg.RefreshCron, func(ctx context.Context) {
			if _, err := chats.Fetch(ctx, true); err != nil {
				slog.Warn("chat list refresh failed", "error", err)
			}
		})

		fmt.Fprintf(os.Stdout, "Watching %s (ctrl-c to stop)\n", chatID)

		// Two tasks share one lifetime: the tail loop and the cron
		// refresher. Either failing, or a signal, takes both down.
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for {
				select {
				case frame, ok := <-conn.Frames():
					if !ok {
						return fmt.Errorf("live channel closed")
					}
					printFrame(frame)
					if store != nil {
						archiveFrame(store, frame)
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
		g.Go(func() error {
			if err := refresher.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			refresher.Stop()
			return nil
		})
		return g.Wait()
	},
}

func printFrame(frame types.Frame) {
	switch {
	case frame.Event != nil:
		fmt.Fprintln(os.Stdout, render.Event(*frame.Event))
	case frame.Screenshot != nil:
		fmt.Fprintln(os.Stdout, render.Screenshot(*frame.Screenshot))
	case frame.Title != nil:
		fmt.Fprintf(os.Stdout, "(conversation renamed to %q)\n", frame.Title.Title)
	}
}

func archiveFrame(store *archive.Archive, frame types.Frame) {
	switch {
	case frame.Event != nil:
		if err := store.AppendEvent(*frame.Event); err != nil {
			slog.Warn("archive event failed", "event_id", string(frame.Event.ID), "error", err)
		}
	case frame.Screenshot != nil:
		if _, err := store.SaveScreenshot(*frame.Screenshot); err != nil {
			slog.Warn("archive screenshot failed", "screenshot_id", string(frame.Screenshot.ID), "error", err)
		}
	}
}
