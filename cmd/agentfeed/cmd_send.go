package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentfeed/internal/transport"
	"github.com/user/agentfeed/internal/types"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Duration("wait", 0, "wait this long for a reply before exiting")
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		chatID := types.ChatID(args[0])

		conn, err := transport.New(transportConfig(cfg, chatID))
		if err != nil {
			return fmt.Errorf("open live channel: %w", err)
		}
		defer conn.Close()

		ctx := context.Background()
		if !conn.Send(ctx, args[1]) {
			return fmt.Errorf("send to %s failed", chatID)
		}
		fmt.Fprintf(os.Stdout, "Sent to %s\n", chatID)

		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			return nil
		}

		deadline := time.After(wait)
		for {
			select {
			case frame, ok := <-conn.Frames():
				if !ok {
					return nil
				}
				if frame.Event != nil && frame.Event.Author == types.AuthorAgent {
					printFrame(frame)
					if frame.Event.Kind == types.KindMessage {
						return nil
					}
				}
			case <-deadline:
				fmt.Fprintln(os.Stdout, "(no reply within wait window)")
				return nil
			}
		}
	},
}
