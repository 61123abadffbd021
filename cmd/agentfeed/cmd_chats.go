package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentfeed/internal/types"
)

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(chatsListCmd, chatsCreateCmd, chatsRenameCmd, chatsDeleteCmd)
	chatsListCmd.Flags().Bool("all", false, "fetch every page, not just the newest")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		s := newSession(cfg)
		defer s.Close()

		ctx := context.Background()
		if err := s.LoadChats(ctx, false); err != nil {
			return fmt.Errorf("load conversations: %w", err)
		}
		if all, _ := cmd.Flags().GetBool("all"); all {
			for s.HasMoreChats() {
				if err := s.LoadMoreChats(ctx); err != nil {
					return fmt.Errorf("load more conversations: %w", err)
				}
			}
		}

		chats := s.Chats()
		if len(chats) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUPDATED\tLATEST")
		for _, chat := range chats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				chat.ID,
				chat.Name,
				chat.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				truncate(chat.LatestMessageContent, 60),
			)
		}
		return w.Flush()
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		chat, err := newClient(cfg).CreateChat(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Created %s (%s)\n", chat.Name, chat.ID)
		return nil
	},
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		chat, err := newClient(cfg).RenameChat(context.Background(), types.ChatID(args[0]), args[1])
		if err != nil {
			return fmt.Errorf("rename conversation: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Renamed %s to %s\n", chat.ID, chat.Name)
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := newClient(cfg).DeleteChat(context.Background(), types.ChatID(args[0])); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Deleted %s\n", args[0])
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
