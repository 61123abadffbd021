package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentfeed/internal/archive"
	"github.com/user/agentfeed/internal/config"
	"github.com/user/agentfeed/internal/pagefetch"
	"github.com/user/agentfeed/internal/types"
)

func init() {
	rootCmd.AddCommand(screenshotsCmd)
	screenshotsCmd.AddCommand(screenshotsListCmd, screenshotsSaveCmd)
	screenshotsListCmd.Flags().Bool("all", false, "fetch every page, not just the newest")
	screenshotsSaveCmd.Flags().String("out", "", "output directory (defaults to the data dir)")
	screenshotsSaveCmd.Flags().Bool("all", false, "save every page, not just the newest")
}

var screenshotsCmd = &cobra.Command{
	Use:   "screenshots",
	Short: "Inspect a conversation's screenshots",
}

func fetchScreenshots(ctx context.Context, cmd *cobra.Command, cfg *config.Config, chatID types.ChatID) ([]types.Screenshot, error) {
	pager := pagefetch.New(newClient(cfg).Screenshots(chatID), cfg.Pages.Screenshots)
	if _, err := pager.Fetch(ctx, false); err != nil {
		return nil, fmt.Errorf("load screenshots: %w", err)
	}
	if all, _ := cmd.Flags().GetBool("all"); all {
		for pager.HasMore() {
			if _, err := pager.FetchMore(ctx); err != nil {
				return nil, fmt.Errorf("load older screenshots: %w", err)
			}
		}
	}
	return pager.Items(), nil
}

var screenshotsListCmd = &cobra.Command{
	Use:   "list <chat-id>",
	Short: "List the newest screenshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		shots, err := fetchScreenshots(context.Background(), cmd, cfg, types.ChatID(args[0]))
		if err != nil {
			return err
		}
		if len(shots) == 0 {
			fmt.Println("No screenshots found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCAPTURED\tPAGE")
		for _, s := range shots {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				s.ID,
				s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				truncate(s.PageSummary, 60),
			)
		}
		return w.Flush()
	},
}

var screenshotsSaveCmd = &cobra.Command{
	Use:   "save <chat-id>",
	Short: "Decode screenshots to image files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.DataDir
		}

		shots, err := fetchScreenshots(context.Background(), cmd, cfg, types.ChatID(args[0]))
		if err != nil {
			return err
		}
		if len(shots) == 0 {
			fmt.Println("No screenshots found.")
			return nil
		}

		store := archive.New(out)
		for _, s := range shots {
			path, err := store.SaveScreenshot(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, path)
		}
		return nil
	},
}
