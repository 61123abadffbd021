package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/user/agentfeed/internal/prefetch"
	"github.com/user/agentfeed/internal/tui"
	"github.com/user/agentfeed/internal/types"
)

func init() {
	rootCmd.AddCommand(viewCmd)
}

var viewCmd = &cobra.Command{
	Use:   "view <chat-id>",
	Short: "Open the interactive conversation viewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		s := newSession(cfg)
		defer s.Close()

		if err := s.Select(cmd.Context(), types.ChatID(args[0])); err != nil {
			return fmt.Errorf("select conversation: %w", err)
		}

		model := tui.New(tui.Config{
			Session: s,
			Prefetch: prefetch.Config{
				Lookahead:   cfg.Prefetch.Lookahead,
				Debounce:    time.Duration(cfg.Prefetch.DebounceMS) * time.Millisecond,
				MinInterval: time.Duration(cfg.Prefetch.MinIntervalMS) * time.Millisecond,
			},
		})
		_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
		return err
	},
}
