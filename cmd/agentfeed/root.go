package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentfeed/internal/api"
	"github.com/user/agentfeed/internal/config"
	"github.com/user/agentfeed/internal/reconcile"
	"github.com/user/agentfeed/internal/session"
	"github.com/user/agentfeed/internal/transport"
	"github.com/user/agentfeed/internal/types"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "agentfeed",
	Short:        "Follow and drive agent conversations from the terminal",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".agentfeed", "config.json"), "config file path")
}

// loadConfig loads the config file and wires slog. Exits on failure: no
// command can run without a config.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)
	return cfg
}

func setupLogging(name string) {
	var level slog.Level
	switch strings.ToLower(name) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newClient(cfg *config.Config) *api.Client {
	return api.New(cfg.Server, cfg.Auth.Token)
}

func transportConfig(cfg *config.Config, chatID types.ChatID) transport.Config {
	return transport.Config{
		BaseURL:              cfg.Server,
		Token:                cfg.Auth.Token,
		ChatID:               chatID,
		ReconnectInterval:    time.Duration(cfg.Reconnect.IntervalMS) * time.Millisecond,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		SendTimeout:          time.Duration(cfg.SendTimeoutMS) * time.Millisecond,
	}
}

func newSession(cfg *config.Config) *session.Session {
	dial := func(chatID types.ChatID) (types.EventSource, error) {
		conn, err := transport.New(transportConfig(cfg, chatID))
		if err != nil {
			return nil, err
		}
		// Open the live channel right away so pushed events, screenshots,
		// and title updates flow without waiting for the first send. A
		// failed first attempt has already scheduled its own retry.
		if err := conn.Dial(context.Background()); err != nil {
			slog.Warn("live channel dial failed", "chat_id", string(chatID), "error", err)
		}
		return conn, nil
	}
	return session.New(newClient(cfg), dial, session.Config{
		ChatsPageSize:       cfg.Pages.Chats,
		EventsPageSize:      cfg.Pages.Events,
		ScreenshotsPageSize: cfg.Pages.Screenshots,
		Reconcile: reconcile.Config{
			CountWhenUnfocused: cfg.Screenshots.CountWhenUnfocused,
		},
	})
}
