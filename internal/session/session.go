// Package session tracks which conversation is active and owns the wiring
// between the API client, the live channel, and the per-conversation event
// log. Selecting a conversation tears the previous one down completely: its
// in-flight fetches are marked stale, its channel is closed, and its log is
// discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/agentfeed/internal/api"
	"github.com/user/agentfeed/internal/follow"
	"github.com/user/agentfeed/internal/pagefetch"
	"github.com/user/agentfeed/internal/reconcile"
	"github.com/user/agentfeed/internal/types"
)

// ErrSendFailed reports that a message could not be handed to the live
// channel; its optimistic placeholders have already been rolled back.
var ErrSendFailed = errors.New("session: send failed")

// ErrNoSelection reports an operation that needs an active conversation.
var ErrNoSelection = errors.New("session: no conversation selected")

// DialFunc opens a live channel for one conversation.
type DialFunc func(chatID types.ChatID) (types.EventSource, error)

// Config sets per-resource page sizes and reconciliation policy.
type Config struct {
	ChatsPageSize       int
	EventsPageSize      int
	ScreenshotsPageSize int
	Reconcile           reconcile.Config
}

func (c Config) withDefaults() Config {
	if c.ChatsPageSize <= 0 {
		c.ChatsPageSize = 20
	}
	if c.EventsPageSize <= 0 {
		c.EventsPageSize = 20
	}
	if c.ScreenshotsPageSize <= 0 {
		c.ScreenshotsPageSize = 5
	}
	return c
}

// Session is the top-level client state: the conversation list plus at most
// one selected conversation with its live channel and event log.
type Session struct {
	client *api.Client
	dial   DialFunc
	cfg    Config

	chats *pagefetch.Pager[types.Chat]

	mu       sync.Mutex
	active   types.ChatID
	log      *reconcile.Log
	follow   *follow.Controller
	source   types.EventSource
	pumpDone chan struct{}
}

// New creates a Session. dial opens the live channel for a conversation;
// tests inject a fake here.
func New(client *api.Client, dial DialFunc, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		client: client,
		dial:   dial,
		cfg:    cfg,
		chats:  pagefetch.New(client.Chats, cfg.ChatsPageSize),
	}
}

// LoadChats fetches the newest page of the conversation list. refresh keeps
// the current list visible until the response lands.
func (s *Session) LoadChats(ctx context.Context, refresh bool) error {
	_, err := s.chats.Fetch(ctx, refresh)
	return err
}

// LoadMoreChats appends the next older page of the conversation list.
func (s *Session) LoadMoreChats(ctx context.Context) error {
	_, err := s.chats.FetchMore(ctx)
	return err
}

// Chats returns the accumulated conversation list, newest first.
func (s *Session) Chats() []types.Chat {
	return s.chats.Items()
}

func (s *Session) HasMoreChats() bool {
	return s.chats.HasMore()
}

// Select makes chatID the active conversation. The previous conversation's
// fetches become stale, its channel closes, and its log is discarded before
// the new one is built and loaded.
func (s *Session) Select(ctx context.Context, chatID types.ChatID) error {
	s.teardown()

	src, err := s.dial(chatID)
	if err != nil {
		return fmt.Errorf("open live channel: %w", err)
	}

	fc := follow.New()
	events := pagefetch.New(s.client.Events(chatID), s.cfg.EventsPageSize,
		pagefetch.WithAppendFilter[types.ChatEvent](reconcile.DedupeEvents))
	shots := pagefetch.New(s.client.Screenshots(chatID), s.cfg.ScreenshotsPageSize)
	log := reconcile.New(chatID, events, shots, fc, s, s.cfg.Reconcile)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range src.Frames() {
			log.Apply(frame)
		}
		slog.Debug("live channel drained", "chat_id", string(chatID))
	}()

	s.mu.Lock()
	s.active = chatID
	s.log = log
	s.follow = fc
	s.source = src
	s.pumpDone = done
	s.mu.Unlock()

	if err := log.LoadInitial(ctx); err != nil {
		return err
	}
	return nil
}

// teardown releases the active conversation, in order: stale the fetches,
// close the channel, drop the log.
func (s *Session) teardown() {
	s.mu.Lock()
	src := s.source
	done := s.pumpDone
	s.active = ""
	s.log = nil
	s.follow = nil
	s.source = nil
	s.pumpDone = nil
	s.mu.Unlock()

	if src != nil {
		src.Close()
	}
	if done != nil {
		<-done
	}
}

// Active returns the selected conversation id, or "" when none is selected.
func (s *Session) Active() types.ChatID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Log returns the active conversation's event log, or nil.
func (s *Session) Log() *reconcile.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Follow returns the active conversation's live-follow controller, or nil.
func (s *Session) Follow() *follow.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follow
}

// SendMessage inserts the optimistic user echo and thinking indicator, then
// hands the content to the live channel. On failure the placeholders are
// rolled back and ErrSendFailed is returned.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	log, src := s.log, s.source
	s.mu.Unlock()
	if log == nil || src == nil {
		return ErrNoSelection
	}

	echo, thinking := log.InsertPlaceholders(content)
	if !src.Send(ctx, content) {
		log.Remove(echo.ID, thinking.ID)
		return ErrSendFailed
	}
	return nil
}

// LoadOlderEvents appends the next older page of the active conversation's
// event history.
func (s *Session) LoadOlderEvents(ctx context.Context) error {
	log := s.Log()
	if log == nil {
		return ErrNoSelection
	}
	return log.LoadOlder(ctx)
}

// LoadOlderScreenshots appends the next older page of screenshots.
func (s *Session) LoadOlderScreenshots(ctx context.Context) error {
	log := s.Log()
	if log == nil {
		return ErrNoSelection
	}
	return log.LoadOlderScreenshots(ctx)
}

// CreateChat creates a conversation and refreshes the list.
func (s *Session) CreateChat(ctx context.Context, name string) (*types.Chat, error) {
	chat, err := s.client.CreateChat(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.LoadChats(ctx, true); err != nil {
		slog.Warn("chat list refresh failed", "error", err)
	}
	return chat, nil
}

// RenameChat renames a conversation and refreshes the list.
func (s *Session) RenameChat(ctx context.Context, id types.ChatID, name string) error {
	if _, err := s.client.RenameChat(ctx, id, name); err != nil {
		return err
	}
	if err := s.LoadChats(ctx, true); err != nil {
		slog.Warn("chat list refresh failed", "error", err)
	}
	return nil
}

// DeleteChat deletes a conversation, deselecting it first if active, and
// refreshes the list.
func (s *Session) DeleteChat(ctx context.Context, id types.ChatID) error {
	if s.Active() == id {
		s.teardown()
	}
	if err := s.client.DeleteChat(ctx, id); err != nil {
		return err
	}
	if err := s.LoadChats(ctx, true); err != nil {
		slog.Warn("chat list refresh failed", "error", err)
	}
	return nil
}

// Close releases the active conversation and its live channel.
func (s *Session) Close() {
	s.teardown()
	s.chats.Reset()
}

// UpdateLatest implements reconcile.ChatMeta: denormalized latest-message
// fields on the conversation list.
func (s *Session) UpdateLatest(id types.ChatID, content string, at time.Time) {
	s.chats.Mutate(func(items []types.Chat) []types.Chat {
		out := append([]types.Chat(nil), items...)
		for i := range out {
			if out[i].ID == id {
				ts := at
				out[i].LatestMessageContent = content
				out[i].LatestMessageTimestamp = &ts
			}
		}
		return out
	})
}

// UpdateTitle implements reconcile.ChatMeta.
func (s *Session) UpdateTitle(id types.ChatID, title string, at time.Time) {
	s.chats.Mutate(func(items []types.Chat) []types.Chat {
		out := append([]types.Chat(nil), items...)
		for i := range out {
			if out[i].ID == id {
				out[i].Name = title
				out[i].UpdatedAt = at
			}
		}
		return out
	})
}

var _ reconcile.ChatMeta = (*Session)(nil)
