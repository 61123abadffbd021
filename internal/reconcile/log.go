// internal/reconcile/log.go

// Package reconcile merges the three sources of truth for one conversation
// (optimistic local inserts, paginated history, and streamed live updates)
// into a single ordered event log without duplicating or losing events.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/agentfeed/internal/follow"
	"github.com/user/agentfeed/internal/pagefetch"
	"github.com/user/agentfeed/internal/types"
)

// Phase is the per-conversation lifecycle. Populated re-enters a loading
// state only for append-older pagination, never for live updates.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseLoading
	PhasePopulated
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhasePopulated:
		return "populated"
	default:
		return "empty"
	}
}

// ChatMeta receives denormalized conversation-list updates. They apply to
// any conversation, not just the selected one.
type ChatMeta interface {
	UpdateLatest(id types.ChatID, content string, at time.Time)
	UpdateTitle(id types.ChatID, title string, at time.Time)
}

// Config tunes reconciliation policy.
type Config struct {
	// CountWhenUnfocused makes screenshot notifications count while the
	// viewer is open but its tab is not the active one.
	CountWhenUnfocused bool
}

// Log owns the mutable in-memory state for the active conversation: the
// ordered event log and the screenshot list, both newest first. All writes
// funnel through it, and every mutation produces a fresh slice.
type Log struct {
	chatID types.ChatID
	events *pagefetch.Pager[types.ChatEvent]
	shots  *pagefetch.Pager[types.Screenshot]
	follow *follow.Controller
	meta   ChatMeta
	cfg    Config

	mu            sync.Mutex
	phase         Phase
	buffered      []types.Frame // frames held back until the initial load lands
	replaying     bool
	viewerVisible bool
	viewerFocused bool
	unseen        int
}

// New creates a Log for one conversation. meta may be nil when no
// conversation list is being maintained.
func New(chatID types.ChatID, events *pagefetch.Pager[types.ChatEvent], shots *pagefetch.Pager[types.Screenshot], fc *follow.Controller, meta ChatMeta, cfg Config) *Log {
	return &Log{
		chatID: chatID,
		events: events,
		shots:  shots,
		follow: fc,
		meta:   meta,
		cfg:    cfg,
	}
}

// Phase reports the conversation lifecycle state.
func (l *Log) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// LoadInitial performs the first history fetch for the conversation. It may
// only run once; switching conversations builds a fresh Log.
func (l *Log) LoadInitial(ctx context.Context) error {
	l.mu.Lock()
	if l.phase != PhaseEmpty {
		l.mu.Unlock()
		return fmt.Errorf("reconcile: initial load in phase %s", l.phase)
	}
	l.phase = PhaseLoading
	l.mu.Unlock()

	if _, err := l.events.Fetch(ctx, false); err != nil {
		return fmt.Errorf("load event history: %w", err)
	}
	if _, err := l.shots.Fetch(ctx, false); err != nil {
		// The event log is usable without screenshots; the pager retains
		// the error for the viewer to surface.
		slog.Warn("screenshot history load failed", "chat_id", string(l.chatID), "error", err)
	}

	// The initial fetch replaced the log wholesale, so any frame that
	// arrived while it was in flight was held back; replay it through the
	// merge path now. Frames keep buffering until the backlog is drained so
	// delivery order is preserved.
	l.mu.Lock()
	l.phase = PhasePopulated
	l.replaying = true
	for len(l.buffered) > 0 {
		batch := l.buffered
		l.buffered = nil
		l.mu.Unlock()
		for i := range batch {
			l.dispatch(batch[i])
		}
		l.mu.Lock()
	}
	l.replaying = false
	l.mu.Unlock()
	return nil
}

// LoadOlder appends the next older page of events. Page-boundary duplicates
// are dropped by the pager's append filter (DedupeEvents).
func (l *Log) LoadOlder(ctx context.Context) error {
	if l.Phase() != PhasePopulated {
		return fmt.Errorf("reconcile: load-older in phase %s", l.Phase())
	}
	_, err := l.events.FetchMore(ctx)
	return err
}

// LoadOlderScreenshots appends the next older page of screenshots.
func (l *Log) LoadOlderScreenshots(ctx context.Context) error {
	_, err := l.shots.FetchMore(ctx)
	return err
}

// Apply merges one live-channel frame. Frames are applied in delivery order;
// duplicate delivery is tolerated by id-based replacement. A frame that
// races the initial history fetch is buffered and replayed after the fetch
// result is in place, so the wholesale replacement cannot drop it.
func (l *Log) Apply(frame types.Frame) {
	l.mu.Lock()
	if l.phase != PhasePopulated || l.replaying {
		l.buffered = append(l.buffered, frame)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.dispatch(frame)
}

func (l *Log) dispatch(frame types.Frame) {
	switch frame.Type {
	case types.FrameTitleUpdated:
		if l.meta != nil {
			l.meta.UpdateTitle(frame.Title.ChatID, frame.Title.Title, frame.Title.UpdatedAt)
		}
	case types.FrameScreenshot:
		l.applyScreenshot(*frame.Screenshot)
	case types.FrameMessage, types.FrameTool, types.FrameReasoning, types.FrameError:
		l.applyEvent(*frame.Event)
	}
}

func (l *Log) applyEvent(ev types.ChatEvent) {
	// Denormalized list metadata updates from any non-reasoning event,
	// independent of which conversation is selected.
	if l.meta != nil && ev.Kind != types.KindReasoning {
		l.meta.UpdateLatest(ev.ChatID, ev.Content, ev.CreatedAt)
	}
	if ev.ChatID != l.chatID {
		return
	}
	l.events.Mutate(func(items []types.ChatEvent) []types.ChatEvent {
		return mergeEvent(items, ev)
	})
}

func (l *Log) applyScreenshot(s types.Screenshot) {
	if s.ChatID != l.chatID {
		return
	}
	l.shots.Mutate(func(items []types.Screenshot) []types.Screenshot {
		out := make([]types.Screenshot, 0, len(items)+1)
		out = append(out, s)
		return append(out, items...)
	})

	l.mu.Lock()
	if !l.viewerVisible {
		l.unseen++
	} else if !l.viewerFocused && l.cfg.CountWhenUnfocused {
		l.unseen++
	}
	l.mu.Unlock()

	if l.follow != nil {
		l.follow.ArtifactArrived()
	}
}

// mergeEvent applies the type-specific merge rules to a newest-first log and
// returns a fresh slice.
func mergeEvent(items []types.ChatEvent, ev types.ChatEvent) []types.ChatEvent {
	// Any agent activity retires the transient thinking indicator.
	if ev.Author == types.AuthorAgent {
		items = withoutFirstPending(items, types.PendingThinking)
	}

	// A confirmed user message settles the oldest pending echo in place,
	// preserving its position. Never append a duplicate.
	if ev.Author == types.AuthorUser && ev.Kind == types.KindMessage {
		if idx := oldestPendingIndex(items, types.PendingUserEcho); idx >= 0 {
			out := append([]types.ChatEvent(nil), items...)
			out[idx] = ev
			return out
		}
	}

	// The server streams the same tool/reasoning id repeatedly as it
	// progresses; the latest payload supersedes the entry wholesale. The
	// same path absorbs duplicate delivery of any event id.
	for i := range items {
		if items[i].ID == ev.ID {
			out := append([]types.ChatEvent(nil), items...)
			out[i] = ev
			return out
		}
	}

	out := make([]types.ChatEvent, 0, len(items)+1)
	out = append(out, ev)
	return append(out, items...)
}

// withoutFirstPending removes the newest placeholder of the given kind, if
// any, returning a fresh slice.
func withoutFirstPending(items []types.ChatEvent, kind types.PendingKind) []types.ChatEvent {
	for i := range items {
		if items[i].Pending == kind {
			out := make([]types.ChatEvent, 0, len(items)-1)
			out = append(out, items[:i]...)
			return append(out, items[i+1:]...)
		}
	}
	return items
}

// oldestPendingIndex finds the oldest placeholder of the given kind in a
// newest-first log, i.e. the highest matching index.
func oldestPendingIndex(items []types.ChatEvent, kind types.PendingKind) int {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Pending == kind {
			return i
		}
	}
	return -1
}

// DedupeEvents drops incoming events whose id is already present, guarding
// against overlap at page boundaries. Installed as the events pager's append
// filter.
func DedupeEvents(existing, incoming []types.ChatEvent) []types.ChatEvent {
	seen := make(map[types.EventID]bool, len(existing))
	for i := range existing {
		seen[existing[i].ID] = true
	}
	out := make([]types.ChatEvent, 0, len(incoming))
	for i := range incoming {
		if !seen[incoming[i].ID] {
			out = append(out, incoming[i])
		}
	}
	return out
}

// InsertPlaceholders prepends the optimistic pair for a just-sent user
// message: the thinking indicator (newest) and the user echo beneath it.
// Returns both so a failed send can remove them again.
func (l *Log) InsertPlaceholders(content string) (echo, thinking types.ChatEvent) {
	echo = *types.NewUserEcho(l.chatID, content)
	thinking = *types.NewThinkingIndicator(l.chatID)
	l.events.Mutate(func(items []types.ChatEvent) []types.ChatEvent {
		out := make([]types.ChatEvent, 0, len(items)+2)
		out = append(out, thinking, echo)
		return append(out, items...)
	})
	return echo, thinking
}

// Remove deletes events by id, used to roll back placeholders after a send
// failure.
func (l *Log) Remove(ids ...types.EventID) {
	drop := make(map[types.EventID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	l.events.Mutate(func(items []types.ChatEvent) []types.ChatEvent {
		out := make([]types.ChatEvent, 0, len(items))
		for i := range items {
			if !drop[items[i].ID] {
				out = append(out, items[i])
			}
		}
		return out
	})
}

// Events returns the current log, newest first.
func (l *Log) Events() []types.ChatEvent {
	return l.events.Items()
}

// Screenshots returns the current screenshot list, newest first.
func (l *Log) Screenshots() []types.Screenshot {
	return l.shots.Items()
}

// HasMoreEvents reports whether older event pages remain server-side.
func (l *Log) HasMoreEvents() bool {
	return l.events.HasMore()
}

// HasMoreScreenshots reports whether older screenshot pages remain
// server-side.
func (l *Log) HasMoreScreenshots() bool {
	return l.shots.HasMore()
}

// PendingCount reports how many placeholders of the given kind remain.
func (l *Log) PendingCount(kind types.PendingKind) int {
	n := 0
	for _, ev := range l.events.Items() {
		if ev.Pending == kind {
			n++
		}
	}
	return n
}

// SetViewerState records whether the screenshot viewer is visible and
// whether its tab is focused, for notification counting.
func (l *Log) SetViewerState(visible, focused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewerVisible = visible
	l.viewerFocused = focused
}

// Unseen is the number of screenshots that arrived while the viewer could
// not show them.
func (l *Log) Unseen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unseen
}

// ClearUnseen resets the notification counter, typically when the viewer
// becomes visible.
func (l *Log) ClearUnseen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unseen = 0
}

// ChatID returns the conversation this log belongs to.
func (l *Log) ChatID() types.ChatID {
	return l.chatID
}
