// internal/reconcile/log_test.go
package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/agentfeed/internal/follow"
	"github.com/user/agentfeed/internal/pagefetch"
	"github.com/user/agentfeed/internal/types"
)

type fakeMeta struct {
	mu           sync.Mutex
	latestChat   types.ChatID
	latest       string
	latestCalls  int
	titleChat    types.ChatID
	title        string
	titleUpdates int
}

func (m *fakeMeta) UpdateLatest(id types.ChatID, content string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestChat = id
	m.latest = content
	m.latestCalls++
}

func (m *fakeMeta) UpdateTitle(id types.ChatID, title string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titleChat = id
	m.title = title
	m.titleUpdates++
}

// pagedEvents builds an events pager whose fetch serves the given pages in
// order.
func pagedEvents(pages ...types.Page[types.ChatEvent]) *pagefetch.Pager[types.ChatEvent] {
	i := 0
	fetch := func(ctx context.Context, limit int, before *time.Time) (types.Page[types.ChatEvent], error) {
		if i >= len(pages) {
			return types.Page[types.ChatEvent]{}, nil
		}
		page := pages[i]
		i++
		return page, nil
	}
	return pagefetch.New(fetch, 20, pagefetch.WithAppendFilter[types.ChatEvent](DedupeEvents))
}

func emptyShots() *pagefetch.Pager[types.Screenshot] {
	fetch := func(ctx context.Context, limit int, before *time.Time) (types.Page[types.Screenshot], error) {
		return types.Page[types.Screenshot]{}, nil
	}
	return pagefetch.New(fetch, 5)
}

func newTestLog(t *testing.T, cfg Config, pages ...types.Page[types.ChatEvent]) (*Log, *fakeMeta, *follow.Controller) {
	t.Helper()
	if len(pages) == 0 {
		pages = []types.Page[types.ChatEvent]{{}}
	}
	meta := &fakeMeta{}
	fc := follow.New()
	log := New("chat-1", pagedEvents(pages...), emptyShots(), fc, meta, cfg)
	if err := log.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	return log, meta, fc
}

func serverEvent(id types.EventID, author types.Author, kind types.EventKind, content string) types.ChatEvent {
	now := time.Now().UTC()
	return types.ChatEvent{
		ID: id, ChatID: "chat-1", Author: author, Kind: kind,
		Content: content, CreatedAt: now, UpdatedAt: now,
	}
}

func eventFrame(ev types.ChatEvent) types.Frame {
	return types.Frame{Type: types.FrameType(ev.Kind), Event: &ev}
}

func TestToolEventReplacedByID(t *testing.T) {
	log, _, _ := newTestLog(t, Config{})

	deliver := func(status types.ToolStatus, calls int) {
		ev := serverEvent("tool-1", types.AuthorAgent, types.KindTool, "running")
		payload := &types.ToolPayload{Status: status}
		for i := 0; i < calls; i++ {
			payload.ToolCalls = append(payload.ToolCalls, types.ToolExecution{ToolName: "sql", Status: status})
		}
		ev.Tool = payload
		log.Apply(eventFrame(ev))
	}

	deliver(types.ToolStarted, 1)
	deliver(types.ToolInProgress, 1)
	deliver(types.ToolCompleted, 2)

	events := log.Events()
	count := 0
	for _, ev := range events {
		if ev.ID == "tool-1" {
			count++
			if ev.Tool.Status != types.ToolCompleted {
				t.Errorf("expected latest payload, got status %s", ev.Tool.Status)
			}
			if len(ev.Tool.ToolCalls) != 2 {
				t.Errorf("payload should be replaced wholesale, got %d calls", len(ev.Tool.ToolCalls))
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one entry for the id, got %d", count)
	}
}

func TestUserEchoConfirmedInPlace(t *testing.T) {
	log, _, _ := newTestLog(t, Config{})

	echo, _ := log.InsertPlaceholders("hello")
	if log.PendingCount(types.PendingUserEcho) != 1 {
		t.Fatal("expected one pending echo")
	}

	confirmed := serverEvent("evt-real", types.AuthorUser, types.KindMessage, "hello")
	log.Apply(eventFrame(confirmed))

	events := log.Events()
	if log.PendingCount(types.PendingUserEcho) != 0 {
		t.Error("pending echo should be settled immediately after confirmation")
	}
	// The echo's slot now holds the confirmed event; no duplicate appended.
	for _, ev := range events {
		if ev.ID == echo.ID {
			t.Error("placeholder id should be gone from the log")
		}
	}
	found := 0
	for _, ev := range events {
		if ev.ID == "evt-real" {
			found++
		}
	}
	if found != 1 {
		t.Errorf("expected exactly one confirmed event, got %d", found)
	}
}

func TestThinkingRemovedOnAgentEvent(t *testing.T) {
	log, _, _ := newTestLog(t, Config{})
	log.InsertPlaceholders("hi")
	if log.PendingCount(types.PendingThinking) != 1 {
		t.Fatal("expected thinking indicator")
	}

	reasoning := serverEvent("r-1", types.AuthorAgent, types.KindReasoning, "")
	reasoning.Reasoning = &types.ReasoningPayload{Status: types.ReasoningThinking, Trajectory: []string{"step"}}
	log.Apply(eventFrame(reasoning))

	if log.PendingCount(types.PendingThinking) != 0 {
		t.Error("agent event should retire the thinking indicator")
	}
}

// The end-to-end scenario: empty log, user sends "hello", confirmation
// replaces the echo in place, then a reasoning id streams twice.
func TestSendConfirmStreamScenario(t *testing.T) {
	log, _, _ := newTestLog(t, Config{})

	log.InsertPlaceholders("hello")
	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("expected [thinking, echo], got %d events", len(events))
	}
	if events[0].Pending != types.PendingThinking || events[1].Pending != types.PendingUserEcho {
		t.Fatal("expected thinking placeholder above the user echo")
	}

	log.Apply(eventFrame(serverEvent("user-1", types.AuthorUser, types.KindMessage, "hello")))
	events = log.Events()
	if events[1].ID != "user-1" {
		t.Error("confirmation should land in the echo's position")
	}

	thinking := serverEvent("reason-1", types.AuthorAgent, types.KindReasoning, "")
	thinking.Reasoning = &types.ReasoningPayload{Status: types.ReasoningThinking}
	log.Apply(eventFrame(thinking))

	complete := serverEvent("reason-1", types.AuthorAgent, types.KindReasoning, "")
	complete.Reasoning = &types.ReasoningPayload{
		Status:     types.ReasoningComplete,
		Trajectory: []string{"open page", "read table", "summarize"},
	}
	log.Apply(eventFrame(complete))

	events = log.Events()
	reasonings := 0
	for _, ev := range events {
		if ev.ID == "reason-1" {
			reasonings++
			if ev.Reasoning.Status != types.ReasoningComplete || len(ev.Reasoning.Trajectory) != 3 {
				t.Error("expected the completed payload to win")
			}
		}
	}
	if reasonings != 1 {
		t.Errorf("expected one reasoning entry, got %d", reasonings)
	}
	if log.PendingCount(types.PendingThinking) != 0 {
		t.Error("thinking indicator should be gone")
	}
}

func TestAppendOlderDropsDuplicates(t *testing.T) {
	cursor := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	first := types.Page[types.ChatEvent]{
		Items: []types.ChatEvent{
			serverEvent("e3", types.AuthorAgent, types.KindMessage, "three"),
			serverEvent("e2", types.AuthorUser, types.KindMessage, "two"),
		},
		NextCursorTimestamp: &cursor,
		HasMore:             true,
	}
	older := types.Page[types.ChatEvent]{
		Items: []types.ChatEvent{
			serverEvent("e2", types.AuthorUser, types.KindMessage, "two"), // boundary overlap
			serverEvent("e1", types.AuthorAgent, types.KindMessage, "one"),
		},
	}
	log, _, _ := newTestLog(t, Config{}, first, older)

	if err := log.LoadOlder(context.Background()); err != nil {
		t.Fatal(err)
	}
	events := log.Events()
	// N=2 existing, K=2 incoming, M=1 duplicate: 2 + (2-1) = 3.
	if len(events) != 3 {
		t.Fatalf("expected 3 events after dedupe, got %d", len(events))
	}
	if events[2].ID != "e1" {
		t.Errorf("older events should append at the tail, got %s", events[2].ID)
	}
}

func TestPhaseTransitions(t *testing.T) {
	meta := &fakeMeta{}
	log := New("chat-1", pagedEvents(types.Page[types.ChatEvent]{}), emptyShots(), follow.New(), meta, Config{})
	if log.Phase() != PhaseEmpty {
		t.Fatal("expected empty phase")
	}
	if err := log.LoadOlder(context.Background()); err == nil {
		t.Error("load-older before initial load should fail")
	}
	if err := log.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if log.Phase() != PhasePopulated {
		t.Errorf("expected populated, got %s", log.Phase())
	}
	if err := log.LoadInitial(context.Background()); err == nil {
		t.Error("second initial load should be rejected")
	}
}

func TestLiveFrameDuringInitialLoadRetained(t *testing.T) {
	release := make(chan struct{})
	fetch := func(ctx context.Context, limit int, before *time.Time) (types.Page[types.ChatEvent], error) {
		<-release
		return types.Page[types.ChatEvent]{Items: []types.ChatEvent{
			serverEvent("evt-1", types.AuthorAgent, types.KindMessage, "ready"),
		}}, nil
	}
	events := pagefetch.New(fetch, 20, pagefetch.WithAppendFilter[types.ChatEvent](DedupeEvents))
	log := New("chat-1", events, emptyShots(), follow.New(), &fakeMeta{}, Config{})

	done := make(chan error, 1)
	go func() { done <- log.LoadInitial(context.Background()) }()

	// The history request is still in flight when the live event arrives.
	time.Sleep(20 * time.Millisecond)
	live := serverEvent("evt-live", types.AuthorAgent, types.KindMessage, "done")
	log.Apply(types.Frame{Type: types.FrameMessage, Event: &live})

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := log.Events()
	if len(got) != 2 {
		t.Fatalf("live event lost during initial load: %+v", got)
	}
	if got[0].ID != "evt-live" || got[1].ID != "evt-1" {
		t.Errorf("unexpected order %q, %q", got[0].ID, got[1].ID)
	}
}

func TestScreenshotArrivalLiveAndBrowsing(t *testing.T) {
	log, _, fc := newTestLog(t, Config{})
	shot := types.Screenshot{ID: "s1", ChatID: "chat-1", CreatedAt: time.Now().UTC()}
	log.Apply(types.Frame{Type: types.FrameScreenshot, Screenshot: &shot})

	if len(log.Screenshots()) != 1 {
		t.Fatal("screenshot should be prepended")
	}
	if fc.Index() != 0 {
		t.Error("live mode should stay on the newest screenshot")
	}

	fc.Navigate(1)
	shot2 := types.Screenshot{ID: "s2", ChatID: "chat-1", CreatedAt: time.Now().UTC()}
	log.Apply(types.Frame{Type: types.FrameScreenshot, Screenshot: &shot2})
	if fc.Index() != 2 {
		t.Errorf("browsing should shift viewed index to 2, got %d", fc.Index())
	}
	if log.Screenshots()[0].ID != "s2" {
		t.Error("newest screenshot should be first")
	}
}

func TestUnseenCounterPolicy(t *testing.T) {
	shot := types.Screenshot{ID: "s1", ChatID: "chat-1"}
	frame := types.Frame{Type: types.FrameScreenshot, Screenshot: &shot}

	log, _, _ := newTestLog(t, Config{})
	log.Apply(frame) // viewer hidden
	if log.Unseen() != 1 {
		t.Errorf("hidden viewer should count, got %d", log.Unseen())
	}

	log.SetViewerState(true, true)
	log.ClearUnseen()
	log.Apply(frame)
	if log.Unseen() != 0 {
		t.Error("visible focused viewer should not count")
	}

	// Visible but unfocused: policy decides.
	log.SetViewerState(true, false)
	log.Apply(frame)
	if log.Unseen() != 0 {
		t.Error("unfocused count disabled by default")
	}

	counting, _, _ := newTestLog(t, Config{CountWhenUnfocused: true})
	counting.SetViewerState(true, false)
	counting.Apply(frame)
	if counting.Unseen() != 1 {
		t.Error("unfocused viewer should count under the policy")
	}
}

func TestMetadataUpdates(t *testing.T) {
	log, meta, _ := newTestLog(t, Config{})

	log.Apply(types.Frame{Type: types.FrameTitleUpdated, Title: &types.TitleUpdate{
		ChatID: "chat-2", Title: "Renamed", UpdatedAt: time.Now().UTC(),
	}})
	if meta.titleChat != "chat-2" || meta.title != "Renamed" {
		t.Error("title update should reach the chat list regardless of selection")
	}

	// A message event updates latest-message denormalization, even for a
	// conversation other than the selected one.
	other := serverEvent("x1", types.AuthorAgent, types.KindMessage, "done!")
	other.ChatID = "chat-2"
	log.Apply(eventFrame(other))
	if meta.latestChat != "chat-2" || meta.latest != "done!" {
		t.Error("latest-message update should apply to unselected conversations")
	}
	if len(log.Events()) != 0 {
		t.Error("other conversation's event must not enter this log")
	}

	// Reasoning events never touch the denormalized fields.
	calls := meta.latestCalls
	reasoning := serverEvent("r9", types.AuthorAgent, types.KindReasoning, "")
	log.Apply(eventFrame(reasoning))
	if meta.latestCalls != calls {
		t.Error("reasoning events should not update latest-message fields")
	}
}

func TestRemoveRollsBackPlaceholders(t *testing.T) {
	log, _, _ := newTestLog(t, Config{})
	echo, thinking := log.InsertPlaceholders("unsent")
	log.Remove(echo.ID, thinking.ID)
	if len(log.Events()) != 0 {
		t.Errorf("expected empty log after rollback, got %d events", len(log.Events()))
	}
}

func TestDuplicateMessageDeliveryTolerated(t *testing.T) {
	log, _, _ := newTestLog(t, Config{})
	ev := serverEvent("m1", types.AuthorAgent, types.KindMessage, "hi")
	log.Apply(eventFrame(ev))
	log.Apply(eventFrame(ev))
	if len(log.Events()) != 1 {
		t.Errorf("duplicate delivery must not duplicate the entry, got %d", len(log.Events()))
	}
}
