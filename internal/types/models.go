// internal/types/models.go
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type Author string

const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"
)

type EventKind string

const (
	KindMessage   EventKind = "message"
	KindTool      EventKind = "tool"
	KindReasoning EventKind = "reasoning"
	KindError     EventKind = "error"
	// KindThinking is client-only: the transient indicator shown while the
	// agent has not produced its first event. Never sent by the server.
	KindThinking EventKind = "thinking"
)

type ToolStatus string

const (
	ToolStarted    ToolStatus = "started"
	ToolInProgress ToolStatus = "in_progress"
	ToolCompleted  ToolStatus = "completed"
	ToolError      ToolStatus = "error"
)

// ToolExecution is one tool call inside a tool event's trajectory.
type ToolExecution struct {
	ToolName      string         `json:"tool_name"`
	InputPayload  map[string]any `json:"input_payload"`
	OutputPayload map[string]any `json:"output_payload,omitempty"`
	Error         string         `json:"error,omitempty"`
	Status        ToolStatus     `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// ToolPayload is the full trajectory of tool calls for one tool event. The
// server re-delivers the whole payload on every status change, so it always
// replaces the previous one.
type ToolPayload struct {
	Status    ToolStatus      `json:"status"`
	ToolCalls []ToolExecution `json:"tool_calls"`
}

// ReasoningPayload is the agent's step trajectory for one reasoning event.
type ReasoningPayload struct {
	Trajectory []string `json:"trajectory"`
	Status     string   `json:"status"` // thinking | complete
}

const (
	ReasoningThinking = "thinking"
	ReasoningComplete = "complete"
)

// ChatEvent is one entry in a conversation's ordered log: a message, a tool
// trajectory, a reasoning trajectory, or an error. Settled events are
// immutable except for tool/reasoning payload re-delivery, which supersedes
// the event wholesale under the same id.
type ChatEvent struct {
	ID        EventID
	ChatID    ChatID
	Author    Author
	Kind      EventKind
	Content   string
	Tool      *ToolPayload
	Reasoning *ReasoningPayload
	Pending   PendingKind
	CreatedAt time.Time
	UpdatedAt time.Time
}

// chatEventJSON mirrors the backend wire shape: payload is a kind-dependent
// union keyed by the same "type" field the live channel uses as its frame
// discriminator.
type chatEventJSON struct {
	ID        EventID         `json:"_id"`
	ChatID    ChatID          `json:"chat_id"`
	Author    Author          `json:"author"`
	Kind      EventKind       `json:"type"`
	Content   string          `json:"content"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e ChatEvent) MarshalJSON() ([]byte, error) {
	wire := chatEventJSON{
		ID:        e.ID,
		ChatID:    e.ChatID,
		Author:    e.Author,
		Kind:      e.Kind,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	var payload any
	switch {
	case e.Tool != nil:
		payload = e.Tool
	case e.Reasoning != nil:
		payload = e.Reasoning
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		wire.Payload = raw
	}
	return json.Marshal(wire)
}

func (e *ChatEvent) UnmarshalJSON(data []byte) error {
	var wire chatEventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = ChatEvent{
		ID:        wire.ID,
		ChatID:    wire.ChatID,
		Author:    wire.Author,
		Kind:      wire.Kind,
		Content:   wire.Content,
		CreatedAt: wire.CreatedAt,
		UpdatedAt: wire.UpdatedAt,
	}
	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		return nil
	}
	switch wire.Kind {
	case KindTool:
		var p ToolPayload
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal tool payload: %w", err)
		}
		e.Tool = &p
	case KindReasoning:
		var p ReasoningPayload
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal reasoning payload: %w", err)
		}
		e.Reasoning = &p
	}
	return nil
}

// NewUserEcho builds the optimistic placeholder inserted when the user sends
// a message, before the server confirms it.
func NewUserEcho(chatID ChatID, content string) *ChatEvent {
	now := time.Now().UTC()
	return &ChatEvent{
		ID:        NewTempEventID(PendingUserEcho),
		ChatID:    chatID,
		Author:    AuthorUser,
		Kind:      KindMessage,
		Content:   content,
		Pending:   PendingUserEcho,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewThinkingIndicator builds the transient "agent is working" placeholder.
func NewThinkingIndicator(chatID ChatID) *ChatEvent {
	now := time.Now().UTC()
	return &ChatEvent{
		ID:        NewTempEventID(PendingThinking),
		ChatID:    chatID,
		Author:    AuthorAgent,
		Kind:      KindThinking,
		Pending:   PendingThinking,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Chat is a conversation as listed by the backend, with the denormalized
// latest-message fields used for list display.
type Chat struct {
	ID                     ChatID     `json:"_id"`
	Name                   string     `json:"name,omitempty"`
	OwnerID                string     `json:"owner_id"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	LatestMessageContent   string     `json:"latest_message_content,omitempty"`
	LatestMessageTimestamp *time.Time `json:"latest_message_timestamp,omitempty"`
}

// Screenshot is one captured browser frame plus the agent's observation of
// it. ImageData carries the full data URI as sent by the backend.
type Screenshot struct {
	ID                     ScreenshotID `json:"_id"`
	ChatID                 ChatID       `json:"chat_id"`
	CreatedAt              time.Time    `json:"created_at"`
	ImageData              string       `json:"image_data"`
	PageSummary            string       `json:"page_summary,omitempty"`
	EvaluationPreviousGoal string       `json:"evaluation_previous_goal,omitempty"`
	Memory                 string       `json:"memory,omitempty"`
	NextGoal               string       `json:"next_goal,omitempty"`
}

// Page is one cursor-paginated slice of a resource, newest first. The cursor
// is the exclusive upper bound for the next (older) page.
type Page[T any] struct {
	Items               []T        `json:"items"`
	NextCursorTimestamp *time.Time `json:"next_cursor_timestamp"`
	HasMore             bool       `json:"has_more"`
	TotalItems          *int       `json:"total_items"`
}
