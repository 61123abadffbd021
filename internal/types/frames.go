// internal/types/frames.go
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType is the live-channel discriminator. Event-shaped frames reuse the
// ChatEvent kind values; the two side-channel kinds carry their own bodies.
type FrameType string

const (
	FrameMessage      FrameType = "message"
	FrameTool         FrameType = "tool"
	FrameReasoning    FrameType = "reasoning"
	FrameError        FrameType = "error"
	FrameTitleUpdated FrameType = "chat_title_updated"
	FrameScreenshot   FrameType = "screenshot_captured"
)

// TitleUpdate is the chat_title_updated side-channel body.
type TitleUpdate struct {
	ChatID    ChatID    `json:"chat_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Frame is one decoded server→client message. Exactly one of Event, Title,
// Screenshot is set, according to Type.
type Frame struct {
	Type       FrameType
	Event      *ChatEvent
	Title      *TitleUpdate
	Screenshot *Screenshot
}

// OutboundMessage is the only client→server payload on the live channel.
type OutboundMessage struct {
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
}

// DecodeFrame parses a raw live-channel message. A malformed payload or an
// unknown discriminator is an error; the caller drops the single message and
// keeps the connection.
func DecodeFrame(data []byte) (*Frame, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	switch head.Type {
	case FrameMessage, FrameTool, FrameReasoning, FrameError:
		var event ChatEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("decode %s frame: %w", head.Type, err)
		}
		return &Frame{Type: head.Type, Event: &event}, nil
	case FrameTitleUpdated:
		var title TitleUpdate
		if err := json.Unmarshal(data, &title); err != nil {
			return nil, fmt.Errorf("decode title frame: %w", err)
		}
		return &Frame{Type: head.Type, Title: &title}, nil
	case FrameScreenshot:
		var body struct {
			Screenshot Screenshot `json:"screenshot"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decode screenshot frame: %w", err)
		}
		return &Frame{Type: head.Type, Screenshot: &body.Screenshot}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}
