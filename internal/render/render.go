// Package render formats events and screenshots as terminal text. Tool
// outputs that carry HTML are converted to markdown before display.
package render

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/agentfeed/internal/types"
)

const maxOutputChars = 4000

// Event formats one event as a display block.
func Event(ev types.ChatEvent) string {
	stamp := ev.CreatedAt.Local().Format("15:04:05")
	head := fmt.Sprintf("[%s] %s", stamp, label(ev))

	switch {
	case ev.Pending == types.PendingThinking:
		return head + " thinking..."
	case ev.Pending == types.PendingUserEcho:
		return fmt.Sprintf("%s %s (sending)", head, ev.Content)
	case ev.Kind == types.KindTool && ev.Tool != nil:
		return head + "\n" + toolBlock(ev.Tool)
	case ev.Kind == types.KindReasoning && ev.Reasoning != nil:
		return head + "\n" + reasoningBlock(ev.Reasoning)
	case ev.Kind == types.KindError:
		return fmt.Sprintf("%s error: %s", head, ev.Content)
	default:
		return head + " " + ev.Content
	}
}

func label(ev types.ChatEvent) string {
	switch ev.Author {
	case types.AuthorUser:
		return "you:"
	default:
		return "agent:"
	}
}

func toolBlock(p *types.ToolPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  tools (%s)\n", p.Status)
	for _, call := range p.ToolCalls {
		fmt.Fprintf(&b, "  - %s [%s]\n", call.ToolName, call.Status)
		if call.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", call.Error)
			continue
		}
		if out := ToolOutput(call.OutputPayload); out != "" {
			for _, line := range strings.Split(out, "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func reasoningBlock(p *types.ReasoningPayload) string {
	if p.Status == types.ReasoningThinking && len(p.Trajectory) == 0 {
		return "  thinking..."
	}
	var b strings.Builder
	for _, step := range p.Trajectory {
		fmt.Fprintf(&b, "  * %s\n", step)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ToolOutput extracts a displayable string from a tool call's output
// payload. HTML output is converted to markdown; anything else renders its
// text fields. Long outputs are truncated.
func ToolOutput(payload map[string]any) string {
	if payload == nil {
		return ""
	}

	var text string
	for _, key := range []string{"html", "content", "output", "result", "text"} {
		if v, ok := payload[key].(string); ok && v != "" {
			text = v
			break
		}
	}
	if text == "" {
		return ""
	}

	if looksHTML(text) {
		md, err := htmltomarkdown.ConvertString(text)
		if err == nil {
			text = md
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > maxOutputChars {
		text = text[:maxOutputChars] + "\n[truncated]"
	}
	return text
}

func looksHTML(s string) bool {
	s = strings.ToLower(s)
	for _, tag := range []string{"<html", "<body", "<div", "<p>", "<table", "<a "} {
		if strings.Contains(s, tag) {
			return true
		}
	}
	return false
}

// Screenshot formats a screenshot's metadata as a display block. The image
// payload itself is not rendered.
func Screenshot(s types.Screenshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] screenshot %s\n", s.CreatedAt.Local().Format("15:04:05"), s.ID)
	if s.PageSummary != "" {
		fmt.Fprintf(&b, "  page: %s\n", s.PageSummary)
	}
	if s.EvaluationPreviousGoal != "" {
		fmt.Fprintf(&b, "  eval: %s\n", s.EvaluationPreviousGoal)
	}
	if s.NextGoal != "" {
		fmt.Fprintf(&b, "  next: %s\n", s.NextGoal)
	}
	return strings.TrimRight(b.String(), "\n")
}
