// internal/types/ids.go
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ChatID string
type EventID string
type ScreenshotID string

// PendingKind tags a client-synthesized placeholder event that has not yet
// been confirmed by the server. Settled events carry PendingNone.
type PendingKind int

const (
	PendingNone PendingKind = iota
	// PendingUserEcho is the optimistic copy of a user message, replaced in
	// place once the server streams the confirmed event back.
	PendingUserEcho
	// PendingThinking is the transient "agent is working" indicator, removed
	// as soon as any agent-authored event arrives.
	PendingThinking
)

func (k PendingKind) String() string {
	switch k {
	case PendingUserEcho:
		return "user-echo"
	case PendingThinking:
		return "thinking-indicator"
	default:
		return "none"
	}
}

// NewTempEventID returns a placeholder event id. The uuid fragment keeps two
// placeholders created within the same millisecond distinct.
func NewTempEventID(kind PendingKind) EventID {
	frag := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return EventID(fmt.Sprintf("temp-%s-%d-%s", kind, time.Now().UnixMilli(), frag))
}

// IsTemp reports whether the id was locally assigned to a placeholder.
func (id EventID) IsTemp() bool {
	return strings.HasPrefix(string(id), "temp-")
}
