// internal/types/interfaces.go
package types

import "context"

// EventSource is the live side of a conversation: a stream of decoded frames
// plus best-effort message delivery. Implemented by the websocket transport;
// faked in session tests.
type EventSource interface {
	// Frames delivers decoded server frames in arrival order. The channel is
	// closed when the source is closed or its reconnect budget is exhausted.
	Frames() <-chan Frame
	// Send delivers one user message, connecting first if needed. Returns
	// false when the link could not be opened or the write failed.
	Send(ctx context.Context, content string) bool
	Close()
}
