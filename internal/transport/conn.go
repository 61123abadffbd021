// internal/transport/conn.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/agentfeed/internal/types"
)

// ErrClosed is returned when an operation is attempted on a manually closed
// connection.
var ErrClosed = errors.New("transport: connection closed")

// ErrBudgetExhausted is returned once the reconnect attempt budget has been
// spent. The connection stays permanently disconnected; callers create a new
// Conn to try again.
var ErrBudgetExhausted = errors.New("transport: reconnect budget exhausted")

// ErrStreamEnded is returned after the server closed the channel in an
// orderly way (normal or going-away close code).
var ErrStreamEnded = errors.New("transport: stream ended")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Config wires a Conn to one conversation's live channel. The session token
// is passed in explicitly; there is no ambient token state.
type Config struct {
	BaseURL string // http(s) server base, scheme is swapped to ws(s)
	Token   string
	ChatID  types.ChatID

	ReconnectInterval    time.Duration // default 3s
	MaxReconnectAttempts int           // default 5
	SendTimeout          time.Duration // default 10s

	Dialer *websocket.Dialer
}

// Conn is a reconnecting duplex channel bound to exactly one conversation.
//
// On abnormal closure a reconnect is scheduled after a fixed interval, up to
// the attempt budget, with the counter reset on every successful open. Close
// permanently disables reconnection. Send connects on demand and waits,
// bounded by SendTimeout, for the link to open.
type Conn struct {
	cfg    Config
	url    string
	dialer *websocket.Dialer

	mu         sync.Mutex
	ws         *websocket.Conn
	state      State
	attempts   int
	terminal   error         // ErrClosed / ErrBudgetExhausted / ErrStreamEnded
	reading    bool          // a readLoop owns the frames channel
	retryTimer *time.Timer
	openCh     chan struct{} // closed while the link is open

	writeMu sync.Mutex

	frames     chan types.Frame
	framesOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
}

// New creates a Conn for the given conversation. The websocket URL is derived
// from the HTTP base URL; the token rides as a query parameter.
func New(cfg Config) (*Conn, error) {
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("transport: chat id is required")
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	u, err := endpointURL(cfg.BaseURL, cfg.ChatID, cfg.Token)
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Conn{
		cfg:    cfg,
		url:    u,
		dialer: dialer,
		openCh: make(chan struct{}),
		frames: make(chan types.Frame, 64),
		done:   make(chan struct{}),
	}, nil
}

// endpointURL builds the ws(s) URL for a conversation's live channel.
func endpointURL(base string, chatID types.ChatID, token string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("transport: base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/api/v1/chats/ws/" + string(chatID))
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial opens the connection and starts delivering frames. A failed attempt
// schedules a retry, so callers normally treat the error as advisory.
func (c *Conn) Dial(ctx context.Context) error {
	return c.connect(ctx)
}

func (c *Conn) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.terminal != nil {
		err := c.terminal
		c.mu.Unlock()
		return err
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	if c.terminal != nil {
		terr := c.terminal
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return terr
	}
	if err != nil {
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", string(c.cfg.ChatID), err)
	}
	c.ws = ws
	c.state = StateConnected
	c.attempts = 0
	c.reading = true
	close(c.openCh)
	c.mu.Unlock()

	slog.Debug("live channel open", "chat_id", string(c.cfg.ChatID))
	go c.readLoop(ws)
	return nil
}

// scheduleReconnectLocked arms the retry timer. Caller holds c.mu and must
// guarantee no readLoop is running when the budget runs out here.
func (c *Conn) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.terminal = ErrBudgetExhausted
		slog.Warn("live channel reconnect budget exhausted",
			"chat_id", string(c.cfg.ChatID),
			"attempts", c.attempts,
		)
		c.markDone()
		c.finishStream()
		return
	}
	c.attempts++
	attempt := c.attempts
	c.retryTimer = time.AfterFunc(c.cfg.ReconnectInterval, func() {
		slog.Debug("live channel reconnecting", "chat_id", string(c.cfg.ChatID), "attempt", attempt)
		c.connect(context.Background())
	})
}

// markDone signals producers to stop. Safe to call from any goroutine.
func (c *Conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// finishStream closes the frames channel. Must only be called when no
// readLoop can still send on it.
func (c *Conn) finishStream() {
	c.framesOnce.Do(func() { close(c.frames) })
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleReadError(ws, err)
			return
		}
		frame, derr := types.DecodeFrame(data)
		if derr != nil {
			// Malformed message: drop it, keep the connection.
			slog.Warn("dropping malformed frame", "chat_id", string(c.cfg.ChatID), "error", derr)
			continue
		}
		select {
		case c.frames <- *frame:
		case <-c.done:
			c.mu.Lock()
			c.reading = false
			c.mu.Unlock()
			c.finishStream()
			return
		}
	}
}

// handleReadError runs in the readLoop goroutine, so it is the only frame
// producer when it closes the stream.
func (c *Conn) handleReadError(ws *websocket.Conn, err error) {
	ws.Close()
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.reading = false
	if c.terminal != nil {
		c.mu.Unlock()
		c.finishStream()
		return
	}
	c.state = StateDisconnected
	c.openCh = make(chan struct{})
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		// Orderly shutdown by the server: the stream is over.
		c.terminal = ErrStreamEnded
		c.mu.Unlock()
		slog.Debug("live channel closed by server", "chat_id", string(c.cfg.ChatID))
		c.markDone()
		c.finishStream()
		return
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	slog.Warn("live channel dropped", "chat_id", string(c.cfg.ChatID), "error", err)
}

// Frames delivers decoded server frames in arrival order. The channel closes
// on manual Close, orderly server shutdown, or an exhausted reconnect budget.
func (c *Conn) Frames() <-chan types.Frame {
	return c.frames
}

// Send delivers one user message. If the link is not open it triggers a
// connect attempt and waits up to SendTimeout for it; a timeout or write
// failure returns false, never an error.
func (c *Conn) Send(ctx context.Context, content string) bool {
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return false
	}
	st := c.state
	open := c.openCh
	c.mu.Unlock()

	if st != StateConnected {
		go c.connect(context.Background())
		select {
		case <-open:
		case <-time.After(c.cfg.SendTimeout):
			slog.Warn("send timed out waiting for connection", "chat_id", string(c.cfg.ChatID))
			return false
		case <-ctx.Done():
			return false
		}
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return false
	}

	c.writeMu.Lock()
	err := ws.WriteJSON(types.OutboundMessage{Content: content, SenderType: "user"})
	c.writeMu.Unlock()
	if err != nil {
		slog.Warn("send failed", "chat_id", string(c.cfg.ChatID), "error", err)
		return false
	}
	return true
}

// Close tears the connection down and permanently disables reconnection,
// including for any close event that arrives afterwards.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.terminal = ErrClosed
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	ws := c.ws
	c.ws = nil
	reading := c.reading
	c.mu.Unlock()

	c.markDone()
	if ws != nil {
		c.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		ws.Close()
	}
	if !reading {
		// No producer is running; close the stream here. Otherwise the
		// readLoop observes the terminal state and closes it on exit.
		c.finishStream()
	}
}

// State reports the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

var _ types.EventSource = (*Conn)(nil)
