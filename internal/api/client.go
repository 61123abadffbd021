// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/user/agentfeed/internal/types"
)

// Error is a failed historical fetch or mutation: either a transport-level
// failure or a backend response with success=false.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// envelope is the backend's standard response wrapper.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// Client talks to the backend's REST surface: the three cursor-paginated
// resources plus the chat mutations.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the given base URL. The token is sent as a bearer
// header on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(data)
		return nil, &Error{Status: resp.StatusCode, Message: msg}
	}
	return data, nil
}

// serverMessage pulls the human-readable message out of an error body.
func serverMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Detail
}

// unwrap decodes the standard {success, message, data} envelope.
func unwrap[T any](data []byte) (*T, error) {
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return nil, &Error{Message: env.Message}
	}
	if env.Data == nil {
		return nil, &Error{Message: "response carried no data"}
	}
	return env.Data, nil
}

func pageQuery(limit int, before *time.Time) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != nil {
		q.Set("before_timestamp", before.UTC().Format(time.RFC3339Nano))
	}
	return q
}

// Chats loads one page of the conversation list, newest first.
func (c *Client) Chats(ctx context.Context, limit int, before *time.Time) (types.Page[types.Chat], error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/chats/", pageQuery(limit, before), nil)
	if err != nil {
		return types.Page[types.Chat]{}, err
	}
	page, err := unwrap[types.Page[types.Chat]](data)
	if err != nil {
		return types.Page[types.Chat]{}, err
	}
	return *page, nil
}

// Events loads one page of a conversation's event history, newest first.
func (c *Client) Events(chatID types.ChatID) func(ctx context.Context, limit int, before *time.Time) (types.Page[types.ChatEvent], error) {
	return func(ctx context.Context, limit int, before *time.Time) (types.Page[types.ChatEvent], error) {
		path := fmt.Sprintf("/api/v1/chats/%s/messages", chatID)
		data, err := c.do(ctx, http.MethodGet, path, pageQuery(limit, before), nil)
		if err != nil {
			return types.Page[types.ChatEvent]{}, err
		}
		page, err := unwrap[types.Page[types.ChatEvent]](data)
		if err != nil {
			return types.Page[types.ChatEvent]{}, err
		}
		return *page, nil
	}
}

// Screenshots loads one page of a conversation's screenshot history, newest
// first.
func (c *Client) Screenshots(chatID types.ChatID) func(ctx context.Context, limit int, before *time.Time) (types.Page[types.Screenshot], error) {
	return func(ctx context.Context, limit int, before *time.Time) (types.Page[types.Screenshot], error) {
		path := fmt.Sprintf("/api/v1/chats/%s/screenshots", chatID)
		data, err := c.do(ctx, http.MethodGet, path, pageQuery(limit, before), nil)
		if err != nil {
			return types.Page[types.Screenshot]{}, err
		}
		page, err := unwrap[types.Page[types.Screenshot]](data)
		if err != nil {
			return types.Page[types.Screenshot]{}, err
		}
		return *page, nil
	}
}

// CreateChat creates a conversation and returns the canonical resource.
func (c *Client) CreateChat(ctx context.Context, name string) (*types.Chat, error) {
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/chats/", nil, body)
	if err != nil {
		return nil, err
	}
	return unwrap[types.Chat](data)
}

// RenameChat updates a conversation's name.
func (c *Client) RenameChat(ctx context.Context, id types.ChatID, name string) (*types.Chat, error) {
	path := fmt.Sprintf("/api/v1/chats/%s", id)
	data, err := c.do(ctx, http.MethodPatch, path, nil, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return unwrap[types.Chat](data)
}

// DeleteChat deletes a conversation and its events and screenshots.
func (c *Client) DeleteChat(ctx context.Context, id types.ChatID) error {
	path := fmt.Sprintf("/api/v1/chats/%s", id)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the session token the client authenticates with.
func (c *Client) Token() string { return c.token }
