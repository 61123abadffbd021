// Package archive persists a conversation's stream to disk: events as an
// append-only JSONL log, screenshots as decoded image files with a JSON
// metadata sidecar. Layout:
//
//	chats/<chatID>/events.jsonl
//	chats/<chatID>/screenshots/<screenshotID>.<ext>
//	chats/<chatID>/screenshots/<screenshotID>.json
package archive

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/agentfeed/internal/types"
)

// Archive is a file-backed store rooted at a data directory.
type Archive struct {
	root  string
	mu    sync.Mutex
	locks map[types.ChatID]*sync.Mutex
}

// New creates an Archive rooted at the given directory.
func New(root string) *Archive {
	return &Archive{
		root:  root,
		locks: make(map[types.ChatID]*sync.Mutex),
	}
}

// getLock returns the per-chat mutex, creating one if it doesn't exist.
func (a *Archive) getLock(chatID types.ChatID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lock, ok := a.locks[chatID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	a.locks[chatID] = lock
	return lock
}

func (a *Archive) eventsPath(chatID types.ChatID) string {
	return filepath.Join(a.root, "chats", string(chatID), "events.jsonl")
}

func (a *Archive) screenshotsDir(chatID types.ChatID) string {
	return filepath.Join(a.root, "chats", string(chatID), "screenshots")
}

// AppendEvent adds one event to the chat's JSONL log. Placeholder events are
// skipped: only settled server records are archived.
func (a *Archive) AppendEvent(ev types.ChatEvent) error {
	if ev.Pending != types.PendingNone {
		return nil
	}

	lock := a.getLock(ev.ChatID)
	lock.Lock()
	defer lock.Unlock()

	path := a.eventsPath(ev.ChatID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chat dir: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Tail returns the last N archived events for the given chat, oldest first.
func (a *Archive) Tail(chatID types.ChatID, limit int) ([]types.ChatEvent, error) {
	lock := a.getLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(a.eventsPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []types.ChatEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev types.ChatEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Count returns the number of archived events for the given chat.
func (a *Archive) Count(chatID types.ChatID) (int64, error) {
	lock := a.getLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(a.eventsPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// screenshotMeta is the sidecar format: the record minus the image payload
// plus the image file name.
type screenshotMeta struct {
	ID                     types.ScreenshotID `json:"_id"`
	ChatID                 types.ChatID       `json:"chat_id"`
	CreatedAt              string             `json:"created_at"`
	File                   string             `json:"file"`
	PageSummary            string             `json:"page_summary,omitempty"`
	EvaluationPreviousGoal string             `json:"evaluation_previous_goal,omitempty"`
	Memory                 string             `json:"memory,omitempty"`
	NextGoal               string             `json:"next_goal,omitempty"`
}

// SaveScreenshot decodes the screenshot's data URI to an image file and
// writes a metadata sidecar next to it. Returns the image file path.
func (a *Archive) SaveScreenshot(s types.Screenshot) (string, error) {
	img, ext, err := DecodeDataURI(s.ImageData)
	if err != nil {
		return "", fmt.Errorf("screenshot %s: %w", s.ID, err)
	}

	dir := a.screenshotsDir(s.ChatID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshots dir: %w", err)
	}

	target := filepath.Join(dir, string(s.ID)+"."+ext)
	if err := writeAtomic(target, img); err != nil {
		return "", err
	}

	meta := screenshotMeta{
		ID:                     s.ID,
		ChatID:                 s.ChatID,
		CreatedAt:              s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		File:                   filepath.Base(target),
		PageSummary:            s.PageSummary,
		EvaluationPreviousGoal: s.EvaluationPreviousGoal,
		Memory:                 s.Memory,
		NextGoal:               s.NextGoal,
	}
	content, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal screenshot meta: %w", err)
	}
	sidecar := filepath.Join(dir, string(s.ID)+".json")
	if err := writeAtomic(sidecar, content); err != nil {
		return "", err
	}
	return target, nil
}

func writeAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// DecodeDataURI decodes a "data:image/<fmt>;base64,<payload>" URI into raw
// bytes plus a file extension. Bare base64 without a header decodes as png.
func DecodeDataURI(uri string) ([]byte, string, error) {
	payload := uri
	ext := "png"
	if strings.HasPrefix(uri, "data:") {
		header, rest, ok := strings.Cut(uri, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data uri")
		}
		payload = rest
		mime := strings.TrimPrefix(header, "data:")
		mime, _, _ = strings.Cut(mime, ";")
		if sub, ok := strings.CutPrefix(mime, "image/"); ok && sub != "" {
			ext = sub
		}
		if ext == "jpeg" {
			ext = "jpg"
		}
	}

	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode image payload: %w", err)
	}
	return img, ext, nil
}
