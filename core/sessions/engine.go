// Package sessions keeps append-only daily interaction logs. Each day
// gets a JSONL file; entries can additionally be mirrored to an
// archive store for durable history.
package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a session entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Entry is one logged interaction.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Artifact  string    `json:"artifact,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Archiver mirrors entries to durable storage. Archive failures are
// logged and do not fail the append; the JSONL file is the source of
// truth.
type Archiver interface {
	Record(ctx context.Context, entry Entry) error
}

// Engine owns the daily JSONL logs. Safe for concurrent use.
type Engine struct {
	dir       string
	sessionID string
	archiver  Archiver

	mu sync.Mutex
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithArchiver mirrors every appended entry to archiver.
func WithArchiver(archiver Archiver) EngineOption {
	return func(e *Engine) { e.archiver = archiver }
}

// NewEngine creates the sessions directory if needed and starts a new
// session with a fresh ID.
func NewEngine(dir string, opts ...EngineOption) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	engine := &Engine{dir: dir, sessionID: uuid.NewString()}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// SessionID returns the ID of the current session.
func (e *Engine) SessionID() string {
	return e.sessionID
}

func (e *Engine) todayPath() string {
	return filepath.Join(e.dir, time.Now().UTC().Format(time.DateOnly)+".jsonl")
}

// Append logs an entry to today's session file and, when an archiver
// is configured, mirrors it there.
func (e *Engine) Append(ctx context.Context, sender Sender, text string) error {
	return e.AppendWithArtifact(ctx, sender, text, "")
}

// AppendWithArtifact logs an entry carrying an artifact reference,
// like a tool result or a file path.
func (e *Engine) AppendWithArtifact(ctx context.Context, sender Sender, text, artifact string) error {
	entry := Entry{
		ID:        uuid.NewString(),
		SessionID: e.sessionID,
		Sender:    sender,
		Text:      text,
		Artifact:  artifact,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode session entry: %w", err)
	}

	e.mu.Lock()
	file, err := os.OpenFile(e.todayPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to open session log: %w", err)
	}
	_, err = file.Write(append(line, '\n'))
	file.Close()
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write session entry: %w", err)
	}

	if e.archiver != nil {
		if err := e.archiver.Record(ctx, entry); err != nil {
			logger.WarnContext(ctx, "failed to archive session entry", "error", err)
		}
	}
	return nil
}

// Today returns all entries from today's session log.
func (e *Engine) Today() ([]Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.Open(e.todayPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn("skipping malformed session entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	return entries, nil
}

// Summary renders the last limit entries for the system prompt. Texts
// are clipped to 200 characters.
func (e *Engine) Summary(limit int) (string, error) {
	entries, err := e.Today()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		role := "You"
		if entry.Sender == SenderUser {
			role = "User"
		}
		text := entry.Text
		if len(text) > 200 {
			text = text[:200]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", role, text))
	}
	return strings.Join(lines, "\n"), nil
}

// Transcript renders the last limit entries as a plain dialogue, the
// form the distillers consume.
func (e *Engine) Transcript(limit int) (string, error) {
	entries, err := e.Today()
	if err != nil {
		return "", err
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		role := "Assistant"
		if entry.Sender == SenderUser {
			role = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, entry.Text))
	}
	return strings.Join(lines, "\n\n"), nil
}
