package sessions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendAndToday(t *testing.T) {
	engine, err := NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	ctx := context.Background()

	if err := engine.Append(ctx, SenderUser, "what's the weather like"); err != nil {
		t.Fatalf("failed to append entry: %v", err)
	}
	if err := engine.Append(ctx, SenderAssistant, "sunny, around 25 degrees"); err != nil {
		t.Fatalf("failed to append entry: %v", err)
	}

	entries, err := engine.Today()
	if err != nil {
		t.Fatalf("failed to read today's entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Sender != SenderUser || entries[1].Sender != SenderAssistant {
		t.Fatalf("unexpected senders: %+v", entries)
	}
	if entries[0].ID == "" || entries[0].SessionID != engine.SessionID() {
		t.Fatalf("expected entry IDs to be set: %+v", entries[0])
	}
}

func TestTodayEmptyWithoutLog(t *testing.T) {
	engine, err := NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	entries, err := engine.Today()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestSummaryClipsAndLimits(t *testing.T) {
	engine, err := NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	ctx := context.Background()

	long := strings.Repeat("a", 300)
	engine.Append(ctx, SenderUser, "first")
	engine.Append(ctx, SenderUser, "second")
	engine.Append(ctx, SenderAssistant, long)

	summary, err := engine.Summary(2)
	if err != nil {
		t.Fatalf("failed to build summary: %v", err)
	}
	if strings.Contains(summary, "first") {
		t.Fatalf("expected limit to drop oldest entry, got %q", summary)
	}
	if !strings.Contains(summary, "- User: second") {
		t.Fatalf("expected user line, got %q", summary)
	}
	if !strings.Contains(summary, "- You: "+strings.Repeat("a", 200)) || strings.Contains(summary, strings.Repeat("a", 201)) {
		t.Fatalf("expected assistant text clipped to 200 chars, got %q", summary)
	}
}

func TestTranscriptRendersDialogue(t *testing.T) {
	engine, err := NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	ctx := context.Background()

	engine.Append(ctx, SenderUser, "hello")
	engine.Append(ctx, SenderAssistant, "hi there")

	transcript, err := engine.Transcript(20)
	if err != nil {
		t.Fatalf("failed to build transcript: %v", err)
	}
	if transcript != "User: hello\n\nAssistant: hi there" {
		t.Fatalf("unexpected transcript: %q", transcript)
	}
}

func TestTodaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(dir)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	engine.Append(context.Background(), SenderUser, "valid")

	path := filepath.Join(dir, time.Now().UTC().Format(time.DateOnly)+".jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	file.WriteString("not json\n")
	file.Close()

	entries, err := engine.Today()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "valid" {
		t.Fatalf("expected malformed line skipped, got %+v", entries)
	}
}

type recordingArchiver struct {
	entries []Entry
}

func (a *recordingArchiver) Record(_ context.Context, entry Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func TestArchiverReceivesEntries(t *testing.T) {
	archiver := &recordingArchiver{}
	engine, err := NewEngine(t.TempDir(), WithArchiver(archiver))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	engine.Append(context.Background(), SenderUser, "archived too")
	if len(archiver.entries) != 1 || archiver.entries[0].Text != "archived too" {
		t.Fatalf("expected archiver to receive entry, got %+v", archiver.entries)
	}
}
