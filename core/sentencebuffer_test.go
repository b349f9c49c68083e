package orchestration

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func collectSentences(b *sentenceBuffer) []string {
	var out []string
	for sentence := range b.Sentences {
		out = append(out, sentence)
	}
	return out
}

func TestSentenceBufferSplitsAtBoundaries(t *testing.T) {
	b := newSentenceBuffer("")
	for _, chunk := range []string{"Hi", " there.", " How", " are", " you?"} {
		b.AddChunk(chunk)
	}
	b.TextComplete()

	got := collectSentences(b)
	want := []string{"Hi there.", " How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSentenceBufferConservation(t *testing.T) {
	b := newSentenceBuffer("")
	chunks := []string{"One. Two! Thr", "ee? Four:", " five;", " and\nthe rest"}
	for _, chunk := range chunks {
		b.AddChunk(chunk)
	}
	b.TextComplete()

	if got, want := strings.Join(collectSentences(b), ""), strings.Join(chunks, ""); got != want {
		t.Fatalf("expected emitted text to equal input, got %q want %q", got, want)
	}
}

func TestSentenceBufferBoundaryInsideChunk(t *testing.T) {
	b := newSentenceBuffer("")
	b.AddChunk("First. Second")
	b.AddChunk(" half.")
	b.TextComplete()

	got := collectSentences(b)
	want := []string{"First.", " Second half."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSentenceBufferFlushesRemainderWithoutBoundary(t *testing.T) {
	b := newSentenceBuffer("")
	b.AddChunk("no terminal punctuation")
	b.TextComplete()

	got := collectSentences(b)
	if len(got) != 1 || got[0] != "no terminal punctuation" {
		t.Fatalf("expected remainder flushed as one sentence, got %q", got)
	}
}

func TestSentenceBufferNewlineIsABoundary(t *testing.T) {
	b := newSentenceBuffer("")
	b.AddChunk("line one\nline two")
	b.TextComplete()

	got := collectSentences(b)
	want := []string{"line one\n", "line two"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSentenceBufferIteratorBlocksUntilComplete(t *testing.T) {
	b := newSentenceBuffer("")
	b.AddChunk("Hello.")

	done := make(chan []string, 1)
	go func() { done <- collectSentences(b) }()

	select {
	case <-done:
		t.Fatalf("iterator returned before TextComplete")
	case <-time.After(20 * time.Millisecond):
	}

	b.TextComplete()
	select {
	case got := <-done:
		if len(got) != 1 || got[0] != "Hello." {
			t.Fatalf("unexpected sentences: %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("iterator did not finish after TextComplete")
	}
}

func TestSentenceBufferClearUnblocksIterator(t *testing.T) {
	b := newSentenceBuffer("")

	done := make(chan struct{})
	go func() {
		for range b.Sentences {
		}
		close(done)
	}()

	b.Clear()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("iterator did not return after Clear")
	}
}

func TestSentenceBufferCustomBoundaries(t *testing.T) {
	b := newSentenceBuffer(".|")
	b.AddChunk("one|two.three! four")
	b.TextComplete()

	got := collectSentences(b)
	want := []string{"one|", "two.", "three! four"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSentenceBufferEmptyChunksIgnored(t *testing.T) {
	b := newSentenceBuffer("")
	b.AddChunk("")
	b.AddChunk("Done.")
	b.AddChunk("")
	b.TextComplete()

	got := collectSentences(b)
	if len(got) != 1 || got[0] != "Done." {
		t.Fatalf("unexpected sentences: %q", got)
	}
}
