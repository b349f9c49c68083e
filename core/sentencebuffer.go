package orchestration

import (
	"strings"
	"sync"
)

// defaultBoundaries are the characters that end a speakable unit.
const defaultBoundaries = ".!?:;\n"

// sentenceBuffer accumulates streamed text deltas and hands out
// complete sentences. A sentence ends at its boundary character;
// whitespace following the boundary opens the next sentence, so
// concatenating everything emitted reproduces the input exactly.
type sentenceBuffer struct {
	boundaries string

	mu           sync.Mutex
	pending      strings.Builder
	sentences    []string
	consumed     int
	complete     bool
	cleared      bool
	updateSignal chan struct{}
}

func newSentenceBuffer(boundaries string) *sentenceBuffer {
	if boundaries == "" {
		boundaries = defaultBoundaries
	}
	return &sentenceBuffer{
		boundaries:   boundaries,
		updateSignal: make(chan struct{}, 1),
	}
}

// AddChunk appends a streamed delta and splits off any sentences it
// completes.
func (b *sentenceBuffer) AddChunk(chunk string) {
	if chunk == "" {
		return
	}

	b.mu.Lock()
	for _, r := range chunk {
		b.pending.WriteRune(r)
		if strings.ContainsRune(b.boundaries, r) {
			b.sentences = append(b.sentences, b.pending.String())
			b.pending.Reset()
		}
	}
	b.mu.Unlock()
	b.signalUpdate()
}

// TextComplete flushes the remainder as a final sentence and unblocks
// the iterator.
func (b *sentenceBuffer) TextComplete() {
	b.mu.Lock()
	if remainder := b.pending.String(); remainder != "" {
		b.sentences = append(b.sentences, remainder)
		b.pending.Reset()
	}
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Sentences is a blocking range-over-func iterator. It yields
// sentences in order as they complete and returns after TextComplete
// has been processed or the buffer is cleared.
func (b *sentenceBuffer) Sentences(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.consumed < len(b.sentences) {
			sentence := b.sentences[b.consumed]
			b.consumed++
			b.mu.Unlock()
			if !yield(sentence) {
				return
			}
			continue
		}

		if b.complete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// String returns everything added so far, emitted or not.
func (b *sentenceBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.sentences, "") + b.pending.String()
}

// Clear unblocks the iterator and discards unconsumed text.
func (b *sentenceBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *sentenceBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
