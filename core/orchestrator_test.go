package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/llms"
)

type testContentChunk struct{ text string }

func (testContentChunk) FinishReason() *string { return nil }
func (c testContentChunk) Content() string     { return c.text }

type testToolCallChunk struct{ call llms.ToolCall }

func (testToolCallChunk) FinishReason() *string    { return nil }
func (c testToolCallChunk) ToolCall() llms.ToolCall { return c.call }

// scriptedStream replays a fixed chunk sequence. faults injects an
// error before the chunk at its index; with block set the stream is
// held open until the context expires.
type scriptedStream struct {
	chunks []llms.StreamChunk
	faults map[int]error
	block  bool
}

func (s scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		if s.block {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		for i, chunk := range s.chunks {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if err, ok := s.faults[i]; ok {
				if !yield(nil, err) {
					return
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

type fakeLLM struct {
	mu      sync.Mutex
	streams []scriptedStream
	batch   []llms.Response
	queries int
}

func (f *fakeLLM) PromptWithStream(_ context.Context, _ *string, _ ...llms.PromptOption) llms.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if len(f.streams) == 0 {
		return scriptedStream{}
	}
	next := f.streams[0]
	f.streams = f.streams[1:]
	return next
}

func (f *fakeLLM) Prompt(_ context.Context, _ string, _ ...llms.PromptOption) ([]llms.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.batch, nil
}

// fakeDevice is a capture-and-playback device over an in-process
// broadcaster. The embedded fakeSink covers the playback half.
type fakeDevice struct {
	fakeSink
	broadcaster *audio.Broadcaster

	captureMu   sync.Mutex
	captures    int
	stops       int
	failCapture bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{broadcaster: audio.NewBroadcaster()}
}

func (d *fakeDevice) Frames() *audio.Subscription { return d.broadcaster.Subscribe() }

func (d *fakeDevice) StartCapture(context.Context) error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	d.captures++
	if d.failCapture {
		return audio.ErrDeviceUnavailable
	}
	return nil
}

func (d *fakeDevice) StopCapture() error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

type stateRecorder struct {
	mu     sync.Mutex
	states []TurnState
}

func (r *stateRecorder) record(event StateEvent) {
	r.mu.Lock()
	r.states = append(r.states, event.State)
	r.mu.Unlock()
}

func (r *stateRecorder) sequence() []TurnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TurnState(nil), r.states...)
}

func containsSequence(states []TurnState, want ...TurnState) bool {
	i := 0
	for _, state := range states {
		if i < len(want) && state == want[i] {
			i++
		}
	}
	return i == len(want)
}

func streamOf(texts ...string) scriptedStream {
	chunks := make([]llms.StreamChunk, 0, len(texts))
	for _, text := range texts {
		chunks = append(chunks, testContentChunk{text: text})
	}
	return scriptedStream{chunks: chunks}
}

func TestRunTurnStreamsSentencesInOrder(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{streamOf("Hi", " there.", " How", " are", " you?")}}
	device := newFakeDevice()
	tts := &fakeTTS{}
	recorder := &stateRecorder{}

	o := NewOrchestrator(
		WithLLM(llm),
		WithAudioDevice(device),
		WithTextToSpeech(tts),
	)
	o.tracker = newStateTracker(recorder.record)

	var response strings.Builder
	var responseMu sync.Mutex
	o.options = OrchestrateOptions{onResponse: func(chunk string) {
		responseMu.Lock()
		response.WriteString(chunk)
		responseMu.Unlock()
	}}

	if err := o.RunTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	sent := tts.generator.sentTexts()
	if len(sent) != 2 || sent[0] != "Hi there." || sent[1] != " How are you?" {
		t.Fatalf("unexpected sentences on the wire: %q", sent)
	}
	if got := response.String(); got != "Hi there. How are you?" {
		t.Fatalf("unexpected response callback text: %q", got)
	}

	if !containsSequence(recorder.sequence(), StateThinking, StateSpeaking, StateIdle) {
		t.Fatalf("unexpected state sequence: %v", recorder.sequence())
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected two history turns, got %d", len(history))
	}
	if history[0].Role != llms.TurnRoleUser || history[0].Content != "hello" {
		t.Fatalf("unexpected user turn: %+v", history[0])
	}
	if history[1].Content != "Hi there. How are you?" || history[1].Interrupted {
		t.Fatalf("unexpected assistant turn: %+v", history[1])
	}

	device.captureMu.Lock()
	defer device.captureMu.Unlock()
	if device.captures != 1 || device.stops != 1 {
		t.Fatalf("expected capture armed and released once, got %d/%d", device.captures, device.stops)
	}
}

func TestRunTurnSkipsMalformedStreamToken(t *testing.T) {
	stream := streamOf("Hello. ", "World.")
	stream.faults = map[int]error{
		1: fmt.Errorf("%w: error unmarshalling JSON: unexpected token", llms.ErrMalformedChunk),
	}
	llm := &fakeLLM{streams: []scriptedStream{stream}}
	device := newFakeDevice()
	tts := &fakeTTS{}

	o := NewOrchestrator(
		WithLLM(llm),
		WithAudioDevice(device),
		WithTextToSpeech(tts),
	)

	if err := o.RunTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("an undecodable token must not fail the turn: %v", err)
	}

	sent := tts.generator.sentTexts()
	if len(sent) != 2 || sent[0] != "Hello." || sent[1] != " World." {
		t.Fatalf("expected the text after the bad token to be spoken, got %q", sent)
	}

	history := o.History()
	if len(history) != 2 || history[1].Content != "Hello. World." {
		t.Fatalf("expected the full response persisted, got %+v", history)
	}
	if history[1].Interrupted {
		t.Fatalf("turn must not be marked interrupted")
	}
}

func TestRunTurnBargeInStopsAfterCurrentSentence(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{streamOf("Hi there.", " How are you?")}}
	device := newFakeDevice()
	tts := &fakeTTS{generator: &fakeGenerator{}}

	o := NewOrchestrator(
		WithLLM(llm),
		WithAudioDevice(device),
		WithTextToSpeech(tts),
	)
	tts.generator.onSendText = func(string) {
		o.flag.Raise(interrupt.ReasonBargeIn)
	}

	var reason interrupt.Reason
	o.options = OrchestrateOptions{onInterrupted: func(r interrupt.Reason) { reason = r }}

	if err := o.RunTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("interrupted turn must not fail: %v", err)
	}

	sent := tts.generator.sentTexts()
	if len(sent) != 1 || sent[0] != "Hi there." {
		t.Fatalf("expected only the first sentence on the wire, got %q", sent)
	}
	if got := tts.generator.cancelCount(); got != 1 {
		t.Fatalf("expected exactly one generator cancel, got %d", got)
	}
	if device.clearCount() != 1 {
		t.Fatalf("expected device buffer cleared once, got %d", device.clearCount())
	}
	if reason != interrupt.ReasonBargeIn {
		t.Fatalf("expected barge-in reason, got %q", reason)
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected two history turns, got %d", len(history))
	}
	if !history[1].Interrupted {
		t.Fatalf("assistant turn must be marked interrupted")
	}
	if history[1].Content != "Hi there." {
		t.Fatalf("expected spoken prefix persisted, got %q", history[1].Content)
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle after interrupted turn, got %v", o.State())
	}
}

func TestRunTurnQueryTimeout(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{{block: true}}}
	o := NewOrchestrator(
		WithLLM(llm),
		WithQueryTimeout(30*time.Millisecond),
	)

	err := o.RunTurn(context.Background(), "hello")
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("expected query timeout, got %v", err)
	}
	if o.flag.Reason() != interrupt.ReasonTimeout {
		t.Fatalf("expected timeout reason, got %q", o.flag.Reason())
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle after timed-out turn, got %v", o.State())
	}
}

func TestRunTurnResolvesToolCalls(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{
		{chunks: []llms.StreamChunk{
			testContentChunk{text: "Let me check."},
			testToolCallChunk{call: llms.ToolCall{ID: "t1", Name: "weather_lookup", Arguments: `{"city":"Zagreb"}`}},
		}},
		streamOf(" It is sunny."),
	}}

	var gotCity string
	tool := llms.NewTool("weather_lookup", "Look up the weather for a city",
		func(parameters struct {
			City string `json:"city"`
		}) (string, error) {
			gotCity = parameters.City
			return "sunny", nil
		})

	recorder := &stateRecorder{}
	o := NewOrchestrator(WithLLM(llm), WithTools(tool))
	o.tracker = newStateTracker(recorder.record)

	if err := o.RunTurn(context.Background(), "weather?"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if gotCity != "Zagreb" {
		t.Fatalf("expected tool executed with model arguments, got %q", gotCity)
	}
	if !containsSequence(recorder.sequence(), StateThinking, StateSearching, StateThinking, StateIdle) {
		t.Fatalf("unexpected state sequence: %v", recorder.sequence())
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected two history turns, got %d", len(history))
	}
	assistant := history[1]
	if assistant.Content != "Let me check. It is sunny." {
		t.Fatalf("unexpected assistant content: %q", assistant.Content)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Response != "sunny" || assistant.ToolCalls[0].IsError {
		t.Fatalf("unexpected tool calls: %+v", assistant.ToolCalls)
	}
}

func TestRunTurnToolErrorsSurfaceToModel(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{
		{chunks: []llms.StreamChunk{
			testToolCallChunk{call: llms.ToolCall{ID: "t1", Name: "no_such_tool"}},
		}},
		streamOf("Could not check."),
	}}

	o := NewOrchestrator(WithLLM(llm))
	if err := o.RunTurn(context.Background(), "weather?"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	assistant := o.History()[1]
	if len(assistant.ToolCalls) != 1 || !assistant.ToolCalls[0].IsError {
		t.Fatalf("expected a failed tool call recorded, got %+v", assistant.ToolCalls)
	}
	if assistant.Content != "Could not check." {
		t.Fatalf("unexpected assistant content: %q", assistant.Content)
	}
}

func TestRunTurnBatchSynthesis(t *testing.T) {
	llm := &fakeLLM{batch: []llms.Response{{Content: "All at once. Done."}}}
	device := newFakeDevice()
	tts := &fakeTTS{}

	o := NewOrchestrator(
		WithLLM(llm),
		WithAudioDevice(device),
		WithTextToSpeech(tts),
		WithBatchSynthesis(),
	)

	if err := o.RunTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	sent := tts.generator.sentTexts()
	if len(sent) != 2 || sent[0] != "All at once." || sent[1] != " Done." {
		t.Fatalf("unexpected sentences on the wire: %q", sent)
	}
	if o.History()[1].Content != "All at once. Done." {
		t.Fatalf("unexpected assistant content: %q", o.History()[1].Content)
	}
}

func TestRunTurnSpeakingDisabledIsTextOnly(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{streamOf("Quiet words.")}}
	device := newFakeDevice()
	tts := &fakeTTS{}

	o := NewOrchestrator(
		WithLLM(llm),
		WithAudioDevice(device),
		WithTextToSpeech(tts),
	)
	o.SetSpeaking(false)

	if err := o.RunTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if tts.opens != 0 {
		t.Fatalf("muted turn must not open synthesis, got %d opens", tts.opens)
	}
	if o.History()[1].Content != "Quiet words." {
		t.Fatalf("unexpected assistant content: %q", o.History()[1].Content)
	}
}

func TestRunTurnHistoryTrimmed(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{
		streamOf("One."), streamOf("Two."), streamOf("Three."),
	}}
	o := NewOrchestrator(WithLLM(llm), WithMaxHistoryTurns(4))

	for _, prompt := range []string{"a", "b", "c"} {
		if err := o.RunTurn(context.Background(), prompt); err != nil {
			t.Fatalf("turn failed: %v", err)
		}
	}

	history := o.History()
	if len(history) != 4 {
		t.Fatalf("expected history trimmed to 4 turns, got %d", len(history))
	}
	if history[0].Content != "b" {
		t.Fatalf("expected oldest exchange dropped, got %q first", history[0].Content)
	}
}

func TestOrchestrateTypedPromptsUntilSleep(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{streamOf("Good night.")}}
	o := NewOrchestrator(WithLLM(llm))

	if err := o.SendPrompt("goodbye"); err != nil {
		t.Fatalf("failed to queue prompt: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- o.Orchestrate(context.Background(), OnResponseEnd(func() { o.Sleep() }))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("orchestrate failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("orchestrate did not wind down")
	}

	if o.State() != StateSleeping {
		t.Fatalf("expected sleeping state, got %v", o.State())
	}
	if len(o.History()) != 2 {
		t.Fatalf("expected one exchange, got %d turns", len(o.History()))
	}
}

func TestOrchestrateDegradesToTextOnlyOnCaptureFailure(t *testing.T) {
	llm := &fakeLLM{streams: []scriptedStream{streamOf("Still here.")}}
	device := newFakeDevice()
	device.failCapture = true

	o := NewOrchestrator(
		WithLLM(llm),
		WithAudioDevice(device),
		WithSpeechToText(&fakeSTT{}),
		WithPostPlaybackCooldown(time.Millisecond),
	)

	var captureErr error
	prompted := false
	done := make(chan error, 1)
	go func() {
		done <- o.Orchestrate(context.Background(),
			OnError(func(err error) {
				if prompted {
					return
				}
				prompted = true
				captureErr = err
				if err := o.SendPrompt("are you there?"); err != nil {
					t.Errorf("failed to queue prompt: %v", err)
				}
			}),
			OnResponseEnd(func() { o.Sleep() }),
		)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("orchestrate failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("orchestrate did not wind down")
	}

	if !errors.Is(captureErr, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected capture failure surfaced, got %v", captureErr)
	}
	history := o.History()
	if len(history) != 2 || history[1].Content != "Still here." {
		t.Fatalf("expected the typed turn to complete, got %+v", history)
	}
}

func TestOrchestrateReturnsOnContextCancel(t *testing.T) {
	o := NewOrchestrator(WithLLM(&fakeLLM{}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Orchestrate(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("orchestrate did not return after cancellation")
	}
}

func TestClosedOrchestratorRejectsTurns(t *testing.T) {
	o := NewOrchestrator(WithLLM(&fakeLLM{}))
	o.Close()

	if err := o.RunTurn(context.Background(), "hello"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := o.SendPrompt("hello"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}