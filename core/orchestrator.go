// Package orchestration is the turn-taking core: it owns the
// conversational state machine, runs the listening and speaking
// pipelines, and mediates between capture, VAD, transcription, the
// reasoning service and synthesis.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kajovic/liora-core/core/interrupt"
	"github.com/kajovic/liora-core/core/llms"
	"github.com/kajovic/liora-core/core/memory"
	"github.com/kajovic/liora-core/core/personality"
	"github.com/kajovic/liora-core/core/sessions"
	"github.com/kajovic/liora-core/core/vad"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const defaultMaxHistoryTurns = 40

type Orchestrator struct {
	llm          LLM
	device       AudioDevice
	speechToText SpeechToText
	textToSpeech TextToSpeech

	persona    *personality.Engine
	memory     *memory.Store
	sessionLog *sessions.Engine
	tools      []llms.Tool

	listeningProfile vad.Config
	bargeInProfile   vad.Config
	queryTimeout     time.Duration
	cooldown         time.Duration
	streaming        bool
	boundaries       string
	maxHistoryTurns  int

	flag    *interrupt.Flag
	tracker *stateTracker
	options OrchestrateOptions

	historyMu sync.Mutex
	history   []llms.Turn

	prompts chan string

	sleeping        atomic.Bool
	speakingEnabled atomic.Bool
	closed          atomic.Bool

	turnCounter metric.Int64Counter
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		listeningProfile: vad.ListeningConfig(),
		bargeInProfile:   vad.BargeInConfig(),
		queryTimeout:     60 * time.Second,
		cooldown:         400 * time.Millisecond,
		streaming:        true,
		maxHistoryTurns:  defaultMaxHistoryTurns,
		flag:             &interrupt.Flag{},
		tracker:          newStateTracker(nil),
		prompts:          make(chan string, 4),
	}
	o.speakingEnabled.Store(true)

	for _, opt := range opts {
		opt(o)
	}

	o.turnCounter, _ = meter.Int64Counter("liora.turns",
		metric.WithDescription("Completed conversation turns"))

	return o
}

// Orchestrate runs the conversation loop: listen, think, speak,
// persist, repeat. It returns when the context is cancelled, Close is
// called, or the agent is put to sleep.
//
// Call Orchestrate at most once per orchestrator instance.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	options := OrchestrateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	o.options = options
	o.tracker = newStateTracker(options.onStateChange)

	voiceInput := o.device != nil && o.speechToText != nil
	var utteranceListener *listener
	if voiceInput {
		utteranceListener = newListener(o.device, o.speechToText, o.listeningProfile, o.cooldown)
	}

	for {
		if err := ctx.Err(); err != nil {
			o.tracker.set(StateSleeping, "context cancelled")
			return err
		}
		if o.closed.Load() || o.sleeping.Load() {
			o.tracker.set(StateSleeping, "shutdown requested")
			return nil
		}

		prompt, err := o.acquireInput(ctx, utteranceListener)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			// A dead capture path degrades to text-only input rather
			// than ending the conversation.
			o.reportError(fmt.Errorf("failed to acquire voice input: %w", err))
			utteranceListener = nil
			voiceInput = false
			continue
		}
		if strings.TrimSpace(prompt) == "" {
			continue
		}

		if err := o.RunTurn(ctx, prompt); err != nil {
			o.reportError(err)
		}
	}
}

// acquireInput waits for the next user utterance: voice when a capture
// path exists, typed prompts always.
func (o *Orchestrator) acquireInput(ctx context.Context, utteranceListener *listener) (string, error) {
	// Typed prompts submitted while speaking or thinking queue up and
	// win over opening a new listening window.
	select {
	case prompt := <-o.prompts:
		return prompt, nil
	default:
	}

	if utteranceListener == nil {
		select {
		case prompt := <-o.prompts:
			return prompt, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	o.tracker.set(StateListening, "")
	utterance, err := utteranceListener.Listen(ctx, listenCallbacks{
		onInterim: o.options.onInterimTranscription,
	})
	if err != nil {
		return "", err
	}
	if o.options.onTranscription != nil {
		o.options.onTranscription(utterance)
	}
	return utterance, nil
}

// RunTurn processes one full turn for prompt: reset the interrupt
// flag, query the reasoning service, stream sentences into synthesis,
// and persist the exchange.
func (o *Orchestrator) RunTurn(ctx context.Context, prompt string) error {
	if o.closed.Load() {
		return ErrClosed
	}

	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()
	o.turnCounter.Add(ctx, 1)

	o.flag.Reset()
	o.flag.Enable()
	defer o.flag.Disable()

	o.tracker.set(StateThinking, "")

	queryCtx, cancelQuery := context.WithTimeout(ctx, o.queryTimeout)
	defer cancelQuery()

	buffer := newSentenceBuffer(o.boundaries)
	var tts TextToSpeech
	if o.speakingEnabled.Load() && o.device != nil {
		tts = o.textToSpeech
	}
	session := newSynthesisSession(tts, o.device, o.flag)

	pipelineDone := make(chan struct{})
	go func() {
		select {
		case <-o.flag.Done():
			cancelQuery()
			session.Cancel()
			buffer.Clear()
		case <-pipelineDone:
		}
	}()

	// The deadline watcher tags the cancellation so a timeout is
	// distinguishable from a barge-in.
	go func() {
		select {
		case <-queryCtx.Done():
			if errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
				o.flag.Raise(interrupt.ReasonTimeout)
			}
		case <-pipelineDone:
		}
	}()

	var (
		response    *llms.Response
		workerErr   error
		workerErrMu sync.Mutex
	)
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func() error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				o.flag.Raise(interrupt.ReasonShutdown)
			}
		}()
		if err := f(); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		run("generation", func() error {
			generated, err := o.generate(queryCtx, prompt, buffer)
			response = generated
			return err
		})
		// Generation is done; release the deadline so it cannot fire
		// while the tail of the response is still being spoken.
		cancelQuery()
	}()
	go func() {
		defer wg.Done()
		run("speaking", func() error {
			return o.speak(ctx, buffer, session)
		})
	}()
	wg.Wait()
	close(pipelineDone)

	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
		o.flag.Raise(interrupt.ReasonTimeout)
	}

	interrupted := o.flag.Raised()
	reason := o.flag.Reason()
	span.SetAttributes(
		attribute.Bool("turn.interrupted", interrupted),
		attribute.String("turn.interrupt_reason", string(reason)),
	)
	if interrupted && o.options.onInterrupted != nil {
		o.options.onInterrupted(reason)
	}
	if reason == interrupt.ReasonTimeout {
		workerErrMu.Lock()
		workerErr = errors.Join(ErrQueryTimeout, workerErr)
		workerErrMu.Unlock()
	}

	o.persistTurn(ctx, prompt, response, session, interrupted)
	o.tracker.set(StateIdle, "")

	if workerErr != nil {
		span.RecordError(workerErr)
		span.SetStatus(codes.Error, workerErr.Error())
	}
	return workerErr
}

// generate runs the reasoning query, routing content deltas into the
// sentence buffer and resolving tool calls in a loop.
func (o *Orchestrator) generate(ctx context.Context, prompt string, buffer *sentenceBuffer) (*llms.Response, error) {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()
	defer buffer.TextComplete()

	if o.llm == nil {
		return nil, nil
	}

	systemPrompt := o.buildSystemPrompt()
	history := o.historySnapshot()

	if !o.streaming {
		return o.generateBatch(ctx, prompt, systemPrompt, history, buffer)
	}

	userTurn := llms.Turn{Role: llms.TurnRoleUser, Content: prompt}
	assistant := llms.Turn{Role: llms.TurnRoleAssistant}

	for {
		stream := o.llm.PromptWithStream(ctx, nil,
			llms.WithSystemPrompt(systemPrompt),
			llms.WithTurns(append(o.historySnapshotWith(history, userTurn), assistant)...),
			llms.WithTools(o.tools...),
		)

		var message strings.Builder
		var toolCalls []llms.ToolCall
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				if errors.Is(err, llms.ErrMalformedChunk) {
					// One undecodable token does not end the turn; the rest
					// of the response is still coming.
					logger.WarnContext(ctx, "skipping malformed stream token", "error", err)
					continue
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || o.flag.Raised() {
					// Cancellation mid-stream is an outcome, not a failure;
					// the partial response still gets delivered/persisted.
					assistant.Content += message.String()
					return responseFromTurn(assistant), nil
				}
				err = fmt.Errorf("failed to stream response: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return responseFromTurn(assistant), err
			}

			if o.flag.Raised() {
				assistant.Content += message.String()
				return responseFromTurn(assistant), nil
			}

			switch chunk := chunk.(type) {
			case llms.StreamReasoningChunk:
				if o.options.onReasoning != nil {
					o.options.onReasoning(chunk.Reasoning())
				}
			case llms.StreamContentChunk:
				message.WriteString(chunk.Content())
				buffer.AddChunk(chunk.Content())
				if o.options.onResponse != nil {
					o.options.onResponse(chunk.Content())
				}
			case llms.StreamToolCallChunk:
				toolCalls = append(toolCalls, chunk.ToolCall())
			}
		}
		assistant.Content += message.String()

		if len(toolCalls) == 0 {
			if o.options.onResponseEnd != nil {
				o.options.onResponseEnd()
			}
			return responseFromTurn(assistant), nil
		}

		o.tracker.set(StateSearching, "")
		for _, toolCall := range toolCalls {
			result, isError := o.executeTool(ctx, toolCall)
			toolCall.Response = result
			toolCall.IsError = isError
			assistant.ToolCalls = append(assistant.ToolCalls, toolCall)
		}
		o.tracker.set(StateThinking, "tool results ready")
	}
}

// generateBatch collapses the stream to one synthetic text-then-done
// pair: the whole response lands in the buffer at once.
func (o *Orchestrator) generateBatch(ctx context.Context, prompt, systemPrompt string, history []llms.Turn, buffer *sentenceBuffer) (*llms.Response, error) {
	responses, err := o.llm.Prompt(ctx, prompt,
		llms.WithSystemPrompt(systemPrompt),
		llms.WithTurns(history...),
		llms.WithTools(o.tools...),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || o.flag.Raised() {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to prompt reasoning service: %w", err)
	}
	if len(responses) == 0 {
		return nil, nil
	}

	final := responses[len(responses)-1]
	if !o.flag.Raised() {
		buffer.AddChunk(final.Content)
		if o.options.onResponse != nil {
			o.options.onResponse(final.Content)
		}
		if o.options.onResponseEnd != nil {
			o.options.onResponseEnd()
		}
	}
	return &final, nil
}

// speak drains the sentence buffer into the synthesis session, arming
// the barge-in monitor for the speaking window.
func (o *Orchestrator) speak(ctx context.Context, buffer *sentenceBuffer, session *synthesisSession) error {
	var monitor *bargeInMonitor
	defer func() {
		if monitor != nil {
			monitor.Stop()
			if err := o.device.StopCapture(); err != nil {
				logger.WarnContext(ctx, "failed to stop capture after speaking", "error", err)
			}
		}
	}()

	speaking := false
	for sentence := range buffer.Sentences {
		if o.flag.Raised() {
			break
		}

		if !speaking {
			speaking = true
			o.tracker.set(StateSpeaking, "")
			monitor = o.armBargeIn(ctx)
		}

		if err := o.submitSentence(ctx, session, sentence); err != nil {
			// Synthesis is best-effort: the turn degrades to text-only.
			logger.WarnContext(ctx, "dropping synthesis for the turn", "error", err)
		}
	}

	return session.Finish(ctx)
}

func (o *Orchestrator) submitSentence(ctx context.Context, session *synthesisSession, sentence string) error {
	return session.Submit(ctx, sentence)
}

// armBargeIn starts capture and the barge-in monitor for the speaking
// window. Failure to arm is logged, not fatal: the turn simply cannot
// be interrupted by voice.
func (o *Orchestrator) armBargeIn(ctx context.Context) *bargeInMonitor {
	if o.device == nil {
		return nil
	}
	if err := o.device.StartCapture(ctx); err != nil {
		logger.WarnContext(ctx, "failed to start capture for barge-in", "error", err)
		return nil
	}
	monitor := newBargeInMonitor(o.device.Frames(), o.bargeInProfile, o.flag)
	go monitor.Run(ctx)
	return monitor
}

func (o *Orchestrator) executeTool(ctx context.Context, toolCall llms.ToolCall) (string, bool) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", toolCall.Name))

	for _, tool := range o.tools {
		if tool.Name != toolCall.Name {
			continue
		}
		result, err := tool.Execute(toolCall.Arguments)
		if err != nil {
			err = fmt.Errorf("failed to execute tool %q: %w", toolCall.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err.Error(), true
		}
		return result, false
	}

	err := fmt.Errorf("tool not found: %s", toolCall.Name)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err.Error(), true
}

// persistTurn appends the exchange to history and the session log. An
// interrupted turn records only what was actually spoken.
func (o *Orchestrator) persistTurn(ctx context.Context, prompt string, response *llms.Response, session *synthesisSession, interrupted bool) {
	content := ""
	var toolCalls []llms.ToolCall
	if response != nil {
		content = response.Content
		toolCalls = response.ToolCalls
	}
	if interrupted && session.Opened() {
		content = session.Spoken()
	} else if interrupted && !session.Opened() {
		content = ""
	}

	o.historyMu.Lock()
	o.history = append(o.history,
		llms.Turn{Role: llms.TurnRoleUser, Content: prompt},
		llms.Turn{Role: llms.TurnRoleAssistant, Content: content, ToolCalls: toolCalls, Interrupted: interrupted},
	)
	if len(o.history) > o.maxHistoryTurns {
		o.history = o.history[len(o.history)-o.maxHistoryTurns:]
	}
	o.historyMu.Unlock()

	if o.sessionLog != nil {
		if err := o.sessionLog.Append(ctx, sessions.SenderUser, prompt); err != nil {
			logger.WarnContext(ctx, "failed to log user entry", "error", err)
		}
		if content != "" {
			if err := o.sessionLog.Append(ctx, sessions.SenderAssistant, content); err != nil {
				logger.WarnContext(ctx, "failed to log assistant entry", "error", err)
			}
		}
	}
	if o.persona != nil {
		if err := o.persona.RecordInteraction(); err != nil {
			logger.WarnContext(ctx, "failed to record interaction", "error", err)
		}
	}
}

func (o *Orchestrator) buildSystemPrompt() string {
	memoryState := ""
	memoryGuidance := ""
	if o.memory != nil {
		memoryState = o.memory.State()
		memoryGuidance = memory.MetaPrompt
	}

	recap := ""
	if o.sessionLog != nil {
		if summary, err := o.sessionLog.Summary(20); err == nil {
			recap = summary
		}
	}

	if o.persona == nil {
		return memoryGuidance
	}
	return o.persona.BuildSystemPrompt(memoryState, recap, memoryGuidance)
}

func (o *Orchestrator) historySnapshot() []llms.Turn {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	return append([]llms.Turn(nil), o.history...)
}

func (o *Orchestrator) historySnapshotWith(history []llms.Turn, turns ...llms.Turn) []llms.Turn {
	combined := append([]llms.Turn(nil), history...)
	return append(combined, turns...)
}

func responseFromTurn(turn llms.Turn) *llms.Response {
	return &llms.Response{Content: turn.Content, ToolCalls: turn.ToolCalls}
}

func (o *Orchestrator) reportError(err error) {
	if err == nil {
		return
	}
	logger.Warn("turn failed", "error", err)
	if o.options.onError != nil {
		o.options.onError(err)
	}
}

// SendPrompt queues a typed prompt. It is picked up before the next
// listening window opens.
func (o *Orchestrator) SendPrompt(prompt string) error {
	if o.closed.Load() {
		return ErrClosed
	}
	select {
	case o.prompts <- prompt:
		return nil
	default:
		return fmt.Errorf("prompt queue full")
	}
}

// Interrupt cancels the active turn, as a surface-initiated command.
func (o *Orchestrator) Interrupt() {
	o.flag.Raise(interrupt.ReasonCommand)
}

// State returns the current turn state.
func (o *Orchestrator) State() TurnState {
	return o.tracker.get()
}

// History returns a copy of the retained conversation history.
func (o *Orchestrator) History() []llms.Turn {
	return o.historySnapshot()
}

// SetSpeaking toggles voice output. With speaking disabled, turns run
// text-only.
func (o *Orchestrator) SetSpeaking(enabled bool) {
	o.speakingEnabled.Store(enabled)
}

// Sleep asks the conversation loop to wind down after the current
// turn.
func (o *Orchestrator) Sleep() {
	o.sleeping.Store(true)
}

// Close shuts the orchestrator down, cancelling any active turn.
func (o *Orchestrator) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	o.sleeping.Store(true)
	o.flag.Enable()
	o.flag.Raise(interrupt.ReasonShutdown)
}
