package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/kajovic/liora-core/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	url        = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"

	eventPrefix = "event:"
	dataPrefix  = "data:"

	defaultMaxTokens = 2048
)

// PromptWithStream prepares a streaming request against the messages
// endpoint. The request is not sent until the returned stream is
// ranged over.
func PromptWithStream(
	_ context.Context,
	apiKey string,
	model string,
	prompt *string,
	systemPrompt string,
	baseTools []llms.Tool,
	opts ...llms.PromptOption,
) *Stream {
	options := llms.PromptOptions{
		Instructions: systemPrompt,
		Tools:        slices.Clone(baseTools),
	}
	for _, opt := range opts {
		opt(&options)
	}

	messages := toMessages(options.Turns)
	if prompt != nil {
		messages = append(messages, message{
			Role:    messageRoleUser,
			Content: []contentBlock{{Type: "text", Text: *prompt}},
		})
	}

	var tools []tool
	if options.Tools != nil {
		copier.Copy(&tools, options.Tools)
	}

	return &Stream{
		apiKey:      apiKey,
		model:       model,
		system:      options.Instructions,
		tools:       tools,
		forcedTools: options.ForcedToolCall,
		messages:    messages,
		maxTokens:   defaultMaxTokens,
	}
}

type Stream struct {
	apiKey string

	model       string
	system      string
	maxTokens   int
	tools       []tool
	forcedTools bool
	messages    []message
}

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.model))
		var toolNames []string
		for _, tool := range s.tools {
			toolNames = append(toolNames, tool.Name)
		}
		span.SetAttributes(attribute.StringSlice("request.available_tools", toolNames))

		var choice *toolChoice
		if s.tools != nil {
			choice = &toolChoice{Type: "auto"}
			if s.forcedTools {
				choice = &toolChoice{Type: "any"}
			}
		}

		reqBody := requestBody{
			Model:      s.model,
			MaxTokens:  s.maxTokens,
			System:     s.system,
			Messages:   s.messages,
			Stream:     true,
			Tools:      s.tools,
			ToolChoice: choice,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating HTTP request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", s.apiKey)
		req.Header.Set("anthropic-version", apiVersion)

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := client.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err != nil {
				err = fmt.Errorf("error reading error body: %w", err)
				span.RecordError(err)
			} else {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}

			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		var cumulativeUsage llms.Usage

		// tool_use inputs arrive as partial JSON fragments; the call is
		// only emitted once its block closes.
		type toolCallBuilder struct {
			id        string
			name      string
			arguments strings.Builder
		}
		openToolCalls := map[int]*toolCallBuilder{}
		emittedToolNames := []string{}
		defer func() {
			span.SetAttributes(attribute.StringSlice("response.tool_calls", emittedToolNames))
		}()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if len(line) == 0 || strings.HasPrefix(line, eventPrefix) {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
			if len(data) == 0 {
				continue
			}

			setRequestToFirstTokenTime(span)

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				err = fmt.Errorf("%w: error unmarshalling JSON: %w", llms.ErrMalformedChunk, err)
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					cumulativeUsage.InputTokens = event.Message.Usage.InputTokens
					cumulativeUsage.CacheReadTokens = event.Message.Usage.CacheReadInputTokens
				}

			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					openToolCalls[event.Index] = &toolCallBuilder{
						id:   event.ContentBlock.ID,
						name: event.ContentBlock.Name,
					}
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				switch event.Delta.Type {
				case "text_delta":
					if !yield(StreamContentChunk{content: event.Delta.Text}, nil) {
						return
					}
				case "thinking_delta":
					if !yield(StreamReasoningChunk{reasoning: event.Delta.Thinking}, nil) {
						return
					}
				case "input_json_delta":
					if builder, ok := openToolCalls[event.Index]; ok {
						builder.arguments.WriteString(event.Delta.PartialJSON)
					}
				}

			case "content_block_stop":
				builder, ok := openToolCalls[event.Index]
				if !ok {
					continue
				}
				delete(openToolCalls, event.Index)
				emittedToolNames = append(emittedToolNames, builder.name)
				if !yield(StreamToolCallChunk{
					toolCall: llms.ToolCall{
						ID:        builder.id,
						Name:      builder.name,
						Arguments: builder.arguments.String(),
					},
				}, nil) {
					return
				}

			case "message_delta":
				var finishReason *string
				if event.Delta != nil {
					finishReason = event.Delta.StopReason
				}
				if event.Usage != nil {
					cumulativeUsage.OutputTokens = event.Usage.OutputTokens
					cumulativeUsage.TotalTokens = cumulativeUsage.InputTokens + cumulativeUsage.OutputTokens

					span.SetAttributes(attribute.Int("usage.input", cumulativeUsage.InputTokens))
					span.SetAttributes(attribute.Int("usage.output", cumulativeUsage.OutputTokens))
					span.SetAttributes(attribute.Int("usage.cache_read", cumulativeUsage.CacheReadTokens))
					span.SetAttributes(attribute.Int("usage.total", cumulativeUsage.TotalTokens))
				}
				if !yield(StreamUsageChunk{
					finishReason: finishReason,
					usage:        cumulativeUsage,
				}, nil) {
					return
				}

			case "message_stop":
				return

			case "error":
				if event.Error != nil {
					err := fmt.Errorf("stream error (%s): %s", event.Error.Type, event.Error.Message)
					span.RecordError(err)
					yield(nil, err)
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("error reading streamed response: %w", err))
			return
		}
	}
}

type StreamReasoningChunk struct {
	finishReason *string
	reasoning    string
}

func (s StreamReasoningChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamReasoningChunk) Reasoning() string {
	return s.reasoning
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamToolCallChunk struct {
	finishReason *string
	toolCall     llms.ToolCall
}

func (s StreamToolCallChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamToolCallChunk) ToolCall() llms.ToolCall {
	return s.toolCall
}

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
