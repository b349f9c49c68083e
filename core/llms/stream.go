package llms

import (
	"context"
	"errors"
)

// ErrMalformedChunk marks a streamed token that could not be decoded.
// Consumers skip the token and keep reading; on its own it never ends
// the stream or the turn.
var ErrMalformedChunk = errors.New("malformed stream chunk")

// Stream is a lazily-evaluated response stream. Chunks returns a
// range-over-func iterator; the request is not sent until the caller
// starts ranging.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

// StreamChunk is the common surface of every streamed delta. Callers
// type-switch on the more specific chunk interfaces below.
type StreamChunk interface {
	FinishReason() *string
}

type StreamReasoningChunk interface {
	StreamChunk
	Reasoning() string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamToolCallChunk interface {
	StreamChunk
	ToolCall() ToolCall
}

type StreamToolResultChunk interface {
	StreamChunk
	ToolResult() ToolCall
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage is the token accounting reported at the end of a stream.
type Usage struct {
	// InputTokens represents the number of input tokens.
	InputTokens int
	// OutputTokens represents the number of output tokens.
	OutputTokens int
	// CacheReadTokens represents input tokens served from prompt cache.
	CacheReadTokens int
	// TotalTokens represents the total number of tokens used.
	TotalTokens int
}
