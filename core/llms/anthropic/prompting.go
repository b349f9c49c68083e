package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/jinzhu/copier"
	"github.com/kajovic/liora-core/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Prompt sends a batch (non-streaming) request and resolves tool calls
// in a loop until the model produces a final response. Used for
// auxiliary prompts where latency matters less than simplicity, like
// memory distillation.
func Prompt(
	ctx context.Context,
	apiKey string,
	model string,
	prompt string,
	systemPrompt string,
	baseTools []llms.Tool,
	opts ...llms.PromptOption,
) ([]llms.Response, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", model))

	options := llms.PromptOptions{
		Instructions: systemPrompt,
		Tools:        slices.Clone(baseTools),
	}
	for _, opt := range opts {
		opt(&options)
	}

	messages := toMessages(options.Turns)
	messages = append(messages, message{
		Role:    messageRoleUser,
		Content: []contentBlock{{Type: "text", Text: prompt}},
	})

	var choice *toolChoice
	var tools []tool
	if options.Tools != nil {
		choice = &toolChoice{Type: "auto"}
		if options.ForcedToolCall {
			choice = &toolChoice{Type: "any"}
		}
		copier.Copy(&tools, options.Tools)
	}

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
			return operationName + " " + request.URL.Path
		}),
	)}

	responses := []llms.Response{}

	for {
		reqBody := requestBody{
			Model:      model,
			MaxTokens:  defaultMaxTokens,
			System:     options.Instructions,
			Messages:   messages,
			Tools:      tools,
			ToolChoice: choice,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("error marshalling JSON: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("error creating HTTP request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, err := client.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			span.SetAttributes(attribute.String("response.error", string(body)))
			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		var parsed responseBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("error unmarshalling response: %w", err)
		}

		span.SetAttributes(attribute.Int("usage.input", parsed.Usage.InputTokens))
		span.SetAttributes(attribute.Int("usage.output", parsed.Usage.OutputTokens))

		response := llms.Response{}
		assistantBlocks := []contentBlock{}
		for _, block := range parsed.Content {
			switch block.Type {
			case "text":
				response.Content += block.Text
				assistantBlocks = append(assistantBlocks, block)
			case "thinking":
				response.Reasoning += block.Thinking
			case "tool_use":
				response.ToolCalls = append(response.ToolCalls, llms.ToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: string(block.Input),
				})
				assistantBlocks = append(assistantBlocks, block)
			}
		}
		responses = append(responses, response)

		if len(response.ToolCalls) == 0 {
			return responses, nil
		}

		messages = append(messages, message{Role: messageRoleAssistant, Content: assistantBlocks})

		resultBlocks := []contentBlock{}
		for _, toolCall := range response.ToolCalls {
			result, isError := executeTool(ctx, options.Tools, toolCall)
			resultBlocks = append(resultBlocks, contentBlock{
				Type:      "tool_result",
				ToolUseID: toolCall.ID,
				Content:   result,
				IsError:   isError,
			})
		}
		messages = append(messages, message{Role: messageRoleUser, Content: resultBlocks})

		// Once tools have run, let the model decide whether to call
		// more or answer.
		choice = &toolChoice{Type: "auto"}
	}
}

func executeTool(ctx context.Context, tools []llms.Tool, toolCall llms.ToolCall) (string, bool) {
	_, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", toolCall.Name))

	for _, tool := range tools {
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
