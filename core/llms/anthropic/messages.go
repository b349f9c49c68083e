package anthropic

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/kajovic/liora-core/core/llms"
)

type message struct {
	Role    messageRole    `json:"role"`
	Content []contentBlock `json:"content"`
}

type messageRole string

const (
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type contentBlock struct {
	Type string `json:"type"`

	// text blocks
	Text string `json:"text,omitempty"`

	// thinking blocks
	Thinking string `json:"thinking,omitempty"`

	// tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
}

type requestBody struct {
	Model      string      `json:"model"`
	MaxTokens  int         `json:"max_tokens"`
	System     string      `json:"system,omitempty"`
	Messages   []message   `json:"messages"`
	Stream     bool        `json:"stream,omitempty"`
	Tools      []tool      `json:"tools,omitempty"`
	ToolChoice *toolChoice `json:"tool_choice,omitempty"`
}

type usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}

// streamEvent is the union of every SSE event the messages endpoint
// emits. Only the fields relevant to the event's type are populated.
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage usage `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string  `json:"type"`
		Text        string  `json:"text"`
		Thinking    string  `json:"thinking"`
		PartialJSON string  `json:"partial_json"`
		StopReason  *string `json:"stop_reason"`
	} `json:"delta,omitempty"`

	Usage *usage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type responseBody struct {
	Content    []contentBlock `json:"content"`
	StopReason *string        `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

func toMessages(turns []llms.Turn) []message {
	messages := []message{}
	for _, turn := range turns {
		switch turn.Role {
		case llms.TurnRoleUser:
			if turn.Content == "" {
				continue
			}
			messages = append(messages, message{
				Role:    messageRoleUser,
				Content: []contentBlock{{Type: "text", Text: turn.Content}},
			})

		case llms.TurnRoleAssistant:
			blocks := []contentBlock{}
			if turn.Content != "" {
				content := turn.Content
				if turn.Interrupted {
					// The model should know only this prefix was heard.
					content += " [delivery interrupted by the user]"
				}
				blocks = append(blocks, contentBlock{Type: "text", Text: content})
			}

			resultBlocks := []contentBlock{}
			for _, toolCall := range turn.ToolCalls {
				input := json.RawMessage(toolCall.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    toolCall.ID,
					Name:  toolCall.Name,
					Input: input,
				})
				if toolCall.Response != "" {
					resultBlocks = append(resultBlocks, contentBlock{
						Type:      "tool_result",
						ToolUseID: toolCall.ID,
						Content:   toolCall.Response,
						IsError:   toolCall.IsError,
					})
				}
			}

			if len(blocks) > 0 {
				messages = append(messages, message{Role: messageRoleAssistant, Content: blocks})
			}
			if len(resultBlocks) > 0 {
				messages = append(messages, message{Role: messageRoleUser, Content: resultBlocks})
			}
		}
	}
	return messages
}
