package llms

// Response is a single response from an LLM.
type Response struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCall
}

// Turn is a single exchange in the conversation: what initiated it and
// what the assistant produced.
type Turn struct {
	Role TurnRole

	// Content is the content of the turn. In the user's turn it is the
	// prompt, in the assistant's turn it is the response.
	Content   string
	ToolCalls []ToolCall

	// Interrupted marks an assistant turn whose delivery was cut short.
	// Only the spoken prefix in Content was actually heard.
	Interrupted bool
}

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// ToolCall is a tool invocation requested by the model, together with
// the response once executed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Response  string
	IsError   bool
}
