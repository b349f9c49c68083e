package llms

// PromptOptions is the assembled state every prompt variant starts
// from.
type PromptOptions struct {
	Instructions   string
	Turns          []Turn
	Tools          []Tool
	ForcedToolCall bool
}

// PromptOption modifies prompt options. The same options apply to
// streaming and batch prompting.
type PromptOption func(*PromptOptions)

// WithSystemPrompt sets the system prompt. Repeating this option
// overwrites the previous system prompt.
func WithSystemPrompt(prompt string) PromptOption {
	return func(opts *PromptOptions) {
		opts.Instructions = prompt
	}
}

// WithTurns appends conversation history. Repeating this option
// sequentially adds more turns.
func WithTurns(turns ...Turn) PromptOption {
	return func(opts *PromptOptions) {
		opts.Turns = append(opts.Turns, turns...)
	}
}

// WithTools makes tools available to the prompt.
func WithTools(tools ...Tool) PromptOption {
	return func(opts *PromptOptions) {
		opts.Tools = append(opts.Tools, tools...)
	}
}

// WithForcedToolCall requires the model to call at least one tool.
func WithForcedToolCall() PromptOption {
	return func(opts *PromptOptions) {
		opts.ForcedToolCall = true
	}
}
