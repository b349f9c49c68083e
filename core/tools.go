package orchestration

import "github.com/kajovic/liora-core/core/llms"

type speakingControlParameters struct {
	IsSpeaking bool `json:"is_speaking" jsonschema:"description=Whether to speak responses aloud"`
}

type sleepParameters struct {
	Confirm bool `json:"confirm" jsonschema:"description=Must be true to wind down"`
}

// orchestrationTools are the built-in controls the model can invoke on
// its own runtime.
func orchestrationTools(o *Orchestrator) []llms.Tool {
	return []llms.Tool{
		llms.NewTool("speaking_control", "Turn the agent's voice output on or off. Might be referred to as 'muting'",
			func(parameters speakingControlParameters) (string, error) {
				o.SetSpeaking(parameters.IsSpeaking)
				return "Success. Respond with a very short phrase", nil
			}),
		llms.NewTool("go_to_sleep", "Wind the conversation down after this response. Use when the user says goodbye or asks you to sleep",
			func(parameters sleepParameters) (string, error) {
				if !parameters.Confirm {
					return "Not confirmed, staying awake", nil
				}
				o.Sleep()
				return "Winding down after this response. Say a short goodbye", nil
			}),
	}
}
