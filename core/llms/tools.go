package llms

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is a function the model may call. The input schema is derived
// from the parameter struct's json tags and jsonschema annotations.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema

	execute func(arguments string) (string, error)
}

// NewTool builds a tool from a typed handler. Arguments arrive as the
// raw JSON the model produced and are unmarshalled into T before the
// handler runs.
func NewTool[T any](name, description string, execute func(T) (string, error)) Tool {
	reflector := jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: false,
	}
	var parameters T
	schema := reflector.Reflect(parameters)
	schema.Version = ""

	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		execute: func(arguments string) (string, error) {
			var parameters T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return "", fmt.Errorf("failed to parse arguments for tool %q: %w", name, err)
				}
			}
			return execute(parameters)
		},
	}
}

// Execute runs the tool against the model-provided arguments.
func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no handler", t.Name)
	}
	return t.execute(arguments)
}
