package memory

import "github.com/kajovic/liora-core/core/llms"

// MetaPrompt explains the memory system to the model. Injected into
// the system prompt alongside [Store.State].
const MetaPrompt = `## Memory System

You have two-tier memory (memory_store, memory_remove tools):
- **short_term** — daily working memory (tasks, context, blockers). Resets each day.
- **long_term** — persistent (profile, preferences, facts). Survives across sessions.

Guidelines:
- Do NOT just store conversation history — extract semantic facts and preferences.
- Store facts about the user naturally as you learn them.
- Keep memories current — remove outdated info, add new details as you learn them.
- Categories are dynamic — use whatever names make sense.`

type storeParameters struct {
	Tier     string `json:"tier" jsonschema:"enum=short_term,enum=long_term,description=short_term = daily working context; long_term = persistent knowledge"`
	Category string `json:"category" jsonschema:"description=Dynamic category name (you decide)"`
	Content  string `json:"content" jsonschema:"description=The fact or preference to remember"`
	Replaces string `json:"replaces,omitempty" jsonschema:"description=Optional: old content to replace (partial match). Omit for new entries."`
}

type removeParameters struct {
	Tier     string `json:"tier" jsonschema:"enum=short_term,enum=long_term,description=Which tier to remove from"`
	Category string `json:"category" jsonschema:"description=Category to search in"`
	Content  string `json:"content" jsonschema:"description=Content to remove (partial match)"`
}

// Tools exposes the store to the model. Handlers close over the store
// so mutations are immediately visible to the prompt builder.
func Tools(store *Store) []llms.Tool {
	return []llms.Tool{
		llms.NewTool("memory_store",
			"Store or update a memory. Choose tier based on persistence needs.",
			func(parameters storeParameters) (string, error) {
				return store.Add(Tier(parameters.Tier), parameters.Category, parameters.Content, parameters.Replaces)
			}),
		llms.NewTool("memory_remove",
			"Remove outdated or incorrect memory (partial match).",
			func(parameters removeParameters) (string, error) {
				return store.Remove(Tier(parameters.Tier), parameters.Category, parameters.Content)
			}),
	}
}
