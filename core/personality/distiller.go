package personality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kajovic/liora-core/core/llms/anthropic"
)

var distillationPrompt = fmt.Sprintf(`You are a personality analysis assistant. Given a recent conversation between a user and their AI companion, plus the companion's current personality evolution state and memory context, produce an updated personality evolution state.

Use the Big Five personality dimensions (Openness, Conscientiousness, Extraversion, Agreeableness, Neuroticism) as a behavioral lens — describe observations in natural language, not numeric scores.

Return a JSON object with exactly these keys:
{
  "tone_adjustments": ["<concise instruction for the companion's tone>", ...],
  "learned_traits": ["<observed user preference or behavioral pattern>", ...],
  "companion_guesses": [
    {"guess": "<hypothesis about the user>", "confidence": "low|moderate|high", "since": "YYYY-MM-DD"},
    ...
  ]
}

Rules:
- This is a FULL STATE REPLACEMENT — return the complete desired state, not deltas.
- Preserve entries from the current state that are still valid.
- For companion_guesses, keep the original "since" date if a guess carries forward. Adjust "confidence" up or down as evidence accumulates or contradicts.
- Remove guesses that are clearly wrong based on new evidence.
- Consolidate redundant or overlapping entries — prefer fewer, higher-quality entries.
- tone_adjustments: max %d entries. Short imperative instructions for the companion (e.g. "be more concise when user is busy", "lean into technical depth").
- learned_traits: max %d entries. Observed preferences, habits, or patterns (e.g. "prefers code examples over abstractions", "likes dry humor").
- companion_guesses: max %d entries. Working hypotheses — NOT facts. Frame as "likely...", "seems to...", "probably...".
- Output ONLY the JSON object, no markdown fences, no commentary.`,
	maxToneAdjustments, maxLearnedTraits, maxCompanionGuesses)

// Distill analyzes a recent transcript against the current evolution
// state and applies the model's full-state replacement. Safe to run in
// a background goroutine; errors are returned for the caller to log.
func Distill(ctx context.Context, apiKey, model string, engine *Engine, memoryState, transcript string) error {
	ctx, span := tracer.Start(ctx, "distill personality")
	defer span.End()

	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	state := engine.Snapshot()
	currentState, err := json.MarshalIndent(map[string]any{
		"tone_adjustments":  state.ToneAdjustments,
		"learned_traits":    state.LearnedTraits,
		"companion_guesses": state.CompanionGuesses,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode current evolution state: %w", err)
	}

	prompt := fmt.Sprintf(
		"## Current Personality Evolution State\n```json\n%s\n```\n\n## Current Memory State\n%s\n\n## Recent Conversation\n%s",
		currentState, memoryState, transcript,
	)

	responses, err := anthropic.Prompt(ctx, apiKey, model, prompt, distillationPrompt, nil)
	if err != nil {
		return fmt.Errorf("personality distillation request failed: %w", err)
	}
	if len(responses) == 0 {
		return fmt.Errorf("personality distillation returned no response")
	}

	var result Evolution
	raw := stripCodeFences(responses[len(responses)-1].Content)
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fmt.Errorf("failed to parse distillation response: %w", err)
	}

	if err := engine.ApplyEvolution(result); err != nil {
		return err
	}

	logger.InfoContext(ctx, "personality evolved",
		"tone_adjustments", len(result.ToneAdjustments),
		"learned_traits", len(result.LearnedTraits),
		"companion_guesses", len(result.CompanionGuesses),
	)
	return nil
}

// stripCodeFences unwraps a ```json fenced block if the model ignored
// the no-fences instruction.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
