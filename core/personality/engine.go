// Package personality loads the agent's persona, assembles system
// prompts, and evolves the persona over time from observed
// conversation.
package personality

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	maxToneAdjustments  = 8
	maxLearnedTraits    = 12
	maxCompanionGuesses = 10
)

// Persona is the static part of the personality, authored by the user
// in a YAML file.
type Persona struct {
	Name      string            `yaml:"name"`
	Tone      string            `yaml:"tone"`
	Verbosity string            `yaml:"verbosity"`
	Traits    map[string]string `yaml:"traits"`
}

// Guess is a working hypothesis about the user, carried with the
// confidence the distiller assigned and the date it first appeared.
type Guess struct {
	Guess      string `json:"guess"`
	Confidence string `json:"confidence"`
	Since      string `json:"since"`
}

// Evolution is the learned part of the personality. The distiller
// returns it as a full-state replacement, never a delta.
type Evolution struct {
	ToneAdjustments  []string `json:"tone_adjustments"`
	LearnedTraits    []string `json:"learned_traits"`
	CompanionGuesses []Guess  `json:"companion_guesses"`
	InteractionCount int      `json:"interaction_count"`
	LastEvolved      string   `json:"last_evolved,omitempty"`
}

// Engine combines the static persona with the persisted evolution
// state and renders system prompts from both.
type Engine struct {
	persona       Persona
	evolutionPath string

	mu        sync.Mutex
	evolution Evolution
}

// NewEngine loads the persona from personaPath and the evolution state
// from stateDir, initialising the state file if it does not exist yet.
func NewEngine(personaPath, stateDir string) (*Engine, error) {
	file, err := os.Open(personaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open persona file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	var persona Persona
	if err := decoder.Decode(&persona); err != nil {
		return nil, fmt.Errorf("failed to parse persona file: %w", err)
	}
	return newEngine(persona, stateDir)
}

// NewDefaultEngine builds an engine with the built-in persona, for
// setups that do not ship a persona file.
func NewDefaultEngine(stateDir string) (*Engine, error) {
	return newEngine(Persona{}, stateDir)
}

func newEngine(persona Persona, stateDir string) (*Engine, error) {
	if persona.Name == "" {
		persona.Name = "Liora"
	}
	if persona.Tone == "" {
		persona.Tone = "friendly"
	}
	if persona.Verbosity == "" {
		persona.Verbosity = "concise"
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create personality state directory: %w", err)
	}

	engine := &Engine{
		persona:       persona,
		evolutionPath: filepath.Join(stateDir, "personality_evolution.json"),
	}

	if content, err := os.ReadFile(engine.evolutionPath); err == nil {
		if err := json.Unmarshal(content, &engine.evolution); err != nil {
			return nil, fmt.Errorf("failed to parse personality evolution state: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := engine.saveLocked(); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("failed to read personality evolution state: %w", err)
	}

	return engine, nil
}

// Name returns the persona's name.
func (e *Engine) Name() string {
	return e.persona.Name
}

// BuildSystemPrompt renders the full system prompt: persona, evolution
// state, memory guidance, and the current memory context.
func (e *Engine) BuildSystemPrompt(memoryContext, shortTermContext, memoryGuidance string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	traits := "none specified"
	if len(e.persona.Traits) > 0 {
		pairs := make([]string, 0, len(e.persona.Traits))
		for trait, value := range e.persona.Traits {
			pairs = append(pairs, trait+": "+value)
		}
		traits = strings.Join(pairs, ", ")
	}

	if memoryContext == "" {
		memoryContext = "Nothing yet — this is a new relationship."
	}
	if shortTermContext == "" {
		shortTermContext = "No recent conversation."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an autonomous AI companion that lives locally on the host's machine.\n\n", e.persona.Name)
	fmt.Fprintf(&b, "## Personality\n- Tone: %s\n- Verbosity: %s\n- Traits: %s\n", e.persona.Tone, e.persona.Verbosity, traits)
	b.WriteString(e.evolutionSectionLocked())
	if memoryGuidance != "" {
		b.WriteString("\n" + memoryGuidance + "\n")
	}
	fmt.Fprintf(&b, "\n## What You Know About the User\n%s\n", memoryContext)
	fmt.Fprintf(&b, "\n## Recent Context\n%s\n", shortTermContext)
	b.WriteString("\n## Guidelines\n")
	b.WriteString("- You are speaking aloud — keep responses natural and conversational.\n")
	b.WriteString("- Reference things you remember about the user when relevant.\n")
	fmt.Fprintf(&b, "- Stay in character. You are %s, not \"an AI assistant.\"\n", e.persona.Name)
	return b.String()
}

func (e *Engine) evolutionSectionLocked() string {
	ev := e.evolution
	if len(ev.ToneAdjustments) == 0 && len(ev.LearnedTraits) == 0 && len(ev.CompanionGuesses) == 0 {
		return ""
	}

	var parts []string
	if len(ev.ToneAdjustments) > 0 {
		parts = append(parts, "- Tone adjustments: "+strings.Join(ev.ToneAdjustments, "; "))
	}
	if len(ev.LearnedTraits) > 0 {
		parts = append(parts, "- Learned preferences: "+strings.Join(ev.LearnedTraits, "; "))
	}
	if len(ev.CompanionGuesses) > 0 {
		lines := make([]string, 0, len(ev.CompanionGuesses))
		for _, guess := range ev.CompanionGuesses {
			lines = append(lines, fmt.Sprintf("  - %s (%s confidence, since %s)", guess.Guess, guess.Confidence, guess.Since))
		}
		parts = append(parts, "- Working hypotheses about the user:\n"+strings.Join(lines, "\n"))
	}
	return "\n## Personality Evolution\n" + strings.Join(parts, "\n") + "\n"
}

// RecordInteraction increments the interaction count and persists it.
func (e *Engine) RecordInteraction() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evolution.InteractionCount++
	return e.saveLocked()
}

// InteractionCount returns the number of recorded interactions.
func (e *Engine) InteractionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evolution.InteractionCount
}

// Snapshot returns a copy of the current evolution state.
func (e *Engine) Snapshot() Evolution {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.evolution
	snapshot.ToneAdjustments = append([]string(nil), e.evolution.ToneAdjustments...)
	snapshot.LearnedTraits = append([]string(nil), e.evolution.LearnedTraits...)
	snapshot.CompanionGuesses = append([]Guess(nil), e.evolution.CompanionGuesses...)
	return snapshot
}

// ApplyEvolution replaces the learned state with result, capping each
// list to its maximum length. The interaction count is preserved.
func (e *Engine) ApplyEvolution(result Evolution) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evolution.ToneAdjustments = truncate(result.ToneAdjustments, maxToneAdjustments)
	e.evolution.LearnedTraits = truncate(result.LearnedTraits, maxLearnedTraits)
	e.evolution.CompanionGuesses = truncate(result.CompanionGuesses, maxCompanionGuesses)
	e.evolution.LastEvolved = time.Now().UTC().Format(time.RFC3339)
	return e.saveLocked()
}

func truncate[T any](items []T, max int) []T {
	if len(items) > max {
		items = items[:max]
	}
	return items
}

func (e *Engine) saveLocked() error {
	content, err := json.MarshalIndent(e.evolution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode personality evolution state: %w", err)
	}
	if err := os.WriteFile(e.evolutionPath, append(content, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write personality evolution state: %w", err)
	}
	return nil
}
