package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the markdown-backed persistence for both tiers.
//
// Layout:
//
//	<dir>/short_term/<date>.md  — daily working context, resets each day
//	<dir>/long_term.md          — persistent knowledge
//
// The store is safe for concurrent use; tool handlers mutate it from
// the turn pipeline while the prompt builder reads it.
type Store struct {
	dir          string
	shortTermDir string
	longTermPath string

	mu        sync.Mutex
	date      string
	shortTerm DynamicMemory
	longTerm  DynamicMemory
}

func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:          dir,
		shortTermDir: filepath.Join(dir, "short_term"),
		longTermPath: filepath.Join(dir, "long_term.md"),
		date:         time.Now().Format(time.DateOnly),
		shortTerm:    newDynamicMemory(),
		longTerm:     newDynamicMemory(),
	}

	if err := os.MkdirAll(s.shortTermDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if content, err := os.ReadFile(s.shortTermPath()); err == nil {
		s.shortTerm.Categories = parseMarkdown(string(content))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read short-term memory: %w", err)
	}

	if content, err := os.ReadFile(s.longTermPath); err == nil {
		s.longTerm.Categories = parseMarkdown(string(content))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read long-term memory: %w", err)
	}
	return nil
}

func (s *Store) shortTermPath() string {
	return filepath.Join(s.shortTermDir, s.date+".md")
}

// Add stores content under tier/category. When replaces is non-empty
// the first matching item is updated instead; if nothing matches the
// content is added as new. The returned string is the tool response.
func (s *Store) Add(tier Tier, category, content, replaces string) (string, error) {
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid memory tier %q", tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.tierLocked(tier)
	result := fmt.Sprintf("Stored in %s/%s: %s", tier, category, content)
	if replaces != "" {
		if target.Replace(category, replaces, content) {
			result = fmt.Sprintf("Updated in %s/%s: %s", tier, category, content)
		} else {
			target.Add(category, content)
			result = fmt.Sprintf("No match for %q, added as new in %s/%s: %s", replaces, tier, category, content)
		}
	} else {
		target.Add(category, content)
	}

	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return result, nil
}

// Remove deletes the first item containing content from tier/category.
func (s *Store) Remove(tier Tier, category, content string) (string, error) {
	if !tier.IsValid() {
		return "", fmt.Errorf("invalid memory tier %q", tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tierLocked(tier).Remove(category, content) {
		return fmt.Sprintf("No match found in %s/%s for: %s", tier, category, content), nil
	}

	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed from %s/%s: %s", tier, category, content), nil
}

func (s *Store) tierLocked(tier Tier) *DynamicMemory {
	if tier == TierShortTerm {
		return &s.shortTerm
	}
	return &s.longTerm
}

func (s *Store) saveLocked() error {
	shortTerm := serializeMarkdown("Short-Term Memory: "+s.date, s.shortTerm)
	if err := os.WriteFile(s.shortTermPath(), []byte(shortTerm), 0o644); err != nil {
		return fmt.Errorf("failed to write short-term memory: %w", err)
	}

	longTerm := serializeMarkdown("Long-Term Memory", s.longTerm)
	if err := os.WriteFile(s.longTermPath, []byte(longTerm), 0o644); err != nil {
		return fmt.Errorf("failed to write long-term memory: %w", err)
	}
	return nil
}

// State renders both tiers for injection into the system prompt.
func (s *Store) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string

	if !s.longTerm.IsEmpty() {
		lines = append(lines, "### About This User (Long-Term)")
		for _, category := range sortedCategories(s.longTerm) {
			lines = append(lines, fmt.Sprintf("**%s:** %s", category, strings.Join(s.longTerm.Categories[category], " | ")))
		}
	}

	if !s.shortTerm.IsEmpty() {
		lines = append(lines, fmt.Sprintf("\n### Today (%s) (Short-Term)", s.date))
		for _, category := range sortedCategories(s.shortTerm) {
			lines = append(lines, fmt.Sprintf("**%s:** %s", category, strings.Join(s.shortTerm.Categories[category], " | ")))
		}
	}

	if len(lines) == 0 {
		return "_No memories stored yet._"
	}
	return strings.Join(lines, "\n")
}

func sortedCategories(m DynamicMemory) []string {
	categories := make([]string, 0, len(m.Categories))
	for category := range m.Categories {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

func serializeMarkdown(title string, m DynamicMemory) string {
	lines := []string{"# " + title, ""}
	if m.IsEmpty() {
		lines = append(lines, "_No memories stored yet_")
	} else {
		for _, category := range sortedCategories(m) {
			lines = append(lines, "## "+category)
			for _, item := range m.Categories[category] {
				lines = append(lines, "- "+item)
			}
			lines = append(lines, "")
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func parseMarkdown(content string) map[string][]string {
	categories := map[string][]string{}
	currentCategory := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		// Skip top-level headings, blanks, and italic placeholders.
		if line == "" || strings.HasPrefix(line, "# ") ||
			(strings.HasPrefix(line, "_") && strings.HasSuffix(line, "_")) {
			continue
		}

		if after, ok := strings.CutPrefix(line, "## "); ok {
			currentCategory = strings.TrimSpace(after)
			if _, exists := categories[currentCategory]; !exists {
				categories[currentCategory] = []string{}
			}
			continue
		}

		if after, ok := strings.CutPrefix(line, "- "); ok && currentCategory != "" {
			if item := strings.TrimSpace(after); item != "" {
				categories[currentCategory] = append(categories[currentCategory], item)
			}
		}
	}

	return categories
}
