// Package memory implements the agent's two-tier long-lived memory:
// short-term daily working context and long-term persistent knowledge.
// Categories are dynamic, the model decides their names. Storage is
// markdown with "## category" headers and "- item" lists.
package memory

import "strings"

// DynamicMemory is one tier: dynamic categories each holding an
// ordered list of items.
type DynamicMemory struct {
	Categories map[string][]string
}

func newDynamicMemory() DynamicMemory {
	return DynamicMemory{Categories: map[string][]string{}}
}

// Add puts content under category, creating the category if needed.
// Duplicate items are ignored.
func (m *DynamicMemory) Add(category, content string) {
	for _, item := range m.Categories[category] {
		if item == content {
			return
		}
	}
	if m.Categories == nil {
		m.Categories = map[string][]string{}
	}
	m.Categories[category] = append(m.Categories[category], content)
}

// Remove deletes the first item containing content (case-insensitive
// partial match). Empty categories are cleaned up. Returns whether
// something was removed.
func (m *DynamicMemory) Remove(category, content string) bool {
	items, ok := m.Categories[category]
	if !ok {
		return false
	}
	needle := strings.ToLower(content)
	for i, item := range items {
		if strings.Contains(strings.ToLower(item), needle) {
			m.Categories[category] = append(items[:i], items[i+1:]...)
			if len(m.Categories[category]) == 0 {
				delete(m.Categories, category)
			}
			return true
		}
	}
	return false
}

// Replace swaps the first item matching old (partial match) for new.
// Returns whether a replacement happened.
func (m *DynamicMemory) Replace(category, old, new string) bool {
	items, ok := m.Categories[category]
	if !ok {
		return false
	}
	needle := strings.ToLower(old)
	for i, item := range items {
		if strings.Contains(strings.ToLower(item), needle) {
			items[i] = new
			return true
		}
	}
	return false
}

// IsEmpty reports whether the tier holds no items at all.
func (m *DynamicMemory) IsEmpty() bool {
	for _, items := range m.Categories {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

// Tier names the two memory tiers as the model addresses them.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	return t == TierShortTerm || t == TierLongTerm
}
