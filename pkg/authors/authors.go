// Package authors maps origin-system identities to preferred display names.
package authors

import (
	"fmt"
	"slices"
	"strings"
)

// Map is an immutable identity to display-name mapping. Lookups are case-insensitive
// substring matches in either direction and never fail: an unmatched identity is
// returned as is. The zero value maps nothing.
type Map struct {
	entries []entry
}

type entry struct {
	key     string // lowercased identity fragment
	display string
}

// New builds a map from identity fragments to display names. Empty keys are ignored.
func New(names map[string]string) Map {
	entries := make([]entry, 0, len(names))
	for k, v := range names {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || v == "" {
			continue
		}
		entries = append(entries, entry{key: k, display: v})
	}
	// Longer keys are more specific; ties break alphabetically so lookups are deterministic.
	slices.SortFunc(entries, func(a, b entry) int {
		if len(a.key) != len(b.key) {
			return len(b.key) - len(a.key)
		}
		return strings.Compare(a.key, b.key)
	})
	return Map{entries: entries}
}

// Lookup returns the display name for identity.
func (m Map) Lookup(identity string) string {
	id := strings.ToLower(strings.TrimSpace(identity))
	if id == "" {
		return identity
	}
	for _, e := range m.entries {
		if strings.Contains(id, e.key) || strings.Contains(e.key, id) {
			return e.display
		}
	}
	return identity
}

// Len returns the number of mapped identities.
func (m Map) Len() int { return len(m.entries) }

// Describe lists the mapping one "identity → name" line per entry, in lookup order.
func (m Map) Describe() string {
	var sb strings.Builder
	for _, e := range m.entries {
		fmt.Fprintf(&sb, "- %s → %s\n", e.key, e.display)
	}
	return sb.String()
}
