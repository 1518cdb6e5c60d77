// Package identity allocates lemma GUIDs and manages their retirement.
//
// A GUID is a category prefix and a zero-padded sequence number joined by
// an underscore ("N02_001"). Older data also holds bare ("N02001") and
// dotted ("N02.001") encodings; they are parsed on read but never written.
//
// Allocation reads the current maximum and adds one. There is no atomic
// guard, so concurrent writers must be serialized by the caller.
package identity

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// DefaultPrefixes maps classification keys (categories and semantic
// subcategories) to GUID prefixes.
var DefaultPrefixes = map[string]string{
	// nouns
	"noun":      "N00",
	"person":    "N01",
	"animal":    "N02",
	"plant":     "N03",
	"food":      "N04",
	"body_part": "N05",
	"place":     "N06",
	"object":    "N07",
	"abstract":  "N08",
	"time":      "N09",
	"material":  "N10",
	"event":     "N11",

	// verbs
	"verb":          "V00",
	"motion":        "V01",
	"communication": "V02",
	"cognition":     "V03",
	"perception":    "V04",

	// modifiers
	"adjective": "A00",
	"color":     "A01",
	"adverb":    "D00",

	// function words
	"pronoun":      "P00",
	"preposition":  "R00",
	"conjunction":  "C00",
	"determiner":   "T00",
	"numeral":      "M00",
	"interjection": "I00",
}

// Manager allocates GUIDs from a prefix table.
type Manager struct {
	prefixes map[string]string
	logger   *slog.Logger
}

// NewManager returns a manager using DefaultPrefixes extended or
// overridden by overrides.
// If logger is nil, a discard logger is used.
func NewManager(overrides map[string]string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	prefixes := maps.Clone(DefaultPrefixes)
	for k, v := range overrides {
		prefixes[normalizeKey(k)] = strings.TrimSpace(v)
	}
	return &Manager{prefixes: prefixes, logger: logger}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// Prefix returns the GUID prefix of a category or subcategory.
func (m *Manager) Prefix(category string) (string, error) {
	p, ok := m.prefixes[normalizeKey(category)]
	if !ok || p == "" {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownCategory, category)
	}
	return p, nil
}

// PrefixFor returns the prefix for a lemma's classification: its
// subcategory when that has a prefix, otherwise its category.
func (m *Manager) PrefixFor(l *core.Lemma) (string, error) {
	if key := l.ClassificationKey(); key != l.Category {
		if p, err := m.Prefix(key); err == nil {
			return p, nil
		}
		m.logger.Debug("subcategory has no prefix, using category",
			slog.String("subcategory", key), slog.String("category", l.Category))
	}
	return m.Prefix(l.Category)
}

// Categories returns every known classification key, sorted.
func (m *Manager) Categories() []string {
	return slices.Sorted(maps.Keys(m.prefixes))
}
