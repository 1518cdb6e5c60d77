package identity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

var (
	patternMu sync.Mutex
	patterns  = make(map[string]*regexp.Regexp)
)

// sequencePattern matches prefix followed by "." or "_" and the sequence
// digits, or by exactly three digits in the bare legacy encoding. The bare
// form is fixed width so overlapping prefixes such as N1 and N10 cannot
// claim each other's GUIDs.
func sequencePattern(prefix string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	re, ok := patterns[prefix]
	if !ok {
		re = regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(?:[._](\d+)|(\d{3}))$`)
		patterns[prefix] = re
	}
	return re
}

// ParseSequence extracts the sequence number of guid under prefix. It
// accepts the bare, dotted and underscore encodings.
func ParseSequence(guid, prefix string) (int, bool) {
	m := sequencePattern(prefix).FindStringSubmatch(guid)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CanonicalGUID formats a GUID in the underscore encoding.
func CanonicalGUID(prefix string, seq int) string {
	return fmt.Sprintf("%s_%03d", prefix, seq)
}

// GenerateGUID returns the next GUID for category: one past the highest
// sequence used by any lemma or tombstone with the same prefix. Retired
// numbers are therefore never handed out again.
func (m *Manager) GenerateGUID(ctx context.Context, s core.Session, category string) (string, error) {
	prefix, err := m.Prefix(category)
	if err != nil {
		return "", err
	}
	return m.next(ctx, s, prefix)
}

// GenerateGUIDFor returns the next GUID for a lemma's classification.
func (m *Manager) GenerateGUIDFor(ctx context.Context, s core.Session, l *core.Lemma) (string, error) {
	prefix, err := m.PrefixFor(l)
	if err != nil {
		return "", err
	}
	return m.next(ctx, s, prefix)
}

func (m *Manager) next(ctx context.Context, s core.Session, prefix string) (string, error) {
	highest := 0
	for _, entity := range []core.Entity{core.EntityLemma, core.EntityTombstone} {
		recs, err := s.Query(entity).Filter(core.HasPrefix("guid", prefix)).All(ctx)
		if err != nil {
			return "", fmt.Errorf("scan %s guids: %w", entity, err)
		}
		for _, rec := range recs {
			guid, _ := rec.Values()["guid"].(string)
			if n, ok := ParseSequence(guid, prefix); ok {
				highest = max(highest, n)
			}
		}
	}

	guid := CanonicalGUID(prefix, highest+1)
	m.logger.Debug("allocated guid", slog.String("guid", guid), slog.Int("previous", highest))
	return guid, nil
}
