package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// MaxChainHops bounds a replacement chain walk.
const MaxChainHops = 100

var (
	// ErrInvalidReason is returned for a tombstone reason outside the
	// declared set.
	ErrInvalidReason = errors.New("invalid tombstone reason")

	// ErrAlreadyTombstoned is returned when retiring a GUID twice.
	ErrAlreadyTombstoned = errors.New("guid is already tombstoned")

	// ErrNoReplacement is returned by Resolve when a chain ends at a GUID
	// retired without a replacement.
	ErrNoReplacement = errors.New("guid retired without replacement")

	// ErrUnresolvedChain is returned by Resolve when the walk was cut short
	// by a cycle or by MaxChainHops, so no live GUID was reached.
	ErrUnresolvedChain = errors.New("replacement chain does not reach a live guid")
)

// TombstoneRequest describes a GUID retirement.
//
// OriginalText, OriginalCategory and OriginalSubcategory snapshot the
// lemma being retired. When LemmaID is set and OriginalText is empty they
// are read from that lemma.
type TombstoneRequest struct {
	GUID                string
	ReplacementGUID     string // empty when there is none
	LemmaID             *int64
	OriginalText        string
	OriginalCategory    string
	OriginalSubcategory string
	Reason              core.TombstoneReason
	Notes               string
	ChangedBy           string
}

// CreateTombstone retires req.GUID and flushes so the tombstone is visible
// to the rest of the unit of work.
func CreateTombstone(ctx context.Context, s core.Session, req TombstoneRequest) (*core.Tombstone, error) {
	guid := strings.TrimSpace(req.GUID)
	if guid == "" {
		return nil, fmt.Errorf("tombstone guid is required")
	}
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, req.Reason)
	}
	replacement := strings.TrimSpace(req.ReplacementGUID)
	if replacement == guid {
		return nil, fmt.Errorf("guid %s cannot replace itself", guid)
	}

	retired, err := IsTombstoned(ctx, s, guid)
	if err != nil {
		return nil, err
	}
	if retired {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTombstoned, guid)
	}

	if req.LemmaID != nil && req.OriginalText == "" {
		l, err := core.Get[*core.Lemma](ctx, s, core.EntityLemma, *req.LemmaID)
		if err != nil {
			return nil, fmt.Errorf("load lemma %d: %w", *req.LemmaID, err)
		}
		if l != nil {
			req.OriginalText = l.Text
			req.OriginalCategory = l.Category
			if l.Subcategory != nil {
				req.OriginalSubcategory = *l.Subcategory
			}
		}
	}

	ts := &core.Tombstone{
		GUID:             guid,
		LemmaID:          req.LemmaID,
		OriginalText:     req.OriginalText,
		OriginalCategory: req.OriginalCategory,
		Reason:           req.Reason,
		CreatedAt:        time.Now().UTC(),
	}
	if replacement != "" {
		ts.ReplacementGUID = &replacement
	}
	if req.OriginalSubcategory != "" {
		ts.OriginalSubcategory = &req.OriginalSubcategory
	}
	if req.Notes != "" {
		ts.Notes = &req.Notes
	}
	if req.ChangedBy != "" {
		ts.ChangedBy = &req.ChangedBy
	}

	if err := s.Add(ctx, ts); err != nil {
		return nil, fmt.Errorf("add tombstone %s: %w", guid, err)
	}
	if err := s.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush tombstone %s: %w", guid, err)
	}
	return ts, nil
}

// Lookup returns the tombstone of guid, or nil.
func Lookup(ctx context.Context, s core.Session, guid string) (*core.Tombstone, error) {
	return core.First[*core.Tombstone](ctx, s.Query(core.EntityTombstone).FilterBy(core.Fields{"guid": guid}))
}

// TombstonesForLemma returns every tombstone recorded for lemmaID, newest
// first.
func TombstonesForLemma(ctx context.Context, s core.Session, lemmaID int64) ([]*core.Tombstone, error) {
	return core.All[*core.Tombstone](ctx, s.Query(core.EntityTombstone).
		FilterBy(core.Fields{"lemma_id": lemmaID}).
		OrderBy(core.Desc("created_at"), core.Desc("id")))
}

// IsTombstoned reports whether guid has been retired.
func IsTombstoned(ctx context.Context, s core.Session, guid string) (bool, error) {
	return s.Query(core.EntityTombstone).FilterBy(core.Fields{"guid": guid}).Exists(ctx)
}

// ReplacementChain follows replacements starting at guid and returns every
// tombstone met, in order. The walk stops when a GUID has no tombstone or
// no replacement, after MaxChainHops tombstones, or when it would revisit
// a GUID, so cyclic chains terminate.
func ReplacementChain(ctx context.Context, s core.Session, guid string) ([]*core.Tombstone, error) {
	var chain []*core.Tombstone
	seen := make(map[string]bool)
	current := guid

	for len(chain) < MaxChainHops && !seen[current] {
		seen[current] = true
		ts, err := Lookup(ctx, s, current)
		if err != nil {
			return nil, err
		}
		if ts == nil {
			break
		}
		chain = append(chain, ts)
		if ts.ReplacementGUID == nil {
			break
		}
		current = *ts.ReplacementGUID
	}
	return chain, nil
}

// Resolve returns the GUID guid currently stands for: guid itself when it
// is not retired, otherwise the last replacement in its chain. A chain
// ending in a retirement without replacement yields ErrNoReplacement; a
// chain whose last replacement is itself retired (a cycle, or more than
// MaxChainHops links) yields ErrUnresolvedChain.
func Resolve(ctx context.Context, s core.Session, guid string) (string, error) {
	chain, err := ReplacementChain(ctx, s, guid)
	if err != nil {
		return "", err
	}
	if len(chain) == 0 {
		return guid, nil
	}
	last := chain[len(chain)-1]
	if last.ReplacementGUID == nil {
		return "", fmt.Errorf("%w: %s", ErrNoReplacement, last.GUID)
	}
	current := *last.ReplacementGUID
	retired, err := IsTombstoned(ctx, s, current)
	if err != nil {
		return "", err
	}
	if retired {
		return "", fmt.Errorf("%w: %s after %d hops", ErrUnresolvedChain, guid, len(chain))
	}
	return current, nil
}
