// Package oplog records append-only audit facts about lexicon changes.
//
// A fact is a JSON object holding the changed field, its old and new
// values, and any extra context. Absent values are dropped at every
// nesting level before encoding, so stored facts never contain null keys.
package oplog

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/leapstack-labs/lexstore/pkg/core"
)

// Change describes one audited mutation.
type Change struct {
	Source        string
	OperationType string

	Field    string
	OldValue any
	NewValue any
	Extra    map[string]any

	LemmaID          *int64
	WordTokenID      *int64
	DerivativeFormID *int64
}

// Filter selects history entries. Zero fields do not constrain.
type Filter struct {
	LemmaID       *int64
	Source        string
	OperationType string
	Since         time.Time
	Limit         int
}

// LogChange appends an entry for c and flushes it into the unit of work.
// The caller commits.
func LogChange(ctx context.Context, s core.Session, c Change) (*core.OperationLog, error) {
	if strings.TrimSpace(c.Source) == "" {
		return nil, fmt.Errorf("operation source is required")
	}
	if strings.TrimSpace(c.OperationType) == "" {
		return nil, fmt.Errorf("operation type is required")
	}

	fact, err := EncodeFact(c)
	if err != nil {
		return nil, err
	}

	entry := &core.OperationLog{
		Source:           c.Source,
		OperationType:    c.OperationType,
		Fact:             fact,
		LemmaID:          c.LemmaID,
		WordTokenID:      c.WordTokenID,
		DerivativeFormID: c.DerivativeFormID,
		Timestamp:        time.Now().UTC(),
	}
	if err := s.Add(ctx, entry); err != nil {
		return nil, fmt.Errorf("add operation log entry: %w", err)
	}
	if err := s.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush operation log entry: %w", err)
	}
	return entry, nil
}

// EncodeFact renders the fact object of c.
func EncodeFact(c Change) (string, error) {
	fact := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		fact[k] = v
	}
	if c.Field != "" {
		fact["field"] = c.Field
	}
	fact["old_value"] = c.OldValue
	fact["new_value"] = c.NewValue

	clean, _ := Compact(fact).(map[string]any)
	if clean == nil {
		clean = map[string]any{}
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("encode operation fact: %w", err)
	}
	return string(data), nil
}

// DecodeFact parses a stored fact.
func DecodeFact(fact string) (map[string]any, error) {
	out := make(map[string]any)
	if fact == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(fact), &out); err != nil {
		return nil, fmt.Errorf("decode operation fact: %w", err)
	}
	return out, nil
}

// Compact removes absent values from v. Nil pointers, nil interfaces, nil
// maps and nil slices of any type are absent; pointers are dereferenced,
// maps lose absent entries and slices lose absent elements, recursively.
// A map or slice left empty by the removal is itself kept empty rather
// than dropped.
func Compact(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if t == nil {
			return nil
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			if c := Compact(e); c != nil {
				out[k] = c
			}
		}
		return out
	case []any:
		if t == nil {
			return nil
		}
		out := make([]any, 0, len(t))
		for _, e := range t {
			if c := Compact(e); c != nil {
				out = append(out, c)
			}
		}
		return out
	case time.Time:
		return t.UTC()
	case []byte:
		if t == nil {
			return nil
		}
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Compact(rv.Elem().Interface())
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if c := Compact(iter.Value().Interface()); c != nil {
				out[fmt.Sprint(iter.Key().Interface())] = c
			}
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		out := make([]any, 0, rv.Len())
		for i := range rv.Len() {
			if c := Compact(rv.Index(i).Interface()); c != nil {
				out = append(out, c)
			}
		}
		return out
	case reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	}
	return v
}

// History lists entries matching f ordered by timestamp, then id.
func History(ctx context.Context, s core.Session, f Filter) ([]*core.OperationLog, error) {
	q := s.Query(core.EntityOperationLog)
	if f.LemmaID != nil {
		q = q.Filter(core.Eq("lemma_id", *f.LemmaID))
	}
	if f.Source != "" {
		q = q.Filter(core.Eq("source", f.Source))
	}
	if f.OperationType != "" {
		q = q.Filter(core.Eq("operation_type", f.OperationType))
	}
	if !f.Since.IsZero() {
		q = q.Filter(core.Ge("timestamp", f.Since.UTC()))
	}
	q = q.OrderBy(core.Asc("timestamp"), core.Asc("id"))
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return core.All[*core.OperationLog](ctx, q)
}
