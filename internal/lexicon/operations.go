package lexicon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/leapstack-labs/lexstore/pkg/identity"
	"github.com/leapstack-labs/lexstore/pkg/oplog"
)

// LemmaInput describes a new lemma.
type LemmaInput struct {
	Text          string
	Category      string
	Subcategory   string
	FrequencyRank *int64
	Notes         string
	Translations  map[string]string
}

// FormInput describes a new derivative form.
type FormInput struct {
	Language        string
	GrammaticalForm string
	Text            string
	IsBaseForm      bool
	Verified        bool
}

// CreateLemma allocates a GUID for the input's classification and stores
// the lemma.
func (s *Service) CreateLemma(ctx context.Context, in LemmaInput) Result {
	return s.run(ctx, OpCreateLemma, func(sess core.Session) (Result, error) {
		text := normalizeText(in.Text)
		if text == "" {
			return Result{}, fmt.Errorf("lemma text is required")
		}
		category := strings.ToLower(strings.TrimSpace(in.Category))
		if category == "" {
			return Result{}, fmt.Errorf("lemma category is required")
		}

		l := &core.Lemma{
			Text:          text,
			Category:      category,
			FrequencyRank: in.FrequencyRank,
			CreatedAt:     time.Now().UTC(),
		}
		if sub := strings.ToLower(strings.TrimSpace(in.Subcategory)); sub != "" {
			l.Subcategory = &sub
		}
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			l.Notes = &notes
		}
		for lang, t := range in.Translations {
			if !core.IsLanguage(lang) {
				return Result{}, fmt.Errorf("unsupported language %q", lang)
			}
			if l.Translations == nil {
				l.Translations = make(map[string]string)
			}
			l.Translations[lang] = normalizeText(t)
		}

		guid, err := s.ids.GenerateGUIDFor(ctx, sess, l)
		if err != nil {
			return Result{}, err
		}
		l.GUID = guid

		if err := sess.Add(ctx, l); err != nil {
			return Result{}, err
		}
		if err := sess.Flush(ctx); err != nil {
			return Result{}, err
		}
		if err := s.log(ctx, sess, oplog.Change{
			OperationType: OpCreateLemma,
			Field:         "guid",
			NewValue:      guid,
			Extra:         map[string]any{"text": text, "category": category, "subcategory": l.Subcategory},
			LemmaID:       &l.ID,
		}); err != nil {
			return Result{}, err
		}
		return Result{GUID: guid, ID: l.ID, Message: fmt.Sprintf("created %s %q", guid, text)}, nil
	})
}

// Reclassify moves the lemma with guid to a new category and subcategory.
// When the classification maps to a different prefix the lemma gets a
// fresh GUID and the old one is tombstoned with the new one as its
// replacement.
func (s *Service) Reclassify(ctx context.Context, guid, category, subcategory, notes string) Result {
	return s.run(ctx, OpReclassify, func(sess core.Session) (Result, error) {
		l, err := findLemma(ctx, sess, guid)
		if err != nil {
			return Result{}, err
		}

		oldCategory := l.Category
		oldSub := l.Subcategory
		category = strings.ToLower(strings.TrimSpace(category))
		if category == "" {
			category = l.Category
		}
		next := &core.Lemma{Category: category}
		if sub := strings.ToLower(strings.TrimSpace(subcategory)); sub != "" {
			next.Subcategory = &sub
		}

		oldPrefix, err := s.ids.PrefixFor(l)
		if err != nil {
			return Result{}, err
		}
		newPrefix, err := s.ids.PrefixFor(next)
		if err != nil {
			return Result{}, err
		}

		newGUID := l.GUID
		if newPrefix != oldPrefix {
			if newGUID, err = s.ids.GenerateGUIDFor(ctx, sess, next); err != nil {
				return Result{}, err
			}
			reason := core.ReasonSubtypeChange
			if category != oldCategory {
				reason = core.ReasonTypeChange
			}
			req := identity.TombstoneRequest{
				GUID:             l.GUID,
				ReplacementGUID:  newGUID,
				LemmaID:          &l.ID,
				OriginalText:     l.Text,
				OriginalCategory: oldCategory,
				Reason:           reason,
				Notes:            notes,
				ChangedBy:        s.source,
			}
			if oldSub != nil {
				req.OriginalSubcategory = *oldSub
			}
			if _, err := identity.CreateTombstone(ctx, sess, req); err != nil {
				return Result{}, err
			}
		}

		now := time.Now().UTC()
		l.GUID = newGUID
		l.Category = category
		l.Subcategory = next.Subcategory
		l.UpdatedAt = &now
		if err := sess.Add(ctx, l); err != nil {
			return Result{}, err
		}
		if err := sess.Flush(ctx); err != nil {
			return Result{}, err
		}

		if err := s.log(ctx, sess, oplog.Change{
			OperationType: OpReclassify,
			Field:         "classification",
			OldValue:      map[string]any{"guid": guid, "category": oldCategory, "subcategory": oldSub},
			NewValue:      map[string]any{"guid": newGUID, "category": category, "subcategory": next.Subcategory},
			LemmaID:       &l.ID,
		}); err != nil {
			return Result{}, err
		}

		msg := fmt.Sprintf("reclassified %s as %s", guid, category)
		if newGUID != guid {
			msg = fmt.Sprintf("reclassified %s as %s; new guid %s", guid, category, newGUID)
		}
		return Result{GUID: newGUID, ID: l.ID, Message: msg}, nil
	})
}

// SetTranslation sets or, with empty text, clears a translation.
func (s *Service) SetTranslation(ctx context.Context, guid, lang, text string) Result {
	return s.run(ctx, OpTranslation, func(sess core.Session) (Result, error) {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if !core.IsLanguage(lang) {
			return Result{}, fmt.Errorf("unsupported language %q", lang)
		}
		l, err := findLemma(ctx, sess, guid)
		if err != nil {
			return Result{}, err
		}

		var oldValue, newValue any
		if old, ok := l.Translations[lang]; ok {
			oldValue = old
		}
		text = normalizeText(text)
		if text == "" {
			delete(l.Translations, lang)
		} else {
			if l.Translations == nil {
				l.Translations = make(map[string]string)
			}
			l.Translations[lang] = text
			newValue = text
		}
		if oldValue == newValue {
			return Result{GUID: l.GUID, ID: l.ID, Message: "translation unchanged"}, nil
		}

		now := time.Now().UTC()
		l.UpdatedAt = &now
		if err := sess.Add(ctx, l); err != nil {
			return Result{}, err
		}
		if err := sess.Flush(ctx); err != nil {
			return Result{}, err
		}
		if err := s.log(ctx, sess, oplog.Change{
			OperationType: OpTranslation,
			Field:         core.TranslationColumn(lang),
			OldValue:      oldValue,
			NewValue:      newValue,
			LemmaID:       &l.ID,
		}); err != nil {
			return Result{}, err
		}
		return Result{GUID: l.GUID, ID: l.ID, Message: fmt.Sprintf("set %s translation of %s", lang, l.GUID)}, nil
	})
}

// AddDerivativeForm attaches a form to the lemma with guid. A lemma holds
// at most one form per language and grammatical form.
func (s *Service) AddDerivativeForm(ctx context.Context, guid string, in FormInput) Result {
	return s.run(ctx, OpAddDerivativeForm, func(sess core.Session) (Result, error) {
		lang := strings.ToLower(strings.TrimSpace(in.Language))
		if !core.IsLanguage(lang) {
			return Result{}, fmt.Errorf("unsupported language %q", in.Language)
		}
		form := strings.ToLower(strings.TrimSpace(in.GrammaticalForm))
		text := normalizeText(in.Text)
		if form == "" || text == "" {
			return Result{}, fmt.Errorf("grammatical form and text are required")
		}

		l, err := findLemma(ctx, sess, guid)
		if err != nil {
			return Result{}, err
		}

		exists, err := sess.Query(core.EntityDerivativeForm).FilterBy(core.Fields{
			"lemma_id":         l.ID,
			"language":         lang,
			"grammatical_form": form,
		}).Exists(ctx)
		if err != nil {
			return Result{}, err
		}
		if exists {
			return Result{}, fmt.Errorf("%s already has a %s %s form", guid, lang, form)
		}

		f := &core.DerivativeForm{
			LemmaID:         l.ID,
			Language:        lang,
			GrammaticalForm: form,
			Text:            text,
			IsBaseForm:      in.IsBaseForm,
			Verified:        in.Verified,
		}
		if err := sess.Add(ctx, f); err != nil {
			return Result{}, err
		}
		if err := sess.Flush(ctx); err != nil {
			return Result{}, err
		}
		if err := s.log(ctx, sess, oplog.Change{
			OperationType:    OpAddDerivativeForm,
			Field:            "text",
			NewValue:         text,
			Extra:            map[string]any{"language": lang, "grammatical_form": form},
			LemmaID:          &l.ID,
			DerivativeFormID: &f.ID,
		}); err != nil {
			return Result{}, err
		}
		return Result{GUID: l.GUID, ID: f.ID, Message: fmt.Sprintf("added %s %s form %q", lang, form, text)}, nil
	})
}

// Resolve follows the replacement chain of guid to the GUID now in use.
func (s *Service) Resolve(ctx context.Context, guid string) Result {
	return s.run(ctx, "resolve", func(sess core.Session) (Result, error) {
		current, err := identity.Resolve(ctx, sess, strings.TrimSpace(guid))
		if err != nil {
			return Result{}, err
		}
		msg := fmt.Sprintf("%s is current", current)
		if current != guid {
			msg = fmt.Sprintf("%s was replaced by %s", guid, current)
		}
		return Result{GUID: current, Message: msg}, nil
	})
}
