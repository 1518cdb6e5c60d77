package core

import (
	"fmt"
	"time"
)

// Record is a stored entity instance. Backends move records in and out of
// storage through Values and Load; they never touch struct fields directly.
type Record interface {
	Entity() Entity
	Key() int64
	SetKey(id int64)
	Values() Row
	Load(row Row) error
}

// Languages lists the languages that carry a translation column on lemmas.
var Languages = []string{"en", "de", "fr", "es", "it", "pt", "ru", "ja", "zh"}

// TranslationColumn returns the lemma column holding a translation.
func TranslationColumn(lang string) string {
	return "translation_" + lang
}

// IsLanguage reports whether lang has a translation column.
func IsLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// TombstoneReason explains why a GUID was retired.
type TombstoneReason string

// Tombstone reasons.
const (
	ReasonTypeChange       TombstoneReason = "type_change"
	ReasonSubtypeChange    TombstoneReason = "subtype_change"
	ReasonManualCorrection TombstoneReason = "manual_correction"
)

// Valid reports whether r is a known reason.
func (r TombstoneReason) Valid() bool {
	switch r {
	case ReasonTypeChange, ReasonSubtypeChange, ReasonManualCorrection:
		return true
	}
	return false
}

// Lemma is a dictionary headword with its classification and translations.
type Lemma struct {
	ID            int64
	GUID          string
	Text          string
	Category      string
	Subcategory   *string
	FrequencyRank *int64
	Translations  map[string]string
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

// ClassificationKey returns the key used for GUID prefix lookup:
// the subcategory when set, otherwise the category.
func (l *Lemma) ClassificationKey() string {
	if l.Subcategory != nil && *l.Subcategory != "" {
		return *l.Subcategory
	}
	return l.Category
}

func (l *Lemma) Entity() Entity  { return EntityLemma }
func (l *Lemma) Key() int64      { return l.ID }
func (l *Lemma) SetKey(id int64) { l.ID = id }

func (l *Lemma) Values() Row {
	row := Row{
		"id":             keyValue(l.ID),
		"guid":           l.GUID,
		"text":           l.Text,
		"category":       l.Category,
		"subcategory":    stringValue(l.Subcategory),
		"frequency_rank": int64Value(l.FrequencyRank),
		"notes":          stringValue(l.Notes),
		"created_at":     l.CreatedAt,
		"updated_at":     timeValue(l.UpdatedAt),
	}
	for _, lang := range Languages {
		if t, ok := l.Translations[lang]; ok {
			row[TranslationColumn(lang)] = t
		} else {
			row[TranslationColumn(lang)] = nil
		}
	}
	return row
}

func (l *Lemma) Load(row Row) error {
	l.ID = row.Key()
	l.GUID = rowString(row, "guid")
	l.Text = rowString(row, "text")
	l.Category = rowString(row, "category")
	l.Subcategory = rowStringPtr(row, "subcategory")
	l.FrequencyRank = rowInt64Ptr(row, "frequency_rank")
	l.Notes = rowStringPtr(row, "notes")
	l.CreatedAt = rowTime(row, "created_at")
	l.UpdatedAt = rowTimePtr(row, "updated_at")
	l.Translations = nil
	for _, lang := range Languages {
		if t := rowStringPtr(row, TranslationColumn(lang)); t != nil {
			if l.Translations == nil {
				l.Translations = make(map[string]string)
			}
			l.Translations[lang] = *t
		}
	}
	return nil
}

// DerivativeForm is an inflected or derived surface form of a lemma.
type DerivativeForm struct {
	ID              int64
	LemmaID         int64
	Language        string
	GrammaticalForm string
	Text            string
	IsBaseForm      bool
	Verified        bool
}

func (f *DerivativeForm) Entity() Entity  { return EntityDerivativeForm }
func (f *DerivativeForm) Key() int64      { return f.ID }
func (f *DerivativeForm) SetKey(id int64) { f.ID = id }

func (f *DerivativeForm) Values() Row {
	return Row{
		"id":               keyValue(f.ID),
		"lemma_id":         f.LemmaID,
		"language":         f.Language,
		"grammatical_form": f.GrammaticalForm,
		"text":             f.Text,
		"is_base_form":     f.IsBaseForm,
		"verified":         f.Verified,
	}
}

func (f *DerivativeForm) Load(row Row) error {
	f.ID = row.Key()
	f.LemmaID = rowInt64(row, "lemma_id")
	f.Language = rowString(row, "language")
	f.GrammaticalForm = rowString(row, "grammatical_form")
	f.Text = rowString(row, "text")
	f.IsBaseForm = rowBool(row, "is_base_form")
	f.Verified = rowBool(row, "verified")
	return nil
}

// Tombstone records a retired GUID and, optionally, the GUID replacing it.
// The Original fields snapshot the lemma's text and classification at the
// moment of retirement. Tombstones are immutable once created.
type Tombstone struct {
	ID                  int64
	GUID                string
	ReplacementGUID     *string
	LemmaID             *int64
	OriginalText        string
	OriginalCategory    string
	OriginalSubcategory *string
	Reason              TombstoneReason
	Notes               *string
	ChangedBy           *string
	CreatedAt           time.Time
}

func (t *Tombstone) Entity() Entity  { return EntityTombstone }
func (t *Tombstone) Key() int64      { return t.ID }
func (t *Tombstone) SetKey(id int64) { t.ID = id }

func (t *Tombstone) Values() Row {
	return Row{
		"id":                   keyValue(t.ID),
		"guid":                 t.GUID,
		"replacement_guid":     stringValue(t.ReplacementGUID),
		"lemma_id":             int64Value(t.LemmaID),
		"original_lemma_text":  t.OriginalText,
		"original_pos_type":    t.OriginalCategory,
		"original_pos_subtype": stringValue(t.OriginalSubcategory),
		"reason":               string(t.Reason),
		"notes":                stringValue(t.Notes),
		"changed_by":           stringValue(t.ChangedBy),
		"created_at":           t.CreatedAt,
	}
}

func (t *Tombstone) Load(row Row) error {
	t.ID = row.Key()
	t.GUID = rowString(row, "guid")
	t.ReplacementGUID = rowStringPtr(row, "replacement_guid")
	t.LemmaID = rowInt64Ptr(row, "lemma_id")
	t.OriginalText = rowString(row, "original_lemma_text")
	t.OriginalCategory = rowString(row, "original_pos_type")
	t.OriginalSubcategory = rowStringPtr(row, "original_pos_subtype")
	t.Reason = TombstoneReason(rowString(row, "reason"))
	t.Notes = rowStringPtr(row, "notes")
	t.ChangedBy = rowStringPtr(row, "changed_by")
	t.CreatedAt = rowTime(row, "created_at")
	return nil
}

// OperationLog is one append-only audit fact. Its references are soft so
// history survives deletion of the entities it mentions.
type OperationLog struct {
	ID               int64
	Source           string
	OperationType    string
	Fact             string
	LemmaID          *int64
	WordTokenID      *int64
	DerivativeFormID *int64
	Timestamp        time.Time
}

func (o *OperationLog) Entity() Entity  { return EntityOperationLog }
func (o *OperationLog) Key() int64      { return o.ID }
func (o *OperationLog) SetKey(id int64) { o.ID = id }

func (o *OperationLog) Values() Row {
	return Row{
		"id":                 keyValue(o.ID),
		"source":             o.Source,
		"operation_type":     o.OperationType,
		"fact":               o.Fact,
		"lemma_id":           int64Value(o.LemmaID),
		"word_token_id":      int64Value(o.WordTokenID),
		"derivative_form_id": int64Value(o.DerivativeFormID),
		"timestamp":          o.Timestamp,
	}
}

func (o *OperationLog) Load(row Row) error {
	o.ID = row.Key()
	o.Source = rowString(row, "source")
	o.OperationType = rowString(row, "operation_type")
	o.Fact = rowString(row, "fact")
	o.LemmaID = rowInt64Ptr(row, "lemma_id")
	o.WordTokenID = rowInt64Ptr(row, "word_token_id")
	o.DerivativeFormID = rowInt64Ptr(row, "derivative_form_id")
	o.Timestamp = rowTime(row, "timestamp")
	return nil
}

// --- declared tables ---

var lemmaTable = &Table{
	Entity: EntityLemma,
	Columns: append([]Column{
		{Name: "id", Type: TypeInteger, PrimaryKey: true},
		{Name: "guid", Type: TypeText},
		{Name: "text", Type: TypeText},
		{Name: "category", Type: TypeText},
		{Name: "subcategory", Type: TypeText, Nullable: true},
		{Name: "frequency_rank", Type: TypeInteger, Nullable: true},
		{Name: "notes", Type: TypeText, Nullable: true},
		{Name: "created_at", Type: TypeTime},
		{Name: "updated_at", Type: TypeTime, Nullable: true},
	}, translationColumns()...),
	Indexes: []Index{
		{Name: "ux_lemmas_guid", Columns: []string{"guid"}, Unique: true},
		{Name: "ix_lemmas_category", Columns: []string{"category", "subcategory"}},
	},
	New: func() Record { return &Lemma{} },
}

func translationColumns() []Column {
	cols := make([]Column, len(Languages))
	for i, lang := range Languages {
		cols[i] = Column{Name: TranslationColumn(lang), Type: TypeText, Nullable: true}
	}
	return cols
}

var derivativeFormTable = &Table{
	Entity: EntityDerivativeForm,
	Columns: []Column{
		{Name: "id", Type: TypeInteger, PrimaryKey: true},
		{Name: "lemma_id", Type: TypeInteger, References: EntityLemma},
		{Name: "language", Type: TypeText},
		{Name: "grammatical_form", Type: TypeText},
		{Name: "text", Type: TypeText},
		{Name: "is_base_form", Type: TypeBool, Default: false},
		{Name: "verified", Type: TypeBool, Default: false},
	},
	Indexes: []Index{
		{Name: "ux_derivative_forms_lemma_lang_form", Columns: []string{"lemma_id", "language", "grammatical_form"}, Unique: true},
	},
	New: func() Record { return &DerivativeForm{} },
}

var tombstoneTable = &Table{
	Entity: EntityTombstone,
	Columns: []Column{
		{Name: "id", Type: TypeInteger, PrimaryKey: true},
		{Name: "guid", Type: TypeText},
		{Name: "replacement_guid", Type: TypeText, Nullable: true},
		{Name: "lemma_id", Type: TypeInteger, Nullable: true, References: EntityLemma},
		{Name: "original_lemma_text", Type: TypeText, Default: ""},
		{Name: "original_pos_type", Type: TypeText, Default: ""},
		{Name: "original_pos_subtype", Type: TypeText, Nullable: true},
		{Name: "reason", Type: TypeText},
		{Name: "notes", Type: TypeText, Nullable: true},
		{Name: "changed_by", Type: TypeText, Nullable: true},
		{Name: "created_at", Type: TypeTime},
	},
	Indexes: []Index{
		{Name: "ux_guid_tombstones_guid", Columns: []string{"guid"}, Unique: true},
		{Name: "ix_guid_tombstones_replacement", Columns: []string{"replacement_guid"}},
		{Name: "ix_guid_tombstones_lemma", Columns: []string{"lemma_id"}},
	},
	Immutable: true,
	New:       func() Record { return &Tombstone{} },
}

var operationLogTable = &Table{
	Entity: EntityOperationLog,
	Columns: []Column{
		{Name: "id", Type: TypeInteger, PrimaryKey: true},
		{Name: "source", Type: TypeText},
		{Name: "operation_type", Type: TypeText},
		{Name: "fact", Type: TypeText, Default: "{}"},
		{Name: "lemma_id", Type: TypeInteger, Nullable: true, References: EntityLemma},
		{Name: "word_token_id", Type: TypeInteger, Nullable: true},
		{Name: "derivative_form_id", Type: TypeInteger, Nullable: true, References: EntityDerivativeForm},
		{Name: "timestamp", Type: TypeTime},
	},
	Indexes: []Index{
		{Name: "ix_operation_log_lemma", Columns: []string{"lemma_id"}},
		{Name: "ix_operation_log_timestamp", Columns: []string{"timestamp"}},
	},
	Immutable: true,
	New:       func() Record { return &OperationLog{} },
}

// NewRecord returns an empty record of entity e.
func NewRecord(e Entity) (Record, error) {
	t, err := TableFor(e)
	if err != nil {
		return nil, err
	}
	return t.New(), nil
}

// RecordFromRow builds a record of entity e populated from row.
func RecordFromRow(e Entity, row Row) (Record, error) {
	rec, err := NewRecord(e)
	if err != nil {
		return nil, err
	}
	if err := rec.Load(row); err != nil {
		return nil, fmt.Errorf("load %s: %w", e, err)
	}
	return rec, nil
}

// --- value helpers ---

func keyValue(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func stringValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Value(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func timeValue(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func rowString(row Row, col string) string {
	s, _ := row[col].(string)
	return s
}

func rowStringPtr(row Row, col string) *string {
	if s, ok := row[col].(string); ok {
		return &s
	}
	return nil
}

func rowInt64(row Row, col string) int64 {
	n, _ := row[col].(int64)
	return n
}

func rowInt64Ptr(row Row, col string) *int64 {
	if n, ok := row[col].(int64); ok {
		return &n
	}
	return nil
}

func rowBool(row Row, col string) bool {
	b, _ := row[col].(bool)
	return b
}

func rowTime(row Row, col string) time.Time {
	t, _ := row[col].(time.Time)
	return t
}

func rowTimePtr(row Row, col string) *time.Time {
	if t, ok := row[col].(time.Time); ok {
		return &t
	}
	return nil
}

// Ptr returns a pointer to v. It keeps optional-field literals short.
func Ptr[T any](v T) *T {
	return &v
}
