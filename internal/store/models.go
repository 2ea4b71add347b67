package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentStatus is the lifecycle state of a document
type DocumentStatus string

const (
	StatusImported      DocumentStatus = "imported"
	StatusPending       DocumentStatus = "pending"
	StatusClassified    DocumentStatus = "classified"
	StatusNeedsReview   DocumentStatus = "needs_review"
	StatusAutoValidated DocumentStatus = "auto_validated"
	StatusValidated     DocumentStatus = "validated"
	StatusSplit         DocumentStatus = "split"
	StatusError         DocumentStatus = "error"
)

// Document is one ingested file, or one part of a split PDF
type Document struct {
	ID               string          `gorm:"primaryKey" json:"id"`
	Checksum         string          `gorm:"size:32;not null;index" json:"checksum"`
	OriginalFilename string          `json:"original_filename"`
	Title            string          `json:"title"`
	FilePath         string          `json:"file_path"`
	MimeType         string          `json:"mime_type"`
	FileSize         int64           `json:"file_size"`
	Content          string          `json:"content,omitempty" gorm:"type:text"`
	Status           DocumentStatus  `gorm:"index;not null" json:"status"`
	ParentDocumentID *string         `gorm:"index" json:"parent_document_id,omitempty"`
	SplitPageRange   json.RawMessage `json:"split_page_range,omitempty" gorm:"type:text"`
	SplitIntoCount   int             `json:"split_into_count"`
	Suggestion       json.RawMessage `json:"suggestion,omitempty" gorm:"type:text"`
	Confidence       float64         `json:"confidence"`
	CorrespondentID  *uint           `json:"correspondent_id,omitempty"`
	Correspondent    *Correspondent  `json:"correspondent,omitempty"`
	DocumentTypeID   *uint           `json:"document_type_id,omitempty"`
	DocumentType     *DocumentType   `json:"document_type,omitempty"`
	Tags             []Tag           `gorm:"many2many:document_tags" json:"tags,omitempty"`
	DocumentDate     *time.Time      `json:"document_date,omitempty"`
	Amount           *float64        `json:"amount,omitempty"`
	Superseded       bool            `gorm:"not null;default:false" json:"superseded"`
	ValidatedAt      *time.Time      `json:"validated_at,omitempty"`
	ValidatedBy      string          `json:"validated_by,omitempty"`
	LastError        string          `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PageRange decodes SplitPageRange
func (d *Document) PageRange() []int {
	var pages []int
	if len(d.SplitPageRange) == 0 {
		return nil
	}
	_ = json.Unmarshal(d.SplitPageRange, &pages)
	return pages
}

// Matching algorithms for catalog entities
const (
	MatchNone  = "none"
	MatchAny   = "any"
	MatchAll   = "all"
	MatchExact = "exact"
	MatchRegex = "regex"
	MatchFuzzy = "fuzzy"
)

// Correspondent is a sender or counterparty
type Correspondent struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	Match             string    `json:"match,omitempty"`
	MatchingAlgorithm string    `json:"matching_algorithm,omitempty"`
	CaseSensitive     bool      `json:"case_sensitive"`
	CreatedAt         time.Time `json:"created_at"`
}

// DocumentType is a catalog document kind (invoice, contract, ...)
type DocumentType struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	Match             string    `json:"match,omitempty"`
	MatchingAlgorithm string    `json:"matching_algorithm,omitempty"`
	CaseSensitive     bool      `json:"case_sensitive"`
	CreatedAt         time.Time `json:"created_at"`
}

// Tag is a free label
type Tag struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	Match             string    `json:"match,omitempty"`
	MatchingAlgorithm string    `json:"matching_algorithm,omitempty"`
	CaseSensitive     bool      `json:"case_sensitive"`
	CreatedAt         time.Time `json:"created_at"`
}

// Field types
const (
	FieldText          = "text"
	FieldSelect        = "select"
	FieldMultiSelect   = "multi_select"
	FieldDate          = "date"
	FieldAmount        = "amount"
	FieldCorrespondent = "correspondent"
	FieldDocumentType  = "document_type"
	FieldTags          = "tags"
)

// Rule is one conditional assignment: every key of If must match the
// document's attribute, either equal or contained in a list.
type Rule struct {
	If   map[string]any `json:"if" yaml:"if" validate:"required,min=1"`
	Then string         `json:"then" yaml:"then" validate:"required"`
}

// ClassificationField is a catalog field the cascade extracts
type ClassificationField struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	Code                 string          `gorm:"uniqueIndex;not null" json:"code"`
	Name                 string          `json:"name"`
	FieldType            string          `gorm:"not null;default:text" json:"field_type"`
	Options              json.RawMessage `gorm:"type:text" json:"options,omitempty"`
	Position             int             `gorm:"index" json:"position"`
	Active               bool            `gorm:"index" json:"active"`
	UseHistory           bool            `json:"use_history"`
	UseRules             bool            `json:"use_rules"`
	Rules                json.RawMessage `gorm:"type:text" json:"rules,omitempty"`
	UseAI                bool            `json:"use_ai"`
	AIPrompt             string          `gorm:"column:ai_prompt;type:text" json:"ai_prompt,omitempty"`
	UseRegex             bool            `json:"use_regex"`
	RegexPattern         string          `json:"regex_pattern,omitempty"`
	LearnFromCorrections bool            `json:"learn_from_corrections"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// OptionList decodes Options
func (f *ClassificationField) OptionList() []string {
	var opts []string
	if len(f.Options) == 0 {
		return nil
	}
	_ = json.Unmarshal(f.Options, &opts)
	return opts
}

// RuleList decodes Rules
func (f *ClassificationField) RuleList() []Rule {
	var rules []Rule
	if len(f.Rules) == 0 {
		return nil
	}
	_ = json.Unmarshal(f.Rules, &rules)
	return rules
}

// IsSelect reports whether values must come from Options
func (f *ClassificationField) IsSelect() bool {
	return f.FieldType == FieldSelect || f.FieldType == FieldMultiSelect
}

// ExtractedValue is the current result for one document field
type ExtractedValue struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	DocumentID    string     `gorm:"uniqueIndex:idx_extracted_doc_field;not null" json:"document_id"`
	FieldID       uint       `gorm:"uniqueIndex:idx_extracted_doc_field;not null" json:"field_id"`
	Value         string     `gorm:"type:text" json:"value"`
	Confidence    float64    `json:"confidence"`
	Source        string     `json:"source"`
	IsConfirmed   bool       `json:"is_confirmed"`
	IsCorrected   bool       `json:"is_corrected"`
	OriginalValue string     `gorm:"type:text" json:"original_value,omitempty"`
	ConfirmedBy   string     `json:"confirmed_by,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	ExtractedAt   time.Time  `json:"extracted_at"`
}

// ExtractionHistory is a learned value per field and correspondent.
// DocumentTypeID 0 means the value applies to any type.
type ExtractionHistory struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	FieldID         uint      `gorm:"uniqueIndex:idx_history_key;not null" json:"field_id"`
	CorrespondentID uint      `gorm:"uniqueIndex:idx_history_key;not null" json:"correspondent_id"`
	DocumentTypeID  uint      `gorm:"uniqueIndex:idx_history_key;not null;default:0" json:"document_type_id"`
	NormalizedValue string    `gorm:"uniqueIndex:idx_history_key;not null" json:"normalized_value"`
	Value           string    `json:"value"`
	TimesUsed       int       `json:"times_used"`
	TimesConfirmed  int       `json:"times_confirmed"`
	Confidence      float64   `json:"confidence"`
	Source          string    `json:"source"`
	FirstUsedAt     time.Time `json:"first_used_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
}

// TableName keeps the singular name
func (ExtractionHistory) TableName() string {
	return "extraction_history"
}

// ExtractionAudit records a confirm or correct action
type ExtractionAudit struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	DocumentID string    `gorm:"index;not null" json:"document_id"`
	FieldID    uint      `json:"field_id"`
	FieldCode  string    `json:"field_code"`
	Action     string    `json:"action"` // confirm, correct
	OldValue   string    `gorm:"type:text" json:"old_value"`
	NewValue   string    `gorm:"type:text" json:"new_value"`
	OldSource  string    `json:"old_source"`
	User       string    `json:"user"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate hook for Document
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = generateID("doc")
	}
	if d.Status == "" {
		d.Status = StatusImported
	}
	return nil
}

// BeforeCreate hook for ExtractionAudit
func (a *ExtractionAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = generateID("audit")
	}
	return nil
}

// generateID creates a unique ID with a timestamp and a random suffix
func generateID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return prefix + "_" + time.Now().Format("20060102150405") + "_" + suffix
}

// ToJSON converts struct to JSON bytes
func ToJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// FromJSON parses JSON bytes into struct
func FromJSON(data json.RawMessage, v interface{}) error {
	return json.Unmarshal(data, v)
}
