// Package catalog loads classification fields and matchable entities from a
// YAML file into the store.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/matcher"
	"github.com/gmsas95/paperflow/internal/store"
)

// FieldDef is one field as written in the catalog file
type FieldDef struct {
	Code     string       `yaml:"code" validate:"required,max=64"`
	Name     string       `yaml:"name"`
	Type     string       `yaml:"type" validate:"omitempty,oneof=text select multi_select date amount correspondent document_type tags"`
	Options  []string     `yaml:"options"`
	Position int          `yaml:"position" validate:"gte=0"`
	Active   *bool        `yaml:"active"`
	History  bool         `yaml:"history"`
	Rules    []store.Rule `yaml:"rules" validate:"dive"`
	AI       bool         `yaml:"ai"`
	AIPrompt string       `yaml:"ai_prompt"`
	Regex    string       `yaml:"regex"`
	Learn    bool         `yaml:"learn"`
}

// EntityDef is a correspondent, document type or tag with its matching rule
type EntityDef struct {
	Name          string `yaml:"name" validate:"required,max=255"`
	Match         string `yaml:"match"`
	Algorithm     string `yaml:"algorithm" validate:"omitempty,oneof=none any all exact regex fuzzy"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

// File is the catalog file layout
type File struct {
	Fields         []FieldDef  `yaml:"fields" validate:"dive"`
	Correspondents []EntityDef `yaml:"correspondents" validate:"dive"`
	DocumentTypes  []EntityDef `yaml:"document_types" validate:"dive"`
	Tags           []EntityDef `yaml:"tags" validate:"dive"`
}

var validate = validator.New()

// LoadFile reads and validates a catalog file. Unknown keys are rejected.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("catalog: %w", err))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks tags, duplicate codes and regex syntax
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("catalog: %w", err))
	}

	seen := make(map[string]bool, len(f.Fields))
	for _, def := range f.Fields {
		if seen[def.Code] {
			return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("catalog: duplicate field code %q", def.Code))
		}
		seen[def.Code] = true
		if def.Regex != "" {
			if _, err := matcher.CompilePattern(def.Regex, false); err != nil {
				return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("catalog: field %q regex: %w", def.Code, err))
			}
		}
		if (def.Type == store.FieldSelect || def.Type == store.FieldMultiSelect) && len(def.Options) == 0 {
			return apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("catalog: select field %q has no options", def.Code))
		}
	}
	return nil
}

// Model converts the definition into a store row
func (d FieldDef) Model() *store.ClassificationField {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	fieldType := d.Type
	if fieldType == "" {
		fieldType = store.FieldText
	}
	name := d.Name
	if name == "" {
		name = d.Code
	}

	f := &store.ClassificationField{
		Code:                 d.Code,
		Name:                 name,
		FieldType:            fieldType,
		Position:             d.Position,
		Active:               active,
		UseHistory:           d.History,
		UseRules:             len(d.Rules) > 0,
		UseAI:                d.AI,
		AIPrompt:             d.AIPrompt,
		UseRegex:             d.Regex != "",
		RegexPattern:         d.Regex,
		LearnFromCorrections: d.Learn,
	}
	if len(d.Options) > 0 {
		f.Options = store.ToJSON(d.Options)
	}
	if len(d.Rules) > 0 {
		f.Rules = store.ToJSON(d.Rules)
	}
	return f
}

// DefaultFields are seeded when no catalog file is configured and the store
// has no fields yet
func DefaultFields() []FieldDef {
	return []FieldDef{
		{
			Code: "supplier", Name: "Fournisseur", Type: store.FieldCorrespondent, Position: 1,
			History: true, AI: true, Learn: true,
			AIPrompt: "Who issued this document? Answer with the company or person name only.",
		},
		{
			Code: "type", Name: "Type de document", Type: store.FieldDocumentType, Position: 2,
			History: true, AI: true, Learn: true,
			AIPrompt: "What kind of document is this (invoice, contract, statement, ...)? Answer with the type only.",
		},
		{
			Code: "year", Name: "Année", Type: store.FieldText, Position: 3,
			History: false, AI: true, Learn: false,
			AIPrompt: "Which year does this document refer to? Answer with four digits.",
			Regex:    `\b(19\d{2}|20\d{2})\b`,
		},
		{
			Code: "date", Name: "Date du document", Type: store.FieldDate, Position: 4,
			AI:       true,
			AIPrompt: "What is the issue date of this document? Answer in YYYY-MM-DD format.",
			Regex:    `\b(\d{1,2}[./-]\d{1,2}[./-](?:19|20)\d{2})\b`,
		},
		{
			Code: "amount", Name: "Montant", Type: store.FieldAmount, Position: 5,
			AI:       true,
			AIPrompt: "What is the total amount due? Answer with the number only, using a dot as decimal separator.",
			Regex:    `(?i)(?:total|montant)[^\d\n]{0,30}(\d[\d\s']*[.,]\d{2})`,
		},
		{
			Code: "tags", Name: "Tags", Type: store.FieldTags, Position: 6,
			AI:       true,
			AIPrompt: "List up to five short keywords describing this document, comma separated.",
		},
	}
}

// Apply upserts every definition in f
func Apply(ctx context.Context, st *store.Store, f *File, logger *zap.Logger) error {
	for _, def := range f.Fields {
		if err := st.UpsertField(ctx, def.Model()); err != nil {
			return fmt.Errorf("failed to save field %s: %w", def.Code, err)
		}
	}
	for _, e := range f.Correspondents {
		if err := st.UpsertCorrespondent(ctx, &store.Correspondent{
			Name: e.Name, Match: e.Match, MatchingAlgorithm: e.Algorithm, CaseSensitive: e.CaseSensitive,
		}); err != nil {
			return fmt.Errorf("failed to save correspondent %s: %w", e.Name, err)
		}
	}
	for _, e := range f.DocumentTypes {
		if err := st.UpsertDocumentType(ctx, &store.DocumentType{
			Name: e.Name, Match: e.Match, MatchingAlgorithm: e.Algorithm, CaseSensitive: e.CaseSensitive,
		}); err != nil {
			return fmt.Errorf("failed to save document type %s: %w", e.Name, err)
		}
	}
	for _, e := range f.Tags {
		if err := st.UpsertTag(ctx, &store.Tag{
			Name: e.Name, Match: e.Match, MatchingAlgorithm: e.Algorithm, CaseSensitive: e.CaseSensitive,
		}); err != nil {
			return fmt.Errorf("failed to save tag %s: %w", e.Name, err)
		}
	}

	logger.Info("Catalog applied",
		zap.Int("fields", len(f.Fields)),
		zap.Int("correspondents", len(f.Correspondents)),
		zap.Int("document_types", len(f.DocumentTypes)),
		zap.Int("tags", len(f.Tags)))
	return nil
}

// Bootstrap applies the configured catalog file, or seeds DefaultFields into
// an empty store when no file is configured
func Bootstrap(ctx context.Context, st *store.Store, path string, logger *zap.Logger) error {
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return err
		}
		return Apply(ctx, st, f, logger)
	}

	count, err := st.CountFields(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return Apply(ctx, st, &File{Fields: DefaultFields()}, logger)
}
