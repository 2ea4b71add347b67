// Package classify fills classification fields through the history, rules,
// AI and regex stages and learns from human confirmations.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/matcher"
	"github.com/gmsas95/paperflow/internal/metrics"
	"github.com/gmsas95/paperflow/internal/splitter"
	"github.com/gmsas95/paperflow/internal/store"
)

// History bumps applied on human feedback
const (
	CorrectionBump   = 0.10
	ConfirmationBump = 0.05
)

// Options configures the cascade
type Options struct {
	HistoryMinConfidence float64
}

// Cascade runs the extraction stages in order for every active field
type Cascade struct {
	store      *store.Store
	matcher    *matcher.Matcher
	strategies []Strategy
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewCascade builds the history, rules, AI, regex cascade. ai may be nil.
func NewCascade(st *store.Store, ai llm.Completer, m *matcher.Matcher, opts Options, mt *metrics.Metrics, logger *zap.Logger) *Cascade {
	if opts.HistoryMinConfidence <= 0 {
		opts.HistoryMinConfidence = 0.30
	}
	return &Cascade{
		store:   st,
		matcher: m,
		strategies: []Strategy{
			&historyStrategy{store: st, minConfidence: opts.HistoryMinConfidence},
			rulesStrategy{},
			&aiStrategy{ai: ai, logger: logger},
			&regexStrategy{logger: logger},
		},
		metrics: mt,
		logger:  logger,
	}
}

// Extract tries each stage in order and returns the first answer
func (c *Cascade) Extract(ctx context.Context, field *store.ClassificationField, in *Input) (*Result, bool) {
	for _, s := range c.strategies {
		if !s.Applies(field) {
			continue
		}
		res, err := s.Extract(ctx, field, in)
		if err != nil {
			c.logger.Debug("Extraction stage failed",
				zap.String("field", field.Code),
				zap.String("stage", string(s.Name())),
				zap.Error(err))
			continue
		}
		if res != nil {
			return res, true
		}
	}
	return nil, false
}

// ExtractAll runs the cascade over every active field in position order and
// stores each answer. Values found earlier are visible to the rules of later
// fields, and a correspondent or type found along the way is resolved
// against the catalog so history can use it.
func (c *Cascade) ExtractAll(ctx context.Context, documentID string) (map[string]Result, error) {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	cat, err := c.store.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := c.store.ListActiveFields(ctx)
	if err != nil {
		return nil, err
	}

	in := c.newInput(doc, cat)
	results := make(map[string]Result, len(fields))
	for i := range fields {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		field := &fields[i]
		if kept := c.manualValue(ctx, doc.ID, field); kept != nil {
			results[field.Code] = *kept
			in.Attributes[field.Code] = kept.Value
			c.learnEntity(field, kept.Value, in, cat)
			continue
		}
		res, ok := c.Extract(ctx, field, in)
		if !ok {
			continue
		}

		if err := c.store.SaveMachineValue(ctx, &store.ExtractedValue{
			DocumentID: doc.ID,
			FieldID:    field.ID,
			Value:      res.Value,
			Confidence: res.Confidence,
			Source:     string(res.Source),
		}); err != nil {
			c.logger.Warn("Failed to save extracted value",
				zap.String("document_id", doc.ID), zap.String("field", field.Code), zap.Error(err))
			continue
		}
		results[field.Code] = *res
		c.metrics.RecordExtraction(string(res.Source))
		in.Attributes[field.Code] = res.Value
		c.learnEntity(field, res.Value, in, cat)
	}

	c.logger.Info("Fields extracted",
		zap.String("document_id", doc.ID),
		zap.Int("fields", len(fields)),
		zap.Int("found", len(results)))
	return results, nil
}

// manualValue returns the reviewed value of a field, which re-extraction keeps
func (c *Cascade) manualValue(ctx context.Context, documentID string, field *store.ClassificationField) *Result {
	v, err := c.store.GetExtractedValue(ctx, documentID, field.ID)
	if err != nil {
		c.logger.Warn("Failed to read extracted value",
			zap.String("document_id", documentID), zap.String("field", field.Code), zap.Error(err))
		return nil
	}
	if v == nil || v.Source != store.ManualSource {
		return nil
	}
	return &Result{Value: v.Value, Confidence: v.Confidence, Source: SourceManual}
}

func (c *Cascade) newInput(doc *store.Document, cat *store.Catalog) *Input {
	in := &Input{
		Document:        doc,
		Content:         doc.Content,
		CorrespondentID: doc.CorrespondentID,
		DocumentTypeID:  doc.DocumentTypeID,
		Attributes: map[string]any{
			"mime_type":         doc.MimeType,
			"original_filename": doc.OriginalFilename,
			"title":             doc.Title,
		},
	}
	if doc.Correspondent != nil {
		in.CorrespondentName = doc.Correspondent.Name
	}
	if doc.DocumentType != nil {
		in.DocumentTypeName = doc.DocumentType.Name
	}

	var seed splitter.Seed
	if len(doc.Suggestion) > 0 && store.FromJSON(doc.Suggestion, &seed) == nil {
		if in.CorrespondentID == nil && seed.Split.Correspondent != "" {
			c.setCorrespondent(in, seed.Split.Correspondent, cat)
		}
		if in.DocumentTypeID == nil && seed.Split.DocumentType != "" {
			c.setDocumentType(in, seed.Split.DocumentType, cat)
		}
	}

	if in.CorrespondentName != "" {
		in.Attributes["correspondent"] = in.CorrespondentName
	}
	if in.CorrespondentID != nil {
		in.Attributes["correspondent_id"] = *in.CorrespondentID
	}
	if in.DocumentTypeName != "" {
		in.Attributes["document_type"] = in.DocumentTypeName
	}
	if in.DocumentTypeID != nil {
		in.Attributes["document_type_id"] = *in.DocumentTypeID
	}
	return in
}

func (c *Cascade) learnEntity(field *store.ClassificationField, value string, in *Input, cat *store.Catalog) {
	switch field.FieldType {
	case store.FieldCorrespondent:
		if in.CorrespondentID == nil {
			c.setCorrespondent(in, value, cat)
		}
	case store.FieldDocumentType:
		if in.DocumentTypeID == nil {
			c.setDocumentType(in, value, cat)
		}
	}
	if in.CorrespondentID != nil {
		in.Attributes["correspondent"] = in.CorrespondentName
		in.Attributes["correspondent_id"] = *in.CorrespondentID
	}
	if in.DocumentTypeID != nil {
		in.Attributes["document_type"] = in.DocumentTypeName
		in.Attributes["document_type_id"] = *in.DocumentTypeID
	}
}

func (c *Cascade) setCorrespondent(in *Input, name string, cat *store.Catalog) {
	id := c.matcher.ResolveCorrespondent(name, cat)
	if id == nil {
		return
	}
	in.CorrespondentID = id
	for _, corr := range cat.Correspondents {
		if corr.ID == *id {
			in.CorrespondentName = corr.Name
		}
	}
}

func (c *Cascade) setDocumentType(in *Input, name string, cat *store.Catalog) {
	id := c.matcher.ResolveDocumentType(name, cat)
	if id == nil {
		return
	}
	in.DocumentTypeID = id
	for _, t := range cat.DocumentTypes {
		if t.ID == *id {
			in.DocumentTypeName = t.Name
		}
	}
}

// ==================== Learning ====================

// Confirm marks the stored value as approved. When the field learns and the
// document has a correspondent, the value's history gains ConfirmationBump.
func (c *Cascade) Confirm(ctx context.Context, documentID, fieldCode, user string) error {
	field, doc, err := c.load(ctx, documentID, fieldCode)
	if err != nil {
		return err
	}
	current, err := c.store.GetExtractedValue(ctx, doc.ID, field.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return apperrors.ErrValueNotFound
	}

	now := time.Now()
	oldSource := current.Source
	// the upsert targets (document, field); a preset key would conflict first
	current.ID = 0
	current.Confidence = ManualConfidence
	current.Source = string(SourceManual)
	current.IsConfirmed = true
	current.ConfirmedBy = user
	current.ConfirmedAt = &now
	if err := c.store.UpsertExtractedValue(ctx, current); err != nil {
		return err
	}

	c.learn(ctx, field, doc, current.Value, ConfirmationBump)
	return c.store.AppendAudit(ctx, &store.ExtractionAudit{
		DocumentID: doc.ID,
		FieldID:    field.ID,
		FieldCode:  field.Code,
		Action:     "confirm",
		OldValue:   current.Value,
		NewValue:   current.Value,
		OldSource:  oldSource,
		User:       user,
	})
}

// Correct replaces the stored value with a human one, keeping the first
// machine value as OriginalValue. Learning fields gain CorrectionBump.
func (c *Cascade) Correct(ctx context.Context, documentID, fieldCode, value, user string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty correction for field %s", fieldCode)
	}
	field, doc, err := c.load(ctx, documentID, fieldCode)
	if err != nil {
		return err
	}
	previous, err := c.store.GetExtractedValue(ctx, doc.ID, field.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	next := &store.ExtractedValue{
		DocumentID:  doc.ID,
		FieldID:     field.ID,
		Value:       value,
		Confidence:  ManualConfidence,
		Source:      string(SourceManual),
		IsConfirmed: true,
		IsCorrected: true,
		ConfirmedBy: user,
		ConfirmedAt: &now,
	}
	var oldValue, oldSource string
	if previous != nil {
		oldValue, oldSource = previous.Value, previous.Source
		next.OriginalValue = previous.OriginalValue
		if next.OriginalValue == "" {
			next.OriginalValue = previous.Value
		}
	}
	if err := c.store.UpsertExtractedValue(ctx, next); err != nil {
		return err
	}

	c.learn(ctx, field, doc, value, CorrectionBump)
	return c.store.AppendAudit(ctx, &store.ExtractionAudit{
		DocumentID: doc.ID,
		FieldID:    field.ID,
		FieldCode:  field.Code,
		Action:     "correct",
		OldValue:   oldValue,
		NewValue:   value,
		OldSource:  oldSource,
		User:       user,
	})
}

// Suggestions lists frequent historical values for a field
func (c *Cascade) Suggestions(ctx context.Context, fieldCode string, correspondentID *uint, limit int) ([]store.ExtractionHistory, error) {
	field, err := c.store.GetField(ctx, fieldCode)
	if err != nil {
		return nil, err
	}
	return c.store.SuggestHistory(ctx, field.ID, correspondentID, limit)
}

func (c *Cascade) load(ctx context.Context, documentID, fieldCode string) (*store.ClassificationField, *store.Document, error) {
	field, err := c.store.GetField(ctx, fieldCode)
	if err != nil {
		return nil, nil, err
	}
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	return field, doc, nil
}

func (c *Cascade) learn(ctx context.Context, field *store.ClassificationField, doc *store.Document, value string, bump float64) {
	if !field.LearnFromCorrections || doc.CorrespondentID == nil || strings.TrimSpace(value) == "" {
		return
	}
	if err := c.store.LearnHistory(ctx, field.ID, *doc.CorrespondentID, doc.DocumentTypeID, value, bump); err != nil {
		c.logger.Warn("Failed to update extraction history",
			zap.String("document_id", doc.ID), zap.String("field", field.Code), zap.Error(err))
	}
}
