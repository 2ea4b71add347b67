package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// History confidence bounds
const (
	HistoryInitialConfidence = 0.60
	HistoryMaxConfidence     = 0.95
)

// ManualSource marks a value confirmed or corrected by a person
const ManualSource = "manual"

// UpsertExtractedValue writes the full reviewed value for (document, field)
func (s *Store) UpsertExtractedValue(ctx context.Context, v *ExtractedValue) error {
	if v.ExtractedAt.IsZero() {
		v.ExtractedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "field_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "confidence", "source", "is_confirmed", "is_corrected",
			"original_value", "confirmed_by", "confirmed_at", "extracted_at",
		}),
	}).Create(v).Error
}

// SaveMachineValue writes a cascade result for (document, field). It only
// refreshes value, confidence, source and extracted_at, and never replaces a
// manual value.
func (s *Store) SaveMachineValue(ctx context.Context, v *ExtractedValue) error {
	if v.ExtractedAt.IsZero() {
		v.ExtractedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "field_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "confidence", "source", "extracted_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: "extracted_values", Name: "source"}, Value: ManualSource},
		}},
	}).Create(v).Error
}

// GetExtractedValue returns the stored value, or nil when none exists
func (s *Store) GetExtractedValue(ctx context.Context, documentID string, fieldID uint) (*ExtractedValue, error) {
	var v ExtractedValue
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND field_id = ?", documentID, fieldID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListExtractedValues returns all values of a document
func (s *Store) ListExtractedValues(ctx context.Context, documentID string) ([]ExtractedValue, error) {
	var values []ExtractedValue
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("field_id ASC").
		Find(&values).Error
	return values, err
}

// TopHistory returns the best learned value for a field and correspondent.
// With a known type, rows for that type and type-agnostic rows compete.
func (s *Store) TopHistory(ctx context.Context, fieldID, correspondentID uint, documentTypeID *uint) (*ExtractionHistory, error) {
	q := s.db.WithContext(ctx).
		Where("field_id = ? AND correspondent_id = ?", fieldID, correspondentID)
	if documentTypeID != nil && *documentTypeID != 0 {
		q = q.Where("(document_type_id = ? OR document_type_id = 0)", *documentTypeID)
	}

	var h ExtractionHistory
	err := q.Order("confidence DESC, times_used DESC").First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// LearnHistory records a human-approved value. A new row starts at
// HistoryInitialConfidence; an existing one gains bump, capped at
// HistoryMaxConfidence. Confidence never decreases.
func (s *Store) LearnHistory(ctx context.Context, fieldID, correspondentID uint, documentTypeID *uint, value string, bump float64) error {
	var typeID uint
	if documentTypeID != nil {
		typeID = *documentTypeID
	}
	if bump < 0 {
		bump = 0
	}
	now := time.Now()
	row := &ExtractionHistory{
		FieldID:         fieldID,
		CorrespondentID: correspondentID,
		DocumentTypeID:  typeID,
		NormalizedValue: NormalizeValue(value),
		Value:           value,
		TimesUsed:       1,
		TimesConfirmed:  1,
		Confidence:      HistoryInitialConfidence,
		Source:          "manual",
		FirstUsedAt:     now,
		LastUsedAt:      now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "field_id"}, {Name: "correspondent_id"},
			{Name: "document_type_id"}, {Name: "normalized_value"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"times_used":      gorm.Expr("times_used + 1"),
			"times_confirmed": gorm.Expr("times_confirmed + 1"),
			"confidence":      gorm.Expr("MAX(confidence, MIN(?, confidence + ?))", HistoryMaxConfidence, bump),
			"last_used_at":    now,
		}),
	}).Create(row).Error
}

// SuggestHistory lists frequent values for a field, optionally scoped to a
// correspondent
func (s *Store) SuggestHistory(ctx context.Context, fieldID uint, correspondentID *uint, limit int) ([]ExtractionHistory, error) {
	if limit <= 0 {
		limit = 5
	}
	q := s.db.WithContext(ctx).Where("field_id = ?", fieldID)
	if correspondentID != nil {
		q = q.Where("correspondent_id = ?", *correspondentID)
	}
	var rows []ExtractionHistory
	err := q.Order("times_used DESC, confidence DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// AppendAudit records a confirm or correct action
func (s *Store) AppendAudit(ctx context.Context, a *ExtractionAudit) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// ListAudit returns a document's audit trail, oldest first
func (s *Store) ListAudit(ctx context.Context, documentID string) ([]ExtractionAudit, error) {
	var rows []ExtractionAudit
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// NormalizeValue is the history key for a value
func NormalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
