package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

// Catalog is a read snapshot of all matchable entities
type Catalog struct {
	Correspondents []Correspondent
	DocumentTypes  []DocumentType
	Tags           []Tag
}

// LoadCatalog reads every correspondent, type and tag
func (s *Store) LoadCatalog(ctx context.Context) (*Catalog, error) {
	var cat Catalog
	db := s.db.WithContext(ctx)
	if err := db.Order("name").Find(&cat.Correspondents).Error; err != nil {
		return nil, err
	}
	if err := db.Order("name").Find(&cat.DocumentTypes).Error; err != nil {
		return nil, err
	}
	if err := db.Order("name").Find(&cat.Tags).Error; err != nil {
		return nil, err
	}
	return &cat, nil
}

// CreateCorrespondent inserts a correspondent
func (s *Store) CreateCorrespondent(ctx context.Context, c *Correspondent) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// CreateDocumentType inserts a document type
func (s *Store) CreateDocumentType(ctx context.Context, t *DocumentType) error {
	return s.db.WithContext(ctx).Create(t).Error
}

// CreateTag inserts a tag
func (s *Store) CreateTag(ctx context.Context, t *Tag) error {
	return s.db.WithContext(ctx).Create(t).Error
}

// GetCorrespondent loads one correspondent by id
func (s *Store) GetCorrespondent(ctx context.Context, id uint) (*Correspondent, error) {
	var c Correspondent
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetDocumentType loads one document type by id
func (s *Store) GetDocumentType(ctx context.Context, id uint) (*DocumentType, error) {
	var t DocumentType
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ==================== Classification fields ====================

// ListActiveFields returns active fields in extraction order
func (s *Store) ListActiveFields(ctx context.Context) ([]ClassificationField, error) {
	var fields []ClassificationField
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("position ASC, code ASC").
		Find(&fields).Error
	return fields, err
}

// GetField loads a field by code
func (s *Store) GetField(ctx context.Context, code string) (*ClassificationField, error) {
	var f ClassificationField
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrFieldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertField creates or replaces a field definition by code
func (s *Store) UpsertField(ctx context.Context, f *ClassificationField) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "field_type", "options", "position", "active",
			"use_history", "use_rules", "rules", "use_ai", "ai_prompt",
			"use_regex", "regex_pattern", "learn_from_corrections", "updated_at",
		}),
	}).Create(f).Error
}

// ==================== Seeding ====================

var entityMatchColumns = []string{"match", "matching_algorithm", "case_sensitive"}

// UpsertCorrespondent creates a correspondent or refreshes its matching rule by name
func (s *Store) UpsertCorrespondent(ctx context.Context, c *Correspondent) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns(entityMatchColumns),
	}).Create(c).Error
}

// UpsertDocumentType creates a document type or refreshes its matching rule by name
func (s *Store) UpsertDocumentType(ctx context.Context, t *DocumentType) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns(entityMatchColumns),
	}).Create(t).Error
}

// UpsertTag creates a tag or refreshes its matching rule by name
func (s *Store) UpsertTag(ctx context.Context, t *Tag) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns(entityMatchColumns),
	}).Create(t).Error
}

// CountFields returns the number of field definitions, active or not
func (s *Store) CountFields(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ClassificationField{}).Count(&count).Error
	return count, err
}
