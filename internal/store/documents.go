package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

// CreateDocument inserts doc unless a live document already carries its
// checksum. On conflict it returns ErrDuplicate and leaves doc untouched
// apart from its generated ID.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	res := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(doc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrDuplicate
	}
	return nil
}

// FindLiveByChecksum returns the non-superseded document with checksum
func (s *Store) FindLiveByChecksum(ctx context.Context, checksum string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).
		Where("checksum = ? AND superseded = ?", checksum, false).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument loads a document with its catalog associations
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).
		Preload("Correspondent").
		Preload("DocumentType").
		Preload("Tags").
		First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument writes the given columns regardless of status
func (s *Store) UpdateDocument(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrDocumentNotFound
	}
	return nil
}

// TransitionStatus moves a document to `to` only while its status is one of
// `from`, writing extra columns in the same statement. A lost race or an
// illegal source state returns ErrInvalidTransition.
func (s *Store) TransitionStatus(ctx context.Context, id string, from []DocumentStatus, to DocumentStatus, fields map[string]any) error {
	updates := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperrors.ErrDocumentNotFound
	}
	return apperrors.ErrInvalidTransition
}

// ReplaceTags sets the document's tag list
func (s *Store) ReplaceTags(ctx context.Context, id string, tagIDs []uint) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	var tags []Tag
	if len(tagIDs) > 0 {
		if err := s.db.WithContext(ctx).Find(&tags, tagIDs).Error; err != nil {
			return err
		}
	}
	if len(tags) == 0 {
		return s.db.WithContext(ctx).Model(doc).Association("Tags").Clear()
	}
	return s.db.WithContext(ctx).Model(doc).Association("Tags").Replace(tags)
}

// ListChildren returns the parts a document was split into, by first page
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("parent_document_id = ?", parentID).
		Order("created_at ASC, id ASC").
		Find(&docs).Error
	return docs, err
}

// ListByStatus returns live documents in status, oldest first
func (s *Store) ListByStatus(ctx context.Context, status DocumentStatus, limit int) ([]Document, error) {
	var docs []Document
	q := s.db.WithContext(ctx).
		Where("status = ? AND superseded = ?", status, false).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&docs).Error
	return docs, err
}

// CountByStatus counts live documents per status
func (s *Store) CountByStatus(ctx context.Context) (map[DocumentStatus]int64, error) {
	var rows []struct {
		Status DocumentStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&Document{}).
		Select("status, count(*) AS count").
		Where("superseded = ?", false).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[DocumentStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// CountLiveByChecksum is used by tests and diagnostics
func (s *Store) CountLiveByChecksum(ctx context.Context, checksum string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("checksum = ? AND superseded = ?", checksum, false).
		Count(&count).Error
	return count, err
}

// Supersede soft-deletes a document so its checksum can be imported again
func (s *Store) Supersede(ctx context.Context, id string) error {
	return s.UpdateDocument(ctx, id, map[string]any{"superseded": true, "updated_at": time.Now()})
}

// RecordSplit inserts the children of parentID and marks the parent split in
// one transaction. Children whose checksum is already live are skipped and
// returned separately. The parent must still be imported; otherwise nothing
// is written and ErrInvalidTransition is returned.
func (s *Store) RecordSplit(ctx context.Context, parentID string, children []*Document) (created, skipped []*Document, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, skipped = nil, nil
		for _, child := range children {
			child.ParentDocumentID = &parentID
			if child.Status == "" {
				child.Status = StatusPending
			}
			res := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(child)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				skipped = append(skipped, child)
				continue
			}
			created = append(created, child)
		}
		if len(created) == 0 {
			return apperrors.ErrDuplicate
		}

		res := tx.Model(&Document{}).
			Where("id = ? AND status IN ?", parentID, []DocumentStatus{StatusImported}).
			Updates(map[string]any{
				"status":           StatusSplit,
				"split_into_count": len(created),
				"updated_at":       time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, skipped, nil
}
