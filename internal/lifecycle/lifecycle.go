// Package lifecycle drives documents through their statuses and files
// validated documents into the storage tree.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/custody"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/events"
	"github.com/gmsas95/paperflow/internal/metrics"
	"github.com/gmsas95/paperflow/internal/pathgen"
	"github.com/gmsas95/paperflow/internal/security"
	"github.com/gmsas95/paperflow/internal/store"
)

// transitions lists the statuses each status may move to
var transitions = map[store.DocumentStatus][]store.DocumentStatus{
	store.StatusImported:      {store.StatusClassified, store.StatusSplit, store.StatusError, store.StatusPending},
	store.StatusPending:       {store.StatusClassified, store.StatusValidated, store.StatusError},
	store.StatusClassified:    {store.StatusNeedsReview, store.StatusAutoValidated, store.StatusValidated, store.StatusError},
	store.StatusNeedsReview:   {store.StatusValidated, store.StatusError},
	store.StatusAutoValidated: {store.StatusValidated, store.StatusError},
	store.StatusError:         {store.StatusImported},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to store.DocumentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status allowed to reach to
func sourcesOf(to store.DocumentStatus) []store.DocumentStatus {
	var out []store.DocumentStatus
	for from, targets := range transitions {
		for _, s := range targets {
			if s == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// Options configures the controller
type Options struct {
	DocumentsDir string
	// AutoApply allows auto_validated; otherwise every document needs review
	AutoApply bool
	Threshold float64
}

// Overrides are human or suggested values applied to a document. Nil
// pointers and a nil TagIDs leave the stored value alone.
type Overrides struct {
	CorrespondentID *uint
	DocumentTypeID  *uint
	TagIDs          []uint
	DocumentDate    *time.Time
	Amount          *float64
	Title           *string
	// Destination replaces the generated folder, relative to the documents dir
	Destination string
	User        string
}

func (o Overrides) columns() map[string]any {
	cols := make(map[string]any)
	if o.CorrespondentID != nil {
		cols["correspondent_id"] = *o.CorrespondentID
	}
	if o.DocumentTypeID != nil {
		cols["document_type_id"] = *o.DocumentTypeID
	}
	if o.DocumentDate != nil {
		cols["document_date"] = *o.DocumentDate
	}
	if o.Amount != nil {
		cols["amount"] = *o.Amount
	}
	if o.Title != nil && strings.TrimSpace(*o.Title) != "" {
		cols["title"] = strings.TrimSpace(*o.Title)
	}
	return cols
}

// Controller enforces the status machine with conditional updates
type Controller struct {
	store   *store.Store
	paths   pathgen.Generator
	opts    Options
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a controller
func New(st *store.Store, paths pathgen.Generator, opts Options, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *Controller {
	if paths == nil {
		paths = pathgen.New(nil)
	}
	return &Controller{
		store:   st,
		paths:   paths,
		opts:    opts,
		bus:     bus,
		metrics: m,
		logger:  logger,
	}
}

// Transition moves a document to to from any status allowed to reach it
func (c *Controller) Transition(ctx context.Context, id string, to store.DocumentStatus, fields map[string]any) error {
	if err := c.store.TransitionStatus(ctx, id, sourcesOf(to), to, fields); err != nil {
		return err
	}
	c.metrics.RecordTransition(string(to))
	return nil
}

// Classified records a finished classification and settles the document in
// auto_validated or needs_review. It returns the final status.
func (c *Controller) Classified(ctx context.Context, id string, confidence float64) (store.DocumentStatus, error) {
	if err := c.Transition(ctx, id, store.StatusClassified, map[string]any{"confidence": confidence}); err != nil {
		return "", err
	}

	next := store.StatusNeedsReview
	if c.opts.AutoApply && confidence >= c.opts.Threshold {
		next = store.StatusAutoValidated
	}
	if err := c.Transition(ctx, id, next, nil); err != nil {
		return "", err
	}

	c.bus.Publish(events.Event{
		Kind:       events.KindClassified,
		DocumentID: id,
		Status:     string(next),
		Attributes: map[string]string{"confidence": fmt.Sprintf("%.2f", confidence)},
	})
	c.logger.Info("Document classified",
		zap.String("document_id", id),
		zap.String("status", string(next)),
		zap.Float64("confidence", confidence))
	return next, nil
}

// Fail parks a document in error with the cause. The file stays where it is.
func (c *Controller) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := c.Transition(ctx, id, store.StatusError, map[string]any{"last_error": msg}); err != nil {
		return err
	}
	c.bus.Publish(events.Event{
		Kind:       events.KindFailed,
		DocumentID: id,
		Status:     string(store.StatusError),
		Attributes: map[string]string{"error": msg},
	})
	c.logger.Warn("Document failed", zap.String("document_id", id), zap.String("error", msg))
	return nil
}

// Reprocess returns a failed document to imported so the pipeline runs again
func (c *Controller) Reprocess(ctx context.Context, id string) error {
	return c.Transition(ctx, id, store.StatusImported, map[string]any{"last_error": ""})
}

// Supersede soft-deletes a document, freeing its checksum
func (c *Controller) Supersede(ctx context.Context, id string) error {
	if err := c.store.Supersede(ctx, id); err != nil {
		return err
	}
	c.logger.Info("Document superseded", zap.String("document_id", id))
	return nil
}

// ApplySuggestions writes metadata without changing the status
func (c *Controller) ApplySuggestions(ctx context.Context, id string, o Overrides) error {
	if cols := o.columns(); len(cols) > 0 {
		cols["updated_at"] = time.Now()
		if err := c.store.UpdateDocument(ctx, id, cols); err != nil {
			return err
		}
	}
	if o.TagIDs != nil {
		return c.store.ReplaceTags(ctx, id, o.TagIDs)
	}
	return nil
}

// ==================== Validation ====================

// restore moves a filed document back to its staging path after a rejected
// validation. When that name is taken the file keeps a suffixed name and the
// stored path follows it.
func (c *Controller) restore(ctx context.Context, doc *store.Document, final string, log *zap.Logger) {
	back, err := custody.Move(final, doc.FilePath)
	if err != nil {
		c.metrics.RecordMoveError()
		log.Error("Failed to restore file after rejected validation",
			zap.String("path", final), zap.Error(err))
		return
	}
	if back == doc.FilePath {
		return
	}
	log.Warn("File restored under a new name", zap.String("path", back))
	if err := c.store.UpdateDocument(ctx, doc.ID, map[string]any{
		"file_path":  back,
		"updated_at": time.Now(),
	}); err != nil {
		log.Error("Failed to record restored path", zap.String("path", back), zap.Error(err))
	}
}

// Validate applies the overrides, moves the file from staging into the
// documents tree and only then records the new path and status. A failed
// move leaves the document untouched; a failed update moves the file back.
func (c *Controller) Validate(ctx context.Context, id string, o Overrides) (*store.Document, error) {
	doc, err := c.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.Status, store.StatusValidated) {
		return nil, apperrors.ErrInvalidTransition.WithCause(
			fmt.Errorf("%s cannot be validated from %s", doc.ID, doc.Status))
	}
	log := c.logger.With(zap.String("document_id", doc.ID))

	rel, err := c.destination(ctx, doc, o)
	if err != nil {
		return nil, err
	}
	target := filepath.Join(c.opts.DocumentsDir, filepath.FromSlash(rel), filepath.Base(doc.FilePath))

	final, err := custody.Move(doc.FilePath, target)
	if err != nil {
		c.metrics.RecordMoveError()
		log.Error("Failed to file document", zap.String("target", target), zap.Error(err))
		return nil, err
	}

	cols := o.columns()
	cols["file_path"] = final
	cols["validated_at"] = time.Now()
	cols["validated_by"] = o.User
	if err := c.Transition(ctx, doc.ID, store.StatusValidated, cols); err != nil {
		c.restore(ctx, doc, final, log)
		return nil, err
	}

	if o.TagIDs != nil {
		if err := c.store.ReplaceTags(ctx, doc.ID, o.TagIDs); err != nil {
			log.Warn("Failed to store tags of validated document", zap.Error(err))
		}
	}

	c.bus.Publish(events.Event{
		Kind:       events.KindValidated,
		DocumentID: doc.ID,
		Status:     string(store.StatusValidated),
		Attributes: map[string]string{"path": final},
	})
	log.Info("Document validated", zap.String("path", final))
	return c.store.GetDocument(ctx, doc.ID)
}

func (c *Controller) destination(ctx context.Context, doc *store.Document, o Overrides) (string, error) {
	if o.Destination != "" {
		rel, err := security.ResolveInside(c.opts.DocumentsDir, o.Destination)
		if err != nil {
			return "", apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("destination %q: %w", o.Destination, err))
		}
		return rel, nil
	}

	attrs, err := c.attributes(ctx, doc, o)
	if err != nil {
		return "", err
	}
	return c.paths.Generate(ctx, attrs)
}

func (c *Controller) attributes(ctx context.Context, doc *store.Document, o Overrides) (pathgen.Attributes, error) {
	attrs := pathgen.Attributes{
		DocumentDate: doc.DocumentDate,
		CreatedAt:    doc.CreatedAt,
		Amount:       doc.Amount,
		Values:       make(map[string]string),
	}
	if o.DocumentDate != nil {
		attrs.DocumentDate = o.DocumentDate
	}
	if o.Amount != nil {
		attrs.Amount = o.Amount
	}

	if o.CorrespondentID != nil {
		corr, err := c.store.GetCorrespondent(ctx, *o.CorrespondentID)
		if err != nil {
			return attrs, err
		}
		attrs.Correspondent = corr.Name
	} else if doc.Correspondent != nil {
		attrs.Correspondent = doc.Correspondent.Name
	}
	if o.DocumentTypeID != nil {
		t, err := c.store.GetDocumentType(ctx, *o.DocumentTypeID)
		if err != nil {
			return attrs, err
		}
		attrs.DocumentType = t.Name
	} else if doc.DocumentType != nil {
		attrs.DocumentType = doc.DocumentType.Name
	}

	values, err := c.store.ListExtractedValues(ctx, doc.ID)
	if err != nil {
		return attrs, err
	}
	if len(values) > 0 {
		fields, err := c.store.ListActiveFields(ctx)
		if err != nil {
			return attrs, err
		}
		codes := make(map[uint]string, len(fields))
		for _, f := range fields {
			codes[f.ID] = f.Code
		}
		for _, v := range values {
			if code, ok := codes[v.FieldID]; ok {
				attrs.Values[code] = v.Value
			}
		}
	}
	return attrs, nil
}
