// Package pipeline ties scanning, splitting, classification and the
// document lifecycle into the operations exposed by the command line.
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/classify"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/lifecycle"
	"github.com/gmsas95/paperflow/internal/scanner"
	"github.com/gmsas95/paperflow/internal/splitter"
	"github.com/gmsas95/paperflow/internal/store"
)

// AutoUser signs validations made without a human
const AutoUser = "auto"

// Options configures the service
type Options struct {
	// AutoFile validates auto_validated documents right away
	AutoFile bool
}

// Service is the operational surface of paperflow
type Service struct {
	store     *store.Store
	scanner   *scanner.Scanner
	splitter  *splitter.Splitter
	cascade   *classify.Cascade
	lifecycle *lifecycle.Controller
	opts      Options
	logger    *zap.Logger
}

// New creates the service. The scanner is attached with AttachScanner since
// it calls back into Process.
func New(st *store.Store, sp *splitter.Splitter, c *classify.Cascade, lc *lifecycle.Controller, opts Options, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		splitter:  sp,
		cascade:   c,
		lifecycle: lc,
		opts:      opts,
		logger:    logger,
	}
}

// AttachScanner sets the scanner used by Scan
func (s *Service) AttachScanner(sc *scanner.Scanner) {
	s.scanner = sc
}

// Scan imports the watch folder
func (s *Service) Scan(ctx context.Context) (*scanner.Report, error) {
	return s.scanner.Scan(ctx)
}

// Process runs the split and classification of a freshly imported
// document. It implements scanner.Processor.
func (s *Service) Process(ctx context.Context, documentID string) error {
	outcome, err := s.splitter.AnalyzeAndSplit(ctx, documentID)
	if err != nil {
		return err
	}
	if outcome == nil {
		return s.classify(ctx, documentID)
	}

	var errs []error
	for _, child := range outcome.Children {
		if err := s.classify(ctx, child.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AnalyzeAndSplit splits a multi-document PDF; nil means no split
func (s *Service) AnalyzeAndSplit(ctx context.Context, documentID string) (*splitter.Outcome, error) {
	return s.splitter.AnalyzeAndSplit(ctx, documentID)
}

// ExtractAll runs the cascade over every active field
func (s *Service) ExtractAll(ctx context.Context, documentID string) (map[string]classify.Result, error) {
	return s.cascade.ExtractAll(ctx, documentID)
}

// ApplySuggestions writes the stored suggestion of a document onto it
func (s *Service) ApplySuggestions(ctx context.Context, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	var sug classify.Suggestion
	if len(doc.Suggestion) == 0 || store.FromJSON(doc.Suggestion, &sug) != nil {
		return nil
	}
	return s.lifecycle.ApplySuggestions(ctx, documentID, Overrides(&sug))
}

// Validate files a document with optional human overrides
func (s *Service) Validate(ctx context.Context, documentID string, o lifecycle.Overrides) (*store.Document, error) {
	return s.lifecycle.Validate(ctx, documentID, o)
}

// Reprocess runs the pipeline again on a failed document
func (s *Service) Reprocess(ctx context.Context, documentID string) error {
	if err := s.lifecycle.Reprocess(ctx, documentID); err != nil {
		return err
	}
	return s.Process(ctx, documentID)
}

// Confirm approves an extracted value
func (s *Service) Confirm(ctx context.Context, documentID, fieldCode, user string) error {
	return s.cascade.Confirm(ctx, documentID, fieldCode, user)
}

// Correct replaces an extracted value
func (s *Service) Correct(ctx context.Context, documentID, fieldCode, value, user string) error {
	return s.cascade.Correct(ctx, documentID, fieldCode, value, user)
}

// Suggestions lists learned values of a field
func (s *Service) Suggestions(ctx context.Context, fieldCode string, correspondentID *uint, limit int) ([]store.ExtractionHistory, error) {
	return s.cascade.Suggestions(ctx, fieldCode, correspondentID, limit)
}

// Supersede soft-deletes a document so its file can be imported again
func (s *Service) Supersede(ctx context.Context, documentID string) error {
	return s.lifecycle.Supersede(ctx, documentID)
}

func (s *Service) classify(ctx context.Context, documentID string) error {
	log := s.logger.With(zap.String("document_id", documentID))

	sug, err := s.cascade.Classify(ctx, documentID)
	if err != nil {
		if ctx.Err() == nil {
			if failErr := s.lifecycle.Fail(ctx, documentID, err); failErr != nil {
				log.Error("Failed to record classification failure", zap.Error(failErr))
			}
		}
		return err
	}

	status, err := s.lifecycle.Classified(ctx, documentID, sug.Confidence)
	if err != nil {
		return err
	}
	if status != store.StatusAutoValidated {
		return nil
	}

	if err := s.lifecycle.ApplySuggestions(ctx, documentID, Overrides(sug)); err != nil {
		return err
	}
	if !s.opts.AutoFile {
		return nil
	}
	if _, err := s.lifecycle.Validate(ctx, documentID, lifecycle.Overrides{User: AutoUser}); err != nil {
		if errors.Is(err, apperrors.ErrFileMove) {
			log.Warn("Auto filing failed, document stays auto_validated", zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// Overrides turns a suggestion into lifecycle values
func Overrides(sug *classify.Suggestion) lifecycle.Overrides {
	o := lifecycle.Overrides{
		CorrespondentID: sug.Matched.CorrespondentID,
		DocumentTypeID:  sug.Matched.DocumentTypeID,
		DocumentDate:    sug.DocumentDate(),
		Amount:          sug.Amount,
	}
	if len(sug.Matched.TagIDs) > 0 {
		o.TagIDs = sug.Matched.TagIDs
	}
	return o
}
