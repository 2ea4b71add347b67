// Package splitter detects several documents scanned into one PDF and splits
// them into child documents.
package splitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/custody"
	"github.com/gmsas95/paperflow/internal/documents"
	"github.com/gmsas95/paperflow/internal/events"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/metrics"
	"github.com/gmsas95/paperflow/internal/security"
	"github.com/gmsas95/paperflow/internal/store"
)

const (
	pdfMime        = "application/pdf"
	pagePromptSize = 8000
)

const pageSystemPrompt = `You analyse single pages of multi-page scanned PDFs.
Decide whether a page belongs to a document worth filing and what it is.
Answer ONLY with valid JSON.`

// Options configures the splitter
type Options struct {
	Enabled      bool
	MaxPages     int
	MinPageChars int
	// PendingDir receives the split parts until validation
	PendingDir string
}

// Child is one part created by a split
type Child struct {
	ID       string       `json:"id"`
	Pages    []int        `json:"pages"`
	Analysis PageAnalysis `json:"analysis"`
}

// Outcome describes a performed split
type Outcome struct {
	ParentID string  `json:"parent_id"`
	Children []Child `json:"children"`
}

// Seed is the suggestion blob written on each child
type Seed struct {
	Split PageAnalysis `json:"split"`
}

// Splitter analyses PDFs page by page and splits them along document
// boundaries
type Splitter struct {
	store   *store.Store
	text    documents.TextExtractor
	pages   documents.PageWriter
	ai      llm.Completer
	opts    Options
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a splitter. ai may be nil, which disables splitting.
func New(st *store.Store, text documents.TextExtractor, pages documents.PageWriter, ai llm.Completer, opts Options, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *Splitter {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.MinPageChars <= 0 {
		opts.MinPageChars = 50
	}
	return &Splitter{
		store:   st,
		text:    text,
		pages:   pages,
		ai:      ai,
		opts:    opts,
		bus:     bus,
		metrics: m,
		logger:  logger,
	}
}

// AnalyzeAndSplit splits the document when its pages belong to more than
// one document. A nil outcome means no split. Only a missing document is an
// error; every other failure degrades to no split.
func (s *Splitter) AnalyzeAndSplit(ctx context.Context, documentID string) (*Outcome, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("document_id", doc.ID))
	if doc.MimeType != pdfMime || !s.opts.Enabled || s.ai == nil {
		return nil, nil
	}
	if doc.ParentDocumentID != nil {
		return nil, nil
	}
	if doc.Status != store.StatusImported {
		log.Debug("Split skipped, document already processed", zap.String("status", string(doc.Status)))
		return nil, nil
	}
	if s.ai.Best(ctx) == llm.ProviderNone {
		log.Debug("Split skipped, no AI provider available")
		return nil, nil
	}

	total, err := s.text.CountPages(ctx, doc.FilePath)
	if err != nil {
		log.Warn("Page count failed, not splitting", zap.Error(err))
		return nil, nil
	}
	if total <= 1 {
		return nil, nil
	}

	log.Info("Analysing multi-page PDF", zap.Int("pages", total))
	analyses := s.analyzePages(ctx, doc.FilePath, total)
	if len(analyses) <= 1 {
		log.Info("Not enough page analyses, not splitting", zap.Int("analyses", len(analyses)))
		return nil, nil
	}

	groups := GroupPages(analyses)
	if len(groups) <= 1 {
		return nil, nil
	}
	groups = CoverAllPages(groups, total)

	byPage := make(map[int]PageAnalysis, len(analyses))
	for _, a := range analyses {
		byPage[a.Page] = a
	}

	outcome, err := s.split(ctx, doc, groups, byPage)
	if err != nil {
		log.Warn("Split failed, keeping document whole", zap.Error(err))
		return nil, nil
	}

	s.metrics.RecordSplit(len(outcome.Children))
	s.metrics.RecordTransition(string(store.StatusSplit))
	s.bus.Publish(events.Event{
		Kind:       events.KindSplit,
		DocumentID: doc.ID,
		Status:     string(store.StatusSplit),
		Attributes: map[string]string{"parts": strconv.Itoa(len(outcome.Children))},
	})
	log.Info("Document split", zap.Int("parts", len(outcome.Children)))
	return outcome, nil
}

func (s *Splitter) analyzePages(ctx context.Context, path string, total int) []PageAnalysis {
	limit := total
	if limit > s.opts.MaxPages {
		limit = s.opts.MaxPages
	}

	var out []PageAnalysis
	failures := 0
	for page := 0; page < limit; page++ {
		if ctx.Err() != nil {
			break
		}
		text, err := s.text.ExtractPageText(ctx, path, page)
		if err != nil {
			s.logger.Debug("Page text unavailable", zap.Int("page", page), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if len([]rune(text)) < s.opts.MinPageChars {
			continue
		}

		analysis, err := s.analyzePage(ctx, text, page, total)
		if err != nil {
			failures++
			continue
		}
		if analysis.Relevant {
			out = append(out, *analysis)
		}
	}
	if failures > 0 {
		s.logger.Warn("Some page analyses failed", zap.Int("failed", failures), zap.Int("pages", limit))
	}
	return out
}

type pageAnswer struct {
	Correspondent *string `json:"correspondent"`
	DocumentType  *string `json:"document_type"`
	Date          *string `json:"date"`
	Amount        any     `json:"amount"`
	IsRelevant    *bool   `json:"is_relevant"`
}

func (s *Splitter) analyzePage(ctx context.Context, text string, page, total int) (*PageAnalysis, error) {
	if clean := security.ForModel(text); clean.Changed() {
		s.logger.Warn("Page text sanitized for AI",
			zap.Int("page", page+1),
			zap.Int("dropped_lines", clean.DroppedLines),
			zap.Int("redactions", clean.Redactions))
		text = clean.Text
	}
	if r := []rune(text); len(r) > pagePromptSize {
		text = string(r[:pagePromptSize])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyse page %d of %d of a multi-page PDF and return this JSON object:\n", page+1, total)
	b.WriteString(`{
  "correspondent": "sender or supplier name, or null",
  "document_type": "kind of document (invoice, letter, contract, ...), or null",
  "date": "YYYY-MM-DD or null",
  "amount": numeric amount or null,
  "is_relevant": true or false (false for blank or irrelevant pages)
}`)
	b.WriteString("\n\nPAGE TEXT:\n")
	b.WriteString(text)

	resp, err := s.ai.Complete(ctx, llm.Request{System: pageSystemPrompt, Prompt: b.String(), JSON: true})
	if err != nil {
		return nil, err
	}

	var answer pageAnswer
	if err := llm.DecodeJSON(resp.Text, &answer); err != nil {
		return nil, err
	}

	a := &PageAnalysis{
		Page:          page,
		Text:          text,
		Correspondent: deref(answer.Correspondent),
		DocumentType:  deref(answer.DocumentType),
		Date:          deref(answer.Date),
		Amount:        ParseAmount(answer.Amount),
		Relevant:      answer.IsRelevant != nil && *answer.IsRelevant,
	}
	return a, nil
}

func (s *Splitter) split(ctx context.Context, doc *store.Document, groups [][]int, byPage map[int]PageAnalysis) (*Outcome, error) {
	tmp, err := os.MkdirTemp("", "paperflow-split-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	base := strings.TrimSuffix(doc.OriginalFilename, filepath.Ext(doc.OriginalFilename))
	if base == "" {
		base = doc.ID
	}

	var moved []string
	cleanup := func() {
		for _, p := range moved {
			os.Remove(p)
		}
	}

	children := make([]*store.Document, 0, len(groups))
	seeds := make([]PageAnalysis, 0, len(groups))
	for i, group := range groups {
		name := fmt.Sprintf("%s_part%d.pdf", base, i+1)
		part := filepath.Join(tmp, name)
		if err := s.pages.ExtractPages(ctx, doc.FilePath, part, group); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to write part %d: %w", i+1, err)
		}
		sum, err := custody.MD5File(part)
		if err != nil {
			cleanup()
			return nil, err
		}
		final, err := custody.Move(part, filepath.Join(s.opts.PendingDir, name))
		if err != nil {
			s.metrics.RecordMoveError()
			cleanup()
			return nil, err
		}
		moved = append(moved, final)

		var size int64
		if info, err := os.Stat(final); err == nil {
			size = info.Size()
		}

		content, err := s.text.ExtractText(ctx, final)
		if err != nil {
			s.logger.Debug("Part text unavailable, using analysed pages", zap.String("part", name), zap.Error(err))
			content = groupText(group, byPage)
		}

		seed := firstAnalysis(group, byPage)
		seeds = append(seeds, seed)
		children = append(children, &store.Document{
			Checksum:         sum,
			OriginalFilename: filepath.Base(final),
			Title:            fmt.Sprintf("%s (pages %d-%d)", base, group[0]+1, group[len(group)-1]+1),
			FilePath:         final,
			MimeType:         pdfMime,
			FileSize:         size,
			Content:          strings.ToValidUTF8(content, ""),
			Status:           store.StatusPending,
			SplitPageRange:   store.ToJSON(group),
			Suggestion:       store.ToJSON(Seed{Split: seed}),
		})
	}

	created, skipped, err := s.store.RecordSplit(ctx, doc.ID, children)
	if err != nil {
		cleanup()
		return nil, err
	}
	for _, dup := range skipped {
		s.logger.Info("Split part already archived, dropping it",
			zap.String("document_id", doc.ID),
			zap.String("checksum", dup.Checksum))
		os.Remove(dup.FilePath)
	}

	outcome := &Outcome{ParentID: doc.ID}
	for i, child := range children {
		for _, c := range created {
			if c == child {
				outcome.Children = append(outcome.Children, Child{
					ID:       child.ID,
					Pages:    groups[i],
					Analysis: seeds[i],
				})
			}
		}
	}
	return outcome, nil
}

// CoverAllPages assigns pages that were not analysed (blank, irrelevant or
// past the page cap) to the group of the closest preceding analysed page,
// or to the first group when they come first. Groups stay sorted.
func CoverAllPages(groups [][]int, total int) [][]int {
	if len(groups) == 0 {
		return groups
	}
	owner := make(map[int]int)
	for gi, g := range groups {
		for _, p := range g {
			owner[p] = gi
		}
	}

	out := make([][]int, len(groups))
	for i := range groups {
		out[i] = append([]int{}, groups[i]...)
	}
	current := 0
	for p := 0; p < total; p++ {
		if gi, ok := owner[p]; ok {
			current = gi
			continue
		}
		out[current] = append(out[current], p)
	}
	for i := range out {
		sort.Ints(out[i])
	}
	return out
}

// ParseAmount reads a number or a numeric string such as "1'234,50"
func ParseAmount(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		s := strings.TrimSpace(x)
		s = strings.NewReplacer(" ", "", "'", "", "\u00a0", "").Replace(s)
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
		s = strings.TrimRight(strings.TrimLeft(s, "€$CHFEUR"), "€$CHFEUR")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func groupText(group []int, byPage map[int]PageAnalysis) string {
	var parts []string
	for _, p := range group {
		if a, ok := byPage[p]; ok {
			parts = append(parts, a.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func firstAnalysis(group []int, byPage map[int]PageAnalysis) PageAnalysis {
	for _, p := range group {
		if a, ok := byPage[p]; ok {
			return a
		}
	}
	return PageAnalysis{Page: group[0]}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
