package classify

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/matcher"
	"github.com/gmsas95/paperflow/internal/splitter"
	"github.com/gmsas95/paperflow/internal/store"
)

// Suggestion is the classification proposal stored on a document
type Suggestion struct {
	Fields        map[string]Result      `json:"fields,omitempty"`
	Split         *splitter.PageAnalysis `json:"split,omitempty"`
	Matched       matcher.MatchedEntity  `json:"matched"`
	Title         string                 `json:"title,omitempty"`
	Date          string                 `json:"date,omitempty"`
	Amount        *float64               `json:"amount,omitempty"`
	SuggestedTags []string               `json:"suggested_tags,omitempty"`
	Confidence    float64                `json:"confidence"`
}

// DocumentDate parses Date
func (s *Suggestion) DocumentDate() *time.Time {
	if t, ok := ParseDate(s.Date); ok {
		return &t
	}
	return nil
}

// Classify extracts every field, resolves entities and stores the
// proposal and its confidence on the document. Extraction failures leave an
// empty proposal rather than an error.
func (c *Cascade) Classify(ctx context.Context, documentID string) (*Suggestion, error) {
	results, err := c.ExtractAll(ctx, documentID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("Extraction failed, proposing empty classification",
			zap.String("document_id", documentID), zap.Error(err))
		results = map[string]Result{}
	}

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

	sug := c.compose(doc, cat, fields, results)
	if err := c.store.UpdateDocument(ctx, doc.ID, map[string]any{
		"suggestion": store.ToJSON(sug),
		"confidence": sug.Confidence,
	}); err != nil {
		return nil, err
	}
	return sug, nil
}

func (c *Cascade) compose(doc *store.Document, cat *store.Catalog, fields []store.ClassificationField, results map[string]Result) *Suggestion {
	sug := &Suggestion{Fields: results, Title: doc.Title}

	var seed splitter.Seed
	if len(doc.Suggestion) > 0 && store.FromJSON(doc.Suggestion, &seed) == nil && seed.Split.Relevant {
		split := seed.Split
		sug.Split = &split
	}

	var cands matcher.Candidates
	for _, f := range fields {
		res, ok := results[f.Code]
		if !ok {
			continue
		}
		switch f.FieldType {
		case store.FieldCorrespondent:
			if cands.Correspondent == "" {
				cands.Correspondent = res.Value
			}
		case store.FieldDocumentType:
			if cands.DocumentType == "" {
				cands.DocumentType = res.Value
			}
		case store.FieldTags:
			for _, t := range strings.Split(res.Value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					cands.Tags = append(cands.Tags, t)
				}
			}
		case store.FieldDate:
			if t, ok := ParseDate(res.Value); ok && sug.Date == "" {
				sug.Date = t.Format("2006-01-02")
			}
		case store.FieldAmount:
			if sug.Amount == nil {
				sug.Amount = splitter.ParseAmount(res.Value)
			}
		}
	}

	if sug.Split != nil {
		if cands.Correspondent == "" {
			cands.Correspondent = sug.Split.Correspondent
		}
		if cands.DocumentType == "" {
			cands.DocumentType = sug.Split.DocumentType
		}
		if sug.Date == "" {
			if t, ok := ParseDate(sug.Split.Date); ok {
				sug.Date = t.Format("2006-01-02")
			}
		}
		if sug.Amount == nil {
			sug.Amount = sug.Split.Amount
		}
	}

	sug.SuggestedTags = SuggestTags(doc.Content)
	cands.Tags = append(cands.Tags, sug.SuggestedTags...)

	matched := c.matcher.Resolve(cands, cat)
	if doc.CorrespondentID != nil {
		matched.CorrespondentID = doc.CorrespondentID
	}
	if doc.DocumentTypeID != nil {
		matched.DocumentTypeID = doc.DocumentTypeID
	}
	sug.Matched = matched.Merge(c.matcher.FindMatches(doc.Title+"\n"+doc.Content, cat))
	sug.Confidence = DocumentConfidence(sug)
	return sug
}

// DocumentConfidence is the fraction of the proposal's five slots that are
// filled: correspondent, type, date, amount and tags.
func DocumentConfidence(sug *Suggestion) float64 {
	filled := 0
	if sug.Matched.CorrespondentID != nil {
		filled++
	}
	if sug.Matched.DocumentTypeID != nil {
		filled++
	}
	if sug.DocumentDate() != nil {
		filled++
	}
	if sug.Amount != nil {
		filled++
	}
	if len(sug.Matched.TagIDs) > 0 {
		filled++
	}
	return float64(filled) / confidenceSlots
}

const confidenceSlots = 5

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
	"2.1.2006",
	"2006/01/02",
	time.RFC3339,
}

// ParseDate reads ISO and day-first European dates
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var yearToken = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

var commonWords = map[string]bool{
	"Le": true, "La": true, "Les": true, "Un": true, "Une": true, "Des": true, "Du": true,
	"De": true, "Et": true, "En": true, "Au": true, "Aux": true, "Ce": true, "Cette": true,
	"Ces": true, "Son": true, "Sa": true, "Ses": true, "Leur": true, "Leurs": true,
	"The": true, "And": true, "For": true,
}

var tagKeywords = []string{
	"Tribunal", "Arrêt", "Jugement", "Contrat", "Convention", "Facture", "Devis",
	"Attestation", "Certificat", "Décision", "Accord", "Ordonnance",
}

// SuggestTags proposes up to ten tag names from content: up to five proper
// nouns, the years mentioned, then known administrative keywords.
func SuggestTags(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var tags []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	nouns := 0
	words := strings.FieldsFunc(content, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if nouns == 5 {
			break
		}
		if !isProperNoun(w) || commonWords[w] || seen[w] {
			continue
		}
		add(w)
		nouns++
	}
	for _, y := range yearToken.FindAllString(content, -1) {
		add(y)
	}
	lower := strings.ToLower(content)
	for _, kw := range tagKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			add(kw)
		}
	}

	if len(tags) > 10 {
		tags = tags[:10]
	}
	return tags
}

// isProperNoun accepts a capital followed by at least two lowercase letters
func isProperNoun(w string) bool {
	runes := []rune(w)
	if len(runes) < 3 || !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
