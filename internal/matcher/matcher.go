// Package matcher resolves free-text classification output to catalog rows
package matcher

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/store"
)

// MatchedEntity is the catalog resolution of one document's results
type MatchedEntity struct {
	CorrespondentID *uint  `json:"correspondent_id,omitempty"`
	DocumentTypeID  *uint  `json:"document_type_id,omitempty"`
	TagIDs          []uint `json:"tag_ids,omitempty"`
}

// Empty reports whether nothing was resolved
func (m MatchedEntity) Empty() bool {
	return m.CorrespondentID == nil && m.DocumentTypeID == nil && len(m.TagIDs) == 0
}

// Merge fills unset parts of m from other and unions the tags
func (m MatchedEntity) Merge(other MatchedEntity) MatchedEntity {
	out := m
	if out.CorrespondentID == nil {
		out.CorrespondentID = other.CorrespondentID
	}
	if out.DocumentTypeID == nil {
		out.DocumentTypeID = other.DocumentTypeID
	}
	out.TagIDs = appendUnique(append([]uint{}, m.TagIDs...), other.TagIDs...)
	return out
}

// Candidates are the free-text values to resolve
type Candidates struct {
	Correspondent string
	DocumentType  string
	Tags          []string
}

// Matcher maps names and content onto a catalog snapshot
type Matcher struct {
	logger *zap.Logger
}

// New creates a matcher
func New(logger *zap.Logger) *Matcher {
	return &Matcher{logger: logger}
}

type named struct {
	id   uint
	name string
}

// Resolve maps each candidate onto the catalog. Correspondent and type take
// the best single match; every tag candidate contributes at most one tag.
func (m *Matcher) Resolve(c Candidates, cat *store.Catalog) MatchedEntity {
	var out MatchedEntity
	if cat == nil {
		return out
	}

	if id, ok := bestNamed(c.Correspondent, correspondentNames(cat)); ok {
		out.CorrespondentID = &id
	}
	if id, ok := bestNamed(c.DocumentType, typeNames(cat)); ok {
		out.DocumentTypeID = &id
	}
	tags := tagNames(cat)
	for _, t := range c.Tags {
		if id, ok := bestNamed(t, tags); ok {
			out.TagIDs = appendUnique(out.TagIDs, id)
		}
	}

	m.logger.Debug("entities resolved",
		zap.String("correspondent", c.Correspondent),
		zap.String("document_type", c.DocumentType),
		zap.Bool("correspondent_matched", out.CorrespondentID != nil),
		zap.Bool("type_matched", out.DocumentTypeID != nil),
		zap.Int("tags", len(out.TagIDs)))
	return out
}

// ResolveCorrespondent maps one name to a correspondent id
func (m *Matcher) ResolveCorrespondent(name string, cat *store.Catalog) *uint {
	if cat == nil {
		return nil
	}
	if id, ok := bestNamed(name, correspondentNames(cat)); ok {
		return &id
	}
	return nil
}

// ResolveDocumentType maps one name to a document type id
func (m *Matcher) ResolveDocumentType(name string, cat *store.Catalog) *uint {
	if cat == nil {
		return nil
	}
	if id, ok := bestNamed(name, typeNames(cat)); ok {
		return &id
	}
	return nil
}

// FindMatches runs every entity's own matching rule over content. The first
// matching correspondent and type win; all matching tags are returned.
func (m *Matcher) FindMatches(content string, cat *store.Catalog) MatchedEntity {
	var out MatchedEntity
	if cat == nil || strings.TrimSpace(content) == "" {
		return out
	}

	for _, c := range cat.Correspondents {
		if m.matches(content, c.MatchingAlgorithm, c.Match, c.CaseSensitive, "correspondent", c.Name) {
			id := c.ID
			out.CorrespondentID = &id
			break
		}
	}
	for _, t := range cat.DocumentTypes {
		if m.matches(content, t.MatchingAlgorithm, t.Match, t.CaseSensitive, "document_type", t.Name) {
			id := t.ID
			out.DocumentTypeID = &id
			break
		}
	}
	for _, t := range cat.Tags {
		if m.matches(content, t.MatchingAlgorithm, t.Match, t.CaseSensitive, "tag", t.Name) {
			out.TagIDs = appendUnique(out.TagIDs, t.ID)
		}
	}
	return out
}

func (m *Matcher) matches(content, algorithm, pattern string, caseSensitive bool, kind, name string) bool {
	if pattern == "" {
		return false
	}
	if algorithm == store.MatchRegex {
		if _, err := CompilePattern(strings.TrimSpace(pattern), !caseSensitive); err != nil {
			m.logger.Warn("invalid matching pattern",
				zap.String("kind", kind),
				zap.String("name", name),
				zap.String("pattern", pattern),
				zap.Error(err))
			return false
		}
	}
	return Match(content, algorithm, pattern, caseSensitive)
}

// BestOption maps a free-text value onto one of options: case-insensitive
// equality first, then whole-word containment either way, then the option
// sharing the most words. Ties keep the earlier option.
func BestOption(value string, options []string) (string, bool) {
	list := make([]named, len(options))
	for i, o := range options {
		list[i] = named{id: uint(i), name: o}
	}
	idx, ok := bestNamed(value, list)
	if !ok {
		return "", false
	}
	return options[idx], true
}

func bestNamed(value string, list []named) (uint, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || len(list) == 0 {
		return 0, false
	}

	for _, n := range list {
		if strings.ToLower(strings.TrimSpace(n.name)) == v {
			return n.id, true
		}
	}
	for _, n := range list {
		name := strings.ToLower(strings.TrimSpace(n.name))
		if name == "" {
			continue
		}
		if containsWords(name, v) || containsWords(v, name) {
			return n.id, true
		}
	}

	valueWords := significantWords(v)
	if len(valueWords) == 0 {
		return 0, false
	}
	var bestID uint
	bestScore := 0
	for _, n := range list {
		score := 0
		for w := range significantWords(strings.ToLower(n.name)) {
			if _, ok := valueWords[w]; ok {
				score++
			}
		}
		if score > bestScore {
			bestID, bestScore = n.id, score
		}
	}
	return bestID, bestScore > 0
}

// containsWords reports whether the words of needle appear as a contiguous
// run of whole words in haystack
func containsWords(haystack, needle string) bool {
	h, n := splitWords(haystack), splitWords(needle)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// significantWords drops words shorter than three runes
func significantWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range splitWords(s) {
		if len([]rune(w)) >= 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

func correspondentNames(cat *store.Catalog) []named {
	out := make([]named, len(cat.Correspondents))
	for i, c := range cat.Correspondents {
		out[i] = named{id: c.ID, name: c.Name}
	}
	return out
}

func typeNames(cat *store.Catalog) []named {
	out := make([]named, len(cat.DocumentTypes))
	for i, t := range cat.DocumentTypes {
		out[i] = named{id: t.ID, name: t.Name}
	}
	return out
}

func tagNames(cat *store.Catalog) []named {
	out := make([]named, len(cat.Tags))
	for i, t := range cat.Tags {
		out[i] = named{id: t.ID, name: t.Name}
	}
	return out
}

func appendUnique(ids []uint, more ...uint) []uint {
	for _, id := range more {
		seen := false
		for _, existing := range ids {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			ids = append(ids, id)
		}
	}
	return ids
}
