package splitter

import (
	"strings"
	"time"
)

// PageAnalysis is the AI reading of one PDF page. Page is 0-based.
type PageAnalysis struct {
	Page          int      `json:"page"`
	Text          string   `json:"-"`
	Correspondent string   `json:"correspondent,omitempty"`
	DocumentType  string   `json:"document_type,omitempty"`
	Date          string   `json:"date,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Relevant      bool     `json:"is_relevant"`
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"02.01.2006",
	"2006/01/02",
}

// SameDocument reports whether candidate b continues the document whose
// first page is a. A conflicting correspondent, type or date (more than one
// day apart) is a boundary. Otherwise a shared correspondent is enough; a
// single known correspondent needs one more agreeing signal; without any
// correspondent only an equal type keeps the pages together.
func SameDocument(a, b PageAnalysis) bool {
	corrA, corrB := normalize(a.Correspondent), normalize(b.Correspondent)
	typeA, typeB := normalize(a.DocumentType), normalize(b.DocumentType)

	if corrA != "" && corrB != "" && corrA != corrB {
		return false
	}
	if typeA != "" && typeB != "" && typeA != typeB {
		return false
	}

	dateA, okA := parseDate(a.Date)
	dateB, okB := parseDate(b.Date)
	datesClose := false
	if okA && okB {
		diff := dateA.Sub(dateB)
		if diff < 0 {
			diff = -diff
		}
		if diff > 24*time.Hour {
			return false
		}
		datesClose = true
	}

	typesEqual := typeA != "" && typeA == typeB

	switch {
	case corrA != "" && corrB != "":
		return true
	case corrA != "" || corrB != "":
		return typesEqual || datesClose
	default:
		return typesEqual
	}
}

// GroupPages folds consecutive analyses into documents. Each candidate is
// compared with the first page of the current group.
func GroupPages(analyses []PageAnalysis) [][]int {
	var groups [][]int
	var anchor PageAnalysis
	var current []int

	for i, p := range analyses {
		if i == 0 {
			anchor, current = p, []int{p.Page}
			continue
		}
		if SameDocument(anchor, p) {
			current = append(current, p.Page)
			continue
		}
		groups = append(groups, current)
		anchor, current = p, []int{p.Page}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "null" || s == "none" || s == "n/a" {
		return ""
	}
	return s
}

func parseDate(s string) (time.Time, bool) {
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
