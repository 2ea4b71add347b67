// Package pathgen builds the relative storage folder of a validated document
package pathgen

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// Fallback is the folder used under the year when nothing else is known
const Fallback = "Divers"

const maxSegment = 100

var (
	forbidden  = regexp.MustCompile(`[<>:"|?*\x00-\x1F/\\]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Attributes are the document values a path may be built from
type Attributes struct {
	DocumentDate  *time.Time
	CreatedAt     time.Time
	Correspondent string
	DocumentType  string
	Amount        *float64
	Values        map[string]string // extracted field values by code
}

// Generator returns a relative, slash-separated storage folder
type Generator interface {
	Generate(ctx context.Context, attrs Attributes) (string, error)
}

// SegmentGenerator joins one sanitized segment per configured code, skipping
// empty ones. Known codes: year, correspondent (supplier), document_type
// (type), amount, date. Any other code reads attrs.Values.
type SegmentGenerator struct {
	segments []string
	now      func() time.Time
}

// DefaultSegments gives Year/Correspondent/Type
var DefaultSegments = []string{"year", "correspondent", "document_type"}

// New creates a generator; nil or empty segments use DefaultSegments
func New(segments []string) *SegmentGenerator {
	if len(segments) == 0 {
		segments = DefaultSegments
	}
	return &SegmentGenerator{segments: segments, now: time.Now}
}

// Generate implements Generator. A path with only the year, or nothing at
// all, falls back to Year/Divers.
func (g *SegmentGenerator) Generate(ctx context.Context, attrs Attributes) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	year := g.year(attrs)
	var parts []string
	informative := false
	for _, code := range g.segments {
		value := g.value(code, attrs, year)
		if value == "" {
			continue
		}
		parts = append(parts, Sanitize(value))
		if code != "year" {
			informative = true
		}
	}

	if !informative {
		return path.Join(year, Fallback), nil
	}
	return path.Join(parts...), nil
}

func (g *SegmentGenerator) year(attrs Attributes) string {
	switch {
	case attrs.DocumentDate != nil:
		return attrs.DocumentDate.Format("2006")
	case !attrs.CreatedAt.IsZero():
		return attrs.CreatedAt.Format("2006")
	default:
		return g.now().Format("2006")
	}
}

func (g *SegmentGenerator) value(code string, attrs Attributes, year string) string {
	switch code {
	case "year":
		return year
	case "correspondent", "supplier":
		return strings.TrimSpace(attrs.Correspondent)
	case "document_type", "type":
		return strings.TrimSpace(attrs.DocumentType)
	case "amount":
		if attrs.Amount == nil {
			return ""
		}
		return fmt.Sprintf("%.2f", *attrs.Amount)
	case "date":
		if attrs.DocumentDate == nil {
			return ""
		}
		return attrs.DocumentDate.Format("2006-01-02")
	default:
		return strings.TrimSpace(attrs.Values[code])
	}
}

// Sanitize makes a value safe as one folder name: forbidden characters and
// separators become "_", whitespace runs become a single "_", and the result
// is capped at 100 runes. Dot-only names become Fallback.
func Sanitize(segment string) string {
	segment = forbidden.ReplaceAllString(segment, "_")
	segment = whitespace.ReplaceAllString(strings.TrimSpace(segment), "_")
	if r := []rune(segment); len(r) > maxSegment {
		segment = string(r[:maxSegment])
	}
	if strings.Trim(segment, ".") == "" {
		return Fallback
	}
	return segment
}
