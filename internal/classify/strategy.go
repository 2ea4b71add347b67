package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/matcher"
	"github.com/gmsas95/paperflow/internal/security"
	"github.com/gmsas95/paperflow/internal/store"
)

// Source tells which stage produced a value
type Source string

const (
	SourceHistory Source = "history"
	SourceRules   Source = "rules"
	SourceAI      Source = "ai"
	SourceRegex   Source = "regex"
	SourceManual  Source = store.ManualSource
)

// Fixed confidences per stage
const (
	RulesConfidence  = 1.0
	AIConfidence     = 0.75
	RegexConfidence  = 0.70
	ManualConfidence = 1.0
)

const (
	minAIContent   = 50
	aiContentChars = 4000
	maxValueLen    = 500
)

// Result is one field's extracted value
type Result struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Input is what a strategy may look at for one document
type Input struct {
	Document          *store.Document
	Content           string
	Attributes        map[string]any
	CorrespondentID   *uint
	DocumentTypeID    *uint
	CorrespondentName string
	DocumentTypeName  string
}

// Strategy is one stage of the cascade
type Strategy interface {
	Name() Source
	Applies(field *store.ClassificationField) bool
	// Extract returns nil when the stage has no answer
	Extract(ctx context.Context, field *store.ClassificationField, in *Input) (*Result, error)
}

// ==================== History ====================

type historyStrategy struct {
	store         *store.Store
	minConfidence float64
}

func (s *historyStrategy) Name() Source { return SourceHistory }

func (s *historyStrategy) Applies(f *store.ClassificationField) bool { return f.UseHistory }

func (s *historyStrategy) Extract(ctx context.Context, f *store.ClassificationField, in *Input) (*Result, error) {
	if in.CorrespondentID == nil {
		return nil, nil
	}
	h, err := s.store.TopHistory(ctx, f.ID, *in.CorrespondentID, in.DocumentTypeID)
	if err != nil || h == nil {
		return nil, err
	}
	if h.Confidence < s.minConfidence {
		return nil, nil
	}
	return &Result{Value: h.Value, Confidence: h.Confidence, Source: SourceHistory}, nil
}

// ==================== Rules ====================

type rulesStrategy struct{}

func (rulesStrategy) Name() Source { return SourceRules }

func (rulesStrategy) Applies(f *store.ClassificationField) bool {
	return f.UseRules && len(f.Rules) > 0
}

func (rulesStrategy) Extract(ctx context.Context, f *store.ClassificationField, in *Input) (*Result, error) {
	for _, rule := range f.RuleList() {
		if rule.Then == "" || len(rule.If) == 0 {
			continue
		}
		if ruleMatches(rule, in.Attributes) {
			return &Result{Value: rule.Then, Confidence: RulesConfidence, Source: SourceRules}, nil
		}
	}
	return nil, nil
}

// ruleMatches requires every condition to hold. A list condition holds when
// the attribute equals one of its items.
func ruleMatches(rule store.Rule, attrs map[string]any) bool {
	for key, expected := range rule.If {
		actual, ok := attrs[key]
		if !ok || actual == nil {
			return false
		}
		switch want := expected.(type) {
		case []any:
			found := false
			for _, item := range want {
				if sameValue(actual, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !sameValue(actual, want) {
				return false
			}
		}
	}
	return true
}

func sameValue(a, b any) bool {
	return strings.EqualFold(strings.TrimSpace(fmt.Sprint(a)), strings.TrimSpace(fmt.Sprint(b)))
}

// ==================== AI ====================

const aiSystemPrompt = "You extract information from documents. Answer concisely with the requested value only, never a full sentence."

type aiStrategy struct {
	ai     llm.Completer
	logger *zap.Logger
}

func (s *aiStrategy) Name() Source { return SourceAI }

func (s *aiStrategy) Applies(f *store.ClassificationField) bool {
	return f.UseAI && strings.TrimSpace(f.AIPrompt) != "" && s.ai != nil
}

func (s *aiStrategy) Extract(ctx context.Context, f *store.ClassificationField, in *Input) (*Result, error) {
	content := strings.TrimSpace(in.Content)
	if utf8.RuneCountInString(content) < minAIContent {
		return nil, nil
	}

	clean := security.ForModel(content)
	if clean.Changed() {
		s.logger.Warn("Document text sanitized for AI",
			zap.String("document_id", in.Document.ID),
			zap.Int("dropped_lines", clean.DroppedLines),
			zap.Int("redactions", clean.Redactions))
	}

	resp, err := s.ai.Complete(ctx, llm.Request{System: aiSystemPrompt, Prompt: buildPrompt(f, in, clean.Text)})
	if err != nil {
		return nil, err
	}

	value := CleanAIValue(resp.Text)
	if f.IsSelect() {
		mapped, ok := mapOptions(value, f)
		if !ok {
			s.logger.Debug("AI value outside field options",
				zap.String("field", f.Code), zap.String("value", value))
			return nil, nil
		}
		value = mapped
	}
	if value == "" || len(value) >= maxValueLen {
		return nil, nil
	}
	return &Result{Value: value, Confidence: AIConfidence, Source: SourceAI}, nil
}

func buildPrompt(f *store.ClassificationField, in *Input, content string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(f.AIPrompt))
	if opts := f.OptionList(); f.IsSelect() && len(opts) > 0 {
		b.WriteString("\n\nValid values: ")
		b.WriteString(strings.Join(opts, ", "))
	}

	b.WriteString("\n\nDocument: ")
	title := in.Document.Title
	if title == "" {
		title = in.Document.OriginalFilename
	}
	if title == "" {
		title = "Untitled"
	}
	b.WriteString(title)
	if in.CorrespondentName != "" {
		b.WriteString("\nCorrespondent: " + in.CorrespondentName)
	}
	if in.DocumentTypeName != "" {
		b.WriteString("\nType: " + in.DocumentTypeName)
	}

	if r := []rune(content); len(r) > aiContentChars {
		content = string(r[:aiContentChars])
	}
	b.WriteString("\n\nDocument content:\n")
	b.WriteString(content)
	return b.String()
}

// mapOptions maps a value onto the field's options; multi-select values are
// mapped item by item
func mapOptions(value string, f *store.ClassificationField) (string, bool) {
	options := f.OptionList()
	if len(options) == 0 {
		return value, value != ""
	}
	if f.FieldType != store.FieldMultiSelect {
		return matcher.BestOption(value, options)
	}

	var picked []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		if opt, ok := matcher.BestOption(part, options); ok && !seen[opt] {
			seen[opt] = true
			picked = append(picked, opt)
		}
	}
	return strings.Join(picked, ", "), len(picked) > 0
}

var leadingArticle = regexp.MustCompile(`(?i)^(le |la |les |l'|l’|the |an |a |un |une )`)

// CleanAIValue reduces a model answer to a bare value: fences, a JSON
// {"value": ...} wrapper, quotes, trailing punctuation and leading articles
// are removed and only the first non-empty line is kept.
func CleanAIValue(text string) string {
	text = llm.StripFences(text)

	var wrapped struct {
		Value any `json:"value"`
	}
	if strings.HasPrefix(text, "{") && llm.DecodeJSON(text, &wrapped) == nil && wrapped.Value != nil {
		switch v := wrapped.Value.(type) {
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			text = strings.Join(parts, ", ")
		case float64:
			text = strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
		default:
			text = fmt.Sprint(v)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			text = line
			break
		}
	}
	text = strings.Trim(strings.TrimSpace(text), ".\"'`")
	text = leadingArticle.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.Trim(text, ".\"'`"))
}

// ==================== Regex ====================

type regexStrategy struct {
	logger *zap.Logger
}

func (s *regexStrategy) Name() Source { return SourceRegex }

func (s *regexStrategy) Applies(f *store.ClassificationField) bool {
	return f.UseRegex && strings.TrimSpace(f.RegexPattern) != ""
}

func (s *regexStrategy) Extract(ctx context.Context, f *store.ClassificationField, in *Input) (*Result, error) {
	re, err := matcher.CompilePattern(strings.TrimSpace(f.RegexPattern), false)
	if err != nil {
		s.logger.Warn("Invalid regex pattern",
			zap.String("field", f.Code),
			zap.String("pattern", f.RegexPattern),
			zap.Error(err))
		return nil, nil
	}

	m := re.FindStringSubmatch(in.Content)
	if m == nil {
		return nil, nil
	}
	value := m[0]
	if len(m) > 1 && m[1] != "" {
		value = m[1]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	return &Result{Value: value, Confidence: RegexConfidence, Source: SourceRegex}, nil
}
