package security

import (
	"regexp"
	"strings"
)

// InjectionDetector flags lines of document text that read as instructions
// to the model rather than document content
type InjectionDetector struct {
	literals []string
	regexes  []*regexp.Regexp
}

var injectionLiterals = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard all previous",
	"forget all previous",
	"ignore the above",
	"disregard the above",
	"your new instructions",
	"system override",
	"developer mode",
	"ignorez les instructions",
	"oubliez les instructions",
}

var injectionRegexes = []string{
	`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?|directives?)`,
	`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
	`(?i)forget\s+(all\s+)?(previous|above)\s+(instructions?|context)`,
	`(?i)you\s+are\s+now\s+(a|an)\s+\w+`,
	`(?i)(pretend|act)\s+(that\s+)?you\s+are`,
	`(?i)(override|bypass)\s+(all\s+)?(rules?|restrictions?|filters?)`,
	`(?i)system:\s*you\s+must`,
	`<\|[a-z_]+\|>`,
	`(?i)\[/?system\]`,
	`(?i)###\s*(instruction|system)`,
	`(?i)(respond|answer|reply)\s+(only\s+)?with\s+"?is_relevant`,
}

func NewInjectionDetector() *InjectionDetector {
	d := &InjectionDetector{
		literals: make([]string, len(injectionLiterals)),
		regexes:  make([]*regexp.Regexp, 0, len(injectionRegexes)),
	}
	for i, lit := range injectionLiterals {
		d.literals[i] = strings.ToLower(lit)
	}
	for _, pattern := range injectionRegexes {
		d.regexes = append(d.regexes, regexp.MustCompile(pattern))
	}
	return d
}

// Detect reports whether line looks like a prompt injection
func (d *InjectionDetector) Detect(line string) bool {
	lower := strings.ToLower(line)
	for _, lit := range d.literals {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, re := range d.regexes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Strip drops the flagged lines from text and returns how many went
func (d *InjectionDetector) Strip(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	dropped := 0
	for _, line := range lines {
		if d.Detect(line) {
			dropped++
			continue
		}
		kept = append(kept, line)
	}
	if dropped == 0 {
		return text, 0
	}
	return strings.Join(kept, "\n"), dropped
}
