package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gmsas95/paperflow/internal/store"
)

// FuzzyThreshold is the minimum similarity percent for the fuzzy algorithm
const FuzzyThreshold = 70.0

var delimitedPattern = regexp.MustCompile(`^/(.*)/([a-zA-Z]*)$`)

// Match reports whether content satisfies pattern under algorithm.
// An empty pattern never matches; an unknown algorithm behaves as "any".
func Match(content, algorithm, pattern string, caseSensitive bool) bool {
	content = strings.TrimSpace(content)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || algorithm == store.MatchNone {
		return false
	}
	if !caseSensitive && algorithm != store.MatchRegex {
		content = strings.ToLower(content)
		pattern = strings.ToLower(pattern)
	}

	switch algorithm {
	case store.MatchAll:
		words := splitWords(pattern)
		for _, w := range words {
			if !strings.Contains(content, w) {
				return false
			}
		}
		return len(words) > 0
	case store.MatchExact:
		return strings.Contains(content, pattern)
	case store.MatchRegex:
		re, err := CompilePattern(pattern, !caseSensitive)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	case store.MatchFuzzy:
		return fuzzyReachable(content, pattern) && SimilarityPercent(content, pattern) >= FuzzyThreshold
	default:
		for _, w := range splitWords(pattern) {
			if strings.Contains(content, w) {
				return true
			}
		}
		return false
	}
}

// CompilePattern compiles a RE2 pattern. PCRE-style /pattern/flags input is
// unwrapped and the i, m, s and U flags become inline flags; others are
// dropped.
func CompilePattern(pattern string, insensitive bool) (*regexp.Regexp, error) {
	flags := ""
	if m := delimitedPattern.FindStringSubmatch(pattern); m != nil {
		pattern = m[1]
		for _, f := range m[2] {
			switch f {
			case 'i', 'm', 's', 'U':
				if !strings.ContainsRune(flags, f) {
					flags += string(f)
				}
			}
		}
	}
	if insensitive && !strings.ContainsRune(flags, 'i') {
		flags += "i"
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// splitWords replaces punctuation with spaces and splits on whitespace
func splitWords(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Fields(cleaned)
}

// SimilarityPercent is 2*common/(len(a)+len(b))*100 where common is the
// recursive longest-common-substring count over runes.
func SimilarityPercent(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return float64(similarRunes(ra, rb)*200) / float64(total)
}

// fuzzyReachable reports whether the length ratio still allows the
// threshold. The common count can never exceed the shorter string.
func fuzzyReachable(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	short := la
	if lb < short {
		short = lb
	}
	if la+lb == 0 {
		return false
	}
	return float64(short*200)/float64(la+lb) >= FuzzyThreshold
}

// SimilarText returns the number of matching runes between a and b
func SimilarText(a, b string) int {
	return similarRunes([]rune(a), []rune(b))
}

func similarRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	pos1, pos2, n := longestCommon(a, b)
	if n == 0 {
		return 0
	}
	return n +
		similarRunes(a[:pos1], b[:pos2]) +
		similarRunes(a[pos1+n:], b[pos2+n:])
}

// longestCommon finds the first longest common substring
func longestCommon(a, b []rune) (pos1, pos2, n int) {
	for i := range a {
		for j := range b {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > n {
				pos1, pos2, n = i, j, k
			}
		}
	}
	return pos1, pos2, n
}
