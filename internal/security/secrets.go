package security

import (
	"regexp"
)

// SecretScanner redacts credentials that scanned documents sometimes carry,
// such as API keys printed on onboarding letters
type SecretScanner struct {
	patterns []secretPattern
}

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

var defaultSecretPatterns = []struct {
	name       string
	pattern    string
	redactWith string
}{
	{"AWS Access Key", `AKIA[0-9A-Z]{16}`, "[AWS_KEY]"},
	{"GitHub Token", `gh[pousr]_[0-9a-zA-Z]{36}`, "[GITHUB_TOKEN]"},
	{"Stripe Key", `[sr]k_live_[0-9a-zA-Z]{24}`, "[STRIPE_KEY]"},
	{"Google API Key", `AIza[0-9A-Za-z\-_]{35}`, "[GOOGLE_KEY]"},
	{"OpenAI API Key", `sk-(proj-)?[a-zA-Z0-9_\-]{32,}`, "[OPENAI_KEY]"},
	{"Private Key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, "[PRIVATE_KEY]"},
	{"JWT Token", `eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "[JWT]"},
	{"Password", `(?i)(password|passwort|mot de passe|passwd|pwd)\s*[:=]\s*\S{6,}`, "[PASSWORD]"},
	{"Database URL", `(?i)(postgres|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`, "[DB_URL]"},
}

func NewSecretScanner() *SecretScanner {
	s := &SecretScanner{patterns: make([]secretPattern, 0, len(defaultSecretPatterns))}
	for _, p := range defaultSecretPatterns {
		s.patterns = append(s.patterns, secretPattern{
			name:       p.name,
			regex:      regexp.MustCompile(p.pattern),
			redactWith: p.redactWith,
		})
	}
	return s
}

// Redact replaces every match and returns the count
func (s *SecretScanner) Redact(input string) (string, int) {
	count := 0
	for _, p := range s.patterns {
		input = p.regex.ReplaceAllStringFunc(input, func(string) string {
			count++
			return p.redactWith
		})
	}
	return input, count
}
