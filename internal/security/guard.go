// Package security keeps untrusted document text and user paths inside
// their lanes: text going to a model and destinations under the documents
// dir.
package security

// Guard prepares document text for a model prompt
type Guard struct {
	injection *InjectionDetector
	secrets   *SecretScanner
}

func NewGuard() *Guard {
	return &Guard{
		injection: NewInjectionDetector(),
		secrets:   NewSecretScanner(),
	}
}

// Sanitized is document text ready for a prompt
type Sanitized struct {
	Text         string
	DroppedLines int
	Redactions   int
}

// Changed reports whether anything was removed
func (s Sanitized) Changed() bool {
	return s.DroppedLines > 0 || s.Redactions > 0
}

// Sanitize drops instruction-like lines and redacts credentials
func (g *Guard) Sanitize(text string) Sanitized {
	out, dropped := g.injection.Strip(text)
	out, redacted := g.secrets.Redact(out)
	return Sanitized{Text: out, DroppedLines: dropped, Redactions: redacted}
}

var DefaultGuard = NewGuard()

// ForModel sanitizes text with the default guard
func ForModel(text string) Sanitized {
	return DefaultGuard.Sanitize(text)
}
