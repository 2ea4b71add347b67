package scanner

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// headLines is how many leading lines are searched for a document opener
const headLines = 15

var openers = []*regexp.Regexp{
	opener(`facture|invoice|note de crédit|avoir`),
	opener(`contrat|convention|avenant|accord`),
	opener(`attestation|certificat`),
	opener(`jugement|arrêt|ordonnance|décision`),
	regexp.MustCompile(`(?i)^avis\s+(de|d')\s*\S.*$`),
	opener(`relevé|décompte|bulletin de salaire|fiche de salaire`),
	opener(`police d'assurance`),
	opener(`devis|offre|quittance|rappel|sommation|mise en demeure`),
}

// opener matches a line starting with one of the words. Go's \b only knows
// ASCII, so the word end is spelled out.
func opener(words string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^(` + words + `)([\s:,.\-].*)?$`)
}

var (
	scannerPrefix = regexp.MustCompile(`(?i)^(scan|img|image|document|doc|numérisation|copy)(\s+|\d+|$)[\d\s]*`)
	dateStamp     = regexp.MustCompile(`\b(19|20)\d{2}[-_.]?\d{2}[-_.]?\d{2}([-_ ]?\d{2}[-_.]?\d{2}([-_.]?\d{2})?)?\b`)
	spaces        = regexp.MustCompile(`\s+`)
)

// SmartTitle names a document from its text, falling back to its file name.
// An administrative opener line wins, then the first line of 10 to 100
// characters that is not mostly digits, then the cleaned file name.
func SmartTitle(text, filename string) string {
	lines := strings.Split(text, "\n")
	head := lines
	if len(head) > headLines {
		head = head[:headLines]
	}
	for _, line := range head {
		line = clean(line)
		if line == "" || utf8.RuneCountInString(line) > 100 {
			continue
		}
		for _, re := range openers {
			if re.MatchString(line) {
				return line
			}
		}
	}

	for _, line := range lines {
		line = clean(line)
		n := utf8.RuneCountInString(line)
		if n >= 10 && n <= 100 && !mostlyDigits(line) {
			return line
		}
	}

	return TitleFromFilename(filename)
}

// TitleFromFilename strips the extension, scanner prefixes and date stamps
func TitleFromFilename(filename string) string {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = dateStamp.ReplaceAllString(name, " ")
	name = scannerPrefix.ReplaceAllString(strings.TrimSpace(name), "")
	name = clean(name)
	if name == "" || mostlyDigits(name) {
		return "Document"
	}
	return name
}

func clean(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func mostlyDigits(s string) bool {
	var digits, letters int
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	return digits > letters
}
