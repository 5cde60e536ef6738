package settings

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KeyFromUUID renders id in canonical upper-case form for use as a key.
func KeyFromUUID(id uuid.UUID) string {
	return strings.ToUpper(id.String())
}

// Humanize turns a key into a sentence-case label: "darkMode" becomes
// "Dark mode", "max_items" becomes "Max items" and acronyms such as "HTTP"
// keep their case.
func Humanize(key string) string {
	words := splitWords(key)
	if len(words) == 0 {
		return key
	}

	// Casers carry state and are not shared across calls.
	title := cases.Title(language.Und)
	lower := cases.Lower(language.Und)
	for i, w := range words {
		if isAcronym(w) {
			continue
		}
		if i == 0 {
			words[i] = title.String(w)
		} else {
			words[i] = lower.String(w)
		}
	}
	return strings.Join(words, " ")
}

// splitWords breaks camelCase, PascalCase, snake_case, kebab-case and
// dotted keys into words.
func splitWords(s string) []string {
	var words []string
	var cur []rune
	runes := []rune(s)

	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// "darkMode" splits before M; "HTTPProxy" splits before the P
			// that starts "Proxy".
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		case unicode.IsDigit(r) && len(cur) > 0 && !unicode.IsDigit(runes[i-1]):
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func isAcronym(w string) bool {
	if len([]rune(w)) < 2 {
		return false
	}
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}
