// internal/repository/slug.go
package repository

import (
	"strings"
	"unicode"
)

const maxSlugLen = 40

// Slugify builds the URL-safe tender slug from its title and the author's
// company name, truncated like the legacy site does.
func Slugify(title, company string) string {
	slug := slugifyPart(title)
	if company != "" {
		slug = slug + "-" + slugifyPart(company)
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return strings.Trim(slug, "-")
}

func slugifyPart(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case unicode.IsLetter(r):
			if folded := foldAccent(r); folded != 0 {
				b.WriteRune(folded)
				lastDash = false
			}
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func foldAccent(r rune) rune {
	switch r {
	case 'à', 'â', 'ä':
		return 'a'
	case 'é', 'è', 'ê', 'ë':
		return 'e'
	case 'î', 'ï':
		return 'i'
	case 'ô', 'ö':
		return 'o'
	case 'ù', 'û', 'ü':
		return 'u'
	case 'ç':
		return 'c'
	}
	return 0
}
