package compose

import (
	"strings"
	"unicode"
)

// Slugify turns a title into a url-safe slug: ascii-normalized, lowercase,
// hyphen-separated.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // avoid a leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsLetter(r):
			// Non-ascii letters get folded to their ascii base where we
			// know one, otherwise dropped.
			if folded, ok := asciiFold[r]; ok {
				b.WriteString(folded)
				lastHyphen = false
			}
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}

var asciiFold = map[rune]string{
	'à': "a", 'á': "a", 'â': "a", 'ã': "a", 'ä': "a", 'å': "a",
	'è': "e", 'é': "e", 'ê': "e", 'ë': "e",
	'ì': "i", 'í': "i", 'î': "i", 'ï': "i",
	'ò': "o", 'ó': "o", 'ô': "o", 'õ': "o", 'ö': "o",
	'ù': "u", 'ú': "u", 'û': "u", 'ü': "u",
	'ç': "c", 'ñ': "n", 'ß': "ss", 'æ': "ae", 'ø': "o",
}
