package library

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DisplayName turns a stored file name or URL into a readable track title:
// extension, directories, accents and separator characters are dropped.
func DisplayName(file string) string {
	if i := strings.IndexAny(file, "?#"); i >= 0 && isURL(file) {
		file = file[:i]
	}
	name := path.Base(strings.ReplaceAll(file, "\\", "/"))
	name = strings.TrimSuffix(name, path.Ext(name))

	// Decompose and remove non-spacing marks
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if s, _, err := transform.String(t, name); err == nil {
		name = s
	}

	name = strings.Map(func(r rune) rune {
		switch {
		case r == '_' || r == '-' || r == '.':
			return ' '
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			return r
		case r == '(' || r == ')' || r == '&' || r == '\'':
			return r
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(name), " ")
}
