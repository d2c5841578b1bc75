package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldFilename normalizes a filename for duplicate comparison: trimmed,
// NFKD-decomposed with combining marks stripped, then case folded. Scanned
// uploads frequently differ only in accents or case ("Expediente_Á1.PDF"
// vs "expediente_a1.pdf") and must collide.
func FoldFilename(name string) string {
	decomposed := norm.NFKD.String(strings.TrimSpace(name))
	runes := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		runes = append(runes, r)
	}
	return cases.Fold().String(string(runes))
}
