// Package normalize prepares user queries for embedding: spacing fixes and
// dictionary-based synonym expansion.
package normalize

import (
	"regexp"
	"strings"

	"github.com/coverquery/coverquery/internal/domain"
)

// Tokenizers used by the embedding model split "30歲" and "30 歲" differently;
// the spaced form retrieves far better, so spacing is forced both ways.
var (
	digitHan = regexp.MustCompile(`(\d+)(\p{Han})`)
	hanDigit = regexp.MustCompile(`(\p{Han})(\d+)`)
)

// Query inserts a space between digit runs and Han characters in both
// directions. The raw query is left untouched by callers that need it.
func Query(query string) string {
	out := digitHan.ReplaceAllString(query, "$1 $2")
	out = hanDigit.ReplaceAllString(out, "$1 $2")
	return out
}

// ExpandSynonyms appends the formal term for every slang term found in the
// raw query. Expansion is additive: the normalized query stays as the prefix
// so nothing the user typed is lost. Slang terms are scanned in sorted order
// for a deterministic result.
func ExpandSynonyms(normalized, raw string, synonyms domain.SynonymTable) string {
	if len(synonyms) == 0 {
		return normalized
	}

	var b strings.Builder
	b.WriteString(normalized)
	for _, slang := range synonyms.SortedSlang() {
		if strings.Contains(raw, slang) {
			b.WriteString(" ")
			b.WriteString(synonyms[slang])
		}
	}
	return b.String()
}
