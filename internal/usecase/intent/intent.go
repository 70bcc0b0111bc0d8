// Package intent extracts explicit product mentions from a query and applies
// category-based candidate filtering.
package intent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/coverquery/coverquery/internal/domain"
)

// Bracketed text is treated as an explicit product mention: users quote the
// product they mean, e.g. 『活利優退』.
var bracketed = regexp.MustCompile(`[『「《【“"‘'（(](.*?)[』」》】”"’'）)]`)

// ExtractKeywords returns the non-empty bracketed phrases of the raw query.
func ExtractKeywords(raw string) []string {
	matches := bracketed.FindAllStringSubmatch(raw, -1)
	keywords := make([]string, 0, len(matches))
	for _, m := range matches {
		if kw := strings.TrimSpace(m[1]); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// ResolveForcedSources maps extracted keywords to source filenames: a file is
// pinned when its name or its product name contains the keyword. The result
// is sorted and deduplicated.
func ResolveForcedSources(keywords []string, summaries domain.SummaryMap) []string {
	if len(keywords) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	for _, kw := range keywords {
		for filename, summary := range summaries {
			if strings.Contains(filename, kw) || strings.Contains(summary.Name, kw) {
				seen[filename] = true
			}
		}
	}

	sources := make([]string, 0, len(seen))
	for f := range seen {
		sources = append(sources, f)
	}
	sort.Strings(sources)
	return sources
}

// categoryRule pairs a trigger word with the keywords its candidates may carry.
type categoryRule struct {
	trigger  string
	keywords []string
}

// Strict categories force filtering when mentioned. Life and accident
// products are deliberately absent: those terms are too broad to filter on,
// so they stay loose and are only protected when mixed with a strict intent.
var strictRules = []categoryRule{
	{"醫療", []string{"醫療", "手術", "住院", "實支實付", "健康保險"}},
	{"癌症", []string{"癌症", "防癌", "惡性腫瘤", "化療", "標靶"}},
	{"長照", []string{"長照", "長期照顧", "失能", "扶助"}},
	{"打工", []string{"打工", "遊學", "度假", "海外"}},
	{"投資", []string{"投資", "基金", "變額", "收益"}},
}

var protectedRules = []categoryRule{
	{"壽險", []string{"壽險", "身故", "人壽", "儲蓄", "還本"}},
	{"意外", []string{"意外", "傷害", "骨折", "產險"}},
}

// candidateTextWindow bounds how much chunk text the filter inspects.
const candidateTextWindow = 200

// FilterByCategory drops candidates that match none of the keywords implied
// by the query's strict category mentions. Returns the kept candidates and
// whether filtering was applied. When filtering would empty the list the
// original candidates are returned untouched: a wrong answer source is worse
// than a loose one, but no answer at all is worst.
func FilterByCategory(raw string, candidates []domain.Candidate) ([]domain.Candidate, bool) {
	var allowed []string
	strict := false

	for _, rule := range strictRules {
		if strings.Contains(raw, rule.trigger) {
			allowed = append(allowed, rule.keywords...)
			strict = true
		}
	}
	if !strict {
		return candidates, false
	}

	for _, rule := range protectedRules {
		if strings.Contains(raw, rule.trigger) {
			allowed = append(allowed, rule.keywords...)
		}
	}

	kept := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if matchesAny(c.Source, allowed) || matchesAny(textWindow(c.Text), allowed) {
			kept = append(kept, c)
		}
	}

	if len(kept) == 0 {
		return candidates, false
	}
	return kept, true
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func textWindow(text string) string {
	runes := []rune(text)
	if len(runes) <= candidateTextWindow {
		return text
	}
	return string(runes[:candidateTextWindow])
}
