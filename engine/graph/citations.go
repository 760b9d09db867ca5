package graph

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// ExtractCitations finds references to other laws inside cleaned law text.
// names is the set of known law names from the e-Gov index; the law's own
// name is ignored. Names are matched longest first and matched text is
// masked, so a reference to 労働安全衛生法 is not also counted as a
// reference to a shorter name it contains.
func ExtractCitations(content, selfName string, names []string) []string {
	if content == "" || len(names) == 0 {
		return nil
	}

	candidates := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || n == selfName {
			continue
		}
		candidates = append(candidates, n)
	}
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(candidates[i]), utf8.RuneCountInString(candidates[j])
		if li != lj {
			return li > lj
		}
		return candidates[i] < candidates[j]
	})

	masked := content
	var found []string
	for _, name := range candidates {
		if !strings.Contains(masked, name) {
			continue
		}
		found = append(found, name)
		masked = strings.ReplaceAll(masked, name, "\x00")
	}
	return found
}
