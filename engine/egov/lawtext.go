package egov

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// supplProvision is the supplementary-provisions subtree of a law. Its
// transitional rules pollute retrieval, so extraction skips it entirely.
const supplProvision = "SupplProvision"

// ExtractFragments walks law XML and returns the clean sentence fragments:
// the character data of leaf elements, parenthetical annotations and
// corner-quote markers stripped, keeping only fragments that end with the
// full stop 。. Headings, article titles and item numbers all fail the
// trailing-punctuation filter and drop out.
func ExtractFragments(body string) ([]string, error) {
	type frame struct {
		text     strings.Builder
		hasChild bool
	}

	dec := xml.NewDecoder(strings.NewReader(body))
	var (
		frags []string
		stack []*frame
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk law xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == supplProvision {
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("skip %s: %w", supplProvision, err)
				}
				if len(stack) > 0 {
					stack[len(stack)-1].hasChild = true
				}
				continue
			}
			if len(stack) > 0 {
				stack[len(stack)-1].hasChild = true
			}
			stack = append(stack, &frame{})
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.hasChild {
				continue
			}
			if frag, ok := cleanFragment(f.text.String()); ok {
				frags = append(frags, frag)
			}
		}
	}
	return frags, nil
}

// cleanFragment normalizes one leaf text and reports whether it survives
// the trailing-punctuation filter.
func cleanFragment(s string) (string, bool) {
	s = stripParens(s)
	s = strings.ReplaceAll(s, "「", "")
	s = strings.ReplaceAll(s, "」", "")
	s = strings.TrimSpace(s)
	if s == "" || !strings.HasSuffix(s, "。") {
		return "", false
	}
	return s, true
}

// stripParens removes （…） annotations, innermost pairs first, until none
// remain. Statute text nests annotations, so a single regex pass is not
// enough. Unbalanced parentheses are left in place.
func stripParens(s string) string {
	for {
		end := strings.Index(s, "）")
		if end < 0 {
			return s
		}
		start := strings.LastIndex(s[:end], "（")
		if start < 0 {
			return s
		}
		s = s[:start] + s[end+len("）"):]
	}
}

// Span marks a run of fragments to exclude. The cut starts at the first
// fragment containing From and ends before the first later fragment
// containing To. A span whose From never matches is ignored; a span whose
// To never matches cuts through the end.
type Span struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// CutSpans removes the fragment runs marked by spans, in order.
func CutSpans(frags []string, spans []Span) []string {
	out := frags
	for _, sp := range spans {
		out = cutSpan(out, sp)
	}
	return out
}

func cutSpan(frags []string, sp Span) []string {
	if sp.From == "" {
		return frags
	}
	from := -1
	for i, f := range frags {
		if strings.Contains(f, sp.From) {
			from = i
			break
		}
	}
	if from < 0 {
		return frags
	}
	to := len(frags)
	if sp.To != "" {
		for i := from + 1; i < len(frags); i++ {
			if strings.Contains(frags[i], sp.To) {
				to = i
				break
			}
		}
	}
	kept := make([]string, 0, len(frags)-(to-from))
	kept = append(kept, frags[:from]...)
	kept = append(kept, frags[to:]...)
	return kept
}
