package pii

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	detectors "github.com/hannes/role-anonymizer/src/backend/pii/detectors"
)

// CategoryPersonName is the only candidate category the anonymizer acts on.
const CategoryPersonName = detectors.CategoryPersonName

// ErrInvalidSpan is wrapped by every *SpanError.
var ErrInvalidSpan = errors.New("invalid span")

// TextSpan is a half-open byte range [Start, End) into a UTF-8 document.
type TextSpan struct {
	Start int
	End   int
	Text  string
}

// Len returns the span length in bytes.
func (s TextSpan) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two spans share at least one byte.
func (s TextSpan) Overlaps(other TextSpan) bool {
	return s.Start < other.End && other.Start < s.End
}

// CandidateEntity is a recognizer result after label mapping.
type CandidateEntity struct {
	TextSpan
	Category string
}

// SpanError describes a candidate that was skipped. It carries offsets and a
// reason only, never the candidate text.
type SpanError struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

func (e *SpanError) Error() string {
	return fmt.Sprintf("invalid span [%d:%d): %s", e.Start, e.End, e.Reason)
}

func (e *SpanError) Unwrap() error {
	return ErrInvalidSpan
}

// CandidatesFromEntities maps recognizer entities to candidates, assigning
// each one a category from its label.
func CandidatesFromEntities(entities []detectors.Entity) []CandidateEntity {
	candidates := make([]CandidateEntity, 0, len(entities))
	for _, e := range entities {
		candidates = append(candidates, CandidateEntity{
			TextSpan: TextSpan{Start: e.StartPos, End: e.EndPos, Text: e.Text},
			Category: detectors.CategoryForLabel(e.Label),
		})
	}
	return candidates
}

// ValidateCandidates keeps the person-name candidates whose offsets are
// usable against text. Candidates of other categories are dropped without
// error. An empty candidate Text is filled from the document.
func ValidateCandidates(text string, candidates []CandidateEntity) ([]TextSpan, []*SpanError) {
	var spans []TextSpan
	var rejected []*SpanError

	for _, c := range candidates {
		if c.Category != CategoryPersonName {
			continue
		}
		if reason := checkSpan(text, c.TextSpan); reason != "" {
			rejected = append(rejected, &SpanError{Start: c.Start, End: c.End, Reason: reason})
			continue
		}
		spans = append(spans, TextSpan{Start: c.Start, End: c.End, Text: text[c.Start:c.End]})
	}
	return spans, rejected
}

func checkSpan(text string, s TextSpan) string {
	switch {
	case s.Start < 0 || s.End > len(text):
		return "out of bounds"
	case s.End <= s.Start:
		return "empty or inverted range"
	case !utf8.RuneStart(text[s.Start]) || (s.End < len(text) && !utf8.RuneStart(text[s.End])):
		return "offset not on a character boundary"
	case s.Text != "" && s.Text != text[s.Start:s.End]:
		return "text does not match document"
	case strings.TrimSpace(text[s.Start:s.End]) == "":
		return "blank text"
	}
	return ""
}

// NormalizeSpans resolves overlaps greedily: longer spans win, and among
// equal lengths the earlier one wins. The surviving spans are returned in
// document order.
func NormalizeSpans(spans []TextSpan) []TextSpan {
	if len(spans) == 0 {
		return nil
	}

	ordered := make([]TextSpan, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Len() != ordered[j].Len() {
			return ordered[i].Len() > ordered[j].Len()
		}
		return ordered[i].Start < ordered[j].Start
	})

	kept := make([]TextSpan, 0, len(ordered))
	for _, s := range ordered {
		overlaps := false
		for _, k := range kept {
			if s.Overlaps(k) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Start < kept[j].Start
	})
	return kept
}
