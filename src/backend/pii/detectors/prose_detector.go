package detectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

// ProseDetector runs prose's in-process averaged-perceptron NER. It needs no
// model files or sidecar, which makes it the default recognizer.
type ProseDetector struct{}

func NewProseDetector() *ProseDetector {
	return &ProseDetector{}
}

// GetName returns the name of this detector
func (p *ProseDetector) GetName() string {
	return DetectorNameProse
}

// Detect processes the input and returns detected entities. prose does not
// report offsets, so every entity is located in the source text by a forward
// search starting after the previously located entity.
func (p *ProseDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	if err := ctx.Err(); err != nil {
		return DetectorOutput{}, err
	}
	if strings.TrimSpace(input.Text) == "" {
		return DetectorOutput{Text: input.Text}, nil
	}

	doc, err := prose.NewDocument(input.Text, prose.WithSegmentation(false))
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("prose: %w", err)
	}

	var entities []Entity
	cursor := 0
	for _, ent := range doc.Entities() {
		start, end, ok := locate(input.Text, ent.Text, cursor)
		if !ok {
			start, end, ok = locate(input.Text, ent.Text, 0)
			if !ok {
				continue
			}
		} else {
			cursor = end
		}
		entities = append(entities, Entity{
			Text:       input.Text[start:end],
			Label:      ent.Label,
			StartPos:   start,
			EndPos:     end,
			Confidence: 1.0,
		})
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// locate finds entity text in text at or after from. prose re-joins tokens
// with single spaces, so word tokens need whitespace between them while a
// token that starts or ends with punctuation may be glued to its neighbour.
// A match inside a longer word is skipped.
func locate(text, entity string, from int) (int, int, bool) {
	tokens := strings.Fields(entity)
	if len(tokens) == 0 || from < 0 || from > len(text) {
		return 0, 0, false
	}

	var pattern strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			prev, _ := utf8.DecodeLastRuneInString(tokens[i-1])
			next, _ := utf8.DecodeRuneInString(tok)
			if isWordRune(prev) && isWordRune(next) {
				pattern.WriteString(`\s+`)
			} else {
				pattern.WriteString(`\s*`)
			}
		}
		pattern.WriteString(regexp.QuoteMeta(tok))
	}
	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return 0, 0, false
	}

	for pos := from; pos <= len(text); {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			return 0, 0, false
		}
		start, end := pos+loc[0], pos+loc[1]
		if wordBounded(text, start, end) {
			return start, end, true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	return 0, 0, false
}

// wordBounded reports whether text[start:end] does not continue a word on
// either side.
func wordBounded(text string, start, end int) bool {
	if first, _ := utf8.DecodeRuneInString(text[start:end]); isWordRune(first) && start > 0 {
		if before, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(before) {
			return false
		}
	}
	if last, _ := utf8.DecodeLastRuneInString(text[start:end]); isWordRune(last) && end < len(text) {
		if after, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(after) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Close implements the Detector interface
func (p *ProseDetector) Close() error {
	return nil
}
