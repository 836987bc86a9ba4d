package detectors

import (
	"context"
	"fmt"
	"regexp"
)

// NamePattern is one regex used by RegexDetector. Group 1 is the name.
type NamePattern struct {
	Name    string
	Pattern string
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// RegexDetector finds person names introduced by a title or role word.
// It is a lightweight stand-in when no statistical model is available.
type RegexDetector struct {
	patterns []compiledPattern
}

func NewRegexDetector(patterns []NamePattern) (*RegexDetector, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s: %w", p.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("pattern %s: missing name capture group", p.Name)
		}
		compiled = append(compiled, compiledPattern{name: p.Name, re: re})
	}
	return &RegexDetector{patterns: compiled}, nil
}

// GetName returns the name of this detector
func (r *RegexDetector) GetName() string {
	return DetectorNameRegex
}

// Detect processes the input and returns detected entities
func (r *RegexDetector) Detect(_ context.Context, input DetectorInput) (DetectorOutput, error) {
	var entities []Entity

	for _, p := range r.patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(input.Text, -1) {
			startPos, endPos := m[2], m[3]
			if startPos < 0 {
				continue
			}
			entities = append(entities, Entity{
				Text:       input.Text[startPos:endPos],
				Label:      "PERSON",
				StartPos:   startPos,
				EndPos:     endPos,
				Confidence: 1.0,
			})
		}
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// Close implements the Detector interface
func (r *RegexDetector) Close() error {
	return nil
}
