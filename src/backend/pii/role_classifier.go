package pii

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

const (
	// DefaultWindowSize is the number of characters inspected before a name.
	DefaultWindowSize = 50
	// DefaultFallbackPlaceholder is used when no rule matches.
	DefaultFallbackPlaceholder = "[OTHER_NAME]"
)

// ContextRule maps a pattern found in the lookbehind window to a placeholder.
type ContextRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder string
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// RoleClassifier assigns a placeholder to a name span from the text that
// precedes it. Rules are tried in order and the first match wins. A
// RoleClassifier is immutable and safe for concurrent use.
type RoleClassifier struct {
	rules      []ContextRule
	windowSize int
	fallback   string
}

func NewRoleClassifier(rules []ContextRule, windowSize int, fallback string) *RoleClassifier {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if fallback == "" {
		fallback = DefaultFallbackPlaceholder
	}
	return &RoleClassifier{
		rules:      append([]ContextRule(nil), rules...),
		windowSize: windowSize,
		fallback:   fallback,
	}
}

// Classify returns the placeholder for span.
func (c *RoleClassifier) Classify(span TextSpan, text string) string {
	window := LookbehindWindow(text, span.Start, c.windowSize)
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(window) {
			return rule.Placeholder
		}
	}
	return c.fallback
}

func (c *RoleClassifier) WindowSize() int { return c.windowSize }

func (c *RoleClassifier) Fallback() string { return c.fallback }

// Rules returns a copy of the ordered rule list.
func (c *RoleClassifier) Rules() []ContextRule {
	return append([]ContextRule(nil), c.rules...)
}

// Placeholders lists every placeholder the classifier can emit, fallback
// last, without duplicates.
func (c *RoleClassifier) Placeholders() []string {
	seen := make(map[string]bool, len(c.rules)+1)
	var out []string
	for _, rule := range c.rules {
		if !seen[rule.Placeholder] {
			seen[rule.Placeholder] = true
			out = append(out, rule.Placeholder)
		}
	}
	if !seen[c.fallback] {
		out = append(out, c.fallback)
	}
	return out
}

// LookbehindWindow returns up to size characters of text ending at byte
// offset start, case folded and with typographic apostrophes replaced by
// ASCII ones. start is clamped to the document.
func LookbehindWindow(text string, start, size int) string {
	if start > len(text) {
		start = len(text)
	}
	if start <= 0 || size <= 0 {
		return ""
	}

	from := start
	for n := 0; n < size && from > 0; n++ {
		_, width := utf8.DecodeLastRuneInString(text[:from])
		from -= width
	}

	// A Caser keeps state, so one is created per call.
	return cases.Fold().String(apostrophes.Replace(text[from:start]))
}
