package pii

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Result is the outcome of anonymizing one document. It never holds the
// original names.
type Result struct {
	Text     string         `json:"anonymized_text"`
	Names    int            `json:"names"`
	Roles    map[string]int `json:"roles"`
	Rejected []*SpanError   `json:"rejected_spans"`
}

// Anonymizer replaces person names with role placeholders. It holds no
// per-request state and is safe for concurrent use.
type Anonymizer struct {
	classifier      *RoleClassifier
	placeholders    *regexp.Regexp
	logger          zerolog.Logger
	logReplacements bool
}

func NewAnonymizer(classifier *RoleClassifier, logger zerolog.Logger) *Anonymizer {
	quoted := make([]string, 0)
	for _, p := range classifier.Placeholders() {
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return &Anonymizer{
		classifier:   classifier,
		placeholders: regexp.MustCompile(strings.Join(quoted, "|")),
		logger:       logger.With().Str("component", "anonymizer").Logger(),
	}
}

// SetLogReplacements enables a log line per replaced name. Only the
// placeholder and the name length are logged.
func (a *Anonymizer) SetLogReplacements(enabled bool) {
	a.logReplacements = enabled
}

func (a *Anonymizer) Classifier() *RoleClassifier {
	return a.classifier
}

// Anonymize substitutes every valid person-name candidate in text. Invalid
// candidates are skipped and reported in Result.Rejected.
func (a *Anonymizer) Anonymize(text string, candidates []CandidateEntity) Result {
	result := Result{Text: text, Roles: make(map[string]int)}
	if strings.TrimSpace(text) == "" {
		return result
	}

	spans, rejected := ValidateCandidates(text, candidates)
	result.Rejected = rejected
	for _, r := range rejected {
		a.logger.Debug().Int("start", r.Start).Int("end", r.End).Str("reason", r.Reason).Msg("candidate skipped")
	}

	spans = NormalizeSpans(a.outsidePlaceholders(text, spans))
	if len(spans) == 0 {
		return result
	}

	reg := NewNameRegistry()
	for _, span := range spans {
		before := reg.Len()
		placeholder := reg.Register(span.Text, a.classifier.Classify(span, text))
		if reg.Len() > before {
			result.Roles[placeholder]++
			if a.logReplacements {
				a.logger.Info().Str("placeholder", placeholder).Int("name_bytes", span.Len()).Msg("name registered")
			}
		}
	}

	result.Names = reg.Len()
	result.Text = Substitute(text, reg)
	return result
}

// outsidePlaceholders drops spans that touch a placeholder already present
// in text, so anonymized output passes through unchanged.
func (a *Anonymizer) outsidePlaceholders(text string, spans []TextSpan) []TextSpan {
	existing := a.placeholders.FindAllStringIndex(text, -1)
	if len(existing) == 0 {
		return spans
	}

	kept := spans[:0:0]
	for _, s := range spans {
		inside := false
		for _, loc := range existing {
			if s.Overlaps(TextSpan{Start: loc[0], End: loc[1]}) {
				inside = true
				break
			}
		}
		if !inside {
			kept = append(kept, s)
		}
	}
	return kept
}
