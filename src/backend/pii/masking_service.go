package pii

import (
	"context"
	"errors"
	"fmt"
	"strings"

	detectors "github.com/hannes/role-anonymizer/src/backend/pii/detectors"
	"github.com/rs/zerolog"
)

// ErrNoDetector is returned when no healthy recognizer is loaded.
var ErrNoDetector = errors.New("no detector available")

// MaskedResult represents the result of masking person names in text
type MaskedResult struct {
	Result
	Detector string `json:"detector"`
	Entities int    `json:"entities"`
}

// DetectorProvider is an interface for getting the current detector
// This allows MaskingService to always use the latest detector after hot reloads
type DetectorProvider interface {
	GetDetector() (detectors.Detector, error)
}

// MaskingService runs the recognizer and the anonymizer for one document
type MaskingService struct {
	detectorProvider DetectorProvider
	anonymizer       *Anonymizer
	audit            AuditDB
	logger           zerolog.Logger
}

// NewMaskingService creates a new masking service. audit may be nil.
func NewMaskingService(detectorProvider DetectorProvider, anonymizer *Anonymizer, audit AuditDB, logger zerolog.Logger) *MaskingService {
	return &MaskingService{
		detectorProvider: detectorProvider,
		anonymizer:       anonymizer,
		audit:            audit,
		logger:           logger.With().Str("component", "masking").Logger(),
	}
}

// Anonymize returns text with every detected person name replaced by its
// role placeholder.
func (s *MaskingService) Anonymize(ctx context.Context, text string) (string, error) {
	result, err := s.MaskText(ctx, text)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// MaskText detects names in text and anonymizes them. A recognizer failure
// is returned as an error; partially anonymized text is never returned.
func (s *MaskingService) MaskText(ctx context.Context, text string) (MaskedResult, error) {
	if strings.TrimSpace(text) == "" {
		return MaskedResult{Result: Result{Text: text, Roles: map[string]int{}}}, nil
	}

	detector, err := s.detectorProvider.GetDetector()
	if err != nil {
		return MaskedResult{}, fmt.Errorf("%w: %w", ErrNoDetector, err)
	}

	found, err := detector.Detect(ctx, detectors.DetectorInput{Text: text})
	if err != nil {
		return MaskedResult{}, fmt.Errorf("detect: %w", err)
	}

	result := s.anonymizer.Anonymize(text, CandidatesFromEntities(found.Entities))
	s.logger.Debug().
		Str("detector", detector.GetName()).
		Int("entities", len(found.Entities)).
		Int("names", result.Names).
		Int("rejected", len(result.Rejected)).
		Msg("text anonymized")

	if s.audit != nil {
		entry := NewAuditEntry(detector.GetName(), text, result)
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("audit_id", entry.ID).Msg("failed to record audit entry")
		}
	}

	return MaskedResult{
		Result:   result,
		Detector: detector.GetName(),
		Entities: len(found.Entities),
	}, nil
}
