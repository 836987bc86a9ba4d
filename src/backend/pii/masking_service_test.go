package pii

import (
	"context"
	"errors"
	"strings"
	"testing"

	detectors "github.com/hannes/role-anonymizer/src/backend/pii/detectors"
	"github.com/rs/zerolog"
)

// mockDetector implements detectors.Detector for testing
type mockDetector struct {
	output detectors.DetectorOutput
	err    error
	calls  int
	closed bool
}

func (m *mockDetector) Detect(ctx context.Context, input detectors.DetectorInput) (detectors.DetectorOutput, error) {
	m.calls++
	return m.output, m.err
}

func (m *mockDetector) GetName() string {
	return "mock_detector"
}

func (m *mockDetector) Close() error {
	m.closed = true
	return nil
}

// mockProvider implements DetectorProvider for testing
type mockProvider struct {
	detector detectors.Detector
	err      error
}

func (m *mockProvider) GetDetector() (detectors.Detector, error) {
	return m.detector, m.err
}

func newTestService(t *testing.T, provider DetectorProvider, audit AuditDB) *MaskingService {
	t.Helper()
	return NewMaskingService(provider, newTestAnonymizer(t), audit, zerolog.Nop())
}

func TestMaskText_ContextRoles(t *testing.T) {
	text := "The patient's mother Emily Jones accompanied the patient John Doe."
	detector := &mockDetector{
		output: detectors.DetectorOutput{
			Text: text,
			Entities: []detectors.Entity{
				{Text: "Emily Jones", Label: "PERSON", StartPos: 21, EndPos: 32, Confidence: 0.98},
				{Text: "John Doe", Label: "B-PER", StartPos: 57, EndPos: 65, Confidence: 0.97},
				{Text: "patient", Label: "OCCUPATION", StartPos: 4, EndPos: 11, Confidence: 0.6},
			},
		},
	}
	audit := NewInMemoryAuditDB(10)
	service := newTestService(t, &mockProvider{detector: detector}, audit)

	result, err := service.MaskText(context.Background(), text)
	if err != nil {
		t.Fatalf("MaskText failed: %v", err)
	}

	want := "The patient's mother [MOTHER_NAME] accompanied the patient [PATIENT_NAME]."
	if result.Text != want {
		t.Errorf("MaskText() = %q, want %q", result.Text, want)
	}
	if result.Entities != 3 || result.Names != 2 || result.Detector != "mock_detector" {
		t.Errorf("Unexpected result metadata: %+v", result)
	}

	entries, err := audit.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.ID == "" || entry.InputBytes != len(text) || entry.OutputBytes != len(want) || entry.Names != 2 {
		t.Errorf("Unexpected audit entry: %+v", entry)
	}
	if entry.Roles["[PATIENT_NAME]"] != 1 {
		t.Errorf("Expected patient role count in audit entry: %+v", entry.Roles)
	}
}

func TestMaskText_BlankTextSkipsDetector(t *testing.T) {
	detector := &mockDetector{}
	service := newTestService(t, &mockProvider{detector: detector}, nil)

	for _, text := range []string{"", "  \n "} {
		result, err := service.MaskText(context.Background(), text)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if result.Text != text {
			t.Errorf("Expected %q unchanged, got %q", text, result.Text)
		}
	}
	if detector.calls != 0 {
		t.Errorf("Detector should not be called for blank text, got %d calls", detector.calls)
	}
}

func TestMaskText_NoEntities(t *testing.T) {
	service := newTestService(t, &mockProvider{detector: &mockDetector{}}, nil)

	got, err := service.Anonymize(context.Background(), "Nothing personal here.")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "Nothing personal here." {
		t.Errorf("Expected text unchanged, got %q", got)
	}
}

func TestMaskText_DetectorError(t *testing.T) {
	detectErr := errors.New("model crashed")
	detector := &mockDetector{err: detectErr}
	audit := NewInMemoryAuditDB(10)
	service := newTestService(t, &mockProvider{detector: detector}, audit)

	got, err := service.Anonymize(context.Background(), "Patient John Doe")
	if !errors.Is(err, detectErr) {
		t.Fatalf("Expected wrapped detector error, got %v", err)
	}
	if got != "" {
		t.Errorf("No text should be returned on failure, got %q", got)
	}
	if count, _ := audit.Count(context.Background()); count != 0 {
		t.Errorf("Failed requests should not be audited, got %d entries", count)
	}
}

func TestMaskText_NoDetector(t *testing.T) {
	service := newTestService(t, &mockProvider{err: errors.New("model is unhealthy")}, nil)

	_, err := service.MaskText(context.Background(), "Patient John Doe")
	if !errors.Is(err, ErrNoDetector) {
		t.Fatalf("Expected ErrNoDetector, got %v", err)
	}
	if !strings.Contains(err.Error(), "model is unhealthy") {
		t.Errorf("Expected cause in message, got %v", err)
	}
}
