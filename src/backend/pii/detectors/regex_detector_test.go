package detectors

import (
	"context"
	"testing"
)

func newTestRegexDetector(t *testing.T) *RegexDetector {
	t.Helper()
	detector, err := NewRegexDetector(PersonNamePatterns)
	if err != nil {
		t.Fatalf("NewRegexDetector: %v", err)
	}
	return detector
}

func TestRegexDetector_GetName(t *testing.T) {
	if name := newTestRegexDetector(t).GetName(); name != DetectorNameRegex {
		t.Errorf("Expected name '%s', got '%s'", DetectorNameRegex, name)
	}
}

func TestRegexDetector_Detect_NoMatches(t *testing.T) {
	input := DetectorInput{Text: "The patient was discharged on Monday."}

	output, err := newTestRegexDetector(t).Detect(context.Background(), input)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(output.Entities) != 0 {
		t.Errorf("Expected 0 entities, got %+v", output.Entities)
	}
	if output.Text != input.Text {
		t.Errorf("Expected text to remain unchanged, got '%s'", output.Text)
	}
}

func TestRegexDetector_Detect_WithMatches(t *testing.T) {
	text := "Dr. Jane Roe examined patient John Smith while Nurse Kim Lee waited."

	output, err := newTestRegexDetector(t).Detect(context.Background(), DetectorInput{Text: text})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := map[string]bool{"Jane Roe": false, "John Smith": false, "Kim Lee": false}
	for _, e := range output.Entities {
		if e.Label != "PERSON" {
			t.Errorf("Expected PERSON label, got %s", e.Label)
		}
		if text[e.StartPos:e.EndPos] != e.Text {
			t.Errorf("Offsets [%d:%d] do not match text %q", e.StartPos, e.EndPos, e.Text)
		}
		if _, ok := want[e.Text]; ok {
			want[e.Text] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Expected %q to be detected, got %+v", name, output.Entities)
		}
	}
}

func TestNewRegexDetector_Errors(t *testing.T) {
	if _, err := NewRegexDetector([]NamePattern{{Name: "bad", Pattern: `(`}}); err == nil {
		t.Error("Expected compile error")
	}
	if _, err := NewRegexDetector([]NamePattern{{Name: "nogroup", Pattern: `Dr\. \w+`}}); err == nil {
		t.Error("Expected missing capture group error")
	}
}
