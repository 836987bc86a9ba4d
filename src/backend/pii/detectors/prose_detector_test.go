package detectors

import (
	"context"
	"testing"
)

func TestLocate(t *testing.T) {
	text := "John  Smith met John Smith and O'Brien."

	start, end, ok := locate(text, "John Smith", 0)
	if !ok || text[start:end] != "John  Smith" {
		t.Errorf("Expected first occurrence with double space, got %q", text[start:end])
	}

	start, end, ok = locate(text, "John Smith", end)
	if !ok || start != 16 || text[start:end] != "John Smith" {
		t.Errorf("Expected second occurrence at 16, got %d %q", start, text[start:end])
	}

	start, end, ok = locate(text, "O 'Brien", 0)
	if !ok || text[start:end] != "O'Brien" {
		t.Errorf("Expected re-joined tokens to match O'Brien, got ok=%v", ok)
	}

	if _, _, ok := locate(text, "Jane", 0); ok {
		t.Error("Expected no match for absent entity")
	}
	if _, _, ok := locate(text, "   ", 0); ok {
		t.Error("Expected no match for blank entity")
	}
}

func TestLocate_WordBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		entity    string
		wantStart int
		wantText  string
		wantOK    bool
	}{
		{"prefix of earlier word", "Annual review: the patient Ann was stable.", "Ann", 27, "Ann", true},
		{"suffix of earlier word", "LeAnne met the nurse Anne today.", "Anne", 21, "Anne", true},
		{"glued tokens skipped", "MaryAnn left; Mary Ann stayed.", "Mary Ann", 14, "Mary Ann", true},
		{"only glued tokens", "MaryAnn left.", "Mary Ann", 0, "", false},
		{"only inside words", "Annual Annex", "Ann", 0, "", false},
		{"unicode neighbour", "Zoëlle and Zoë", "Zoë", 12, "Zoë", true},
		{"punctuation neighbour", "(Kim) left", "Kim", 1, "Kim", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := locate(tt.text, tt.entity, 0)
			if ok != tt.wantOK {
				t.Fatalf("locate() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if start != tt.wantStart || tt.text[start:end] != tt.wantText {
				t.Errorf("locate() = [%d:%d) %q, want start %d %q", start, end, tt.text[start:end], tt.wantStart, tt.wantText)
			}
		})
	}
}

func TestProseDetector_EmptyInput(t *testing.T) {
	output, err := NewProseDetector().Detect(context.Background(), DetectorInput{Text: "   "})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(output.Entities) != 0 {
		t.Errorf("Expected no entities, got %+v", output.Entities)
	}
}

func TestProseDetector_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewProseDetector().Detect(ctx, DetectorInput{Text: "John Smith"}); err == nil {
		t.Error("Expected context error")
	}
}

func TestProseDetector_OffsetsMatchText(t *testing.T) {
	text := "Yesterday John Smith visited Boston with Mary Johnson."

	output, err := NewProseDetector().Detect(context.Background(), DetectorInput{Text: text})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, e := range output.Entities {
		if text[e.StartPos:e.EndPos] != e.Text {
			t.Errorf("Offsets [%d:%d] do not match %q", e.StartPos, e.EndPos, e.Text)
		}
	}
}
