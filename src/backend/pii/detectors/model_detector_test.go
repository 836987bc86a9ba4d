package detectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelDetector_Detect(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Text != "Patient Anna Berg" {
			t.Errorf("Unexpected text %q", req.Text)
		}
		_, _ = w.Write([]byte(`{"entities":[{"text":"Anna Berg","label":"PER","start_pos":8,"end_pos":17,"confidence":0.97}]}`))
	}))
	defer upstream.Close()

	detector := NewModelDetector(upstream.URL + "/")
	output, err := detector.Detect(context.Background(), DetectorInput{Text: "Patient Anna Berg"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(output.Entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(output.Entities))
	}
	e := output.Entities[0]
	if e.Text != "Anna Berg" || e.StartPos != 8 || e.EndPos != 17 || e.Confidence != 0.97 {
		t.Errorf("Unexpected entity: %+v", e)
	}
}

func TestModelDetector_Detect_BadStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	_, err := NewModelDetector(upstream.URL).Detect(context.Background(), DetectorInput{Text: "x"})
	if err == nil {
		t.Fatal("Expected error for non-200 status")
	}
}

func TestNewDetector_Factories(t *testing.T) {
	if _, err := NewDetector("nope", nil); err == nil {
		t.Error("Expected error for unknown detector")
	}
	if _, err := NewDetector(DetectorNameModel, map[string]interface{}{}); err == nil {
		t.Error("Expected error when base_url is missing")
	}
	if _, err := NewDetector(DetectorNameONNXModel, map[string]interface{}{"model_path": "m.onnx"}); err == nil {
		t.Error("Expected error when tokenizer_path is missing")
	}

	d, err := NewDetector(DetectorNameRegex, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer func() { _ = d.Close() }()
	if d.GetName() != DetectorNameRegex {
		t.Errorf("Expected regex detector, got %s", d.GetName())
	}

	names := RegisteredDetectors()
	if len(names) < 4 {
		t.Errorf("Expected at least 4 registered detectors, got %v", names)
	}
}
