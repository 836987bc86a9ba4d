package detectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ModelDetector calls an external NER sidecar over HTTP.
//
//	POST {baseURL}/detect {"text": "..."}
//	-> {"entities": [{"text","label","start_pos","end_pos","confidence"}]}
type ModelDetector struct {
	baseURL string
	client  *http.Client
}

func NewModelDetector(baseURL string) *ModelDetector {
	return &ModelDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetName returns the name of this detector
func (m *ModelDetector) GetName() string {
	return DetectorNameModel
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Entities []Entity `json:"entities"`
}

// Detect processes the input and returns detected entities
func (m *ModelDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	jsonData, err := json.Marshal(detectRequest{Text: input.Text})
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("model detector: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/detect", bytes.NewReader(jsonData))
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("model detector: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := m.client.Do(req)
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("model detector: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return DetectorOutput{}, fmt.Errorf("model detector: unexpected status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	var result detectResponse
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return DetectorOutput{}, fmt.Errorf("model detector: decode: %w", err)
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: result.Entities,
	}, nil
}

// Close implements the Detector interface
func (m *ModelDetector) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
