package detectors

// DetectorInput represents the input for entity detection
type DetectorInput struct {
	Text string `json:"text"`
}

// DetectorOutput represents the output of entity detection
type DetectorOutput struct {
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Entity is a span reported by a recognizer. StartPos and EndPos are byte
// offsets into the input text, EndPos exclusive.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}
