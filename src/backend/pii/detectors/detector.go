package detectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	DetectorNameProse     = "prose_detector"
	DetectorNameModel     = "model_detector"
	DetectorNameRegex     = "regex_detector"
	DetectorNameONNXModel = "onnx_model_detector"
)

// ErrUnknownDetector is returned by NewDetector for names with no registered factory.
var ErrUnknownDetector = errors.New("unknown detector")

// Detector locates candidate entities in text. Implementations must be safe
// for concurrent use by multiple requests.
type Detector interface {
	GetName() string
	Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error)
	Close() error
}

// NewDetectorFunc builds a detector from a loosely typed option map.
type NewDetectorFunc func(config map[string]interface{}) (Detector, error)

var (
	factoriesMu       sync.RWMutex
	detectorFactories = make(map[string]NewDetectorFunc)
)

func RegisterDetectorFactory(name string, factory NewDetectorFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	detectorFactories[name] = factory
}

// NewDetector creates the detector registered under name.
func NewDetector(name string, config map[string]interface{}) (Detector, error) {
	factoriesMu.RLock()
	factory, ok := detectorFactories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, name)
	}
	return factory(config)
}

// RegisteredDetectors returns the sorted names of all registered factories.
func RegisteredDetectors() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(detectorFactories))
	for name := range detectorFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDetectorFactory(DetectorNameProse, func(config map[string]interface{}) (Detector, error) {
		return NewProseDetector(), nil
	})

	RegisterDetectorFactory(DetectorNameModel, func(config map[string]interface{}) (Detector, error) {
		baseURL, ok := config["base_url"].(string)
		if !ok || baseURL == "" {
			return nil, fmt.Errorf("base_url is required for model detector")
		}
		return NewModelDetector(baseURL), nil
	})

	RegisterDetectorFactory(DetectorNameRegex, func(config map[string]interface{}) (Detector, error) {
		return NewRegexDetector(PersonNamePatterns)
	})

	RegisterDetectorFactory(DetectorNameONNXModel, func(config map[string]interface{}) (Detector, error) {
		modelPath, ok := config["model_path"].(string)
		if !ok || modelPath == "" {
			return nil, fmt.Errorf("model_path is required for ONNX model detector")
		}
		tokenizerPath, ok := config["tokenizer_path"].(string)
		if !ok || tokenizerPath == "" {
			return nil, fmt.Errorf("tokenizer_path is required for ONNX model detector")
		}
		labelMapPath, _ := config["label_map_path"].(string)
		return NewONNXModelDetector(modelPath, tokenizerPath, labelMapPath)
	})
}
