package pii

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	detectors "github.com/hannes/role-anonymizer/src/backend/pii/detectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrReloadUnsupported is returned by ReloadModel for detectors that are not
// loaded from a model directory.
var ErrReloadUnsupported = errors.New("detector does not support model reload")

// validationText is run through every freshly loaded detector.
const validationText = "Test with John Smith"

// ModelManager manages the detector lifecycle with thread-safe hot reload
type ModelManager struct {
	mu              sync.RWMutex
	currentDetector detectors.Detector
	detectorName    string
	modelDirectory  string
	isHealthy       bool
	lastError       error
	logger          zerolog.Logger

	// loadONNX is replaceable in tests.
	loadONNX func(cfg *ModelConfig) (detectors.Detector, error)
}

// ModelConfig holds paths to required model files
type ModelConfig struct {
	ModelPath     string
	TokenizerPath string
	LabelMapPath  string
}

// NewModelManager creates a manager for the named detector. For the ONNX
// detector settings["model_directory"] is loaded; other detectors receive
// settings as their factory configuration. A detector that fails to load
// leaves the manager unhealthy instead of failing, so the service can start
// and be repaired with ReloadModel.
func NewModelManager(detectorName string, settings map[string]interface{}) *ModelManager {
	mm := &ModelManager{
		detectorName: detectorName,
		logger:       log.With().Str("component", "model_manager").Logger(),
		loadONNX: func(cfg *ModelConfig) (detectors.Detector, error) {
			return detectors.NewONNXModelDetector(cfg.ModelPath, cfg.TokenizerPath, cfg.LabelMapPath)
		},
	}

	var err error
	if detectorName == detectors.DetectorNameONNXModel {
		dir, _ := settings["model_directory"].(string)
		err = mm.ReloadModel(dir)
	} else {
		err = mm.load(detectorName, settings)
	}
	if err != nil {
		mm.logger.Warn().Err(err).Str("detector", detectorName).Msg("failed to load initial detector, marked unhealthy")
	}
	return mm
}

func (mm *ModelManager) load(name string, settings map[string]interface{}) error {
	detector, err := detectors.NewDetector(name, settings)
	if err != nil {
		mm.reloadFailed(err)
		return err
	}
	return mm.install(detector, "")
}

// GetDetector returns the current detector in a thread-safe manner
func (mm *ModelManager) GetDetector() (detectors.Detector, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.isHealthy {
		return nil, fmt.Errorf("model is unhealthy: %w", mm.lastError)
	}
	if mm.currentDetector == nil {
		return nil, ErrNoDetector
	}
	return mm.currentDetector, nil
}

// ReloadModel reloads the ONNX model from the specified directory with
// validation. The running detector keeps serving until the new one passed
// a validation inference, and keeps serving if the reload fails.
func (mm *ModelManager) ReloadModel(newDirectory string) error {
	if mm.detectorName != detectors.DetectorNameONNXModel {
		return fmt.Errorf("%s: %w", mm.detectorName, ErrReloadUnsupported)
	}
	mm.logger.Info().Str("directory", newDirectory).Msg("reloading model")

	config, err := mm.validateDirectory(newDirectory)
	if err != nil {
		mm.reloadFailed(err)
		return fmt.Errorf("validation failed: %w", err)
	}

	// Load outside the lock to keep serving with the old detector
	newDetector, err := mm.loadONNX(config)
	if err != nil {
		mm.reloadFailed(err)
		return fmt.Errorf("failed to load model: %w", err)
	}

	return mm.install(newDetector, newDirectory)
}

// install validates detector and swaps it in, closing the previous one.
func (mm *ModelManager) install(detector detectors.Detector, directory string) error {
	if _, err := detector.Detect(context.Background(), detectors.DetectorInput{Text: validationText}); err != nil {
		if closeErr := detector.Close(); closeErr != nil {
			mm.logger.Warn().Err(closeErr).Msg("failed to close rejected detector")
		}
		mm.reloadFailed(err)
		return fmt.Errorf("model validation failed: %w", err)
	}

	mm.mu.Lock()
	oldDetector := mm.currentDetector
	mm.currentDetector = detector
	if directory != "" {
		mm.modelDirectory = directory
	}
	mm.isHealthy = true
	mm.lastError = nil
	mm.mu.Unlock()

	// Close old detector outside lock to minimize critical section
	if oldDetector != nil {
		if err := oldDetector.Close(); err != nil {
			mm.logger.Warn().Err(err).Msg("failed to close old detector")
		}
	}

	mm.logger.Info().Str("detector", detector.GetName()).Str("directory", directory).Msg("detector ready")
	return nil
}

// reloadFailed records err. The manager only turns unhealthy when no
// detector is installed.
func (mm *ModelManager) reloadFailed(err error) {
	mm.mu.Lock()
	mm.lastError = err
	if mm.currentDetector == nil {
		mm.isHealthy = false
	}
	healthy := mm.isHealthy
	mm.mu.Unlock()

	if healthy {
		mm.logger.Error().Err(err).Msg("reload failed, previous detector kept")
		return
	}
	mm.logger.Error().Err(err).Msg("detector unhealthy")
}

// IsHealthy returns whether the current model is healthy
func (mm *ModelManager) IsHealthy() bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.isHealthy
}

// GetLastError returns the last error encountered (if any)
func (mm *ModelManager) GetLastError() error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.lastError
}

// ModelInfo describes the manager state.
type ModelInfo struct {
	Detector  string  `json:"detector"`
	Directory string  `json:"directory,omitempty"`
	Healthy   bool    `json:"healthy"`
	Error     *string `json:"error"`
}

// Info returns information about the current model state
func (mm *ModelManager) Info() ModelInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	info := ModelInfo{
		Detector:  mm.detectorName,
		Directory: mm.modelDirectory,
		Healthy:   mm.isHealthy,
	}
	if mm.lastError != nil {
		msg := mm.lastError.Error()
		info.Error = &msg
	}
	return info
}

// validateDirectory checks that the directory exists and contains all required files
func (mm *ModelManager) validateDirectory(dir string) (*ModelConfig, error) {
	if dir == "" {
		return nil, fmt.Errorf("model directory is not set")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	requiredFiles := []string{
		"model_quantized.onnx",
		"tokenizer.json",
		"label_mappings.json",
	}

	var missingFiles []string
	for _, filename := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, filename)); os.IsNotExist(err) {
			missingFiles = append(missingFiles, filename)
		}
	}
	if len(missingFiles) > 0 {
		return nil, fmt.Errorf("missing required files in directory: %v", missingFiles)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	return &ModelConfig{
		ModelPath:     filepath.Join(absDir, "model_quantized.onnx"),
		TokenizerPath: filepath.Join(absDir, "tokenizer.json"),
		LabelMapPath:  filepath.Join(absDir, "label_mappings.json"),
	}, nil
}

// Close closes the current detector and cleans up resources
func (mm *ModelManager) Close() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.currentDetector != nil {
		if err := mm.currentDetector.Close(); err != nil {
			return fmt.Errorf("failed to close detector: %w", err)
		}
		mm.currentDetector = nil
	}

	mm.isHealthy = false
	return nil
}
