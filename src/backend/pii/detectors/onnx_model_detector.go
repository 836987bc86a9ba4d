package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

const (
	// maxSeqLen is the model's max_position_embeddings.
	maxSeqLen = 512
	// chunkOverlap tokens are shared by neighbouring chunks of long inputs.
	chunkOverlap = 64
	// minTokenConfidence below which a token is treated as "O".
	minTokenConfidence = 0.5
)

// ONNXModelDetector runs a token-classification model exported to ONNX.
// Inference reuses one set of tensors, so Detect calls are serialized.
type ONNXModelDetector struct {
	mu           sync.Mutex
	tokenizer    *tokenizers.Tokenizer
	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[int64]
	maskTensor   *onnxruntime.Tensor[int64]
	outputTensor *onnxruntime.Tensor[float32]
	id2label     map[int]string
	numLabels    int
	modelPath    string
}

// labelMappings mirrors label_mappings.json shipped next to the model.
type labelMappings struct {
	PII struct {
		ID2Label map[string]string `json:"id2label"`
	} `json:"pii"`
}

// safeUintToInt safely converts a uint to int with bounds checking
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}

// NewONNXModelDetector loads the tokenizer and label map. The ONNX session is
// created on first use. An empty labelMapPath means label_mappings.json in
// the model's directory.
func NewONNXModelDetector(modelPath, tokenizerPath, labelMapPath string) (*ONNXModelDetector, error) {
	if labelMapPath == "" {
		labelMapPath = filepath.Join(filepath.Dir(modelPath), "label_mappings.json")
	}

	if libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	}
	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	// #nosec G304 - label map path comes from operator configuration
	data, err := os.ReadFile(labelMapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read label mappings: %w", err)
	}
	id2label, numLabels, err := parseLabelMappings(data)
	if err != nil {
		return nil, err
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	return &ONNXModelDetector{
		tokenizer: tk,
		id2label:  id2label,
		numLabels: numLabels,
		modelPath: modelPath,
	}, nil
}

// parseLabelMappings returns the id->label table and the width of the logits
// row (max id + 1). Ids that are not integers, such as "-100", are ignored.
func parseLabelMappings(data []byte) (map[int]string, int, error) {
	var mappings labelMappings
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, 0, fmt.Errorf("failed to parse label mappings: %w", err)
	}

	id2label := make(map[int]string, len(mappings.PII.ID2Label))
	numLabels := 0
	for idStr, label := range mappings.PII.ID2Label {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 {
			continue
		}
		id2label[id] = label
		if id >= numLabels {
			numLabels = id + 1
		}
	}
	if numLabels == 0 {
		return nil, 0, fmt.Errorf("label mappings contain no labels")
	}
	return id2label, numLabels, nil
}

// GetName returns the name of this detector
func (d *ONNXModelDetector) GetName() string {
	return DetectorNameONNXModel
}

// tokenChunk is a window of at most maxSeqLen tokens of the encoded input.
type tokenChunk struct {
	tokenIDs        []uint32
	offsets         []tokenizers.Offset
	startTokenIndex int
	isFirst         bool
	isLast          bool
}

// chunkTokens splits an encoding into overlapping windows of maxSeqLen tokens.
func chunkTokens(tokenIDs []uint32, offsets []tokenizers.Offset) []tokenChunk {
	if len(tokenIDs) <= maxSeqLen {
		return []tokenChunk{{
			tokenIDs: tokenIDs,
			offsets:  offsets,
			isFirst:  true,
			isLast:   true,
		}}
	}

	stride := maxSeqLen - chunkOverlap
	var chunks []tokenChunk
	for start := 0; start < len(tokenIDs); start += stride {
		end := start + maxSeqLen
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		chunks = append(chunks, tokenChunk{
			tokenIDs:        tokenIDs[start:end],
			offsets:         offsets[start:end],
			startTokenIndex: start,
			isFirst:         start == 0,
			isLast:          end == len(tokenIDs),
		})
		if end == len(tokenIDs) {
			break
		}
	}
	return chunks
}

// Detect processes the input and returns detected entities
func (d *ONNXModelDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		if err := d.initializeSession(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	encoding := d.tokenizer.EncodeWithOptions(input.Text, true, tokenizers.WithReturnOffsets())

	var perChunk [][]Entity
	for _, chunk := range chunkTokens(encoding.IDs, encoding.Offsets) {
		if err := ctx.Err(); err != nil {
			return DetectorOutput{}, err
		}

		inputIDs := make([]int64, len(chunk.tokenIDs))
		attentionMask := make([]int64, len(chunk.tokenIDs))
		for i, id := range chunk.tokenIDs {
			inputIDs[i] = int64(id)
			attentionMask[i] = 1
		}
		d.updateInputTensors(inputIDs, attentionMask)

		if err := d.session.Run(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to run inference: %w", err)
		}

		labels, confidences := d.decodeLogits(d.outputTensor.GetData(), len(chunk.tokenIDs))
		perChunk = append(perChunk, groupEntities(input.Text, labels, confidences, chunk.offsets))
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: mergeNameParts(input.Text, mergeChunkEntities(perChunk)),
	}, nil
}

// decodeLogits picks the arg-max label per token and its softmax probability.
func (d *ONNXModelDetector) decodeLogits(logits []float32, numTokens int) ([]string, []float64) {
	labels := make([]string, numTokens)
	confidences := make([]float64, numTokens)

	for i := 0; i < numTokens; i++ {
		startIdx := i * d.numLabels
		endIdx := startIdx + d.numLabels
		if endIdx > len(logits) {
			labels[i] = "O"
			continue
		}
		label, confidence := argmaxSoftmax(logits[startIdx:endIdx], d.id2label)
		if confidence < minTokenConfidence {
			label = "O"
		}
		labels[i] = label
		confidences[i] = confidence
	}
	return labels, confidences
}

func argmaxSoftmax(row []float32, id2label map[int]string) (string, float64) {
	maxLogit := -math.MaxFloat64
	best := 0
	for j, logit := range row {
		if float64(logit) > maxLogit {
			maxLogit = float64(logit)
			best = j
		}
	}

	var sum float64
	for _, logit := range row {
		sum += math.Exp(float64(logit) - maxLogit)
	}

	label, ok := id2label[best]
	if !ok {
		label = "O"
	}
	return label, 1 / sum
}

// groupEntities turns per-token BIO labels into entities. Tokens with an
// empty offset range (special tokens) never belong to an entity.
func groupEntities(text string, labels []string, confidences []float64, offsets []tokenizers.Offset) []Entity {
	var entities []Entity
	var current *Entity
	var count int

	flush := func() {
		if current != nil {
			current.Text = text[current.StartPos:current.EndPos]
			current.Confidence /= float64(count)
			entities = append(entities, *current)
			current = nil
		}
	}

	for i, label := range labels {
		if i >= len(offsets) {
			break
		}
		start, end := safeUintToInt(offsets[i][0]), safeUintToInt(offsets[i][1])
		if label == "O" || start >= end || end > len(text) {
			flush()
			continue
		}

		base := BaseLabel(label)
		upper := strings.ToUpper(label)
		inside := strings.HasPrefix(upper, "I-")
		// Untagged labels continue an entity only across touching subwords.
		untagged := base == upper && current != nil && start == current.EndPos
		if current != nil && (inside || untagged) && current.Label == base {
			current.EndPos = end
			current.Confidence += confidences[i]
			count++
			continue
		}

		flush()
		current = &Entity{Label: base, StartPos: start, EndPos: end, Confidence: confidences[i]}
		count = 1
	}
	flush()
	return entities
}

// mergeChunkEntities combines the entities of overlapping chunks. Entities
// with identical ranges are deduplicated keeping the most confident label.
// The result is sorted by position.
func mergeChunkEntities(chunks [][]Entity) []Entity {
	byRange := make(map[[2]int]Entity)
	for _, entities := range chunks {
		for _, e := range entities {
			key := [2]int{e.StartPos, e.EndPos}
			if existing, ok := byRange[key]; ok && existing.Confidence >= e.Confidence {
				continue
			}
			byRange[key] = e
		}
	}

	merged := make([]Entity, 0, len(byRange))
	for _, e := range byRange {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].StartPos != merged[j].StartPos {
			return merged[i].StartPos < merged[j].StartPos
		}
		return merged[i].EndPos < merged[j].EndPos
	})
	return merged
}

// mergeNameParts joins consecutive person-name entities separated only by
// spaces (FIRSTNAME + SURNAME) into one PERSON entity. Input must be sorted.
func mergeNameParts(text string, entities []Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if n := len(out); n > 0 && IsPersonLabel(e.Label) && IsPersonLabel(out[n-1].Label) {
			prev := &out[n-1]
			if e.StartPos >= prev.EndPos && strings.TrimSpace(text[prev.EndPos:e.StartPos]) == "" {
				prev.Confidence = math.Min(prev.Confidence, e.Confidence)
				prev.EndPos = e.EndPos
				prev.Text = text[prev.StartPos:prev.EndPos]
				prev.Label = "PERSON"
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// initializeSession initializes the ONNX session and tensors
func (d *ONNXModelDetector) initializeSession() error {
	inputShape := onnxruntime.NewShape(1, maxSeqLen)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		_ = inputTensor.Destroy()
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(1, maxSeqLen, int64(d.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = maskTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(d.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"pii_logits"},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = maskTensor.Destroy()
		_ = outputTensor.Destroy()
		return fmt.Errorf("failed to create session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.maskTensor = maskTensor
	d.outputTensor = outputTensor
	return nil
}

// updateInputTensors updates the input tensors with new data
func (d *ONNXModelDetector) updateInputTensors(inputIDs, attentionMask []int64) {
	inputData := d.inputTensor.GetData()
	maskData := d.maskTensor.GetData()

	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}

	copy(inputData, inputIDs)
	copy(maskData, attentionMask)
}

// Close implements the Detector interface
func (d *ONNXModelDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		d.session = nil
	}
	if d.inputTensor != nil {
		if err := d.inputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy input tensor: %w", err))
		}
		d.inputTensor = nil
	}
	if d.maskTensor != nil {
		if err := d.maskTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy mask tensor: %w", err))
		}
		d.maskTensor = nil
	}
	if d.outputTensor != nil {
		if err := d.outputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy output tensor: %w", err))
		}
		d.outputTensor = nil
	}
	if d.tokenizer != nil {
		if err := d.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
		d.tokenizer = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
