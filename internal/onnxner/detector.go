package onnxner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gopkg.in/yaml.v3"

	"github.com/scrubly-ai/scrubly/internal/pii"
	"github.com/scrubly-ai/scrubly/internal/recognizer"
)

const (
	defaultSeqLen   = 256
	defaultPoolSize = 2
)

// Config locates an ONNX NER bundle on disk. BundleDir must contain
// model.onnx, vocab.txt, labels.json, and optionally entities.yaml mapping
// raw model labels to canonical entity types.
type Config struct {
	BundleDir string
	SeqLen    int
	PoolSize  int
}

// Detector runs token-classification inference and turns BIO-labelled
// tokens into rune-offset spans. It satisfies recognizer.Detector.
type Detector struct {
	tokenizer *WordPieceTokenizer
	labels    []string
	entityMap map[string]string
	seqLen    int
	pool      chan *nerSession

	mu       sync.Mutex
	sessions int
	closed   bool
}

// nerSession owns one ONNX session with its pre-allocated tensors. A
// session is held by at most one goroutine at a time via the pool channel.
type nerSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

// Load initializes the tokenizer, label set, and a pool of ONNX sessions.
func Load(cfg Config) (*Detector, error) {
	if cfg.BundleDir == "" {
		return nil, errors.New("bundle dir is empty")
	}
	seqLen := cfg.SeqLen
	if seqLen <= 0 {
		seqLen = defaultSeqLen
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	libPath := resolveSharedLibraryPath(cfg.BundleDir)
	if libPath == "" {
		return nil, fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := filepath.Join(cfg.BundleDir, "model.onnx")
	labelsPath := filepath.Join(cfg.BundleDir, "labels.json")
	vocabPath := filepath.Join(cfg.BundleDir, "vocab.txt")
	entitiesPath := filepath.Join(cfg.BundleDir, "entities.yaml")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	entityMap, err := loadEntityMap(entitiesPath)
	if err != nil {
		return nil, fmt.Errorf("load entity map: %w", err)
	}

	tokenizer, err := LoadWordPieceTokenizer(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	d := &Detector{
		tokenizer: tokenizer,
		labels:    labels,
		entityMap: entityMap,
		seqLen:    seqLen,
		pool:      make(chan *nerSession, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		s, err := newNERSession(modelPath, seqLen, len(labels))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create onnx session: %w", err)
		}
		d.sessions++
		d.pool <- s
	}
	return d, nil
}

func newNERSession(modelPath string, seqLen, numLabels int) (*nerSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, err
	}
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, err
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	outputShape := ort.NewShape(1, int64(seqLen), int64(numLabels))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		return nil, err
	}
	return &nerSession{
		session:       session,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

// Detect tokenizes the text, runs one inference pass, and decodes BIO
// labels into spans. Entity filtering and thresholding beyond the raw
// model scores are left to the resolver.
func (d *Detector) Detect(ctx context.Context, text string, params recognizer.DetectParams) ([]pii.Span, error) {
	if d == nil {
		return nil, errors.New("ner detector not initialized")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("ner detector closed")
	}
	d.mu.Unlock()

	ids, mask, offsets := d.tokenizer.EncodeWithOffsets(text, d.seqLen)

	var s *nerSession
	select {
	case s = <-d.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { d.pool <- s }()

	copy(s.inputIDs.GetData(), ids)
	copy(s.attentionMask.GetData(), mask)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	logits := s.output.GetData()
	numLabels := len(d.labels)
	tokenLabels := make([]string, d.seqLen)
	tokenScores := make([]float64, d.seqLen)
	for t := 0; t < d.seqLen; t++ {
		if mask[t] == 0 {
			tokenLabels[t] = "O"
			continue
		}
		row := logits[t*numLabels : (t+1)*numLabels]
		idx, prob := argmaxSoftmax(row)
		tokenLabels[t] = d.labels[idx]
		tokenScores[t] = prob
	}

	return decodeEntities(tokenLabels, tokenScores, offsets, d.entityMap), nil
}

// SupportedEntities reports the distinct entity types the label set can emit.
func (d *Detector) SupportedEntities(language string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, label := range d.labels {
		_, name, ok := splitBIO(label)
		if !ok {
			continue
		}
		entity := name
		if mapped, ok := d.entityMap[name]; ok {
			entity = mapped
		} else {
			entity = strings.ToUpper(entity)
		}
		if !seen[entity] {
			seen[entity] = true
			out = append(out, entity)
		}
	}
	return out
}

// Close destroys all pooled sessions and their tensors. The pool channel is
// never closed: an in-flight Detect returns its session through the channel,
// and Close waits to receive every created session before destroying it.
func (d *Detector) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	n := d.sessions
	d.sessions = 0
	d.mu.Unlock()

	for i := 0; i < n; i++ {
		s := <-d.pool
		s.session.Destroy()
		s.inputIDs.Destroy()
		s.attentionMask.Destroy()
		s.output.Destroy()
	}
}

func argmaxSoftmax(logits []float32) (int, float64) {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	var sum float64
	max := float64(logits[best])
	for _, l := range logits {
		sum += math.Exp(float64(l) - max)
	}
	return best, 1.0 / sum
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	out := make([]string, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}

// loadEntityMap reads the optional raw-label to canonical-entity mapping.
// A missing file means labels pass through as-is.
func loadEntityMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	var wrapper struct {
		Entities map[string]string `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Entities == nil {
		wrapper.Entities = make(map[string]string)
	}
	return wrapper.Entities, nil
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime shared
// library. ONNXRUNTIME_SHARED_LIBRARY_PATH wins when set; otherwise common
// names and locations are tried in order.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
