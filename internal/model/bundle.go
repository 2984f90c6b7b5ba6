// Package model loads the trained model bundle: an outlier model, a
// multi-class threat classifier, and their paired feature scaler. Training
// happens elsewhere; this package only consumes exported artifacts.
//
// A bundle directory contains:
//
//	manifest.yaml   version, feature schema, artifact file names, labels
//	scaler.json     per-feature mean/std, stamped with the bundle version
//	anomaly.onnx    outlier model (decision-function output, shape [1,1])
//	classifier.onnx multi-class model (per-label output, shape [1,N])
//
// Scaler and models must carry the same version. A mismatch is a fatal
// configuration error surfaced at load time, never a soft degradation.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gopkg.in/yaml.v3"

	"chainsentry/internal/features"
	"chainsentry/internal/schema"
)

// ErrVersionMismatch is returned when the scaler and model versions
// disagree. Callers must treat it as fatal.
var ErrVersionMismatch = errors.New("model/scaler version mismatch")

// Manifest describes a model bundle.
type Manifest struct {
	Version       string   `yaml:"version"`
	FeatureSchema string   `yaml:"feature_schema"`
	FeatureCount  int      `yaml:"feature_count"`
	Anomaly       string   `yaml:"anomaly"`
	Classifier    string   `yaml:"classifier"`
	Scaler        string   `yaml:"scaler"`
	Labels        []string `yaml:"labels"`
}

// Bundle holds the loaded models and scaler for one version.
type Bundle struct {
	Version    string
	Scaler     *Scaler
	Anomaly    *OutlierSession
	Classifier *ClassifierSession
	Labels     []schema.ThreatCategory
}

// Load reads and validates a bundle directory. Missing model files are an
// error; a service that can run without models simply does not call Load.
func Load(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("manifest missing version")
	}
	if m.FeatureSchema != features.SchemaVersion {
		return nil, fmt.Errorf("bundle feature schema %q does not match %q", m.FeatureSchema, features.SchemaVersion)
	}
	if m.FeatureCount != features.Count {
		return nil, fmt.Errorf("bundle feature count %d does not match %d", m.FeatureCount, features.Count)
	}

	scaler, err := LoadScaler(filepath.Join(dir, fileOrDefault(m.Scaler, "scaler.json")))
	if err != nil {
		return nil, err
	}
	if scaler.Version != m.Version {
		return nil, fmt.Errorf("%w: scaler %q, bundle %q", ErrVersionMismatch, scaler.Version, m.Version)
	}
	if len(scaler.Mean) != m.FeatureCount {
		return nil, fmt.Errorf("scaler fitted for %d features, bundle declares %d", len(scaler.Mean), m.FeatureCount)
	}

	labels := make([]schema.ThreatCategory, 0, len(m.Labels))
	for _, l := range m.Labels {
		cat := schema.ThreatCategory(l)
		if !cat.IsValid() {
			return nil, fmt.Errorf("manifest label %q is not a known threat category", l)
		}
		labels = append(labels, cat)
	}
	if len(labels) == 0 {
		labels = schema.Categories()
	}

	if err := initRuntime(dir); err != nil {
		return nil, err
	}

	anomaly, err := newOutlierSession(filepath.Join(dir, fileOrDefault(m.Anomaly, "anomaly.onnx")), m.FeatureCount)
	if err != nil {
		return nil, fmt.Errorf("load anomaly model: %w", err)
	}

	classifier, err := newClassifierSession(filepath.Join(dir, fileOrDefault(m.Classifier, "classifier.onnx")), m.FeatureCount, len(labels))
	if err != nil {
		anomaly.Close()
		return nil, fmt.Errorf("load classifier model: %w", err)
	}

	slog.Info("model bundle loaded",
		"version", m.Version,
		"feature_schema", m.FeatureSchema,
		"labels", len(labels),
	)

	return &Bundle{
		Version:    m.Version,
		Scaler:     scaler,
		Anomaly:    anomaly,
		Classifier: classifier,
		Labels:     labels,
	}, nil
}

// Close releases both ONNX sessions.
func (b *Bundle) Close() {
	if b == nil {
		return
	}
	if b.Anomaly != nil {
		b.Anomaly.Close()
	}
	if b.Classifier != nil {
		b.Classifier.Close()
	}
}

func fileOrDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// initRuntime points onnxruntime at its shared library and initializes the
// environment once. The library is looked up next to the bundle, then via
// ONNXRUNTIME_SHARED_LIBRARY_PATH.
func initRuntime(bundleDir string) error {
	if ort.IsInitialized() {
		return nil
	}

	candidates := []string{
		filepath.Join(bundleDir, "libonnxruntime.so"),
		os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			ort.SetSharedLibraryPath(c)
			break
		}
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// OutlierSession wraps the anomaly model's ONNX session. Tensors are
// pre-allocated and reused, so Decision is serialized by a mutex.
type OutlierSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

func newOutlierSession(path string, featureCount int) (*OutlierSession, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", path, err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(featureCount)))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{"features"},
		[]string{"decision"},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &OutlierSession{session: session, input: input, output: output}, nil
}

// Decision runs the outlier decision function on a scaled feature vector.
func (s *OutlierSession) Decision(scaled []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.input.GetData()
	if len(scaled) != len(buf) {
		return 0, fmt.Errorf("feature vector length %d, model expects %d", len(scaled), len(buf))
	}
	copy(buf, scaled)

	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx run: %w", err)
	}
	return float64(s.output.GetData()[0]), nil
}

// Close destroys the session and tensors.
func (s *OutlierSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
}

// ClassifierSession wraps the multi-class model's ONNX session.
type ClassifierSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

func newClassifierSession(path string, featureCount, labelCount int) (*ClassifierSession, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", path, err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(featureCount)))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(labelCount)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{"features"},
		[]string{"logits"},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ClassifierSession{session: session, input: input, output: output}, nil
}

// Probabilities runs the classifier and softmaxes its logits into one
// probability per label, in manifest label order.
func (s *ClassifierSession) Probabilities(scaled []float32) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.input.GetData()
	if len(scaled) != len(buf) {
		return nil, fmt.Errorf("feature vector length %d, model expects %d", len(scaled), len(buf))
	}
	copy(buf, scaled)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	logits := s.output.GetData()
	return softmax(logits), nil
}

// Close destroys the session and tensors.
func (s *ClassifierSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
}

func softmax(logits []float32) []float64 {
	max := float64(math.Inf(-1))
	for _, l := range logits {
		if float64(l) > max {
			max = float64(l)
		}
	}

	var sum float64
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - max)
		sum += out[i]
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
