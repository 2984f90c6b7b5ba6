package classifier

import (
	"context"
	"errors"
	"testing"

	"chainsentry/internal/detect"
	"chainsentry/internal/features"
	"chainsentry/internal/schema"
)

type fixedModel struct {
	probs []float64
	err   error
}

func (m fixedModel) Probabilities(feats []float32) ([]float64, error) { return m.probs, m.err }

type identityScaler struct{}

func (identityScaler) Transform(feats []float64) []float32 {
	out := make([]float32, len(feats))
	for i, v := range feats {
		out[i] = float32(v)
	}
	return out
}

func evenProbs(n int) []float64 {
	probs := make([]float64, n)
	for i := range probs {
		probs[i] = 1 / float64(n)
	}
	return probs
}

func TestClassifyUnavailableWithoutModel(t *testing.T) {
	tests := []struct {
		name string
		cls  *Classifier
	}{
		{"nil classifier", nil},
		{"nil model", New(nil, identityScaler{}, nil)},
		{"nil scaler", New(fixedModel{}, nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cls.Classify(context.Background(), features.Vector{})
			if !errors.Is(err, detect.ErrUnavailable) {
				t.Fatalf("error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestClassifyArgmax(t *testing.T) {
	probs := evenProbs(len(schema.Categories()))
	probs[3] = 0.72 // flash_loan_attack in canonical order

	cls := New(fixedModel{probs: probs}, identityScaler{}, nil)
	pred, err := cls.Classify(context.Background(), features.Vector{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if pred.Category != schema.CategoryFlashLoanAttack {
		t.Errorf("category = %s, want %s", pred.Category, schema.CategoryFlashLoanAttack)
	}
	if pred.Confidence != 0.72 {
		t.Errorf("confidence = %v, want 0.72", pred.Confidence)
	}
}

func TestClassifyCustomLabelOrder(t *testing.T) {
	labels := []schema.ThreatCategory{schema.CategoryHoneypot, schema.CategoryPhishing}
	cls := New(fixedModel{probs: []float64{0.1, 0.9}}, identityScaler{}, labels)

	pred, err := cls.Classify(context.Background(), features.Vector{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if pred.Category != schema.CategoryPhishing {
		t.Errorf("category = %s, want %s", pred.Category, schema.CategoryPhishing)
	}
}

func TestClassifyLabelMismatch(t *testing.T) {
	cls := New(fixedModel{probs: []float64{0.5, 0.5}}, identityScaler{}, nil)
	if _, err := cls.Classify(context.Background(), features.Vector{}); err == nil {
		t.Fatal("expected error for probability/label length mismatch")
	}
}

func TestClassifyModelError(t *testing.T) {
	cls := New(fixedModel{err: errors.New("session closed")}, identityScaler{}, nil)
	if _, err := cls.Classify(context.Background(), features.Vector{}); err == nil {
		t.Fatal("expected inference error to propagate")
	}
}

func TestClassifyConfidenceClamped(t *testing.T) {
	probs := evenProbs(len(schema.Categories()))
	probs[0] = 1.3 // softmax drift past 1 must not leak out

	cls := New(fixedModel{probs: probs}, identityScaler{}, nil)
	pred, err := cls.Classify(context.Background(), features.Vector{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if pred.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", pred.Confidence)
	}
}

func TestClassifyCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cls := New(fixedModel{probs: evenProbs(len(schema.Categories()))}, identityScaler{}, nil)
	if _, err := cls.Classify(ctx, features.Vector{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
