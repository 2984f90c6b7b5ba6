package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scaler applies the standard-score normalization the models were trained
// with. Mean and Std are per-feature statistics captured at training time;
// Version pairs the scaler with its model bundle.
type Scaler struct {
	Version string    `json:"version"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
}

// LoadScaler reads a scaler parameter file.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}

	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return nil, fmt.Errorf("scaler mean/std length mismatch: %d vs %d", len(s.Mean), len(s.Std))
	}
	return &s, nil
}

// Transform standardizes a feature vector. Features beyond the fitted
// length pass through unscaled; a zero Std leaves the feature centered
// only.
func (s *Scaler) Transform(features []float64) []float32 {
	out := make([]float32, len(features))
	for i, v := range features {
		if i < len(s.Mean) {
			v -= s.Mean[i]
			if s.Std[i] != 0 {
				v /= s.Std[i]
			}
		}
		out[i] = float32(v)
	}
	return out
}
