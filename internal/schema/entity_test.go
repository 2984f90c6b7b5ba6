package schema

import "testing"

func TestRiskScoreFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       int
	}{
		{0, 0},
		{0.144, 14},
		{0.145, 15}, // round half up
		{0.5, 50},
		{0.999, 100},
		{1, 100},
		{-0.5, 0},  // clamped
		{1.5, 100}, // clamped
	}
	for _, tt := range tests {
		if got := RiskScoreFor(tt.confidence); got != tt.want {
			t.Errorf("RiskScoreFor(%v) = %d, want %d", tt.confidence, got, tt.want)
		}
	}
}

func TestNewResultInvariant(t *testing.T) {
	res := NewResult(EntityTransaction, CategoryScamToken, 0.37, []string{"known-bad counterparty"})

	if res.RiskScore != RiskScoreFor(res.Confidence) {
		t.Errorf("risk %d does not match confidence %v", res.RiskScore, res.Confidence)
	}
	if res.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("verdict id not assigned")
	}
	if res.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if res.Evidence == nil || res.AffectedAddresses == nil {
		t.Error("slices must be empty, never nil, for stable JSON")
	}
}

func TestNewResultClampsConfidence(t *testing.T) {
	if res := NewResult(EntityURL, CategoryPhishing, 1.7, nil); res.Confidence != 1 || res.RiskScore != 100 {
		t.Errorf("confidence = %v, risk = %d", res.Confidence, res.RiskScore)
	}
	if res := NewResult(EntityURL, CategoryPhishing, -0.2, nil); res.Confidence != 0 || res.RiskScore != 0 {
		t.Errorf("confidence = %v, risk = %d", res.Confidence, res.RiskScore)
	}
}

func TestCategoryValidity(t *testing.T) {
	for _, c := range Categories() {
		if !c.IsValid() {
			t.Errorf("canonical category %q not valid", c)
		}
	}
	if CategoryUnknown.IsValid() {
		t.Error("unknown must stay outside the closed verdict set")
	}
	if ThreatCategory("rugpull").IsValid() {
		t.Error("near-miss spelling accepted")
	}
}

func TestEntityTypeValidity(t *testing.T) {
	for _, e := range []EntityType{EntityTransaction, EntityContract, EntityURL} {
		if !e.IsValid() {
			t.Errorf("%q not valid", e)
		}
	}
	if EntityType("wallet").IsValid() {
		t.Error("unknown entity type accepted")
	}
}
