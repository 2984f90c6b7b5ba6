package fusion

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"chainsentry/internal/detect/classifier"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/detect/pattern"
	"chainsentry/internal/schema"
)

func patternResult(matches map[string]int, knownBad ...string) *pattern.Result {
	m := make(pattern.Matches)
	for k, v := range matches {
		m[k] = v
	}
	return &pattern.Result{Matches: m, KnownBadHits: knownBad}
}

func TestFuseWeightedMean(t *testing.T) {
	e := NewEngine()

	in := Inputs{
		Anomaly:    Signal{Score: 0.6, Available: true},
		Patterns:   patternResult(map[string]int{pattern.CatScamKeywords: 2}),
		Classifier: &classifier.Prediction{Category: schema.CategoryPhishing, Confidence: 0.9},
	}

	res := e.Fuse(schema.EntityTransaction, in)

	patternScore := 2.0 / float64(pattern.CategoryCount)
	want := 0.3*0.6 + 0.4*patternScore + 0.3*0.9
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", res.Confidence, want)
	}
	if res.RiskScore != schema.RiskScoreFor(res.Confidence) {
		t.Fatalf("risk score %d inconsistent with confidence %v", res.RiskScore, res.Confidence)
	}
}

func TestFuseRedistributesMissingWeight(t *testing.T) {
	e := NewEngine()

	in := Inputs{
		Anomaly:    Signal{Available: false},
		Patterns:   patternResult(map[string]int{pattern.CatScamKeywords: 3}),
		Classifier: &classifier.Prediction{Category: schema.CategoryScamToken, Confidence: 0.8},
	}

	res := e.Fuse(schema.EntityTransaction, in)

	patternScore := 3.0 / float64(pattern.CategoryCount)
	want := (0.4*patternScore + 0.3*0.8) / 0.7
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", res.Confidence, want)
	}
}

func TestFuseNoSignals(t *testing.T) {
	res := NewEngine().Fuse(schema.EntityTransaction, Inputs{})

	if res.Confidence != 0 || res.RiskScore != 0 {
		t.Fatalf("empty inputs produced confidence %v, risk %d", res.Confidence, res.RiskScore)
	}
	if res.ThreatType != schema.CategorySocialEngineering {
		t.Fatalf("fallback category = %s", res.ThreatType)
	}
}

func TestFuseIntelBoost(t *testing.T) {
	e := NewEngine()

	in := Inputs{
		Patterns: patternResult(map[string]int{pattern.CatScamKeywords: 2}),
		Intel:    &intel.Report{Boost: 50, IOCs: []string{"virustotal flagged 0xabc (3 engines)"}},
	}

	res := e.Fuse(schema.EntityTransaction, in)

	base := schema.RiskScoreFor((2.0 / float64(pattern.CategoryCount)))
	wantRisk := base + 50
	if res.RiskScore != wantRisk {
		t.Fatalf("risk = %d, want %d", res.RiskScore, wantRisk)
	}
	if res.RiskScore != schema.RiskScoreFor(res.Confidence) {
		t.Fatalf("boost broke the risk/confidence invariant: %d vs %v", res.RiskScore, res.Confidence)
	}
}

func TestFuseIntelBoostCaps(t *testing.T) {
	in := Inputs{
		Anomaly: Signal{Score: 0.9, Available: true},
		Intel:   &intel.Report{Boost: 100},
	}
	res := NewEngine().Fuse(schema.EntityTransaction, in)

	if res.RiskScore != 100 || res.Confidence != 1 {
		t.Fatalf("capped result = risk %d, confidence %v", res.RiskScore, res.Confidence)
	}
}

func TestFuseKnownBadPrecedence(t *testing.T) {
	in := Inputs{
		Patterns: patternResult(
			map[string]int{pattern.CatKnownBadAddresses: 1, pattern.CatPhishingPatterns: 2},
			"0x1111111111111111111111111111111111111111",
		),
		Classifier: &classifier.Prediction{Category: schema.CategoryRugPull, Confidence: 0.9},
	}
	res := NewEngine().Fuse(schema.EntityTransaction, in)

	if res.ThreatType != schema.CategoryScamToken {
		t.Fatalf("known-bad hit resolved to %s", res.ThreatType)
	}
	if len(res.Evidence) == 0 || !strings.Contains(res.Evidence[0], "known-bad address") {
		t.Fatalf("known-bad hit missing from evidence head: %v", res.Evidence)
	}
}

func TestFuseCategoryPrecedence(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want schema.ThreatCategory
	}{
		{
			name: "phishing patterns beat classifier",
			in: Inputs{
				Patterns:   patternResult(map[string]int{pattern.CatPhishingPatterns: 1}),
				Classifier: &classifier.Prediction{Category: schema.CategoryPonziScheme, Confidence: 0.9},
			},
			want: schema.CategoryPhishing,
		},
		{
			name: "flash loan pattern",
			in: Inputs{
				Patterns: patternResult(map[string]int{pattern.CatFlashLoanPatterns: 1}),
			},
			want: schema.CategoryFlashLoanAttack,
		},
		{
			name: "mev pattern",
			in: Inputs{
				Patterns: patternResult(map[string]int{pattern.CatMEVPatterns: 1}),
			},
			want: schema.CategoryMEVAttack,
		},
		{
			name: "dominant anomaly",
			in: Inputs{
				Anomaly:  Signal{Score: 0.85, Available: true},
				Patterns: patternResult(nil),
			},
			want: schema.CategoryMaliciousContract,
		},
		{
			name: "classifier when nothing dominates",
			in: Inputs{
				Anomaly:    Signal{Score: 0.4, Available: true},
				Classifier: &classifier.Prediction{Category: schema.CategoryFakeAirdrop, Confidence: 0.6},
			},
			want: schema.CategoryFakeAirdrop,
		},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Fuse(schema.EntityTransaction, tt.in).ThreatType; got != tt.want {
				t.Fatalf("category = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFuseEvidenceNeverEmptyWithConfidence(t *testing.T) {
	// Low anomaly score crosses no evidence threshold but still yields a
	// nonzero confidence; the summary line must fill the gap.
	in := Inputs{Anomaly: Signal{Score: 0.3, Available: true}}
	res := NewEngine().Fuse(schema.EntityTransaction, in)

	if res.Confidence <= 0 {
		t.Fatalf("expected nonzero confidence, got %v", res.Confidence)
	}
	if len(res.Evidence) == 0 {
		t.Fatal("nonzero confidence with empty evidence")
	}
}

func TestFuseDeterministic(t *testing.T) {
	e := NewEngine()
	in := Inputs{
		Anomaly:    Signal{Score: 0.7, Available: true},
		Patterns:   patternResult(map[string]int{pattern.CatMEVPatterns: 1}),
		Classifier: &classifier.Prediction{Category: schema.CategoryMEVAttack, Confidence: 0.65},
		Intel:      &intel.Report{Boost: 30, IOCs: []string{"otx pulses for 0xabc: 2"}},
	}

	a := e.Fuse(schema.EntityTransaction, in)
	b := e.Fuse(schema.EntityTransaction, in)

	if a.Confidence != b.Confidence || a.RiskScore != b.RiskScore || a.ThreatType != b.ThreatType {
		t.Fatalf("non-deterministic fusion: %+v vs %+v", a, b)
	}
	if !reflect.DeepEqual(a.Evidence, b.Evidence) {
		t.Fatalf("evidence order changed between runs:\n%v\n%v", a.Evidence, b.Evidence)
	}
}
