package intel

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSource struct {
	name    string
	timeout time.Duration
	report  *SourceReport
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubSource) Name() string           { return s.name }
func (s *stubSource) Timeout() time.Duration { return s.timeout }

func (s *stubSource) Check(ctx context.Context, addrs []string) (*SourceReport, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.report, s.err
}

func TestCheckAggregatesSources(t *testing.T) {
	a := &stubSource{name: "a", report: &SourceReport{
		Boost:           50,
		IOCs:            []string{"a flagged 0xabc"},
		MalwareFamilies: []string{"drainer"},
	}}
	b := &stubSource{name: "b", report: &SourceReport{
		Boost: 30,
		IOCs:  []string{"b flagged 0xabc"},
	}}

	lookup := NewLookup(Config{CacheTTL: time.Hour}, a, b)
	report := lookup.Check(context.Background(), []string{"0xAbC"})

	if report.Boost != 80 {
		t.Errorf("boost = %d, want 80", report.Boost)
	}
	if len(report.IOCs) != 2 {
		t.Errorf("iocs = %v", report.IOCs)
	}
	if len(report.MalwareFamilies) != 1 || report.MalwareFamilies[0] != "drainer" {
		t.Errorf("families = %v", report.MalwareFamilies)
	}
	if len(report.Unavailable) != 0 {
		t.Errorf("unavailable = %v", report.Unavailable)
	}
}

func TestCheckBoostCap(t *testing.T) {
	a := &stubSource{name: "a", report: &SourceReport{Boost: 90}}
	b := &stubSource{name: "b", report: &SourceReport{Boost: 60}}

	lookup := NewLookup(Config{CacheTTL: time.Hour}, a, b)
	if got := lookup.Check(context.Background(), []string{"0xabc"}).Boost; got != 100 {
		t.Errorf("boost = %d, want 100", got)
	}
}

func TestCheckFailedSourceDegrades(t *testing.T) {
	good := &stubSource{name: "good", report: &SourceReport{Boost: 50}}
	bad := &stubSource{name: "bad", err: errors.New("quota exceeded")}

	lookup := NewLookup(Config{CacheTTL: time.Hour}, good, bad)
	report := lookup.Check(context.Background(), []string{"0xabc"})

	if report.Boost != 50 {
		t.Errorf("boost = %d, want 50", report.Boost)
	}
	if len(report.Unavailable) != 1 || report.Unavailable[0] != "bad" {
		t.Errorf("unavailable = %v", report.Unavailable)
	}
}

func TestCheckSlowSourceTimesOut(t *testing.T) {
	slow := &stubSource{
		name:    "slow",
		timeout: 20 * time.Millisecond,
		delay:   5 * time.Second,
		report:  &SourceReport{Boost: 50},
	}

	lookup := NewLookup(Config{CacheTTL: time.Hour}, slow)
	start := time.Now()
	report := lookup.Check(context.Background(), []string{"0xabc"})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lookup blocked for %v, want per-source timeout", elapsed)
	}
	if report.Boost != 0 {
		t.Errorf("boost = %d, want 0", report.Boost)
	}
	if len(report.Unavailable) != 1 || report.Unavailable[0] != "slow" {
		t.Errorf("unavailable = %v", report.Unavailable)
	}
}

func TestCheckCacheKeyOrderInsensitive(t *testing.T) {
	src := &stubSource{name: "src", report: &SourceReport{Boost: 30}}
	lookup := NewLookup(Config{CacheTTL: time.Hour}, src)

	lookup.Check(context.Background(), []string{"0xBBB", "0xaaa"})
	lookup.Check(context.Background(), []string{"0xAAA", "0xbbb", " 0xaaa "})

	if src.calls != 1 {
		t.Errorf("source queried %d times, want 1 (cache hit on normalized key)", src.calls)
	}
	checks, hits := lookup.Stats()
	if checks != 2 || hits != 1 {
		t.Errorf("stats = %d checks, %d hits, want 2, 1", checks, hits)
	}
}

func TestCheckEmptyInputs(t *testing.T) {
	src := &stubSource{name: "src", report: &SourceReport{Boost: 30}}

	lookup := NewLookup(Config{CacheTTL: time.Hour}, src)
	if report := lookup.Check(context.Background(), nil); report.Boost != 0 {
		t.Errorf("empty address list boost = %d, want 0", report.Boost)
	}
	if src.calls != 0 {
		t.Errorf("source queried for empty address list")
	}

	noSources := NewLookup(Config{CacheTTL: time.Hour})
	if report := noSources.Check(context.Background(), []string{"0xabc"}); report.Boost != 0 {
		t.Errorf("no-source boost = %d, want 0", report.Boost)
	}
}

func TestNormalize(t *testing.T) {
	got := normalize([]string{" 0xBBB", "0xaaa", "0xbbb", "", "  "})
	want := []string{"0xaaa", "0xbbb"}
	if len(got) != len(want) {
		t.Fatalf("normalize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("normalize = %v, want %v", got, want)
		}
	}
}
