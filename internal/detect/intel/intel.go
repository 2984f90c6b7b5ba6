// Package intel aggregates external threat-intelligence lookups. Each
// configured source is queried concurrently under its own timeout; a slow
// or failing source contributes zero and is recorded as unavailable, never
// aborting the lookup. Results are cached with a TTL since reputation
// verdicts change slowly and sources are rate-limited.
package intel

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Report aggregates all source results for one lookup. Intel is an
// independent high-confidence signal: Boost is added to the fused risk
// score (capped at 100) rather than blended into the weighted sum.
type Report struct {
	// Boost is the additive risk-score contribution, 0-100.
	Boost int
	// IOCs are indicator-of-compromise strings, in source completion
	// order within a source's own order.
	IOCs []string
	// MalwareFamilies are families reported by any source.
	MalwareFamilies []string
	// Unavailable lists sources that timed out or errored.
	Unavailable []string
}

// SourceReport is one source's contribution.
type SourceReport struct {
	Boost           int
	IOCs            []string
	MalwareFamilies []string
}

// Source is one external reputation provider.
type Source interface {
	// Name identifies the source in evidence and logs.
	Name() string
	// Timeout is the per-source query budget.
	Timeout() time.Duration
	// Check queries the source for the given lower-cased addresses.
	Check(ctx context.Context, addrs []string) (*SourceReport, error)
}

// Config configures the lookup service.
type Config struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns default lookup settings.
func DefaultConfig() Config {
	return Config{CacheTTL: time.Hour}
}

// Lookup fans lookups out to all configured sources.
type Lookup struct {
	sources []Source
	ttl     time.Duration

	mu     sync.Mutex
	cache  map[string]cacheEntry
	checks uint64
	hits   uint64
}

type cacheEntry struct {
	report  *Report
	expires time.Time
}

// NewLookup creates a lookup service over the given sources. An empty
// source list is valid: Check then returns an empty report.
func NewLookup(cfg Config, sources ...Source) *Lookup {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Lookup{
		sources: sources,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
	}
}

// SourceCount returns the number of configured sources.
func (l *Lookup) SourceCount() int {
	return len(l.sources)
}

// Check queries every source concurrently and aggregates their reports.
// It never returns an error: total latency is bounded by the slowest
// configured timeout (and the caller's ctx), and per-source failures
// degrade to "source unavailable" entries.
func (l *Lookup) Check(ctx context.Context, addrs []string) *Report {
	normalized := normalize(addrs)
	if len(l.sources) == 0 || len(normalized) == 0 {
		return &Report{}
	}

	key := strings.Join(normalized, ",")
	l.mu.Lock()
	l.checks++
	if entry, ok := l.cache[key]; ok && time.Now().Before(entry.expires) {
		l.hits++
		l.mu.Unlock()
		return entry.report
	}
	l.mu.Unlock()

	type outcome struct {
		name   string
		report *SourceReport
		err    error
	}

	results := make([]outcome, len(l.sources))
	var wg sync.WaitGroup
	for i, src := range l.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()

			timeout := src.Timeout()
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			srcCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			report, err := src.Check(srcCtx, normalized)
			results[i] = outcome{name: src.Name(), report: report, err: err}
		}(i, src)
	}
	wg.Wait()

	agg := &Report{}
	for _, res := range results {
		if res.err != nil || res.report == nil {
			slog.Warn("threat-intel source unavailable", "source", res.name, "error", res.err)
			agg.Unavailable = append(agg.Unavailable, res.name)
			continue
		}
		agg.Boost += res.report.Boost
		agg.IOCs = append(agg.IOCs, res.report.IOCs...)
		agg.MalwareFamilies = append(agg.MalwareFamilies, res.report.MalwareFamilies...)
	}
	if agg.Boost > 100 {
		agg.Boost = 100
	}

	l.mu.Lock()
	l.cache[key] = cacheEntry{report: agg, expires: time.Now().Add(l.ttl)}
	l.mu.Unlock()

	return agg
}

// Stats returns lookup counters for the metrics endpoint.
func (l *Lookup) Stats() (checks, cacheHits uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checks, l.hits
}

// normalize lower-cases, dedups and sorts addresses so cache keys are
// stable regardless of caller order.
func normalize(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	var out []string
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
