package knownbad

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKey is the Redis set used for warm-start persistence.
const redisKey = "chainsentry:knownbad"

// RefresherConfig configures periodic feed refresh.
type RefresherConfig struct {
	FeedURLs        []string      `yaml:"feed_urls"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// DefaultRefresherConfig returns default refresher settings.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		RefreshInterval: 6 * time.Hour,
		FetchTimeout:    30 * time.Second,
	}
}

// Refresher periodically rebuilds the known-bad set from configured feeds
// and swaps it into the store. When a Redis client is provided, each
// successful refresh is persisted so the next process start has a warm set
// before the first fetch completes.
type Refresher struct {
	store  *Store
	config RefresherConfig
	client *http.Client
	rdb    *redis.Client

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRefresher creates a refresher. rdb may be nil (no persistence).
func NewRefresher(store *Store, cfg RefresherConfig, rdb *redis.Client) *Refresher {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Refresher{
		store:  store,
		config: cfg,
		client: &http.Client{Timeout: timeout},
		rdb:    rdb,
		stopCh: make(chan struct{}),
	}
}

// Start loads the persisted set if available, performs an initial refresh,
// and begins the periodic refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	if r.rdb != nil {
		if err := r.loadPersisted(ctx); err != nil {
			slog.Warn("knownbad warm start failed", "error", err)
		}
	}

	if err := r.Refresh(ctx); err != nil {
		slog.Warn("initial knownbad refresh failed", "error", err)
	}

	r.wg.Add(1)
	go r.refreshLoop(ctx)
	slog.Info("knownbad refresher started", "feeds", len(r.config.FeedURLs))
}

// Stop halts the refresh loop.
func (r *Refresher) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	slog.Info("knownbad refresher stopped")
}

func (r *Refresher) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.config.RefreshInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Error("knownbad refresh failed", "error", err)
			}
		}
	}
}

// Refresh fetches all feeds, builds a replacement set, and swaps it in.
// Individual feed failures are logged and skipped; the refresh fails only
// when every feed fails.
func (r *Refresher) Refresh(ctx context.Context) error {
	if len(r.config.FeedURLs) == 0 {
		return nil
	}

	var values []string
	var fetched int
	for _, url := range r.config.FeedURLs {
		entries, err := r.fetchFeed(ctx, url)
		if err != nil {
			slog.Warn("knownbad feed fetch failed", "url", url, "error", err)
			continue
		}
		values = append(values, entries...)
		fetched++
	}

	if fetched == 0 {
		return fmt.Errorf("all %d knownbad feeds failed", len(r.config.FeedURLs))
	}

	set := NewSet(values)
	r.store.Swap(set)
	slog.Info("knownbad set refreshed", "entries", set.Len(), "feeds", fetched)

	if r.rdb != nil {
		if err := r.persist(ctx, set); err != nil {
			slog.Warn("knownbad persistence failed", "error", err)
		}
	}
	return nil
}

// fetchFeed retrieves one feed. JSON feeds may be an array of strings, an
// array of objects with an "address" field, or an object keyed by address;
// anything else is treated as a newline-separated plain-text list.
func (r *Refresher) fetchFeed(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}

	return ParseFeed(body), nil
}

// ParseFeed extracts address/domain entries from a feed payload.
func ParseFeed(body []byte) []string {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err == nil {
			var out []string
			for _, item := range raw {
				var s string
				if json.Unmarshal(item, &s) == nil {
					out = append(out, s)
					continue
				}
				var obj struct {
					Address string `json:"address"`
					Domain  string `json:"domain"`
				}
				if json.Unmarshal(item, &obj) == nil {
					if obj.Address != "" {
						out = append(out, obj.Address)
					}
					if obj.Domain != "" {
						out = append(out, obj.Domain)
					}
				}
			}
			return out
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err == nil {
			out := make([]string, 0, len(obj))
			for k := range obj {
				out = append(out, k)
			}
			return out
		}
	}

	var out []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (r *Refresher) loadPersisted(ctx context.Context) error {
	values, err := r.rdb.SMembers(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	set := NewSet(values)
	r.store.Swap(set)
	slog.Info("knownbad set loaded from redis", "entries", set.Len())
	return nil
}

func (r *Refresher) persist(ctx context.Context, set *Set) error {
	values := set.Values()
	if len(values) == 0 {
		return nil
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, redisKey)
	members := make([]interface{}, len(values))
	for i, v := range values {
		members[i] = v
	}
	pipe.SAdd(ctx, redisKey, members...)
	_, err := pipe.Exec(ctx)
	return err
}
