// Package api exposes the detection HTTP surface: one synchronous detect
// endpoint plus health and metrics.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"chainsentry/internal/analyzer"
	"chainsentry/internal/consumer"
	"chainsentry/internal/queue"
	"chainsentry/internal/schema"
	"chainsentry/internal/storage"
)

// maxDetectPayload bounds the detect request body. Inline transaction data
// and contract source fit well under this.
const maxDetectPayload = 1 << 20

// StatsSources aggregates the component counters surfaced on /metrics.
// Nil fields are omitted from the report.
type StatsSources struct {
	Queue    func() queue.Metrics
	Writer   func() storage.Metrics
	Consumer func() consumer.Metrics
	Intel    func() (checks, cacheHits uint64)
	Stream   func() (consumed, errs uint64)
	Alerts   func() (produced, failures uint64)
}

// Handler handles the detection API.
type Handler struct {
	service   *analyzer.Service
	stats     StatsSources
	startTime time.Time
	requests  atomic.Uint64
}

// NewHandler creates an API handler.
func NewHandler(service *analyzer.Service, stats StatsSources) *Handler {
	return &Handler{
		service:   service,
		stats:     stats,
		startTime: time.Now(),
	}
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/detect", h.HandleDetect)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)
	return mux
}

// HandleDetect handles POST /v1/detect. Invalid requests get the degraded
// envelope with HTTP 400; analysis failures past validation are already
// folded into the verdict by the analyzer, so anything else is 200.
func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)

	r.Body = http.MaxBytesReader(w, r.Body, maxDetectPayload)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if err.Error() == "http: request body too large" {
			respondDegraded(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		respondDegraded(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req schema.DetectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondDegraded(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	res, err := h.service.Detect(r.Context(), &req)
	if err != nil {
		respondDegraded(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}

	if h.stats.Queue != nil {
		m := h.stats.Queue()
		if m.Capacity > 0 && m.Depth > int(float64(m.Capacity)*0.9) {
			resp["status"] = "degraded"
		}
		resp["queue_depth"] = m.Depth
		resp["queue_capacity"] = m.Capacity
	}

	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics, reporting component counters as JSON.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	analyses, degraded := h.service.Stats()
	resp := map[string]any{
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"requests_total": h.requests.Load(),
		"service": map[string]uint64{
			"analyses": analyses,
			"degraded": degraded,
		},
	}

	if h.stats.Queue != nil {
		resp["queue"] = h.stats.Queue()
	}
	if h.stats.Writer != nil {
		resp["writer"] = h.stats.Writer()
	}
	if h.stats.Consumer != nil {
		resp["consumer"] = h.stats.Consumer()
	}
	if h.stats.Intel != nil {
		checks, hits := h.stats.Intel()
		resp["intel"] = map[string]uint64{"checks": checks, "cache_hits": hits}
	}
	if h.stats.Stream != nil {
		consumed, errs := h.stats.Stream()
		resp["stream"] = map[string]uint64{"consumed": consumed, "errors": errs}
	}
	if h.stats.Alerts != nil {
		produced, failures := h.stats.Alerts()
		resp["alerts"] = map[string]uint64{"produced": produced, "failures": failures}
	}

	respondJSON(w, http.StatusOK, resp)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondDegraded writes the zero-confidence error envelope. It mirrors
// the verdict shape so clients parse one format on every path.
func respondDegraded(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error":       message,
		"threat_type": schema.CategoryUnknown,
		"confidence":  0,
		"risk_score":  0,
		"evidence":    []string{},
		"timestamp":   time.Now().UTC(),
	})
}
