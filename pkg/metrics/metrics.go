// Package metrics is a small in-process registry with JSON and Prometheus
// text exposition. Counters cover gate decisions, tool outcomes, approval
// states and per-endpoint latency.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu            sync.RWMutex
	endpoint      map[string]*EndpointStat
	gateDecision  map[string]int64
	reason        map[string]int64
	tierRequests  map[string]int64
	toolStatus    map[string]int64
	approvalState map[string]int64
	gauges        map[string]float64
	traceLatency  TraceLatencyStat
	Histograms    *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

// TraceLatencyStat tracks end-to-end trace durations.
type TraceLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt    string                  `json:"generated_at"`
	Endpoints      map[string]EndpointStat `json:"endpoints"`
	GateDecisions  map[string]int64        `json:"gate_decisions"`
	Reasons        map[string]int64        `json:"reasons"`
	TierRequests   map[string]int64        `json:"tier_requests"`
	ToolStatuses   map[string]int64        `json:"tool_statuses"`
	ApprovalStates map[string]int64        `json:"approval_states"`
	Gauges         map[string]float64      `json:"gauges"`
	TraceLatencyMS TraceLatencyStat        `json:"trace_latency_ms"`
	Histograms     []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:      map[string]*EndpointStat{},
		gateDecision:  map[string]int64{},
		reason:        map[string]int64{},
		tierRequests:  map[string]int64{},
		toolStatus:    map[string]int64{},
		approvalState: map[string]int64{},
		gauges:        map[string]float64{},
		Histograms:    NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncGateDecision counts one capability gate outcome ("allowed"/"denied").
func (r *Registry) IncGateDecision(verdict string) {
	if verdict == "" {
		return
	}
	r.mu.Lock()
	r.gateDecision[verdict]++
	r.mu.Unlock()
}

func (r *Registry) IncReason(reason string) {
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.reason[reason]++
	r.mu.Unlock()
}

// IncTierRequest counts one request by risk tier.
func (r *Registry) IncTierRequest(tier string) {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return
	}
	r.mu.Lock()
	r.tierRequests[tier]++
	r.mu.Unlock()
}

// IncToolStatus counts one tool invocation outcome by terminal status.
func (r *Registry) IncToolStatus(status string) {
	status = strings.TrimSpace(status)
	if status == "" {
		return
	}
	r.mu.Lock()
	r.toolStatus[status]++
	r.mu.Unlock()
}

// IncApprovalState counts one approval request entering a state.
func (r *Registry) IncApprovalState(state string) {
	state = strings.TrimSpace(state)
	if state == "" {
		return
	}
	r.mu.Lock()
	r.approvalState[state]++
	r.mu.Unlock()
}

// ObserveTraceLatency records one completed trace duration.
func (r *Registry) ObserveTraceLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceLatency.Count++
	r.traceLatency.TotalMS += ms
	r.traceLatency.LastMS = ms
	if ms > r.traceLatency.MaxMS {
		r.traceLatency.MaxMS = ms
	}
	r.traceLatency.AvgMS = float64(r.traceLatency.TotalMS) / float64(r.traceLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Endpoints:      make(map[string]EndpointStat, len(r.endpoint)),
		GateDecisions:  make(map[string]int64, len(r.gateDecision)),
		Reasons:        make(map[string]int64, len(r.reason)),
		TierRequests:   make(map[string]int64, len(r.tierRequests)),
		ToolStatuses:   make(map[string]int64, len(r.toolStatus)),
		ApprovalStates: make(map[string]int64, len(r.approvalState)),
		Gauges:         make(map[string]float64, len(r.gauges)),
		TraceLatencyMS: r.traceLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.gateDecision {
		out.GateDecisions[k] = v
	}
	for k, v := range r.reason {
		out.Reasons[k] = v
	}
	for k, v := range r.tierRequests {
		out.TierRequests[k] = v
	}
	for k, v := range r.toolStatus {
		out.ToolStatuses[k] = v
	}
	for k, v := range r.approvalState {
		out.ApprovalStates[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP aerogate_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE aerogate_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "aerogate_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP aerogate_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE aerogate_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "aerogate_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP aerogate_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE aerogate_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "aerogate_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP aerogate_gate_decision_total capability gate outcomes\n")
		b.WriteString("# TYPE aerogate_gate_decision_total counter\n")
		for _, verdict := range SortedKeys(snap.GateDecisions) {
			fmt.Fprintf(b, "aerogate_gate_decision_total{verdict=%q} %d\n", verdict, snap.GateDecisions[verdict])
		}
		b.WriteString("# HELP aerogate_reason_total gate decisions by reason\n")
		b.WriteString("# TYPE aerogate_reason_total counter\n")
		for _, reason := range SortedKeys(snap.Reasons) {
			fmt.Fprintf(b, "aerogate_reason_total{reason=%q} %d\n", reason, snap.Reasons[reason])
		}
		b.WriteString("# HELP aerogate_tier_request_total requests by risk tier\n")
		b.WriteString("# TYPE aerogate_tier_request_total counter\n")
		for _, tier := range SortedKeys(snap.TierRequests) {
			fmt.Fprintf(b, "aerogate_tier_request_total{tier=%q} %d\n", tier, snap.TierRequests[tier])
		}
		b.WriteString("# HELP aerogate_tool_status_total tool invocations by terminal status\n")
		b.WriteString("# TYPE aerogate_tool_status_total counter\n")
		for _, status := range SortedKeys(snap.ToolStatuses) {
			fmt.Fprintf(b, "aerogate_tool_status_total{status=%q} %d\n", status, snap.ToolStatuses[status])
		}
		b.WriteString("# HELP aerogate_approval_state_total approval requests by state\n")
		b.WriteString("# TYPE aerogate_approval_state_total counter\n")
		for _, state := range SortedKeys(snap.ApprovalStates) {
			fmt.Fprintf(b, "aerogate_approval_state_total{state=%q} %d\n", state, snap.ApprovalStates[state])
		}
		b.WriteString("# HELP aerogate_gauge operational gauge metrics\n")
		b.WriteString("# TYPE aerogate_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "aerogate_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP aerogate_trace_latency_ms completed trace latency in ms\n")
		b.WriteString("# TYPE aerogate_trace_latency_ms gauge\n")
		fmt.Fprintf(b, "aerogate_trace_latency_ms{stat=%q} %d\n", "last", snap.TraceLatencyMS.LastMS)
		fmt.Fprintf(b, "aerogate_trace_latency_ms{stat=%q} %.3f\n", "avg", snap.TraceLatencyMS.AvgMS)
		fmt.Fprintf(b, "aerogate_trace_latency_ms{stat=%q} %d\n", "max", snap.TraceLatencyMS.MaxMS)
		for _, h := range snap.Histograms {
			b.WriteString("# HELP aerogate_latency_seconds latency histogram\n")
			b.WriteString("# TYPE aerogate_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "aerogate_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "aerogate_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aerogate_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "aerogate_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aerogate_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
