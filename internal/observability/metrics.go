package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Metrics is the process-wide counter set for one pipeline run. Everything is
// in-memory; WritePrometheus renders the text exposition format for dumps and
// the run summary.
type Metrics struct {
	ProviderRequests    *CounterVec
	ProviderLatency     *HistogramVec
	ProviderTokens      *CounterVec
	CacheOps            *CounterVec
	StageLatency        *HistogramVec
	StageOutcomes       *CounterVec
	PapersProcessed     *CounterVec
	ValidationDecisions *CounterVec
	NodesPersisted      *Counter
	EdgesPersisted      *Counter
	InsightsEmitted     *Counter
	MergesApplied       *Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: NewCounterVec("papergraph_provider_requests_total",
			"Provider calls by provider, operation, and outcome.",
			[]string{"provider", "op", "outcome"}),
		ProviderLatency: NewHistogramVec("papergraph_provider_latency_seconds",
			"Provider call latency.",
			[]string{"provider", "op"},
			[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30}),
		ProviderTokens: NewCounterVec("papergraph_provider_tokens_total",
			"Tokens exchanged with the generation provider.",
			[]string{"provider", "direction"}),
		CacheOps: NewCounterVec("papergraph_cache_ops_total",
			"Cache lookups by layer, artifact type, and outcome.",
			[]string{"layer", "artifact_type", "outcome"}),
		StageLatency: NewHistogramVec("papergraph_stage_latency_seconds",
			"Per-paper stage latency.",
			[]string{"stage"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60}),
		StageOutcomes: NewCounterVec("papergraph_stage_outcomes_total",
			"Stage completions by stage and outcome.",
			[]string{"stage", "outcome"}),
		PapersProcessed: NewCounterVec("papergraph_papers_total",
			"Papers by terminal pipeline status.",
			[]string{"status"}),
		ValidationDecisions: NewCounterVec("papergraph_validation_decisions_total",
			"Validator decisions by subject and decision.",
			[]string{"subject", "decision"}),
		NodesPersisted:  NewCounter("papergraph_nodes_persisted_total", "Graph nodes inserted."),
		EdgesPersisted:  NewCounter("papergraph_edges_persisted_total", "Graph edges inserted."),
		InsightsEmitted: NewCounter("papergraph_insights_emitted_total", "Inferred insights persisted."),
		MergesApplied:   NewCounter("papergraph_merges_applied_total", "Dedupe merges applied."),
	}
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.ProviderRequests, m.ProviderLatency, m.ProviderTokens, m.CacheOps,
		m.StageLatency, m.StageOutcomes, m.PapersProcessed, m.ValidationDecisions,
		m.NodesPersisted, m.EdgesPersisted, m.InsightsEmitted, m.MergesApplied,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	lbl := labelString(c.labelNames, values)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[lbl]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}
