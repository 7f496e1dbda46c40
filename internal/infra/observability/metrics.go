package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the apuração engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	runDuration    *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
	itemsProcessed prometheus.Counter
	rulesMatched   prometheus.Counter
	externalErrors *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	candidatesSeen *prometheus.CounterVec
	tokensUsed     *prometheus.CounterVec
	batchDocuments *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apuracao_run_duration_seconds",
				Help:    "Duration of assessment runs by outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_runs_total",
				Help: "Total assessment runs by outcome.",
			},
			[]string{"status"},
		),
		itemsProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apuracao_items_processed_total",
				Help: "Total line items evaluated.",
			},
		),
		rulesMatched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apuracao_rules_matched_total",
				Help: "Total rule applications across all items.",
			},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_external_errors_total",
				Help: "Total errors from external collaborators.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		candidatesSeen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_extraction_candidates_total",
				Help: "Candidate rules seen by the extraction pipeline, by verdict.",
			},
			[]string{"verdict"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_llm_tokens_total",
				Help: "Total LLM tokens consumed by rule extraction.",
			},
			[]string{"type"},
		),
		batchDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apuracao_batch_documents_total",
				Help: "Documents processed by the batch coordinator, by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// RecordRunDuration records the duration of one assessment run.
func (m *Metrics) RecordRunDuration(status string, d time.Duration) {
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
	m.runsTotal.WithLabelValues(status).Inc()
}

// AddItemsProcessed counts evaluated line items.
func (m *Metrics) AddItemsProcessed(n int) {
	m.itemsProcessed.Add(float64(n))
}

// AddRulesMatched counts rule applications.
func (m *Metrics) AddRulesMatched(n int) {
	m.rulesMatched.Add(float64(n))
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrCandidate counts one extraction candidate with its verdict
// ("admitted" or "rejected").
func (m *Metrics) IncrCandidate(verdict string) {
	m.candidatesSeen.WithLabelValues(verdict).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrBatchDocument counts one batch document with its outcome
// ("success", "error" or "cached").
func (m *Metrics) IncrBatchDocument(outcome string) {
	m.batchDocuments.WithLabelValues(outcome).Inc()
}

// EngineSnapshot is a point-in-time view of the engine counters, served by
// the GET /v1/metrics/engine endpoint.
type EngineSnapshot struct {
	RunsCompleted    float64 `json:"runs_completed"`
	RunsFailed       float64 `json:"runs_failed"`
	ItemsProcessed   float64 `json:"items_processed"`
	RulesMatched     float64 `json:"rules_matched"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	PromptTokens     float64 `json:"prompt_tokens"`
	CompletionTokens float64 `json:"completion_tokens"`
}

// GetEngineSnapshot gathers current counter values.
func (m *Metrics) GetEngineSnapshot() *EngineSnapshot {
	hits := getCounterValue(m.cacheHits, "run") + getCounterValue(m.cacheHits, "document")
	misses := getCounterValue(m.cacheMisses, "run") + getCounterValue(m.cacheMisses, "document")

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &EngineSnapshot{
		RunsCompleted:    getCounterValue(m.runsTotal, "completed"),
		RunsFailed:       getCounterValue(m.runsTotal, "failed"),
		ItemsProcessed:   getSingleCounterValue(m.itemsProcessed),
		RulesMatched:     getSingleCounterValue(m.rulesMatched),
		CacheHitRate:     hitRate,
		PromptTokens:     getCounterValue(m.tokensUsed, "prompt"),
		CompletionTokens: getCounterValue(m.tokensUsed, "completion"),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getSingleCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
