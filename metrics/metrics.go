package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medcortex_run_duration_ms",
		Help:    "End-to-end run latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
	}, []string{"outcome"})

	branchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medcortex_branch_latency_ms",
		Help:    "Latency of one gather branch in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1500, 3000, 6000, 12000},
	}, []string{"branch"})

	branchOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medcortex_branch_total",
		Help: "Gather branch outcomes",
	}, []string{"branch", "outcome"})

	invalidRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "medcortex_request_invalid_total",
		Help: "Requests rejected before a run started",
	})

	contextLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "medcortex_context_length_chars",
		Help:    "Assembled context size in characters",
		Buckets: []float64{0, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
	})

	budgetExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medcortex_context_budget_exhausted_total",
		Help: "Assemblies that ran out of context budget",
	}, []string{"effect"})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medcortex_retrieval_cache_total",
		Help: "Retrieval cache lookups",
	}, []string{"result"})

	memoryEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "medcortex_memory_evictions_total",
		Help: "Working memory eviction attempts",
	}, []string{"outcome"})

	generationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medcortex_generation_latency_ms",
		Help:    "Answer generation latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
	}, []string{"mode"})

	answerTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "medcortex_answer_tokens",
		Help:    "Estimated token count of generated answers",
		Buckets: []float64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096},
	})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(runDuration, branchLatency, branchOutcome, invalidRequests,
			contextLength, budgetExhausted, cacheLookups, memoryEvictions, generationLatency,
			answerTokens)
	})
}

// ObserveRun records the latency of a finished run under its outcome.
func ObserveRun(outcome string, start time.Time) {
	ensureRegistered()
	runDuration.WithLabelValues(outcome).Observe(float64(time.Since(start).Milliseconds()))
}

// ObserveBranch records one gather branch completion.
func ObserveBranch(branch string, start time.Time, degraded bool) {
	ensureRegistered()
	branchLatency.WithLabelValues(branch).Observe(float64(time.Since(start).Milliseconds()))
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	branchOutcome.WithLabelValues(branch, outcome).Inc()
}

// IncInvalidRequest counts a request rejected by validation.
func IncInvalidRequest() {
	ensureRegistered()
	invalidRequests.Inc()
}

// ObserveAssembly records the assembled context size and budget effects.
func ObserveAssembly(length int, truncated bool, droppedParts int) {
	ensureRegistered()
	contextLength.Observe(float64(length))
	if truncated {
		budgetExhausted.WithLabelValues("truncated").Inc()
	}
	if droppedParts > 0 {
		budgetExhausted.WithLabelValues("dropped").Add(float64(droppedParts))
	}
}

// IncCache counts a retrieval cache lookup.
func IncCache(hit bool) {
	ensureRegistered()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// IncEviction counts a working memory eviction attempt.
func IncEviction(ok bool) {
	ensureRegistered()
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	memoryEvictions.WithLabelValues(outcome).Inc()
}

// ObserveGeneration records answer generation latency per mode.
func ObserveGeneration(mode string, start time.Time) {
	ensureRegistered()
	generationLatency.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))
}

// ObserveAnswerTokens records the estimated size of a generated answer.
func ObserveAnswerTokens(tokens int) {
	ensureRegistered()
	answerTokens.Observe(float64(tokens))
}

// Collectors exposes all collectors for registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		runDuration, branchLatency, branchOutcome, invalidRequests,
		contextLength, budgetExhausted, cacheLookups, memoryEvictions, generationLatency,
		answerTokens,
	}
}
