package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshharrison/lantern/internal/llm"
)

var (
	// batchesTotal counts finished batches by result
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lantern_batches_total",
		Help: "Total analyzed batches by result",
	}, []string{"result"})

	// batchDuration tracks the analysis call per batch
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lantern_batch_duration_seconds",
		Help:    "Batch analysis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
	})

	// stageTransitions counts checkpoints by stage entered
	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lantern_stage_transitions_total",
		Help: "Total orchestrator stage transitions by stage",
	}, []string{"stage"})

	// llmCalls counts completed LLM calls
	llmCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lantern_llm_calls_total",
		Help: "Total completed LLM calls",
	})

	// llmTokens counts LLM tokens by kind (input or output)
	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lantern_llm_tokens_total",
		Help: "Total LLM tokens by kind",
	}, []string{"kind"})
)

func observeUsage(u llm.Usage) {
	llmCalls.Add(float64(u.Calls))
	llmTokens.WithLabelValues("input").Add(float64(u.InputTokens))
	llmTokens.WithLabelValues("output").Add(float64(u.OutputTokens))
}
