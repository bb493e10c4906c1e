package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research workflow metrics
	ResearchStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_research_started_total",
			Help: "Total number of research workflows started",
		},
	)

	ResearchCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_research_completed_total",
			Help: "Total number of research workflows completed",
		},
		[]string{"status"},
	)

	ResearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_research_duration_seconds",
			Help:    "Research workflow duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ResearchTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_research_tokens_used",
			Help:    "Number of tokens used per research run",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	ResearchCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_research_cost_usd",
			Help:    "Cost in USD per research run",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)

	QAPairsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_research_qa_pairs",
			Help:    "Number of question/answer pairs accumulated per research run",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 20},
		},
	)

	// Agent dispatch metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_agent_executions_total",
			Help: "Total number of agent dispatches",
		},
		[]string{"phase", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_agent_execution_duration_ms",
			Help:    "Agent dispatch duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"phase"},
	)

	// Decomposition metrics
	DecompositionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_decomposition_latency_seconds",
			Help:    "Query decomposition latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecompositionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_decomposition_errors_total",
			Help: "Total number of decomposition failures (fallback to whole query)",
		},
	)

	SubQueriesPerQuery = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_decomposition_sub_queries",
			Help:    "Number of sub-queries produced per decomposition",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	// Gap analysis metrics
	GapAnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_gap_analysis_latency_seconds",
			Help:    "Gap analysis latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GapAnalysisErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_gap_analysis_errors_total",
			Help: "Total number of gap analysis failures (treated as no gaps)",
		},
	)

	GapsFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_gap_analysis_gaps_found",
			Help:    "Number of follow-up questions produced per gap analysis call",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)

	// Synthesis metrics
	SynthesisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_synthesis_latency_seconds",
			Help:    "Report synthesis latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SynthesisFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_synthesis_fallbacks_total",
			Help: "Total number of synthesis degradations by kind",
		},
		[]string{"reason"},
	)

	AnswersFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_synthesis_answers_filtered_total",
			Help: "Total number of failed answers dropped before synthesis",
		},
	)

	// Visualization metrics
	VisualizationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_visualization_latency_seconds",
			Help:    "Table/graph extraction latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	VisualizationParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_visualization_parse_errors_total",
			Help: "Total number of unparseable extraction responses (empty result returned)",
		},
	)

	TablesExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_visualization_tables",
			Help:    "Number of tables returned per extraction",
			Buckets: []float64{0, 1, 2, 3, 5},
		},
	)

	GraphsExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finsight_visualization_graphs",
			Help:    "Number of graphs returned per extraction",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	// Safety gate metrics
	SafetyChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_safety_checks_total",
			Help: "Total number of safety checks by verdict",
		},
		[]string{"verdict"},
	)

	// Completion service client metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_completion_requests_total",
			Help: "Total number of completion service calls",
		},
		[]string{"component", "status"},
	)

	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_completion_latency_seconds",
			Help:    "Completion service call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"component"},
	)

	CompletionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_completion_cache_hits_total",
			Help: "Total number of completion cache hits",
		},
	)

	CompletionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_completion_cache_misses_total",
			Help: "Total number of completion cache misses",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_sessions_created_total",
			Help: "Total number of research sessions created",
		},
	)

	SessionTokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_tokens_total",
			Help: "Total tokens used across all sessions",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finsight_session_cache_size",
			Help: "Current number of sessions in local cache",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_session_cache_evictions_total",
			Help: "Total number of sessions evicted from cache",
		},
	)

	// Research archive metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_archive_writes_total",
			Help: "Total number of research archive writes",
		},
		[]string{"kind", "status"},
	)

	ArchiveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finsight_archive_queue_depth",
			Help: "Current depth of the async archive write queue",
		},
	)
)

// RecordResearchMetrics records metrics for a completed research run
func RecordResearchMetrics(status string, durationSeconds float64, tokensUsed int, costUSD float64, qaPairs int) {
	ResearchCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		ResearchDuration.Observe(durationSeconds)
	}
	if tokensUsed > 0 {
		ResearchTokensUsed.Observe(float64(tokensUsed))
	}
	if costUSD > 0 {
		ResearchCostUSD.Observe(costUSD)
	}
	if qaPairs > 0 {
		QAPairsPerRun.Observe(float64(qaPairs))
	}
}

// RecordAgentMetrics records metrics for one agent dispatch
func RecordAgentMetrics(phase, status string, durationMs float64) {
	AgentExecutions.WithLabelValues(phase, status).Inc()
	if durationMs > 0 {
		AgentExecutionDuration.WithLabelValues(phase).Observe(durationMs)
	}
}

// RecordCompletionMetrics records metrics for one completion service call
func RecordCompletionMetrics(component, status string, durationSeconds float64) {
	CompletionRequests.WithLabelValues(component, status).Inc()
	if durationSeconds > 0 {
		CompletionLatency.WithLabelValues(component).Observe(durationSeconds)
	}
}

// RecordSessionTokens increments the session tokens counter
func RecordSessionTokens(tokens int) {
	if tokens > 0 {
		SessionTokensTotal.Add(float64(tokens))
	}
}
