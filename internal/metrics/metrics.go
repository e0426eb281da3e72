package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_tasks_started_total",
			Help: "Total number of research tasks started",
		},
		[]string{"mode"},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_tasks_finished_total",
			Help: "Total number of research tasks that reached a terminal status",
		},
		[]string{"mode", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_task_duration_seconds",
			Help:    "Research pipeline duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	TaskCostUSD = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_task_cost_usd",
			Help:    "Accumulated cost in USD per research task",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"mode"},
	)

	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_tasks_in_flight",
			Help: "Number of research pipelines currently running",
		},
	)

	// Agent metrics
	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_calls_total",
			Help: "Total number of agent completion calls",
		},
		[]string{"role", "provider", "status"},
	)

	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_agent_call_duration_ms",
			Help:    "Agent call duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"role"},
	)

	AgentTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_tokens_total",
			Help: "Tokens consumed by agent calls",
		},
		[]string{"role", "kind"},
	)

	ParseFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_parse_fallbacks_total",
			Help: "Total number of agent outputs replaced by a default",
		},
		[]string{"parser"},
	)

	// Completion client metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_completion_requests_total",
			Help: "Completion requests by outcome kind",
		},
		[]string{"kind"},
	)

	// Pricing metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pricing_fallback_total",
			Help: "Total number of pricing fallbacks (missing/unknown model)",
		},
		[]string{"reason"},
	)

	// Store metrics
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_checkpoint_writes_total",
			Help: "Task checkpoints by result (ok, error, skipped)",
		},
		[]string{"result"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_stream_subscribers",
			Help: "Active live stream subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_stream_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)
)
