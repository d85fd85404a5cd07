package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_runs_total",
		Help: "Total number of pipeline runs by terminal status",
	}, []string{"status"})

	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelpipe_run_duration_seconds",
		Help:    "Duration of a full pipeline run from claim to terminal state",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelpipe_stage_duration_seconds",
		Help:    "Duration of individual LLM stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_stage_failures_total",
		Help: "Total number of stage failures by stage and reason",
	}, []string{"stage", "reason"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_llm_requests_total",
		Help: "Total number of LLM requests by model and status",
	}, []string{"model", "stage", "status"})

	LLMTokensPrompt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_llm_tokens_prompt_total",
		Help: "Total prompt tokens consumed",
	}, []string{"model", "stage"})

	LLMTokensCompletion = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_llm_tokens_completion_total",
		Help: "Total completion tokens consumed",
	}, []string{"model", "stage"})

	LLMCostMillicents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_llm_cost_millicents_total",
		Help: "Estimated cumulative LLM cost in millicents",
	}, []string{"model", "stage"})

	CandidatesSelected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelpipe_candidates_selected_total",
		Help: "Total number of posts admitted into the pipeline",
	})

	SelectionBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelpipe_selection_backlog_size",
		Help: "Number of scored, unprocessed posts awaiting selection",
	})

	StuckRunsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelpipe_stuck_runs_recovered_total",
		Help: "Total number of stale claimed runs reclaimed",
	})

	ScenarioTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_scenario_transitions_total",
		Help: "Total scenario lifecycle transitions by target status and outcome",
	}, []string{"to", "outcome"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelpipe_notifications_total",
		Help: "Total notification delivery attempts by type and status",
	}, []string{"type", "status"})
)
