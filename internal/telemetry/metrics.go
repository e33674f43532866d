package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the query engine. Registered on the default
// registry and served from /metrics.
var (
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickerdesk",
		Name:      "queries_total",
		Help:      "Executed queries by terminal status.",
	}, []string{"status"})

	QueryCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tickerdesk",
		Name:      "query_cost_dollars_total",
		Help:      "Total settled query cost in dollars.",
	})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickerdesk",
		Name:      "job_transitions_total",
		Help:      "Background job state transitions.",
	}, []string{"to"})

	FragmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickerdesk",
		Name:      "enrichment_fragment_failures_total",
		Help:      "Enrichment fragments that failed to resolve.",
	}, []string{"fragment"})

	BudgetDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tickerdesk",
		Name:      "budget_denials_total",
		Help:      "Queries denied at admission by cap.",
	}, []string{"cap"})
)
