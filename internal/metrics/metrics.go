package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cutting-erp/internal/storage"
)

const namespace = "cutting"

// Metrics holds the planning and issuance collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PlansGenerated  *prometheus.CounterVec
	PlansIncomplete *prometheus.CounterVec
	ScrapMM         *prometheus.CounterVec
	PlanDuration    prometheus.Histogram
	Allocations     *prometheus.CounterVec
	Issuances       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		PlansGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_generated_total",
			Help:      "Cutting plans generated, by strategy.",
		}, []string{"strategy"}),
		PlansIncomplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_incomplete_total",
			Help:      "Cutting plans with at least one unassigned cut, by strategy.",
		}, []string{"strategy"}),
		ScrapMM: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_scrap_mm_total",
			Help:      "Scrap length proposed by generated plans, by strategy.",
		}, []string{"strategy"}),
		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_generation_seconds",
			Help:      "Time to aggregate demand and optimize all material groups.",
			Buckets:   prometheus.DefBuckets,
		}),
		Allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		Issuances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requisition_issuances_total",
			Help:      "Per-requisition issuance results, by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.PlansGenerated,
		m.PlansIncomplete,
		m.ScrapMM,
		m.PlanDuration,
		m.Allocations,
		m.Issuances,
	)

	return m
}

func (m *Metrics) ObservePlan(plan storage.CuttingPlan) {
	strategy := string(plan.Strategy)
	m.PlansGenerated.WithLabelValues(strategy).Inc()
	m.ScrapMM.WithLabelValues(strategy).Add(float64(plan.TotalScrapMM))
	if !plan.IsComplete {
		m.PlansIncomplete.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) ObservePlanDuration(d time.Duration) {
	m.PlanDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveAllocation(strategy, outcome string) {
	m.Allocations.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveIssuance(outcome storage.IssueOutcome) {
	m.Issuances.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
