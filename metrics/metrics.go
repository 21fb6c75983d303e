// Package metrics exposes Prometheus counters for chain runs, completion
// latency and document exports on a private registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pmo_doc_generator/generator"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)

type Metrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	ExportsTotal       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmodoc",
			Name:      "chain_runs_total",
			Help:      "Sequential chain executions by outcome.",
		}, []string{"outcome"}),
		CompletionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pmodoc",
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion-service calls per chain step.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"step", "outcome"}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmodoc",
			Name:      "document_exports_total",
			Help:      "Word document exports by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.RunsTotal,
		m.CompletionDuration,
		m.ExportsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun counts one chain execution. err == nil is "ok".
func (m *Metrics) ObserveRun(err error) {
	m.RunsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveExport counts one document export.
func (m *Metrics) ObserveExport(err error) {
	m.ExportsTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// InstrumentLLM wraps client so every completion is timed per step.
func (m *Metrics) InstrumentLLM(client generator.LLMClient) generator.LLMClient {
	return &instrumentedLLM{next: client, hist: m.CompletionDuration}
}

type instrumentedLLM struct {
	next generator.LLMClient
	hist *prometheus.HistogramVec
}

func (l *instrumentedLLM) Complete(ctx context.Context, prompt generator.Prompt) (string, error) {
	start := time.Now()
	out, err := l.next.Complete(ctx, prompt)
	label := outcome(err)
	if err == nil && out == "" {
		label = OutcomeEmpty
	}
	l.hist.WithLabelValues(prompt.Step, label).Observe(time.Since(start).Seconds())
	return out, err
}
