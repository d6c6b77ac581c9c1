// Package metrics exposes analysis results as Prometheus metrics, for
// scraping from the MCP server process or for the node exporter's textfile
// collector.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Benny93/haeca-go/internal/analysis"
	"github.com/Benny93/haeca-go/internal/graph"
	"github.com/Benny93/haeca-go/internal/ingestion"
)

// Registry holds all metrics for the application.
type Registry struct {
	// Graph Metrics
	GraphNodes *prometheus.GaugeVec
	GraphEdges *prometheus.GaugeVec

	// Input Metrics
	Automations *prometheus.GaugeVec
	Diagnostics *prometheus.GaugeVec

	// Analysis Metrics
	Findings     *prometheus.GaugeVec
	PassDuration *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
	LastRun      prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

// NewRegistry creates a registry with every metric registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	f := promauto.With(r.registry)

	r.GraphNodes = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "haeca_graph_nodes",
		Help: "Nodes in the last built flow graph",
	}, []string{"kind"})
	r.GraphEdges = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "haeca_graph_edges",
		Help: "Edges in the last built flow graph",
	}, []string{"kind"})

	r.Automations = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "haeca_automations",
		Help: "Automations read in the last run",
	}, []string{"status"})
	r.Diagnostics = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "haeca_diagnostics",
		Help: "Build diagnostics in the last run",
	}, []string{"kind"})

	r.Findings = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "haeca_findings",
		Help: "Findings in the last run",
	}, []string{"class"})
	r.PassDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "haeca_analysis_pass_duration_seconds",
		Help:    "Analysis pass duration in seconds",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0, 10.0},
	}, []string{"pass"})
	r.RunsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "haeca_runs_total",
		Help: "Pipeline runs",
	}, []string{"status"})
	r.LastRun = f.NewGauge(prometheus.GaugeOpts{
		Name: "haeca_last_run_timestamp_seconds",
		Help: "Unix time of the last successful run",
	})

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRun updates every gauge from a pipeline outcome. A nil outcome or
// non-nil error only counts a failed run.
func (r *Registry) RecordRun(out *ingestion.Outcome, err error) {
	if err != nil || out == nil {
		r.RunsTotal.WithLabelValues("error").Inc()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g := out.Graph()
	r.GraphNodes.WithLabelValues(string(graph.NodeEvent)).Set(float64(g.CountNodesByKind(graph.NodeEvent)))
	r.GraphNodes.WithLabelValues(string(graph.NodeAction)).Set(float64(g.CountNodesByKind(graph.NodeAction)))
	r.GraphEdges.WithLabelValues(string(graph.EdgeTrigger)).Set(float64(g.CountEdgesByKind(graph.EdgeTrigger)))
	r.GraphEdges.WithLabelValues(string(graph.EdgeEffect)).Set(float64(g.CountEdgesByKind(graph.EdgeEffect)))

	r.Automations.WithLabelValues("included").Set(float64(out.Result.Included))
	r.Automations.WithLabelValues("skipped").Set(float64(out.Result.Skipped))

	// Diagnostic kinds absent from this run must read zero, not keep the
	// previous run's value.
	r.Diagnostics.Reset()
	for _, d := range out.Build.Diagnostics {
		r.Diagnostics.WithLabelValues(d.Kind()).Inc()
	}

	s := out.Report.Summary
	r.Findings.WithLabelValues(analysis.PassRedundancy).Set(float64(s.RedundancyIssues))
	r.Findings.WithLabelValues(analysis.PassInconsistency).Set(float64(s.InconsistencyIssues))
	r.Findings.WithLabelValues(analysis.PassCircularity).Set(float64(s.CircularityIssues))

	for pass, d := range out.Result.Timings {
		r.PassDuration.WithLabelValues(pass).Observe(d.Seconds())
	}

	r.RunsTotal.WithLabelValues("ok").Inc()
	r.LastRun.Set(float64(time.Now().Unix()))
}

// WriteTextfile writes the current metrics in the text exposition format,
// atomically, for the node exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
