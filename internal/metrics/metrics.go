// Package metrics records merge statistics in a private Prometheus registry
// and writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentic-research/wxsmerge/internal/ingest"
	"github.com/agentic-research/wxsmerge/internal/writeback"
)

// Recorder collects the statistics of merge runs.
type Recorder struct {
	Registry *prometheus.Registry

	runs         *prometheus.CounterVec
	directories  prometheus.Gauge
	components   prometheus.Gauge
	placeholders prometheus.Gauge
	refs         *prometheus.GaugeVec
	passes       prometheus.Gauge
	replacements prometheus.Gauge
	duration     prometheus.Histogram
}

// New registers every wxsmerge metric in a fresh registry.
func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxsmerge_runs_total",
				Help: "Number of merge runs by outcome.",
			},
			[]string{"outcome"},
		),
		directories: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxsmerge_directories",
			Help: "Directories in the reconstructed install tree.",
		}),
		components: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxsmerge_components",
			Help: "File components merged into the install tree.",
		}),
		placeholders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxsmerge_placeholder_components",
			Help: "Non-file components left out of the install tree.",
		}),
		refs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wxsmerge_component_refs",
				Help: "Component group references by state.",
			},
			[]string{"state"},
		),
		passes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxsmerge_promotion_passes",
			Help: "Promotion passes needed to root every directory.",
		}),
		replacements: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wxsmerge_placeholder_replacements",
			Help: "Attribute placeholders replaced in the template.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wxsmerge_merge_duration_seconds",
			Help:    "Time taken by a merge run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.Registry.MustRegister(
		r.runs,
		r.directories,
		r.components,
		r.placeholders,
		r.refs,
		r.passes,
		r.replacements,
		r.duration,
	)
	return r
}

// Observe records a finished run. A nil error counts as success.
func (r *Recorder) Observe(stats ingest.Stats, splice writeback.SpliceStats, elapsed time.Duration, err error) {
	if err != nil {
		r.runs.WithLabelValues("failure").Inc()
		r.duration.Observe(elapsed.Seconds())
		return
	}
	r.runs.WithLabelValues("success").Inc()
	r.directories.Set(float64(stats.Directories))
	r.components.Set(float64(stats.Components))
	r.placeholders.Set(float64(stats.Placeholders))
	r.refs.WithLabelValues("kept").Set(float64(stats.RefsKept))
	r.refs.WithLabelValues("dropped").Set(float64(stats.RefsDropped))
	r.passes.Set(float64(stats.Passes))
	r.replacements.Set(float64(splice.Replacements))
	r.duration.Observe(elapsed.Seconds())
}

// WriteTextfile writes the current values to path, replacing it atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
