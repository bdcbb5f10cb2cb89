package report

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "git_backup"

// WriteMetrics writes the run as Prometheus text format, for the node
// exporter textfile collector. Available metrics are...
//   - git_backup_repositories - (tags: state)
//     Repositories per outcome: cloned, updated, up_to_date, failed.
//   - git_backup_discovery_errors - root paths whose discovery failed.
//   - git_backup_orphans - orphan paths found.
//   - git_backup_last_run_timestamp_seconds - end of the run.
//   - git_backup_run_duration_seconds - wall time of the run.
//   - git_backup_sync_duration_seconds - histogram of per repository sync time.
func WriteMetrics(path string, s Summary) error {
	registry := prometheus.NewRegistry()

	repositories := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "repositories",
		Help:      "Repositories processed in the last run by outcome",
	},
		[]string{
			// cloned, updated, up_to_date or failed
			"state",
		},
	)
	discoveryErrors := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "discovery_errors",
		Help:      "Root paths whose discovery failed in the last run",
	})
	orphans := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orphans",
		Help:      "Orphan paths found in the last run",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Timestamp of the end of the last run",
	})
	runDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	})
	syncDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Time spent syncing each repository",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	})

	registry.MustRegister(repositories, discoveryErrors, orphans, lastRun, runDuration, syncDuration)

	repositories.WithLabelValues("cloned").Set(float64(s.Cloned))
	repositories.WithLabelValues("updated").Set(float64(s.Updated))
	repositories.WithLabelValues("up_to_date").Set(float64(s.UpToDate))
	repositories.WithLabelValues("failed").Set(float64(len(s.Failed)))
	discoveryErrors.Set(float64(len(s.DiscoveryErrors)))
	orphans.Set(float64(len(s.Orphans)))
	lastRun.Set(float64(s.FinishedAt.Unix()))
	runDuration.Set(s.FinishedAt.Sub(s.StartedAt).Seconds())
	for _, d := range s.durations {
		syncDuration.Observe(d.Seconds())
	}

	return prometheus.WriteToTextfile(path, registry)
}
