package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dither_jobs_processed_total",
		Help: "Jobs settled by the poller, by final status.",
	}, []string{"queue", "type", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dither_job_duration_seconds",
		Help:    "Wall-clock handler time per job.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"queue", "type"})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dither_active_jobs",
		Help: "Jobs currently held by this worker, per queue.",
	}, []string{"queue"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
