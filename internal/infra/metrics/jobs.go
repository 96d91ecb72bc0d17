package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(backgroundJobsTotal, backupsTotal) }

var (
	backgroundJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_jobs_total",
			Help: "Total number of background job runs, labeled by job and status.",
		},
		[]string{"job", "status"}, // status: 'ok', 'error', 'panic', 'dropped'
	)

	backupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backups_written_total",
			Help: "Total number of compressed table backups written.",
		},
	)
)

func IncJob(job, status string) {
	backgroundJobsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}

func IncBackup() {
	backupsTotal.Inc()
}
