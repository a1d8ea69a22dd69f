package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Data path counters
	WritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_writes_total",
			Help: "Total number of files written to the pool",
		},
	)

	WriteBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_write_bytes_total",
			Help: "Total payload bytes written to the pool",
		},
	)

	ClaimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_claims_total",
			Help: "Total number of files claimed by workers",
		},
	)

	CompletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_completions_total",
			Help: "Total number of files completed and deleted",
		},
	)

	FailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_failures_total",
			Help: "Total number of transient processing failures",
		},
	)

	PermanentFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_permanent_failures_total",
			Help: "Total number of files promoted to permanently failed",
		},
	)

	ReclaimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_reclaims_total",
			Help: "Total number of timed-out claims returned to pending",
		},
	)

	EvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_evictions_total",
			Help: "Total number of aged permanently-failed files evicted",
		},
	)

	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locus_quota_rejections_total",
			Help: "Total number of writes rejected by quota, by scope",
		},
		[]string{"scope"},
	)

	// Queue depth gauges, sampled by the collector
	FilesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locus_files",
			Help: "Number of file records by tenant and status",
		},
		[]string{"tenant", "status"},
	)

	// Volume gauges, sampled by the collector
	VolumeTotalBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locus_volume_total_bytes",
			Help: "Total capacity of each volume in bytes",
		},
		[]string{"volume_id"},
	)

	VolumeAvailableBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locus_volume_available_bytes",
			Help: "Available space of each volume in bytes",
		},
		[]string{"volume_id"},
	)

	VolumeHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locus_volume_healthy",
			Help: "Whether the volume passed its last health check (1 = healthy)",
		},
		[]string{"volume_id"},
	)

	// Maintenance and recovery
	MaintenanceStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locus_maintenance_stage_duration_seconds",
			Help:    "Duration of each maintenance stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	OrphansDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_orphans_deleted_total",
			Help: "Total number of orphaned physical files deleted",
		},
	)

	RecoveryRebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locus_recovery_rebuilds_total",
			Help: "Total number of tenant databases rebuilt from disk",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WritesTotal)
	prometheus.MustRegister(WriteBytesTotal)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(CompletionsTotal)
	prometheus.MustRegister(FailuresTotal)
	prometheus.MustRegister(PermanentFailuresTotal)
	prometheus.MustRegister(ReclaimsTotal)
	prometheus.MustRegister(EvictionsTotal)
	prometheus.MustRegister(QuotaRejectionsTotal)
	prometheus.MustRegister(FilesByStatus)
	prometheus.MustRegister(VolumeTotalBytes)
	prometheus.MustRegister(VolumeAvailableBytes)
	prometheus.MustRegister(VolumeHealthy)
	prometheus.MustRegister(MaintenanceStageDuration)
	prometheus.MustRegister(OrphansDeletedTotal)
	prometheus.MustRegister(RecoveryRebuildsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
