/*
Package metrics provides Prometheus metrics and health endpoints for
the storage pool.

This package implements observability for Locus operations: counters
on the data path, sampled gauges for queue depth and volume capacity,
histograms for maintenance stages, and HTTP endpoints for health and
readiness probes.

# Architecture

The metrics system has three parts:

 1. Static collectors: package-level counters and gauges registered
    with Prometheus at init time, incremented inline by the data path
 2. Collector: a periodic sampler that refreshes queue-depth and
    volume gauges from pool state
 3. Health endpoints: HTTP handlers for liveness, health, and
    readiness backed by a component registry

Data path packages increment counters directly:

	Pool.Write ──▶ WritesTotal.Inc()
	Scheduler.Claim ──▶ ClaimsTotal.Inc()
	Scheduler.Fail ──▶ FailuresTotal.Inc() / PermanentFailuresTotal.Inc()
	Maintenance ──▶ MaintenanceStageDuration.Observe(...)

The Collector samples through the PoolStats interface so this package
never imports the data path it instruments.

# Exported Metrics

Data path:

	locus_writes_total:              files written to the pool
	locus_write_bytes_total:         payload bytes written
	locus_claims_total:              files claimed by workers
	locus_completions_total:         files completed and deleted
	locus_failures_total:            transient processing failures
	locus_permanent_failures_total:  promotions to permanently failed
	locus_reclaims_total:            timed-out claims re-pended
	locus_evictions_total:           aged permanent failures evicted
	locus_quota_rejections_total{scope}: writes rejected by quota

Sampled:

	locus_files{tenant, status}:             record counts per tenant
	locus_volume_total_bytes{volume_id}:     volume capacity
	locus_volume_available_bytes{volume_id}: free space
	locus_volume_healthy{volume_id}:         last health check outcome

Maintenance and recovery:

	locus_maintenance_stage_duration_seconds{stage}
	locus_orphans_deleted_total
	locus_recovery_rebuilds_total

# Usage

Expose the metrics endpoint:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())

Start the sampler over a running pool:

	collector := metrics.NewCollector(pool, 15*time.Second)
	collector.Start()
	defer collector.Stop()

Report component health from wherever it is observed:

	metrics.UpdateComponent("volumes", true, "")
	metrics.UpdateComponent("metastore", false, "corruption detected")

Time a maintenance stage:

	timer := metrics.NewTimer()
	runStage()
	timer.ObserveDurationVec(metrics.MaintenanceStageDuration, "evict")

# Readiness vs Health

/healthz reports unhealthy if any reported component is unhealthy.
/readyz reports not_ready until the readiness gates (volumes,
metastore, quota) have all reported healthy; orchestrators should
gate traffic on readiness and restarts on liveness.

# See Also

  - pkg/health: active checkers that feed this package's registry
  - pkg/pool: implements the PoolStats sampling interface
*/
package metrics
