/*
Package health provides active health checks for the storage pool's
volumes and databases.

Checkers probe one concern each and report a Result; the Monitor runs
them on a cadence and folds the outcomes into the metrics component
registry that backs the /healthz and /readyz endpoints.

# Checkers

  - VolumeChecker: canary write/read-back/delete plus a free-space
    check on one volume
  - MetadataChecker: structural verification of every tenant's
    metadata database
  - QuotaChecker: structural verification of every tenant's quota
    database

# Consecutive Failures

One failed probe does not flip a target to unhealthy. Status tracks
consecutive failures and trips only after Config.Retries of them, so
a transient NFS hiccup does not take a volume out of rotation. A
single success flips the target back.

# Usage

Startup gate (run everything once, fail fast):

	checkers := []health.Checker{
		health.NewVolumeChecker(vol),
		health.NewMetadataChecker(meta, registry),
		health.NewQuotaChecker(quotas, registry),
	}
	for _, r := range health.RunAll(ctx, checkers) {
		if !r.Healthy {
			return fmt.Errorf("startup health check: %s", r.Message)
		}
	}

Continuous monitoring:

	monitor := health.NewMonitor(checkers, health.DefaultConfig(), broker)
	monitor.Start()
	defer monitor.Stop()

The monitor publishes a volume.unhealthy event when a volume trips,
and keeps the volumes/metastore/quota components of the readiness
endpoint current.
*/
package health
