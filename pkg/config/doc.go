/*
Package config loads and validates the pool configuration.

Configuration is a single YAML file. Every knob has a default, so a
minimal file only lists the volumes:

	volumes:
	  - volumeId: vol-1
	    mountPath: /mnt/locus-1
	    shardingDepth: 2

A full file looks like:

	metadataDirectory: /var/lib/locus/meta
	quotaDirectory:    /var/lib/locus/quota
	tenantDirectory:   /var/lib/locus/tenants
	volumes:
	  - volumeId: vol-1
	    mountPath: /mnt/locus-1
	    shardingDepth: 2
	  - volumeId: vol-2
	    mountPath: /mnt/locus-2
	    shardingDepth: 2
	retry:
	  maxRetryCount: 3
	  initialDelay: 5s
	  maxDelay: 5m
	  exponentialBackoff: true
	processingTimeout: 30m
	failedRetention: 168h
	maintenanceInterval: 1h
	enableBackgroundMaintenance: true
	enableOrphanSweep: false
	autoCreateTenants: true
	defaultTenantQuota: 0
	defaultDirectoryQuota: 0
	startupHealthCheck: true
	tenantCacheTTL: 5m
	preCreateTenants: [alpha, beta]
	listenAddress: ":9090"
	log:
	  level: info
	  json: false

# Semantics

  - Durations use Go notation ("30m", "168h"). Quotas of 0 mean
    unlimited.
  - Load unmarshals over Default(), so keys absent from the file keep
    their default values; booleans that default to true stay true
    unless the file sets them to false explicitly.
  - Validate rejects configurations the pool cannot run with: no
    volumes, duplicate volume IDs, sharding depth outside [0,3],
    negative durations or quotas.

The loaded Config is treated as immutable after startup; components
copy the values they need at construction time.
*/
package config
