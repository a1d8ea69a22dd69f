/*
Package pool is the front door of the storage system.

A Pool accepts byte streams from producers, places them on volumes,
and exposes the queue that consumers drain. Every public operation
starts with the same gate: the tenant must exist (or be auto-created)
and be Enabled.

# Write Path

	Write(tenant, stream)
	  │
	  ├─ 1. tenant gate (Enabled?)
	  ├─ 2. quota admission (tenant + directory, one transaction)
	  ├─ 3. generate 128-bit file key
	  ├─ 4. pick volume: healthy ∧ space ≥ estimate, largest free wins,
	  │     ties break on volume ID
	  ├─ 5. sharded physical path, containment-checked
	  ├─ 6. stream to volume (temp file + rename)
	  └─ 7. register FileRecord{Pending}
	            │ any failure after 2 releases the quota slot
	            ▼
	       return fileKey

Largest-free placement amortizes fills across heterogeneous volumes;
health is probed on every write so a degraded mount stops taking new
files immediately rather than when a cache expires.

# Read Path and Visibility

Read opens the blob from the record's volume. Ownership is per
tenant: a key belonging to another tenant yields ErrNotFound, never a
hint that the key exists. Info and Location return nil for missing
keys rather than an error. Callers must close a read stream before
completing the file, or the physical delete may fail on filesystems
with mandatory locking.

# Queue Delegation

Claim, ClaimBatch, Complete, Fail, and Status apply the tenant gate
and hand off to the queue scheduler. See the queue package for the
delivery and retry semantics.

# Sampling Surface

Pool implements the metrics.PoolStats interface (Tenants,
StatusCounts, VolumeStats) so the metrics collector can refresh its
gauges without this package depending on it.
*/
package pool
