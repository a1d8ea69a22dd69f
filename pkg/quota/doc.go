/*
Package quota enforces per-directory and per-tenant file-count limits.

Counters are durable rows in one bolt database per tenant, living
beside the metadata databases:

	{quotaRoot}/{tenantId}-quotas.db
	├── directories: directoryPath -> DirectoryQuota (JSON)
	└── tenant:      "total"       -> TenantQuota (JSON)

Rows are created lazily on the first successful increment and never
deleted; a zero count is a valid terminal state. A limit of 0 means
unlimited. New rows adopt the store's default limits; SetTenantLimit
and SetDirectoryLimit persist overrides per row.

# Admission

TryIncrement is the single admission point for new files. The tenant
check runs before the directory check, and both checks plus both
increments share one write transaction: a rejection aborts the
transaction, so there is never a half-applied increment to roll back.
Rejections carry the observed counter state:

	err := store.TryIncrement(ctx, "acme", "/inbox")
	var qe *types.QuotaExceededError
	if errors.As(err, &qe) {
		// qe.Scope, qe.Current, qe.Limit
	}

Decrement saturates at zero and treats unknown rows as a no-op, so
callers may always pair a failed write with a decrement without
tracking whether the increment happened.

# Contention Discipline

Mutations take two fair mutexes: the (tenant, directory) pair mutex,
then the tenant mutex. Every mutator acquires them in that order, so
waits cannot cycle. The mutexes are channel-based: waiters acquire in
arrival order and a blocked wait aborts when its context is cancelled.
They come from a lazily populated pool sharded into 64 hash
partitions, so creating a lock for a new directory never contends
with the hot path of other tenants.

Read-only queries (TenantCount, DirectoryCount, Snapshot) take no
counter mutex; they read a consistent view straight from the database.

# Recovery

Rebuild replaces a tenant's counters with counts observed by walking
the physical tree, preserving configured limits. CloseTenant releases
the database handle so the recovery path can snapshot and replace the
file underneath.

# See Also

  - pkg/pool, which calls TryIncrement before any byte is written
  - pkg/recovery for the walk that feeds Rebuild
*/
package quota
