/*
Package types defines the core data structures used throughout Locus.

This package contains the fundamental types that represent the storage
pool's domain model: tenants, file records, quota counters, statuses,
and the shared error taxonomy. Every other package builds on these
types for persistence, queue scheduling, and reporting.

# Architecture

The types package is the foundation of the Locus data model. It defines:

  - Tenant identity and administrative status
  - File records with their queue lifecycle state
  - Quota counter rows (per-directory and per-tenant)
  - Identifier validation (tenant IDs, file keys)
  - The error taxonomy shared by all components

All types are designed to be:
  - Serializable (JSON is the storage encoding)
  - Copy-safe (Clone for records handed out of caches)
  - Self-documenting (clear field names and comments)
  - Validated (typed string enums, validation helpers)

# Core Types

Tenancy:
  - TenantRecord: One tenant with status and storage prefix
  - TenantStatus: Enabled, Disabled, Suspended

Files:
  - FileRecord: Metadata row for one stored blob
  - FileStatus: Pending, Processing, Completed, Failed, PermanentlyFailed
  - FileInfo: Reduced public view (key, size, createdAt, status)

Quotas:
  - DirectoryQuota: Counter row keyed by (tenant, directory)
  - TenantQuota: Tenant-wide counter row

# File Lifecycle

File records follow a strict state machine driven by the queue:

	   write
	     │
	     ▼
	 [Pending] ──claim──▶ [Processing] ──complete──▶ (deleted)
	    ▲                      │
	    │     fail, retries    │
	    │     remaining        │
	    └──────────────────────┤
	                           │ fail, retries exhausted
	                           ▼
	                 [PermanentlyFailed] ──eviction──▶ (deleted)

	 [Processing] ──timeout reclaim──▶ [Pending]  (retry count unchanged)

Completed and Failed are transient: a completed record is removed in the
same operation that deletes its blob, and a failed record is immediately
re-pended with a not-before timestamp or promoted to PermanentlyFailed.
The active set (everything except Completed) is what metadata caches hold.

# Readiness

A Pending record is claimable only once its not-before timestamp has
passed:

	if record.Ready(time.Now()) {
		// eligible for claim
	}

AvailableAt == nil means ready immediately; retries re-enter the pending
set with a future AvailableAt computed by the retry policy.

# Identifier Rules

Tenant IDs match [A-Za-z0-9._-]{1,128}; "." and ".." are additionally
rejected because tenant IDs become path components on every volume:

	if err := types.ValidateTenantID(id); err != nil { ... }

File keys are 32 lowercase hex characters (128 bits of entropy), opaque
to clients:

	types.IsFileKey("0f3d9a...")  // shape check, used by recovery walks

Logical directory paths are normalized to absolute, no-trailing-slash
form with "/" as the root:

	types.NormalizeDirectory("")        // "/"
	types.NormalizeDirectory("a/b/")    // "/a/b"

# Error Taxonomy

Sentinels cover conditions callers must branch on:

	ErrTenantNotFound     tenant missing, auto-create disabled
	ErrTenantDisabled     tenant exists but is not Enabled
	ErrTenantExists       explicit create on an existing tenant
	ErrInvalidTenantID    identifier fails validation
	ErrNotFound           key does not resolve for this tenant
	ErrNoHealthyVolume    no volume can accept the write
	ErrNotProcessing      complete/fail on a non-Processing record
	ErrCorruption         structural database damage
	ErrPathOutsideVolume  computed path escapes its mount

Structured errors carry context fields:

	QuotaExceededError    scope, tenant, directory, current, limit
	IOFault               operation, path, wrapped cause

Classify with the standard errors package:

	if errors.Is(err, types.ErrNotFound) { ... }
	var qe *types.QuotaExceededError
	if errors.As(err, &qe) { ... qe.Limit ... }

# Thread Safety

Types in this package are plain data: safe for concurrent reads,
mutations must be synchronized by the owning store. Caches hand out
clones (FileRecord.Clone) so callers can never mutate cached state.

# See Also

  - pkg/metastore for FileRecord persistence and the active-set cache
  - pkg/quota for counter row persistence
  - pkg/tenant for TenantRecord persistence
  - pkg/queue for the state machine transitions
*/
package types
