/*
Package metastore persists file records, one embedded database per
tenant, and answers the queue's ordering queries.

Each tenant's metadata lives in a single bolt file named
{tenantId}.db under the metadata root. Databases open lazily on first
use with a short file-lock timeout and stay open until the store
closes. Within the process, bolt gives concurrent readers and exactly
one writer per database; across tenants nothing is shared, so
cross-tenant operations never contend.

# Layout

	{metaRoot}/
	├── acme.db
	│   ├── files:   fileKey -> FileRecord (JSON)
	│   └── pending: {createdAtNanos:020d}|{fileKey} -> fileKey
	└── globex.db
	    ├── files
	    └── pending

The pending bucket is a FIFO index. Zero-padded creation nanoseconds
put arrival order into byte order, and the appended file key breaks
ties deterministically, so a forward cursor walk visits claimable
candidates oldest-first with no sorting. Records leave the index the
moment their status leaves Pending and re-enter when a failure
re-pends them.

# Claim Atomicity

ClaimNextPending is the queue's serialization point. The scan for the
oldest ready record, the transition to Processing, and the index
removal all happen inside one write transaction. Bolt admits a single
writer per database, so concurrent claims serialize and no two callers
ever receive the same record. Records whose availableAt lies in the
future stay in the index and are skipped; younger ready records win
until the delay expires.

# Active-Set Cache

Every open tenant carries an in-memory map of its non-Completed
records. Reads are answered from the cache without touching disk; a
miss falls through to the database and re-caches records that are
still active. Mutations write through: the database commits first,
then the cache applies the same change, serialized so cache order
matches commit order. All cached records are deep copies in both
directions, so callers can mutate what they get back freely.

	            Get                    PutOrUpdate / Claim / Delete
	             │                                  │
	             ▼                                  ▼
	     ┌──────────────┐  miss → load      ┌──────────────┐
	     │  active set  │◀───────────────── │   bolt file  │
	     │ (RWMutex map)│   write-through ─▶│  (fsync'd)   │
	     └──────────────┘                   └──────────────┘

# Failure Surface

Disk errors surface as IOFault. A record that fails to decode, or a
structural check failure from VerifyTenant, surfaces wrapped in
ErrCorruption, which routes callers to the recovery path. Compact
rewrites a tenant database into minimal form through a temp file and
an atomic rename; CloseTenant releases the handle so recovery can
snapshot and rebuild the file underneath.

# See Also

  - pkg/queue for the claim/complete/fail state machine on top
  - pkg/recovery for rebuilding a corrupt tenant database
  - pkg/quota for the counter databases that live alongside
*/
package metastore
