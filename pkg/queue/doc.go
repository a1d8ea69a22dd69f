/*
Package queue dispatches stored files to workers with at-most-once
delivery and retry-with-backoff on failure.

The scheduler sits between the metadata store and the callers draining
a tenant's queue. Claiming delegates to the store's atomic
claim-next-pending transaction, so any number of workers can race on
the same tenant and each file still reaches exactly one of them.

# State Machine

	    write
	      │
	      ▼
	  [Pending] ──claim──▶ [Processing] ──complete──▶ (deleted)
	     ▲                      │
	     │      fail, r < N     │
	     └──────────────────────┤
	                            │ fail, r ≥ N
	                            ▼
	                   [PermanentlyFailed] ──evict (aged)──▶ (deleted)

	  [Processing] ──reclaim (timed out)──▶ [Pending]

A failure increments the retry count and re-pends the file with an
availableAt in the future; the file is invisible to claims until the
clock passes it. The failure whose post-increment count reaches the
policy's MaxRetries promotes instead: the file keeps its blob and
metadata until maintenance evicts it. MaxRetries counts failures, so a
policy of 2 promotes on the second Fail and a policy of 0 on the first.

Reclaim is the crash backstop, not a retry: a Processing file whose
claim outlives the processing timeout returns to Pending with its
retry count untouched.

# Backoff

Delay(r) = min(MaxDelay, InitialDelay * 2^(r-1)) under exponential
backoff, or a constant InitialDelay otherwise.

# Completion Order

Complete deletes the blob from its volume first, then releases the
quota slot, then removes the metadata record. A fault partway leaves
the record in Processing, where the reclaim loop will eventually
re-pend it; readers never observe a record whose blob was the only
thing deleted. A blob already missing from disk counts as deleted.

# Usage

	sched := queue.NewScheduler(meta, quotas, volumes, queue.DefaultRetryPolicy(), broker)

	rec, err := sched.Claim(ctx, "acme")
	if rec == nil {
		return // queue drained
	}
	if err := process(rec); err != nil {
		sched.Fail(ctx, "acme", rec.FileKey, err.Error())
	} else {
		sched.Complete(ctx, "acme", rec.FileKey)
	}
*/
package queue
