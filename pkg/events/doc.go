/*
Package events provides an in-memory event broker for pool lifecycle
notifications.

The events package implements a lightweight event bus for broadcasting
file, tenant, and volume occurrences to interested subscribers. It
enables loose coupling between the data path and observers: the pool
publishes and moves on; log tails, test harnesses, and operational
tooling subscribe without slowing a single write or claim.

# Architecture

Non-blocking pub/sub with buffered channels:

	Publisher ──▶ Event Channel (buffer: 100)
	                   │
	                   ▼
	            Broadcast Loop
	                   │
	      ┌────────────┼────────────┐
	      ▼            ▼            ▼
	 Subscriber   Subscriber   Subscriber
	 (buffer 50)  (buffer 50)  (buffer 50)

Publish never blocks the publishing operation: the central channel
absorbs bursts, and a subscriber whose buffer is full misses that
event rather than stalling the broadcast loop. Events are
notifications, not a durable log; consumers needing exact state read
the stores.

# Event Types

File lifecycle, mirroring the record state machine:

  - file.written             a new blob entered the pool
  - file.claimed             a worker took exclusive processing rights
  - file.completed           processing succeeded; blob and record removed
  - file.failed              processing failed; re-pended with a delay
  - file.permanently_failed  retry budget exhausted
  - file.reclaimed           a stuck claim was returned to pending
  - file.evicted             an aged permanent failure was swept

Infrastructure:

  - volume.unhealthy         a volume failed its health probe
  - tenant.created           a tenant record came into existence
  - maintenance.completed    one maintenance tick finished
  - recovery.rebuilt         a corrupt database was rebuilt

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Printf("%s tenant=%s key=%s\n", event.Type, event.TenantID, event.FileKey)
	}

Every event carries the tenant, file key, and volume involved (where
applicable), a timestamp, and a free-form Fields map for
stage-specific detail such as maintenance counts.

# See Also

  - pkg/pool and pkg/queue, the main publishers
  - pkg/maintenance for per-tick summary events
*/
package events
