/*
Package maintenance runs the pool's periodic housekeeping loop.

Each tick executes a fixed sequence of stages against every tenant:

 1. reclaim: claims older than the processing timeout are returned to
    the pending queue (worker presumed dead; no retry charged)
 2. evict: permanently failed files older than the retention window
    are removed, releasing their blobs and quota slots
 3. junk-sweep: well-known junk filenames (Thumbs.db, .DS_Store,
    desktop.ini) are deleted from tenant trees
 4. orphan-sweep (opt-in): physical files with no metadata record are
    deleted, skipping anything younger than one interval
 5. compact: tenant metadata and quota databases are rewritten into
    minimal form

Stages run sequentially within a tick; a stage failure is recorded in
the tick's Report and later stages still run. Pool traffic proceeds
concurrently with maintenance under the stores' own locking.

RunOnce executes a single tick on demand, used by the CLI's maintain
command and by tests. Start launches the background loop; Stop waits
for an in-flight tick to finish.
*/
package maintenance
