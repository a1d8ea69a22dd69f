/*
Package volume implements the physical storage layer: mounted
directories that hold file payloads under a sharded tenant tree.

A volume is dumb on purpose. It knows how to place a file key on disk,
stream bytes in and out atomically, and report its own health and
capacity. Which volume receives a write, and what the file means, is
decided above it by the pool.

# Architecture

	┌────────────────────────────────────────────────┐
	│                  StoragePool                   │
	│   picks volume: healthy ∧ space, largest-free  │
	└────────────────────┬───────────────────────────┘
	                     │ Volume interface
	        ┌────────────┼────────────┐
	        ▼            ▼            ▼
	 ┌────────────┐┌────────────┐┌────────────┐
	 │ LocalVolume││ LocalVolume││ LocalVolume│
	 │   vol-1    ││   vol-2    ││   vol-3    │
	 └─────┬──────┘└─────┬──────┘└─────┬──────┘
	       ▼             ▼             ▼
	 /mnt/locus-1  /mnt/locus-2  /mnt/locus-3

# On-Disk Layout

Each tenant owns a subtree under every mount. File keys fan out into
2-hex shard directories to keep directory entries bounded:

	{mount}/{tenantId}/{s1}/{s2}/{fileKey}        (shardingDepth=2)

	/mnt/locus-1/acme/0a/1b/0a1b2c3d4e5f60718293a4b5c6d7e8f9

Shard s(i) is the key's byte range [2i, 2i+2), lowercased. A key
shorter than 2*depth pads its last partial shard with '0' and stops;
depth never exceeds 3. Depth 2 is the default: 256^2 leaf directories
per tenant.

# Write Atomicity

Write streams to a hidden temp file in the target directory, fsyncs,
and renames into place. Readers and the orphan sweep therefore never
observe a partially written payload; a crash leaves only a stale
".locus-*.tmp" file that maintenance removes once it ages out.

# Health

Healthy performs three checks, cheapest first:

 1. the mount directory exists
 2. available space is non-zero
 3. a uniquely named canary file round-trips (write, read back, delete)

The canary retries up to 3 times with a 100ms pause, tolerating
networked filesystems (NFS, Ceph) that need a brief settling period
after mount hiccups. Health is evaluated per write, never cached: a
cached verdict would let producers keep writing to a degraded mount.

# Path Containment

Every path handed to Read, Write, or Delete must lie inside the mount;
IsWithin enforces this and violations surface as ErrPathOutsideVolume.
Containment failures are programming errors in path construction and
are deliberately distinct from "file not found".

# Capacity

TotalCapacity and AvailableSpace come from statfs on the mount path,
so they reflect the real filesystem backing the mount, shared or not.
The pool samples them on every write; they are never cached across
writes.

# See Also

  - pkg/pool for volume selection and quota enforcement
  - pkg/maintenance for the orphan and junk sweeps over volume trees
  - pkg/recovery for rebuilding metadata by walking volume trees
*/
package volume
