/*
Package recovery rebuilds tenant databases from the physical files.

The blobs on the volumes are the durable source of truth; the per-tenant
metadata and quota databases are derived state. When a database is
structurally damaged, the Manager snapshots it aside with a
.corrupt-{timestamp} suffix and reconstructs it by walking the tenant's
tree on every volume.

A rebuild is lossy in a bounded way: every recovered blob re-enters the
queue as Pending at the root directory, with creation time taken from
the file's modification time. Claim state, retry counts, and logical
directory placement are not recoverable from blobs alone. Work may be
delivered again; it is never lost.

CheckTenant and CheckAll report damage by wrapping types.ErrCorruption,
which the server's startup gate maps to its corruption exit code. The
rebuild CLI command calls RebuildTenant directly.
*/
package recovery
