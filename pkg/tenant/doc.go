/*
Package tenant manages the registry of storage pool tenants.

Each tenant is one human-readable JSON file under the registry root,
written atomically via temp-file-and-rename. Reads are served from a
TTL cache, so a status change takes at most one TTL to reach every
reader; admission decisions tolerate that staleness.

Tenants move between three administrative states:

	Enabled   - full access
	Disabled  - all operations rejected with ErrTenantDisabled
	Suspended - same rejection; kept distinct for operators

With auto-creation on, the first reference to an unknown tenant creates
it Enabled. The create is racy-safe: losers of the create race re-read
the winner's record.
*/
package tenant
