package metastore

import (
	"sync"

	"github.com/cocosip/locus/pkg/types"
)

// activeSet is the in-memory mirror of a tenant's non-Completed records.
// It serves reads without touching the database; writers keep it in step
// with committed transactions. All records stored and returned are deep
// copies so callers never alias cache state.
type activeSet struct {
	mu   sync.RWMutex
	recs map[string]*types.FileRecord
}

func newActiveSet() *activeSet {
	return &activeSet{
		recs: make(map[string]*types.FileRecord),
	}
}

// get returns a copy of the cached record, or nil on miss
func (c *activeSet) get(fileKey string) *types.FileRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recs[fileKey].Clone()
}

// put stores a copy of rec if it belongs in the active set, otherwise
// removes any stale entry
func (c *activeSet) put(rec *types.FileRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.Active() {
		c.recs[rec.FileKey] = rec.Clone()
	} else {
		delete(c.recs, rec.FileKey)
	}
}

// remove drops the entry for fileKey
func (c *activeSet) remove(fileKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recs, fileKey)
}

// size returns the number of cached records
func (c *activeSet) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recs)
}

// reset replaces the cache contents with copies of recs
func (c *activeSet) reset(recs []*types.FileRecord) {
	fresh := make(map[string]*types.FileRecord, len(recs))
	for _, rec := range recs {
		if rec.Active() {
			fresh[rec.FileKey] = rec.Clone()
		}
	}
	c.mu.Lock()
	c.recs = fresh
	c.mu.Unlock()
}
