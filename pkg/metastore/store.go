package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cocosip/locus/pkg/types"
)

var (
	// Bucket names
	bucketFiles   = []byte("files")   // fileKey -> FileRecord JSON
	bucketPending = []byte("pending") // {createdAtUnixNano:020d}|{fileKey} -> fileKey
)

const (
	// openTimeout bounds the wait for the file lock of a tenant database
	openTimeout = time.Second

	// compactTxMaxSize bounds per-transaction copy size during compaction
	compactTxMaxSize = 65536
)

// Store manages one metadata database per tenant under a common root.
// Databases are opened lazily on first use and stay open until Close.
type Store struct {
	root string

	mu     sync.Mutex
	dbs    map[string]*tenantDB
	closed bool
}

// tenantDB couples a tenant's bolt handle with its active-set cache.
// mu guards handle swaps (compaction, close); wmu serializes mutations
// so cache updates apply in commit order.
type tenantDB struct {
	path  string
	mu    sync.RWMutex
	wmu   sync.Mutex
	db    *bolt.DB
	cache *activeSet
}

// Open creates a Store rooted at dir, creating the directory if needed
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("metadata root directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata root: %w", err)
	}
	return &Store{
		root: dir,
		dbs:  make(map[string]*tenantDB),
	}, nil
}

// Root returns the metadata root directory
func (s *Store) Root() string {
	return s.root
}

// Path returns the database file path for a tenant
func (s *Store) Path(tenantID string) string {
	return filepath.Join(s.root, tenantID+".db")
}

// tenant returns the open handle for tenantID, opening it on first use
func (s *Store) tenant(tenantID string) (*tenantDB, error) {
	if err := types.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}
	if h, ok := s.dbs[tenantID]; ok {
		return h, nil
	}

	path := s.Path(tenantID)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, classifyOpen(path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFiles, bucketPending} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, types.NewIOFault("open", path, err)
	}

	h := &tenantDB{
		path:  path,
		db:    db,
		cache: newActiveSet(),
	}
	if err := loadCache(h); err != nil {
		db.Close()
		return nil, err
	}

	s.dbs[tenantID] = h
	return h, nil
}

// loadCache fills the active set from the files bucket
func loadCache(h *tenantDB) error {
	var recs []*types.FileRecord
	err := h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec types.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: record %s: %v", types.ErrCorruption, k, err)
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	if err != nil {
		return dbFault("load", h.path, err)
	}
	h.cache.reset(recs)
	return nil
}

// pendingKey builds the FIFO index key for a record. Zero-padded
// nanoseconds put creation order into byte order; the file key breaks
// ties deterministically.
func pendingKey(rec *types.FileRecord) []byte {
	return []byte(fmt.Sprintf("%020d|%s", rec.CreatedAt.UnixNano(), rec.FileKey))
}

// classifyOpen distinguishes a damaged database from an unreachable
// one. An existing file that bolt cannot open is corrupt; a lock
// timeout or a missing parent is a storage fault.
func classifyOpen(path string, err error) error {
	if errors.Is(err, bolt.ErrTimeout) {
		return types.NewIOFault("open", path, err)
	}
	if _, serr := os.Stat(path); serr == nil {
		return fmt.Errorf("%w: %s: %v", types.ErrCorruption, path, err)
	}
	return types.NewIOFault("open", path, err)
}

// dbFault classifies closure errors: typed errors pass through, the
// rest surface as storage faults.
func dbFault(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrCorruption) ||
		errors.Is(err, types.ErrNotProcessing) {
		return err
	}
	if types.IsIOFault(err) {
		return err
	}
	return types.NewIOFault(op, path, err)
}

// PutOrUpdate persists rec and keeps the pending index and cache in
// step. Records with status Pending appear in the FIFO index; every
// other status removes the index entry.
func (s *Store) PutOrUpdate(rec *types.FileRecord) error {
	if rec == nil || rec.FileKey == "" {
		return fmt.Errorf("file record requires a file key")
	}
	h, err := s.tenant(rec.TenantID)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.wmu.Lock()
	defer h.wmu.Unlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketFiles).Put([]byte(rec.FileKey), data); err != nil {
			return err
		}

		pending := tx.Bucket(bucketPending)
		if rec.Status == types.FilePending {
			return pending.Put(pendingKey(rec), []byte(rec.FileKey))
		}
		return pending.Delete(pendingKey(rec))
	})
	if err != nil {
		return dbFault("put", h.path, err)
	}

	h.cache.put(rec)
	return nil
}

// Get returns a copy of the record for fileKey. The cache answers
// first; a miss falls through to the database and re-caches records
// that are still active. A record the tenant does not own surfaces as
// ErrNotFound.
func (s *Store) Get(tenantID, fileKey string) (*types.FileRecord, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	if rec := h.cache.get(fileKey); rec != nil {
		return rec, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.wmu.Lock()
	defer h.wmu.Unlock()

	// A writer may have filled the cache while we waited
	if rec := h.cache.get(fileKey); rec != nil {
		return rec, nil
	}

	var rec types.FileRecord
	err = h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(fileKey))
		if data == nil {
			return types.ErrNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("%w: record %s: %v", types.ErrCorruption, fileKey, err)
		}
		return nil
	})
	if err != nil {
		return nil, dbFault("get", h.path, err)
	}

	if rec.Active() {
		h.cache.put(&rec)
	}
	return rec.Clone(), nil
}

// Delete removes the record and its pending index entry. Deleting a
// missing record is a no-op.
func (s *Store) Delete(tenantID, fileKey string) error {
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.wmu.Lock()
	defer h.wmu.Unlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		data := files.Get([]byte(fileKey))
		if data == nil {
			return nil
		}
		var rec types.FileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("%w: record %s: %v", types.ErrCorruption, fileKey, err)
		}
		if err := tx.Bucket(bucketPending).Delete(pendingKey(&rec)); err != nil {
			return err
		}
		return files.Delete([]byte(fileKey))
	})
	if err != nil {
		return dbFault("delete", h.path, err)
	}

	h.cache.remove(fileKey)
	return nil
}

// FindPending returns up to limit claimable records in (createdAt,
// fileKey) order. Records whose availableAt lies in the future are
// skipped. limit <= 0 means no limit.
func (s *Store) FindPending(tenantID string, limit int, now time.Time) ([]*types.FileRecord, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*types.FileRecord
	err = h.db.View(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		c := tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			data := files.Get(v)
			if data == nil {
				continue // index entry without a record; claim path repairs these
			}
			var rec types.FileRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("%w: record %s: %v", types.ErrCorruption, v, err)
			}
			if !rec.Ready(now) {
				continue
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, dbFault("scan", h.path, err)
	}
	return out, nil
}

// ClaimNextPending atomically transitions the oldest claimable record
// to Processing and returns it, or returns nil when nothing is ready.
// The whole read-modify-write runs in one write transaction, so
// concurrent claims serialize on the database writer lock and no two
// callers ever receive the same record.
func (s *Store) ClaimNextPending(tenantID string, now time.Time) (*types.FileRecord, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.wmu.Lock()
	defer h.wmu.Unlock()

	var claimed *types.FileRecord
	err = h.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		c := tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			data := files.Get(v)
			if data == nil {
				// Stale index entry; repair and keep scanning
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}
			var rec types.FileRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("%w: record %s: %v", types.ErrCorruption, v, err)
			}
			if !rec.Ready(now) {
				continue
			}

			started := now
			rec.Status = types.FileProcessing
			rec.ProcessingStartedAt = &started
			rec.AvailableAt = nil

			updated, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			if err := files.Put([]byte(rec.FileKey), updated); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			claimed = &rec
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, dbFault("claim", h.path, err)
	}

	if claimed != nil {
		h.cache.put(claimed)
	}
	return claimed, nil
}

// FindTimedOut returns Processing records whose claim is older than
// threshold at the given instant.
func (s *Store) FindTimedOut(tenantID string, now time.Time, threshold time.Duration) ([]*types.FileRecord, error) {
	cutoff := now.Add(-threshold)
	return s.scan(tenantID, func(rec *types.FileRecord) bool {
		return rec.Status == types.FileProcessing &&
			rec.ProcessingStartedAt != nil &&
			rec.ProcessingStartedAt.Before(cutoff)
	})
}

// FindAgedPermanentFailures returns PermanentlyFailed records whose
// last failure is older than minAge at the given instant.
func (s *Store) FindAgedPermanentFailures(tenantID string, now time.Time, minAge time.Duration) ([]*types.FileRecord, error) {
	cutoff := now.Add(-minAge)
	return s.scan(tenantID, func(rec *types.FileRecord) bool {
		return rec.Status == types.FilePermanentlyFailed &&
			rec.LastFailedAt != nil &&
			rec.LastFailedAt.Before(cutoff)
	})
}

// scan returns all records matching pred
func (s *Store) scan(tenantID string, pred func(*types.FileRecord) bool) ([]*types.FileRecord, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*types.FileRecord
	err = h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec types.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: record %s: %v", types.ErrCorruption, k, err)
			}
			if pred == nil || pred(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, dbFault("scan", h.path, err)
	}
	return out, nil
}

// Count returns the number of records matching pred; a nil pred counts
// every record.
func (s *Store) Count(tenantID string, pred func(*types.FileRecord) bool) (int64, error) {
	recs, err := s.scan(tenantID, pred)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// CachedCount returns the size of the tenant's active-set cache
func (s *Store) CachedCount(tenantID string) (int, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return 0, err
	}
	return h.cache.size(), nil
}

// VerifyTenant runs the backend's structural consistency check.
// Any failure is reported as corruption.
func (s *Store) VerifyTenant(tenantID string) error {
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketFiles) == nil || tx.Bucket(bucketPending) == nil {
			return fmt.Errorf("%w: missing bucket", types.ErrCorruption)
		}
		var firstErr error
		for err := range tx.Check() {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", types.ErrCorruption, err)
			}
		}
		return firstErr
	})
	return dbFault("verify", h.path, err)
}

// RebuildCache reloads the active set from disk. Used after external
// rebuilds of the database file.
func (s *Store) RebuildCache(tenantID string) error {
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return loadCache(h)
}

// Compact rewrites the tenant database into its minimal form and swaps
// it in atomically. In-flight operations on other tenants proceed;
// operations on this tenant wait for the swap.
func (s *Store) Compact(tenantID string) error {
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tmpPath := h.path + ".compact"
	os.Remove(tmpPath)

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return types.NewIOFault("compact", tmpPath, err)
	}
	if err := bolt.Compact(dst, h.db, compactTxMaxSize); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return types.NewIOFault("compact", h.path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return types.NewIOFault("compact", tmpPath, err)
	}

	if err := h.db.Close(); err != nil {
		os.Remove(tmpPath)
		return types.NewIOFault("compact", h.path, err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		// Old file is intact; reopen it so the handle stays usable
		h.db, _ = bolt.Open(h.path, 0600, &bolt.Options{Timeout: openTimeout})
		os.Remove(tmpPath)
		return types.NewIOFault("compact", h.path, err)
	}

	db, err := bolt.Open(h.path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return types.NewIOFault("open", h.path, err)
	}
	h.db = db
	return nil
}

// CloseTenant closes the tenant's database and forgets its cache. The
// next operation on the tenant reopens it from disk.
func (s *Store) CloseTenant(tenantID string) error {
	s.mu.Lock()
	h, ok := s.dbs[tenantID]
	delete(s.dbs, tenantID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}

// Close closes every open tenant database
func (s *Store) Close() error {
	s.mu.Lock()
	handles := make([]*tenantDB, 0, len(s.dbs))
	for _, h := range s.dbs {
		handles = append(handles, h)
	}
	s.dbs = make(map[string]*tenantDB)
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		h.mu.Lock()
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		h.mu.Unlock()
	}
	return firstErr
}
