package quota

import (
	"context"
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
	bucketDirectories = []byte("directories") // directoryPath -> DirectoryQuota JSON
	bucketTenant      = []byte("tenant")      // "total" -> TenantQuota JSON
)

var tenantTotalKey = []byte("total")

const (
	openTimeout      = time.Second
	compactTxMaxSize = 65536
)

// Store keeps per-directory and per-tenant file counters, one database
// per tenant under a common root. Counter rows are created lazily on
// the first successful increment and never deleted; zero is a valid
// terminal state.
type Store struct {
	root                  string
	defaultTenantLimit    int64
	defaultDirectoryLimit int64

	locks *keyedMutexPool

	mu     sync.Mutex
	dbs    map[string]*tenantDB
	closed bool
}

type tenantDB struct {
	path string
	mu   sync.RWMutex
	db   *bolt.DB
}

// Open creates a Store rooted at dir. New counter rows adopt the given
// default limits; 0 means unlimited.
func Open(dir string, defaultTenantLimit, defaultDirectoryLimit int64) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("quota root directory is required")
	}
	if defaultTenantLimit < 0 || defaultDirectoryLimit < 0 {
		return nil, fmt.Errorf("default quota limits must be >= 0")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create quota root: %w", err)
	}
	return &Store{
		root:                  dir,
		defaultTenantLimit:    defaultTenantLimit,
		defaultDirectoryLimit: defaultDirectoryLimit,
		locks:                 newKeyedMutexPool(),
		dbs:                   make(map[string]*tenantDB),
	}, nil
}

// Root returns the quota root directory
func (s *Store) Root() string {
	return s.root
}

// Path returns the database file path for a tenant
func (s *Store) Path(tenantID string) string {
	return filepath.Join(s.root, tenantID+"-quotas.db")
}

func (s *Store) tenant(tenantID string) (*tenantDB, error) {
	if err := types.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("quota store is closed")
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
		for _, bucket := range [][]byte{bucketDirectories, bucketTenant} {
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

	h := &tenantDB{path: path, db: db}
	s.dbs[tenantID] = h
	return h, nil
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

// pairLockKey names the (tenant, directory) mutex. Tenant IDs cannot
// contain '|', so keys never collide with tenant lock names.
func pairLockKey(tenantID, dir string) string {
	return tenantID + "|" + dir
}

func readTenantRow(tx *bolt.Tx, tenantID string, defaultLimit int64) (*types.TenantQuota, error) {
	row := &types.TenantQuota{TenantID: tenantID, Limit: defaultLimit}
	data := tx.Bucket(bucketTenant).Get(tenantTotalKey)
	if data == nil {
		return row, nil
	}
	if err := json.Unmarshal(data, row); err != nil {
		return nil, fmt.Errorf("%w: tenant quota row: %v", types.ErrCorruption, err)
	}
	return row, nil
}

func readDirectoryRow(tx *bolt.Tx, tenantID, dir string, defaultLimit int64) (*types.DirectoryQuota, error) {
	row := &types.DirectoryQuota{TenantID: tenantID, DirectoryPath: dir, Limit: defaultLimit}
	data := tx.Bucket(bucketDirectories).Get([]byte(dir))
	if data == nil {
		return row, nil
	}
	if err := json.Unmarshal(data, row); err != nil {
		return nil, fmt.Errorf("%w: directory quota row %s: %v", types.ErrCorruption, dir, err)
	}
	return row, nil
}

func writeTenantRow(tx *bolt.Tx, row *types.TenantQuota) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTenant).Put(tenantTotalKey, data)
}

func writeDirectoryRow(tx *bolt.Tx, row *types.DirectoryQuota) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDirectories).Put([]byte(row.DirectoryPath), data)
}

// TryIncrement atomically counts one new file against both the tenant
// total and the directory counter. The tenant check runs first; both
// checks and both increments share one transaction, so a rejection
// persists nothing. A limit of 0 admits everything.
//
// Lock order is the (tenant, dir) pair mutex, then the tenant mutex;
// every mutator follows it, so lock waits cannot cycle.
func (s *Store) TryIncrement(ctx context.Context, tenantID, dir string) error {
	dir = types.NormalizeDirectory(dir)
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	pair := s.locks.get(pairLockKey(tenantID, dir))
	if err := pair.Lock(ctx); err != nil {
		return err
	}
	defer pair.Unlock()
	tl := s.locks.get(tenantID)
	if err := tl.Lock(ctx); err != nil {
		return err
	}
	defer tl.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		tenantRow, err := readTenantRow(tx, tenantID, s.defaultTenantLimit)
		if err != nil {
			return err
		}
		if tenantRow.Limit > 0 && tenantRow.CurrentCount >= tenantRow.Limit {
			return &types.QuotaExceededError{
				Scope:    types.QuotaScopeTenant,
				TenantID: tenantID,
				Current:  tenantRow.CurrentCount,
				Limit:    tenantRow.Limit,
			}
		}

		dirRow, err := readDirectoryRow(tx, tenantID, dir, s.defaultDirectoryLimit)
		if err != nil {
			return err
		}
		if dirRow.Limit > 0 && dirRow.CurrentCount >= dirRow.Limit {
			return &types.QuotaExceededError{
				Scope:         types.QuotaScopeDirectory,
				TenantID:      tenantID,
				DirectoryPath: dir,
				Current:       dirRow.CurrentCount,
				Limit:         dirRow.Limit,
			}
		}

		tenantRow.CurrentCount++
		dirRow.CurrentCount++
		if err := writeTenantRow(tx, tenantRow); err != nil {
			return err
		}
		return writeDirectoryRow(tx, dirRow)
	})
	return s.classify("increment", h.path, err)
}

// Decrement removes one file from both counters, saturating at zero.
// Decrementing a directory that was never counted is a no-op.
func (s *Store) Decrement(ctx context.Context, tenantID, dir string) error {
	dir = types.NormalizeDirectory(dir)
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	pair := s.locks.get(pairLockKey(tenantID, dir))
	if err := pair.Lock(ctx); err != nil {
		return err
	}
	defer pair.Unlock()
	tl := s.locks.get(tenantID)
	if err := tl.Lock(ctx); err != nil {
		return err
	}
	defer tl.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketDirectories).Get([]byte(dir)); data != nil {
			var dirRow types.DirectoryQuota
			if err := json.Unmarshal(data, &dirRow); err != nil {
				return fmt.Errorf("%w: directory quota row %s: %v", types.ErrCorruption, dir, err)
			}
			if dirRow.CurrentCount > 0 {
				dirRow.CurrentCount--
			}
			if err := writeDirectoryRow(tx, &dirRow); err != nil {
				return err
			}
		}

		if data := tx.Bucket(bucketTenant).Get(tenantTotalKey); data != nil {
			var tenantRow types.TenantQuota
			if err := json.Unmarshal(data, &tenantRow); err != nil {
				return fmt.Errorf("%w: tenant quota row: %v", types.ErrCorruption, err)
			}
			if tenantRow.CurrentCount > 0 {
				tenantRow.CurrentCount--
			}
			if err := writeTenantRow(tx, &tenantRow); err != nil {
				return err
			}
		}
		return nil
	})
	return s.classify("decrement", h.path, err)
}

// SetTenantLimit persists a tenant-wide limit; 0 means unlimited
func (s *Store) SetTenantLimit(ctx context.Context, tenantID string, limit int64) error {
	if limit < 0 {
		return fmt.Errorf("tenant limit must be >= 0, got %d", limit)
	}
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	tl := s.locks.get(tenantID)
	if err := tl.Lock(ctx); err != nil {
		return err
	}
	defer tl.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		row, err := readTenantRow(tx, tenantID, s.defaultTenantLimit)
		if err != nil {
			return err
		}
		row.Limit = limit
		return writeTenantRow(tx, row)
	})
	return s.classify("set-limit", h.path, err)
}

// SetDirectoryLimit persists a per-directory limit; 0 means unlimited
func (s *Store) SetDirectoryLimit(ctx context.Context, tenantID, dir string, limit int64) error {
	if limit < 0 {
		return fmt.Errorf("directory limit must be >= 0, got %d", limit)
	}
	dir = types.NormalizeDirectory(dir)
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	pair := s.locks.get(pairLockKey(tenantID, dir))
	if err := pair.Lock(ctx); err != nil {
		return err
	}
	defer pair.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		row, err := readDirectoryRow(tx, tenantID, dir, s.defaultDirectoryLimit)
		if err != nil {
			return err
		}
		row.Limit = limit
		return writeDirectoryRow(tx, row)
	})
	return s.classify("set-limit", h.path, err)
}

// TenantCount returns the tenant's current file count. Read-only:
// takes no counter mutex.
func (s *Store) TenantCount(tenantID string) (int64, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var count int64
	err = h.db.View(func(tx *bolt.Tx) error {
		row, err := readTenantRow(tx, tenantID, s.defaultTenantLimit)
		if err != nil {
			return err
		}
		count = row.CurrentCount
		return nil
	})
	return count, s.classify("count", h.path, err)
}

// DirectoryCount returns the directory's current file count. Read-only:
// takes no counter mutex.
func (s *Store) DirectoryCount(tenantID, dir string) (int64, error) {
	dir = types.NormalizeDirectory(dir)
	h, err := s.tenant(tenantID)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var count int64
	err = h.db.View(func(tx *bolt.Tx) error {
		row, err := readDirectoryRow(tx, tenantID, dir, s.defaultDirectoryLimit)
		if err != nil {
			return err
		}
		count = row.CurrentCount
		return nil
	})
	return count, s.classify("count", h.path, err)
}

// Snapshot returns the tenant row and every directory row
func (s *Store) Snapshot(tenantID string) (*types.TenantQuota, []*types.DirectoryQuota, error) {
	h, err := s.tenant(tenantID)
	if err != nil {
		return nil, nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var tenantRow *types.TenantQuota
	var dirs []*types.DirectoryQuota
	err = h.db.View(func(tx *bolt.Tx) error {
		tenantRow, err = readTenantRow(tx, tenantID, s.defaultTenantLimit)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDirectories).ForEach(func(k, v []byte) error {
			var row types.DirectoryQuota
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("%w: directory quota row %s: %v", types.ErrCorruption, k, err)
			}
			dirs = append(dirs, &row)
			return nil
		})
	})
	if err != nil {
		return nil, nil, s.classify("snapshot", h.path, err)
	}
	return tenantRow, dirs, nil
}

// Rebuild replaces the tenant's counters with freshly observed counts,
// preserving configured limits. The tenant total becomes the sum of
// the directory counts; directories absent from counts reset to zero.
// Used by recovery after walking the physical tree.
func (s *Store) Rebuild(ctx context.Context, tenantID string, counts map[string]int64) error {
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	tl := s.locks.get(tenantID)
	if err := tl.Lock(ctx); err != nil {
		return err
	}
	defer tl.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		// Zero every known directory, then apply observed counts
		seen := make(map[string]*types.DirectoryQuota, len(counts))
		err := tx.Bucket(bucketDirectories).ForEach(func(k, v []byte) error {
			var row types.DirectoryQuota
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("%w: directory quota row %s: %v", types.ErrCorruption, k, err)
			}
			row.CurrentCount = 0
			seen[row.DirectoryPath] = &row
			return nil
		})
		if err != nil {
			return err
		}

		var total int64
		for dir, n := range counts {
			dir = types.NormalizeDirectory(dir)
			row, ok := seen[dir]
			if !ok {
				row = &types.DirectoryQuota{
					TenantID:      tenantID,
					DirectoryPath: dir,
					Limit:         s.defaultDirectoryLimit,
				}
				seen[dir] = row
			}
			row.CurrentCount = n
			total += n
		}

		for _, row := range seen {
			if err := writeDirectoryRow(tx, row); err != nil {
				return err
			}
		}

		tenantRow, err := readTenantRow(tx, tenantID, s.defaultTenantLimit)
		if err != nil {
			return err
		}
		tenantRow.CurrentCount = total
		return writeTenantRow(tx, tenantRow)
	})
	return s.classify("rebuild", h.path, err)
}

// VerifyTenant runs the backend's structural consistency check
func (s *Store) VerifyTenant(tenantID string) error {
	h, err := s.tenant(tenantID)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	err = h.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDirectories) == nil || tx.Bucket(bucketTenant) == nil {
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
	return s.classify("verify", h.path, err)
}

// Compact rewrites the tenant database into its minimal form
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

// CloseTenant closes the tenant's database; the next operation reopens it
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

// classify passes typed errors through and wraps the rest as storage faults
func (s *Store) classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if types.IsQuotaExceeded(err) || errors.Is(err, types.ErrCorruption) || types.IsIOFault(err) {
		return err
	}
	return types.NewIOFault(op, path, err)
}
