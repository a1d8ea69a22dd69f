package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cocosip/locus/pkg/events"
	"github.com/cocosip/locus/pkg/types"
)

const (
	// DefaultCacheTTL bounds how stale a cached tenant record can get
	DefaultCacheTTL = 5 * time.Minute

	recordSuffix = ".json"
)

// Registry persists one small record per tenant as a human-readable
// JSON file and serves reads from a TTL cache. Writes go to disk
// first, then refresh the cache, so a cached record is never newer
// than its file.
type Registry struct {
	root       string
	autoCreate bool
	broker     *events.Broker

	cache *gocache.Cache

	// mu serializes record writes; reads are lock-free via the cache
	mu sync.Mutex
}

// New creates a Registry rooted at dir. When autoCreate is set,
// looking up a missing tenant creates it with Enabled status. A nil
// broker disables event publishing; ttl <= 0 selects DefaultCacheTTL.
func New(dir string, autoCreate bool, ttl time.Duration, broker *events.Broker) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("tenant root directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tenant root: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		root:       dir,
		autoCreate: autoCreate,
		broker:     broker,
		cache:      gocache.New(ttl, ttl/2),
	}, nil
}

// Root returns the tenant root directory
func (r *Registry) Root() string {
	return r.root
}

// Path returns the record file path for a tenant
func (r *Registry) Path(tenantID string) string {
	return filepath.Join(r.root, tenantID+recordSuffix)
}

// Get returns the tenant record for id. The cache answers first; a
// miss loads from disk. A missing tenant is created with Enabled
// status when auto-creation is on, otherwise ErrTenantNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*types.TenantRecord, error) {
	if err := types.ValidateTenantID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cached, ok := r.cache.Get(id); ok {
		rec := cached.(types.TenantRecord)
		return &rec, nil
	}

	rec, err := r.load(id)
	if err == nil {
		r.cache.Set(id, *rec, gocache.DefaultExpiration)
		return rec, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	if !r.autoCreate {
		return nil, types.ErrTenantNotFound
	}

	rec, err = r.Create(ctx, id)
	if err == types.ErrTenantExists {
		// Lost a create race; the record exists now
		return r.Get(ctx, id)
	}
	return rec, err
}

// RequireEnabled returns the tenant record if its status is Enabled
func (r *Registry) RequireEnabled(ctx context.Context, id string) (*types.TenantRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.TenantEnabled {
		return nil, types.ErrTenantDisabled
	}
	return rec, nil
}

// Create persists a new tenant with Enabled status. Creating a tenant
// that already exists fails with ErrTenantExists.
func (r *Registry) Create(ctx context.Context, id string) (*types.TenantRecord, error) {
	if err := types.ValidateTenantID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.Path(id)); err == nil {
		return nil, types.ErrTenantExists
	}

	now := time.Now().UTC()
	rec := &types.TenantRecord{
		TenantID:    id,
		Status:      types.TenantEnabled,
		CreatedAt:   now,
		UpdatedAt:   now,
		StoragePath: "storage/" + id,
	}
	if err := r.write(rec); err != nil {
		return nil, err
	}

	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:     events.EventTenantCreated,
			TenantID: id,
		})
	}
	return rec, nil
}

// Enable sets the tenant status to Enabled
func (r *Registry) Enable(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, types.TenantEnabled)
}

// Disable sets the tenant status to Disabled
func (r *Registry) Disable(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, types.TenantDisabled)
}

// Suspend sets the tenant status to Suspended
func (r *Registry) Suspend(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, types.TenantSuspended)
}

func (r *Registry) setStatus(ctx context.Context, id string, status types.TenantStatus) error {
	if err := types.ValidateTenantID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(id)
	if err != nil {
		if os.IsNotExist(err) {
			return types.ErrTenantNotFound
		}
		return err
	}

	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return r.write(rec)
}

// List returns every tenant record, sorted by file name
func (r *Registry) List(ctx context.Context) ([]*types.TenantRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, types.NewIOFault("list", r.root, err)
	}

	var out []*types.TenantRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordSuffix) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), recordSuffix)
		if types.ValidateTenantID(id) != nil {
			continue
		}
		rec, err := r.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// load reads a record from disk. The caller distinguishes missing
// files via os.IsNotExist.
func (r *Registry) load(id string) (*types.TenantRecord, error) {
	data, err := os.ReadFile(r.Path(id))
	if err != nil {
		return nil, err
	}
	var rec types.TenantRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: tenant record %s: %v", types.ErrCorruption, id, err)
	}
	return &rec, nil
}

// write persists a record atomically and refreshes the cache
func (r *Registry) write(rec *types.TenantRecord) error {
	path := r.Path(rec.TenantID)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tenant record: %w", err)
	}

	tmp, err := os.CreateTemp(r.root, ".tenant-*.tmp")
	if err != nil {
		return types.NewIOFault("write", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewIOFault("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewIOFault("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewIOFault("write", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.NewIOFault("write", path, err)
	}

	r.cache.Set(rec.TenantID, *rec, gocache.DefaultExpiration)
	return nil
}
