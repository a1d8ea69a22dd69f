package pool

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cocosip/locus/pkg/events"
	"github.com/cocosip/locus/pkg/log"
	"github.com/cocosip/locus/pkg/metastore"
	"github.com/cocosip/locus/pkg/metrics"
	"github.com/cocosip/locus/pkg/queue"
	"github.com/cocosip/locus/pkg/quota"
	"github.com/cocosip/locus/pkg/tenant"
	"github.com/cocosip/locus/pkg/types"
	"github.com/cocosip/locus/pkg/volume"
)

// Pool is the front door of the storage system. It validates tenants,
// enforces quotas, places new files on volumes, and delegates queue
// operations to the scheduler.
type Pool struct {
	registry *tenant.Registry
	meta     *metastore.Store
	quotas   *quota.Store
	volumes  []volume.Volume
	byID     map[string]volume.Volume
	queue    *queue.Scheduler
	broker   *events.Broker
	logger   zerolog.Logger
}

// Options wires the pool's collaborators
type Options struct {
	Registry *tenant.Registry
	Meta     *metastore.Store
	Quotas   *quota.Store
	Volumes  []volume.Volume
	Retry    queue.RetryPolicy
	Broker   *events.Broker
}

// New creates a Pool from the given collaborators
func New(opts Options) (*Pool, error) {
	if opts.Registry == nil || opts.Meta == nil || opts.Quotas == nil {
		return nil, errors.New("pool requires a registry, metadata store, and quota store")
	}
	if len(opts.Volumes) == 0 {
		return nil, errors.New("pool requires at least one volume")
	}

	byID := make(map[string]volume.Volume, len(opts.Volumes))
	for _, v := range opts.Volumes {
		byID[v.ID()] = v
	}

	return &Pool{
		registry: opts.Registry,
		meta:     opts.Meta,
		quotas:   opts.Quotas,
		volumes:  opts.Volumes,
		byID:     byID,
		queue:    queue.NewScheduler(opts.Meta, opts.Quotas, opts.Volumes, opts.Retry, opts.Broker),
		broker:   opts.Broker,
		logger:   log.WithComponent("pool"),
	}, nil
}

// Queue returns the pool's scheduler for direct queue access
func (p *Pool) Queue() *queue.Scheduler {
	return p.queue
}

// WriteOptions adjusts placement for a single write
type WriteOptions struct {
	// DirectoryPath is the logical directory for quota accounting;
	// empty means the root directory
	DirectoryPath string

	// EstimatedSize pre-filters volumes by free space; 0 means any
	// healthy volume with free space qualifies
	EstimatedSize int64
}

// Write stores the stream under the tenant's root directory and
// returns the new file key.
func (p *Pool) Write(ctx context.Context, tenantID string, r io.Reader) (string, error) {
	return p.WriteTo(ctx, tenantID, r, WriteOptions{})
}

// WriteTo stores the stream and returns the new file key. The tenant
// must be enabled and within quota; the file lands on the healthy
// volume with the most free space and is registered Pending.
func (p *Pool) WriteTo(ctx context.Context, tenantID string, r io.Reader, opts WriteOptions) (string, error) {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return "", err
	}

	dir := types.NormalizeDirectory(opts.DirectoryPath)

	// Tenant-level and directory-level checks share one quota
	// transaction; a rejection leaves both counters untouched.
	if err := p.quotas.TryIncrement(ctx, tenantID, dir); err != nil {
		var qe *types.QuotaExceededError
		if errors.As(err, &qe) {
			metrics.QuotaRejectionsTotal.WithLabelValues(string(qe.Scope)).Inc()
		}
		return "", err
	}

	fileKey, err := p.writeLocked(ctx, tenantID, dir, r, opts)
	if err != nil {
		// Release the slot the failed write was holding
		if derr := p.quotas.Decrement(context.WithoutCancel(ctx), tenantID, dir); derr != nil {
			p.logger.Error().Err(derr).
				Str("tenant_id", tenantID).
				Str("directory", dir).
				Msg("Failed to roll back quota after write failure")
		}
		return "", err
	}
	return fileKey, nil
}

// writeLocked performs the placement, streaming, and registration
// steps of a write. The caller holds the quota slot and rolls it back
// if this fails.
func (p *Pool) writeLocked(ctx context.Context, tenantID, dir string, r io.Reader, opts WriteOptions) (string, error) {
	fileKey := NewFileKey()

	vol, err := p.selectVolume(ctx, opts.EstimatedSize)
	if err != nil {
		return "", err
	}

	physPath, err := vol.PhysicalPath(tenantID, fileKey)
	if err != nil {
		return "", err
	}

	n, err := vol.Write(ctx, physPath, r)
	if err != nil {
		// Best effort: the temp-file write may have left nothing behind
		_ = vol.Delete(context.WithoutCancel(ctx), physPath)
		return "", err
	}

	now := time.Now().UTC()
	rec := &types.FileRecord{
		FileKey:       fileKey,
		TenantID:      tenantID,
		VolumeID:      vol.ID(),
		PhysicalPath:  physPath,
		DirectoryPath: dir,
		FileSize:      n,
		Status:        types.FilePending,
		CreatedAt:     now,
	}
	if err := p.meta.PutOrUpdate(rec); err != nil {
		_ = vol.Delete(context.WithoutCancel(ctx), physPath)
		return "", err
	}

	metrics.WritesTotal.Inc()
	metrics.WriteBytesTotal.Add(float64(n))
	if p.broker != nil {
		p.broker.Publish(&events.Event{
			Type:     events.EventFileWritten,
			TenantID: tenantID,
			FileKey:  fileKey,
			VolumeID: vol.ID(),
		})
	}
	p.logger.Debug().
		Str("tenant_id", tenantID).
		Str("file_key", fileKey).
		Str("volume_id", vol.ID()).
		Int64("size", n).
		Msg("File written")
	return fileKey, nil
}

// selectVolume picks the healthy volume with the most free space among
// those that can hold estimated bytes. Ties break on the smaller
// volume ID so selection is deterministic.
func (p *Pool) selectVolume(ctx context.Context, estimated int64) (volume.Volume, error) {
	var best volume.Volume
	var bestAvail uint64

	for _, v := range p.volumes {
		if !v.Healthy(ctx) {
			if p.broker != nil {
				p.broker.Publish(&events.Event{
					Type:     events.EventVolumeUnhealthy,
					VolumeID: v.ID(),
				})
			}
			continue
		}
		avail, err := v.AvailableSpace()
		if err != nil || avail == 0 {
			continue
		}
		if estimated > 0 && avail < uint64(estimated) {
			continue
		}
		if best == nil || avail > bestAvail || (avail == bestAvail && v.ID() < best.ID()) {
			best = v
			bestAvail = avail
		}
	}

	if best == nil {
		return nil, types.ErrNoHealthyVolume
	}
	return best, nil
}

// Read opens the stored blob for fileKey. The caller must close the
// stream before completing the file. A key the tenant does not own is
// ErrNotFound.
func (p *Pool) Read(ctx context.Context, tenantID, fileKey string) (io.ReadCloser, error) {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return nil, err
	}

	rec, err := p.meta.Get(tenantID, fileKey)
	if err != nil {
		return nil, err
	}

	vol, ok := p.byID[rec.VolumeID]
	if !ok {
		return nil, types.NewIOFault("read", rec.PhysicalPath, errors.New("volume not configured"))
	}
	return vol.Read(ctx, rec.PhysicalPath)
}

// Info returns the reduced record view, or nil when the tenant owns no
// such file
func (p *Pool) Info(ctx context.Context, tenantID, fileKey string) (*types.FileInfo, error) {
	rec, err := p.Location(ctx, tenantID, fileKey)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Info(), nil
}

// Location returns the full file record, or nil when the tenant owns
// no such file
func (p *Pool) Location(ctx context.Context, tenantID, fileKey string) (*types.FileRecord, error) {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return nil, err
	}

	rec, err := p.meta.Get(tenantID, fileKey)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Claim hands the tenant's next ready pending file to the caller
func (p *Pool) Claim(ctx context.Context, tenantID string) (*types.FileRecord, error) {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return nil, err
	}
	return p.queue.Claim(ctx, tenantID)
}

// ClaimBatch claims up to n files; each claim is individually atomic
func (p *Pool) ClaimBatch(ctx context.Context, tenantID string, n int) ([]*types.FileRecord, error) {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return nil, err
	}
	return p.queue.ClaimBatch(ctx, tenantID, n)
}

// Complete finishes processing and removes the file
func (p *Pool) Complete(ctx context.Context, tenantID, fileKey string) error {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return err
	}
	return p.queue.Complete(ctx, tenantID, fileKey)
}

// Fail records a processing failure for retry or promotion
func (p *Pool) Fail(ctx context.Context, tenantID, fileKey, errorMessage string) error {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return err
	}
	return p.queue.Fail(ctx, tenantID, fileKey, errorMessage)
}

// Status returns the queue status of a file
func (p *Pool) Status(ctx context.Context, tenantID, fileKey string) (types.FileStatus, error) {
	if _, err := p.registry.RequireEnabled(ctx, tenantID); err != nil {
		return "", err
	}
	return p.queue.Status(ctx, tenantID, fileKey)
}

// TotalCapacity sums the capacity of every configured volume
func (p *Pool) TotalCapacity() uint64 {
	var total uint64
	for _, v := range p.volumes {
		if c, err := v.TotalCapacity(); err == nil {
			total += c
		}
	}
	return total
}

// AvailableSpace sums the free space of the healthy volumes
func (p *Pool) AvailableSpace(ctx context.Context) uint64 {
	var total uint64
	for _, v := range p.volumes {
		if !v.Healthy(ctx) {
			continue
		}
		if a, err := v.AvailableSpace(); err == nil {
			total += a
		}
	}
	return total
}

// Tenants lists every known tenant ID. Part of the metrics sampling
// surface.
func (p *Pool) Tenants(ctx context.Context) ([]string, error) {
	recs, err := p.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.TenantID)
	}
	return ids, nil
}

// StatusCounts returns the record count per status for one tenant.
// Part of the metrics sampling surface.
func (p *Pool) StatusCounts(ctx context.Context, tenantID string) (map[types.FileStatus]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[types.FileStatus]int64)
	_, err := p.meta.Count(tenantID, func(rec *types.FileRecord) bool {
		counts[rec.Status]++
		return false
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// VolumeStats snapshots every configured volume. Part of the metrics
// sampling surface.
func (p *Pool) VolumeStats(ctx context.Context) []metrics.VolumeStat {
	stats := make([]metrics.VolumeStat, 0, len(p.volumes))
	for _, v := range p.volumes {
		stat := metrics.VolumeStat{
			VolumeID: v.ID(),
			Healthy:  v.Healthy(ctx),
		}
		if c, err := v.TotalCapacity(); err == nil {
			stat.TotalBytes = c
		}
		if a, err := v.AvailableSpace(); err == nil {
			stat.AvailableBytes = a
		}
		stats = append(stats, stat)
	}
	return stats
}

// Close closes the pool's stores
func (p *Pool) Close() error {
	metaErr := p.meta.Close()
	quotaErr := p.quotas.Close()
	if metaErr != nil {
		return metaErr
	}
	return quotaErr
}

// NewFileKey generates a 128-bit random file key rendered as 32
// lowercase hex characters
func NewFileKey() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
