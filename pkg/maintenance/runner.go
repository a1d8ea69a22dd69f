package maintenance

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

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

// junkFiles is the allow-list of filenames the sweep may remove.
// Directories are never deleted: sharded trees are deliberately
// sparse, and the tenant prefix itself must survive.
var junkFiles = map[string]bool{
	"Thumbs.db":   true,
	".DS_Store":   true,
	"desktop.ini": true,
}

// Config controls the maintenance cadence and thresholds
type Config struct {
	// Interval between ticks of the background loop
	Interval time.Duration

	// ProcessingTimeout is the age at which a claim counts as stuck
	ProcessingTimeout time.Duration

	// FailedRetention is how long permanently failed files are kept
	FailedRetention time.Duration

	// OrphanSweep enables deletion of physical files with no metadata
	// record. Off by default; it walks every tenant's whole tree.
	OrphanSweep bool
}

// DefaultConfig matches the documented configuration defaults
func DefaultConfig() Config {
	return Config{
		Interval:          time.Hour,
		ProcessingTimeout: 30 * time.Minute,
		FailedRetention:   7 * 24 * time.Hour,
		OrphanSweep:       false,
	}
}

// StageReport summarizes one maintenance stage of one tick
type StageReport struct {
	Stage     string
	Processed int
	Errors    []string
	Duration  time.Duration
}

// Report summarizes one full maintenance tick
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []StageReport
}

// Processed sums the processed counts over all stages
func (r *Report) Processed() int {
	total := 0
	for _, s := range r.Stages {
		total += s.Processed
	}
	return total
}

// Errors collects every stage error
func (r *Report) Errors() []string {
	var out []string
	for _, s := range r.Stages {
		out = append(out, s.Errors...)
	}
	return out
}

// Runner drives the periodic maintenance loop. Stages run
// sequentially within a tick; pool traffic proceeds concurrently
// under the stores' own locking.
type Runner struct {
	meta     *metastore.Store
	quotas   *quota.Store
	registry *tenant.Registry
	queue    *queue.Scheduler
	volumes  []volume.Volume
	broker   *events.Broker
	config   Config
	logger   zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRunner creates a maintenance runner. A nil broker disables event
// publishing.
func NewRunner(meta *metastore.Store, quotas *quota.Store, registry *tenant.Registry, sched *queue.Scheduler, volumes []volume.Volume, config Config, broker *events.Broker) *Runner {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Runner{
		meta:     meta,
		quotas:   quotas,
		registry: registry,
		queue:    sched,
		volumes:  volumes,
		broker:   broker,
		config:   config,
		logger:   log.WithComponent("maintenance"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop stops the loop and waits for an in-flight tick to finish
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *Runner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.config.Interval)
			report := r.RunOnce(ctx)
			cancel()

			r.logger.Info().
				Int("processed", report.Processed()).
				Int("errors", len(report.Errors())).
				Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
				Msg("Maintenance tick completed")
		case <-r.stopCh:
			return
		}
	}
}

// RunOnce executes one full maintenance tick: reclaim, evict, junk
// sweep, optional orphan sweep, compact. Stage failures are recorded
// in the report and do not stop later stages.
func (r *Runner) RunOnce(ctx context.Context) *Report {
	report := &Report{StartedAt: time.Now().UTC()}

	tenants, err := r.tenantIDs(ctx)
	if err != nil {
		report.Stages = append(report.Stages, StageReport{
			Stage:  "list-tenants",
			Errors: []string{err.Error()},
		})
		report.FinishedAt = time.Now().UTC()
		return report
	}

	stages := []struct {
		name    string
		enabled bool
		run     func(context.Context, []string) StageReport
	}{
		{"reclaim", true, r.reclaimStage},
		{"evict", true, r.evictStage},
		{"junk-sweep", true, r.junkSweepStage},
		{"orphan-sweep", r.config.OrphanSweep, r.orphanSweepStage},
		{"compact", true, r.compactStage},
	}

	for _, stage := range stages {
		if !stage.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}

		timer := metrics.NewTimer()
		sr := stage.run(ctx, tenants)
		sr.Stage = stage.name
		sr.Duration = timer.Duration()
		timer.ObserveDurationVec(metrics.MaintenanceStageDuration, stage.name)
		report.Stages = append(report.Stages, sr)

		r.logger.Debug().
			Str("stage", stage.name).
			Int("processed", sr.Processed).
			Int("errors", len(sr.Errors)).
			Dur("duration", sr.Duration).
			Msg("Maintenance stage finished")
	}

	report.FinishedAt = time.Now().UTC()
	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:    events.EventMaintenanceCompleted,
			Message: fmt.Sprintf("%d items processed, %d errors", report.Processed(), len(report.Errors())),
		})
	}
	return report
}

func (r *Runner) tenantIDs(ctx context.Context) ([]string, error) {
	recs, err := r.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.TenantID)
	}
	return ids, nil
}

// reclaimStage re-pends claims older than the processing timeout
func (r *Runner) reclaimStage(ctx context.Context, tenants []string) StageReport {
	var sr StageReport
	for _, tenantID := range tenants {
		n, err := r.queue.ReclaimTimedOut(ctx, tenantID, r.config.ProcessingTimeout)
		sr.Processed += n
		if err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("tenant %s: %v", tenantID, err))
		}
	}
	return sr
}

// evictStage deletes permanently failed files older than the
// retention window, releasing their blobs and quota slots
func (r *Runner) evictStage(ctx context.Context, tenants []string) StageReport {
	var sr StageReport
	now := time.Now().UTC()

	for _, tenantID := range tenants {
		aged, err := r.meta.FindAgedPermanentFailures(tenantID, now, r.config.FailedRetention)
		if err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("tenant %s: %v", tenantID, err))
			continue
		}

		for _, rec := range aged {
			if err := ctx.Err(); err != nil {
				sr.Errors = append(sr.Errors, err.Error())
				return sr
			}
			if err := r.evictOne(ctx, rec); err != nil {
				sr.Errors = append(sr.Errors, fmt.Sprintf("tenant %s file %s: %v", tenantID, rec.FileKey, err))
				continue
			}
			sr.Processed++
		}
	}
	return sr
}

func (r *Runner) evictOne(ctx context.Context, rec *types.FileRecord) error {
	// Blob delete is best-effort; a missing volume or file must not
	// pin the record forever
	for _, v := range r.volumes {
		if v.ID() == rec.VolumeID {
			if err := v.Delete(ctx, rec.PhysicalPath); err != nil {
				r.logger.Warn().Err(err).
					Str("file_key", rec.FileKey).
					Str("path", rec.PhysicalPath).
					Msg("Failed to delete blob during eviction")
			}
			break
		}
	}

	if err := r.quotas.Decrement(ctx, rec.TenantID, rec.DirectoryPath); err != nil {
		return err
	}
	if err := r.meta.Delete(rec.TenantID, rec.FileKey); err != nil {
		return err
	}

	metrics.EvictionsTotal.Inc()
	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:     events.EventFileEvicted,
			TenantID: rec.TenantID,
			FileKey:  rec.FileKey,
			VolumeID: rec.VolumeID,
		})
	}
	return nil
}

// junkSweepStage removes well-known junk filenames from every
// tenant's tree. Never removes directories.
func (r *Runner) junkSweepStage(ctx context.Context, tenants []string) StageReport {
	var sr StageReport
	for _, tenantID := range tenants {
		for _, v := range r.volumes {
			n, err := r.sweepJunk(ctx, v, tenantID)
			sr.Processed += n
			if err != nil {
				sr.Errors = append(sr.Errors, fmt.Sprintf("tenant %s volume %s: %v", tenantID, v.ID(), err))
			}
		}
	}
	return sr
}

func (r *Runner) sweepJunk(ctx context.Context, v volume.Volume, tenantID string) (int, error) {
	root := filepath.Join(v.MountPath(), tenantID)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !junkFiles[d.Name()] {
			return nil
		}
		if derr := v.Delete(ctx, path); derr != nil {
			return derr
		}
		removed++
		return nil
	})
	if os.IsNotExist(err) {
		return removed, nil
	}
	return removed, err
}

// orphanSweepStage deletes physical files that no metadata record
// references. Quota counters are untouched: an orphan was never
// admitted.
func (r *Runner) orphanSweepStage(ctx context.Context, tenants []string) StageReport {
	var sr StageReport
	for _, tenantID := range tenants {
		n, errs := r.sweepOrphans(ctx, tenantID)
		sr.Processed += n
		sr.Errors = append(sr.Errors, errs...)
	}
	return sr
}

func (r *Runner) sweepOrphans(ctx context.Context, tenantID string) (int, []string) {
	// Snapshot the set of known physical paths first; a file written
	// after the snapshot is younger than the grace period and skipped
	known := make(map[string]bool)
	_, err := r.meta.Count(tenantID, func(rec *types.FileRecord) bool {
		known[rec.PhysicalPath] = true
		return false
	})
	if err != nil {
		return 0, []string{fmt.Sprintf("tenant %s: %v", tenantID, err)}
	}

	// In-flight writes land as temp files and very young blobs; leave
	// anything newer than one interval alone
	graceCutoff := time.Now().Add(-r.config.Interval)

	var mu sync.Mutex
	removed := 0
	var errs []string

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range r.volumes {
		v := v
		g.Go(func() error {
			root := filepath.Join(v.MountPath(), tenantID)
			werr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if os.IsNotExist(err) {
						return nil
					}
					return err
				}
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				if d.IsDir() || !types.IsFileKey(d.Name()) {
					return nil
				}
				if known[path] {
					return nil
				}

				info, err := d.Info()
				if err != nil || info.ModTime().After(graceCutoff) {
					return nil
				}

				if derr := v.Delete(gctx, path); derr != nil {
					return derr
				}
				metrics.OrphansDeletedTotal.Inc()
				r.logger.Info().
					Str("tenant_id", tenantID).
					Str("volume_id", v.ID()).
					Str("path", path).
					Msg("Deleted orphaned file")

				mu.Lock()
				removed++
				mu.Unlock()
				return nil
			})
			if os.IsNotExist(werr) {
				return nil
			}
			return werr
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, fmt.Sprintf("tenant %s: %v", tenantID, err))
	}
	return removed, errs
}

// compactStage rewrites each tenant's databases into minimal form
func (r *Runner) compactStage(ctx context.Context, tenants []string) StageReport {
	var sr StageReport
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
			return sr
		}
		if err := r.meta.Compact(tenantID); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("tenant %s metadata: %v", tenantID, err))
			continue
		}
		if err := r.quotas.Compact(tenantID); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("tenant %s quota: %v", tenantID, err))
			continue
		}
		sr.Processed++
	}
	return sr
}
