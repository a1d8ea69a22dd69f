package recovery

import (
	"context"
	"errors"
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
	"github.com/cocosip/locus/pkg/quota"
	"github.com/cocosip/locus/pkg/tenant"
	"github.com/cocosip/locus/pkg/types"
	"github.com/cocosip/locus/pkg/volume"
)

// backupTimeFormat names corruption snapshots; the original file is
// preserved, never deleted
const backupTimeFormat = "20060102T150405Z"

// Report summarizes one tenant rebuild
type Report struct {
	TenantID         string
	BackupPaths      []string
	RecordsRebuilt   int
	QuotaRowsRebuilt int
	Errors           []string
}

// Manager verifies tenant databases and rebuilds them from the
// physical files when they are corrupt
type Manager struct {
	meta     *metastore.Store
	quotas   *quota.Store
	registry *tenant.Registry
	volumes  []volume.Volume
	broker   *events.Broker
	logger   zerolog.Logger
}

// New creates a recovery manager. A nil broker disables event
// publishing.
func New(meta *metastore.Store, quotas *quota.Store, registry *tenant.Registry, volumes []volume.Volume, broker *events.Broker) *Manager {
	return &Manager{
		meta:     meta,
		quotas:   quotas,
		registry: registry,
		volumes:  volumes,
		broker:   broker,
		logger:   log.WithComponent("recovery"),
	}
}

// CheckTenant verifies the tenant's metadata and quota databases.
// A structural failure comes back wrapping types.ErrCorruption.
func (m *Manager) CheckTenant(ctx context.Context, tenantID string) error {
	if err := types.ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.meta.VerifyTenant(tenantID); err != nil {
		return fmt.Errorf("metadata database for tenant %s: %w", tenantID, err)
	}
	if err := m.quotas.VerifyTenant(tenantID); err != nil {
		return fmt.Errorf("quota database for tenant %s: %w", tenantID, err)
	}
	return nil
}

// CheckAll verifies every registered tenant and joins the failures.
// errors.Is(err, types.ErrCorruption) on the result tells a caller
// whether any database is structurally damaged.
func (m *Manager) CheckAll(ctx context.Context) error {
	tenants, err := m.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	var errs []error
	for _, rec := range tenants {
		if err := m.CheckTenant(ctx, rec.TenantID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RebuildTenant reconstructs the tenant's metadata and quota databases
// from the physical files on the volumes. The damaged databases are
// snapshotted aside, never deleted. Every recovered file re-enters the
// queue as Pending; claim state and retry counts are lost by design of
// the rebuild, not recoverable from blobs alone.
//
// Rebuilding a healthy tenant is safe and idempotent: the result is the
// same set of Pending records.
func (m *Manager) RebuildTenant(ctx context.Context, tenantID string) (*Report, error) {
	if err := types.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	report := &Report{TenantID: tenantID}

	if err := m.snapshotDatabases(tenantID, report); err != nil {
		return nil, err
	}

	records, scanErrs := m.scanVolumes(ctx, tenantID)
	report.Errors = append(report.Errors, scanErrs...)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := m.meta.PutOrUpdate(rec); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("file %s: %v", rec.FileKey, err))
			continue
		}
		report.RecordsRebuilt++
	}

	counts := map[string]int64{}
	if report.RecordsRebuilt > 0 {
		counts[types.RootDirectory] = int64(report.RecordsRebuilt)
	}
	if err := m.quotas.Rebuild(ctx, tenantID, counts); err != nil {
		return report, fmt.Errorf("failed to rebuild quota counters: %w", err)
	}
	report.QuotaRowsRebuilt = len(counts)

	metrics.RecoveryRebuildsTotal.Inc()
	m.logger.Info().
		Str("tenant_id", tenantID).
		Int("records", report.RecordsRebuilt).
		Strs("backups", report.BackupPaths).
		Msg("Rebuilt tenant databases from physical files")

	if m.broker != nil {
		m.broker.Publish(&events.Event{
			Type:     events.EventRecoveryRebuilt,
			TenantID: tenantID,
			Message:  fmt.Sprintf("%d records rebuilt", report.RecordsRebuilt),
		})
	}
	return report, nil
}

// RebuildAll rebuilds every tenant whose check reports corruption
func (m *Manager) RebuildAll(ctx context.Context) ([]*Report, error) {
	tenants, err := m.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	var reports []*Report
	for _, rec := range tenants {
		err := m.CheckTenant(ctx, rec.TenantID)
		if err == nil {
			continue
		}
		if !errors.Is(err, types.ErrCorruption) {
			return reports, err
		}

		m.logger.Warn().
			Str("tenant_id", rec.TenantID).
			Err(err).
			Msg("Corruption detected, rebuilding tenant")

		report, err := m.RebuildTenant(ctx, rec.TenantID)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// snapshotDatabases closes the tenant's databases and renames the
// files aside with a timestamped suffix
func (m *Manager) snapshotDatabases(tenantID string, report *Report) error {
	if err := m.meta.CloseTenant(tenantID); err != nil {
		return fmt.Errorf("failed to close metadata database: %w", err)
	}
	if err := m.quotas.CloseTenant(tenantID); err != nil {
		return fmt.Errorf("failed to close quota database: %w", err)
	}

	stamp := time.Now().UTC().Format(backupTimeFormat)
	for _, path := range []string{m.meta.Path(tenantID), m.quotas.Path(tenantID)} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		backup := fmt.Sprintf("%s.corrupt-%s", path, stamp)
		if err := os.Rename(path, backup); err != nil {
			return types.NewIOFault("snapshot", path, err)
		}
		report.BackupPaths = append(report.BackupPaths, backup)
	}
	return nil
}

// scanVolumes walks the tenant's tree on every volume and synthesizes
// Pending records for each blob found. Temp files, canaries, and junk
// are excluded because their names are not file keys. A key present on
// more than one volume keeps the copy with the newest modification
// time.
func (m *Manager) scanVolumes(ctx context.Context, tenantID string) ([]*types.FileRecord, []string) {
	type found struct {
		rec   *types.FileRecord
		mtime time.Time
	}

	var mu sync.Mutex
	byKey := make(map[string]found)
	var errs []string

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range m.volumes {
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

				info, err := d.Info()
				if err != nil {
					return err
				}

				rec := &types.FileRecord{
					FileKey:       d.Name(),
					TenantID:      tenantID,
					VolumeID:      v.ID(),
					PhysicalPath:  path,
					DirectoryPath: types.RootDirectory,
					FileSize:      info.Size(),
					Status:        types.FilePending,
					CreatedAt:     info.ModTime().UTC(),
				}

				mu.Lock()
				prev, ok := byKey[rec.FileKey]
				if !ok || info.ModTime().After(prev.mtime) {
					byKey[rec.FileKey] = found{rec: rec, mtime: info.ModTime()}
				}
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
		errs = append(errs, err.Error())
	}

	records := make([]*types.FileRecord, 0, len(byKey))
	for _, f := range byKey {
		records = append(records, f.rec)
	}
	return records, errs
}
