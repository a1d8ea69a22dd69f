package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cocosip/locus/pkg/events"
	"github.com/cocosip/locus/pkg/log"
	"github.com/cocosip/locus/pkg/metastore"
	"github.com/cocosip/locus/pkg/metrics"
	"github.com/cocosip/locus/pkg/quota"
	"github.com/cocosip/locus/pkg/types"
	"github.com/cocosip/locus/pkg/volume"
)

// Scheduler hands each claimable file to exactly one caller and drives
// the retry state machine for completions and failures. The claim
// itself is a single metadata-store transaction; the scheduler owns
// everything around it: the retry schedule, the physical delete on
// completion, and the quota bookkeeping.
type Scheduler struct {
	meta    *metastore.Store
	quotas  *quota.Store
	volumes map[string]volume.Volume
	policy  RetryPolicy
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewScheduler creates a Scheduler over the given stores and volumes.
// A nil broker disables event publishing.
func NewScheduler(meta *metastore.Store, quotas *quota.Store, volumes []volume.Volume, policy RetryPolicy, broker *events.Broker) *Scheduler {
	byID := make(map[string]volume.Volume, len(volumes))
	for _, v := range volumes {
		byID[v.ID()] = v
	}
	return &Scheduler{
		meta:    meta,
		quotas:  quotas,
		volumes: byID,
		policy:  policy,
		broker:  broker,
		logger:  log.WithComponent("queue"),
	}
}

// Policy returns the scheduler's retry policy
func (s *Scheduler) Policy() RetryPolicy {
	return s.policy
}

// Claim transitions the oldest ready pending file of the tenant to
// Processing and returns it. Returns nil when nothing is claimable.
// Safe to call from any number of workers concurrently; no two callers
// ever receive the same file.
func (s *Scheduler) Claim(ctx context.Context, tenantID string) (*types.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.meta.ClaimNextPending(tenantID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	metrics.ClaimsTotal.Inc()
	s.publish(events.EventFileClaimed, rec, "")
	return rec, nil
}

// ClaimBatch claims up to n files. Each claim is individually atomic;
// the batch as a whole is not. An empty pending set yields an empty
// slice, not an error.
func (s *Scheduler) ClaimBatch(ctx context.Context, tenantID string, n int) ([]*types.FileRecord, error) {
	out := make([]*types.FileRecord, 0, n)
	for len(out) < n {
		rec, err := s.Claim(ctx, tenantID)
		if err != nil {
			return out, err
		}
		if rec == nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// Complete finishes processing: the blob is deleted from its volume,
// the quota counters release one slot, and the metadata record is
// removed, in that order. Only Processing files may be completed. A
// blob that is already gone from disk counts as deleted.
func (s *Scheduler) Complete(ctx context.Context, tenantID, fileKey string) error {
	rec, err := s.requireProcessing(tenantID, fileKey)
	if err != nil {
		return err
	}

	vol, err := s.volume(rec.VolumeID)
	if err != nil {
		return err
	}

	// Physical delete happens-before the metadata delete; a fault here
	// leaves the record in Processing for the reclaim loop.
	if err := vol.Delete(ctx, rec.PhysicalPath); err != nil {
		return err
	}
	if err := s.quotas.Decrement(ctx, tenantID, rec.DirectoryPath); err != nil {
		return err
	}
	if err := s.meta.Delete(tenantID, fileKey); err != nil {
		return err
	}

	metrics.CompletionsTotal.Inc()
	s.publish(events.EventFileCompleted, rec, "")
	return nil
}

// Fail records a processing failure. The file re-enters the pending
// set with a backoff-delayed availableAt, or is promoted to
// PermanentlyFailed once its post-increment retry count reaches the
// policy's MaxRetries. Only Processing files may be failed.
func (s *Scheduler) Fail(ctx context.Context, tenantID, fileKey, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := s.requireProcessing(tenantID, fileKey)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.RetryCount++
	rec.LastFailedAt = &now
	rec.LastError = errorMessage
	rec.ProcessingStartedAt = nil

	if rec.RetryCount >= s.policy.MaxRetries {
		rec.Status = types.FilePermanentlyFailed
		rec.AvailableAt = nil
	} else {
		rec.Status = types.FilePending
		at := now.Add(s.policy.Delay(rec.RetryCount))
		rec.AvailableAt = &at
	}

	if err := s.meta.PutOrUpdate(rec); err != nil {
		return err
	}

	if rec.Status == types.FilePermanentlyFailed {
		metrics.PermanentFailuresTotal.Inc()
		s.publish(events.EventFilePermanentlyFailed, rec, errorMessage)
		s.logger.Warn().
			Str("tenant_id", tenantID).
			Str("file_key", fileKey).
			Uint32("retry_count", rec.RetryCount).
			Str("error", errorMessage).
			Msg("File permanently failed")
	} else {
		metrics.FailuresTotal.Inc()
		s.publish(events.EventFileFailed, rec, errorMessage)
	}
	return nil
}

// Status returns the queue status of a file
func (s *Scheduler) Status(ctx context.Context, tenantID, fileKey string) (types.FileStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, err := s.meta.Get(tenantID, fileKey)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// ReclaimTimedOut re-pends every Processing file whose claim is older
// than threshold. The retry count is untouched; a worker crash is not
// a processing failure. Returns the number of files reclaimed.
func (s *Scheduler) ReclaimTimedOut(ctx context.Context, tenantID string, threshold time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	stuck, err := s.meta.FindTimedOut(tenantID, now, threshold)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, rec := range stuck {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}

		rec.Status = types.FilePending
		rec.ProcessingStartedAt = nil
		rec.AvailableAt = nil
		if err := s.meta.PutOrUpdate(rec); err != nil {
			return reclaimed, err
		}
		reclaimed++

		metrics.ReclaimsTotal.Inc()
		s.publish(events.EventFileReclaimed, rec, "")
		s.logger.Info().
			Str("tenant_id", tenantID).
			Str("file_key", rec.FileKey).
			Msg("Reclaimed timed-out file")
	}
	return reclaimed, nil
}

// requireProcessing loads the record and enforces the Processing-only
// precondition shared by Complete and Fail.
func (s *Scheduler) requireProcessing(tenantID, fileKey string) (*types.FileRecord, error) {
	rec, err := s.meta.Get(tenantID, fileKey)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.FileProcessing {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrNotProcessing, fileKey, rec.Status)
	}
	return rec, nil
}

// volume resolves a record's volume ID against the configured set
func (s *Scheduler) volume(volumeID string) (volume.Volume, error) {
	v, ok := s.volumes[volumeID]
	if !ok {
		return nil, types.NewIOFault("lookup", volumeID, errors.New("volume not configured"))
	}
	return v, nil
}

func (s *Scheduler) publish(typ events.EventType, rec *types.FileRecord, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     typ,
		TenantID: rec.TenantID,
		FileKey:  rec.FileKey,
		VolumeID: rec.VolumeID,
		Message:  message,
	})
}
