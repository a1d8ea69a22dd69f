package health

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocosip/locus/pkg/metastore"
	"github.com/cocosip/locus/pkg/quota"
	"github.com/cocosip/locus/pkg/tenant"
	"github.com/cocosip/locus/pkg/volume"
)

func TestVolumeCheckerHealthy(t *testing.T) {
	vol, err := volume.New("vol-1", t.TempDir(), 2)
	require.NoError(t, err)

	result := NewVolumeChecker(vol).Check(context.Background())
	assert.True(t, result.Healthy)
	assert.NotZero(t, result.CheckedAt)
}

func TestVolumeCheckerMissingMount(t *testing.T) {
	mount := t.TempDir()
	vol, err := volume.New("vol-1", mount, 2)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(mount))

	result := NewVolumeChecker(vol).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "vol-1")
}

func TestDatabaseCheckersHealthy(t *testing.T) {
	ctx := context.Background()

	registry, err := tenant.New(t.TempDir(), true, 0, nil)
	require.NoError(t, err)
	meta, err := metastore.Open(t.TempDir())
	require.NoError(t, err)
	defer meta.Close()
	quotas, err := quota.Open(t.TempDir(), 0, 0)
	require.NoError(t, err)
	defer quotas.Close()

	_, err = registry.Create(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, quotas.TryIncrement(ctx, "t1", "/"))

	result := NewMetadataChecker(meta, registry).Check(ctx)
	assert.True(t, result.Healthy, result.Message)

	result = NewQuotaChecker(quotas, registry).Check(ctx)
	assert.True(t, result.Healthy, result.Message)
}

func TestStatusConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 3

	status := NewStatus()
	failing := Result{Healthy: false, CheckedAt: time.Now()}

	status.Update(failing, cfg)
	status.Update(failing, cfg)
	assert.True(t, status.Healthy, "two failures should not trip a threshold of three")

	status.Update(failing, cfg)
	assert.False(t, status.Healthy)
	assert.Equal(t, 3, status.ConsecutiveFailures)

	status.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	assert.True(t, status.Healthy, "one success flips the target back")
	assert.Equal(t, 0, status.ConsecutiveFailures)
}

func TestRunAll(t *testing.T) {
	vol, err := volume.New("vol-1", t.TempDir(), 0)
	require.NoError(t, err)
	registry, err := tenant.New(t.TempDir(), true, 0, nil)
	require.NoError(t, err)
	meta, err := metastore.Open(t.TempDir())
	require.NoError(t, err)
	defer meta.Close()

	results := RunAll(context.Background(), []Checker{
		NewVolumeChecker(vol),
		NewMetadataChecker(meta, registry),
	})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Healthy, r.Message)
	}
}

func TestMonitorTracksStatus(t *testing.T) {
	vol, err := volume.New("vol-1", t.TempDir(), 2)
	require.NoError(t, err)
	checker := NewVolumeChecker(vol)

	cfg := DefaultConfig()
	cfg.Interval = 50 * time.Millisecond
	cfg.Timeout = time.Second

	m := NewMonitor([]Checker{checker}, cfg, nil)
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		s, ok := m.StatusOf(checker)
		return ok && !s.LastCheck.IsZero()
	}, 2*time.Second, 20*time.Millisecond)

	s, ok := m.StatusOf(checker)
	require.True(t, ok)
	assert.True(t, s.Healthy)
	assert.True(t, s.LastResult.Healthy)
}
