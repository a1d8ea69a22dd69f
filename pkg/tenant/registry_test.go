package tenant

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocosip/locus/pkg/events"
	"github.com/cocosip/locus/pkg/types"
)

func newRegistry(t *testing.T, autoCreate bool) *Registry {
	t.Helper()
	r, err := New(t.TempDir(), autoCreate, 0, nil)
	require.NoError(t, err)
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := newRegistry(t, false)
	ctx := context.Background()

	rec, err := r.Create(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, types.TenantEnabled, rec.Status)
	assert.Equal(t, "storage/acme", rec.StoragePath)
	assert.FileExists(t, r.Path("acme"))

	got, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, rec.TenantID, got.TenantID)
	assert.Equal(t, rec.Status, got.Status)
}

func TestCreateDuplicate(t *testing.T) {
	r := newRegistry(t, false)
	ctx := context.Background()

	_, err := r.Create(ctx, "acme")
	require.NoError(t, err)
	_, err = r.Create(ctx, "acme")
	assert.ErrorIs(t, err, types.ErrTenantExists)
}

func TestGetMissingWithoutAutoCreate(t *testing.T) {
	r := newRegistry(t, false)
	_, err := r.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrTenantNotFound)
}

func TestGetAutoCreates(t *testing.T) {
	r := newRegistry(t, true)
	rec, err := r.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, types.TenantEnabled, rec.Status)
	assert.FileExists(t, r.Path("fresh"))
}

func TestAutoCreatePublishesEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	r, err := New(t.TempDir(), true, 0, broker)
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "acme")
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventTenantCreated, ev.Type)
		assert.Equal(t, "acme", ev.TenantID)
	case <-time.After(time.Second):
		t.Fatal("no tenant.created event")
	}
}

func TestInvalidTenantIDs(t *testing.T) {
	r := newRegistry(t, true)
	ctx := context.Background()

	for _, id := range []string{"", ".", "..", "a/b", "tenant id", "..%2f"} {
		_, err := r.Get(ctx, id)
		assert.ErrorIs(t, err, types.ErrInvalidTenantID, "id %q", id)
	}
	// IDs that are valid path components pass
	for _, id := range []string{"acme", "Acme-2.prod_eu", "0"} {
		_, err := r.Get(ctx, id)
		assert.NoError(t, err, "id %q", id)
	}
}

func TestStatusTransitions(t *testing.T) {
	r := newRegistry(t, false)
	ctx := context.Background()

	_, err := r.Create(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, r.Disable(ctx, "acme"))
	_, err = r.RequireEnabled(ctx, "acme")
	assert.ErrorIs(t, err, types.ErrTenantDisabled)

	require.NoError(t, r.Suspend(ctx, "acme"))
	_, err = r.RequireEnabled(ctx, "acme")
	assert.ErrorIs(t, err, types.ErrTenantDisabled)

	require.NoError(t, r.Enable(ctx, "acme"))
	rec, err := r.RequireEnabled(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, types.TenantEnabled, rec.Status)
}

func TestSetStatusMissingTenant(t *testing.T) {
	r := newRegistry(t, false)
	err := r.Disable(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrTenantNotFound)
}

func TestStatusSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r, err := New(dir, false, 0, nil)
	require.NoError(t, err)
	_, err = r.Create(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, r.Disable(ctx, "acme"))

	// A fresh registry over the same directory sees the persisted state
	r2, err := New(dir, false, 0, nil)
	require.NoError(t, err)
	rec, err := r2.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, types.TenantDisabled, rec.Status)
}

func TestList(t *testing.T) {
	r := newRegistry(t, false)
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta", "gamma"} {
		_, err := r.Create(ctx, id)
		require.NoError(t, err)
	}
	// Stray files are skipped
	require.NoError(t, os.WriteFile(filepath.Join(r.Root(), "README.txt"), []byte("x"), 0o644))

	recs, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	ids := []string{recs[0].TenantID, recs[1].TenantID, recs[2].TenantID}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, ids)
}

func TestConcurrentAutoCreateSingleWinner(t *testing.T) {
	r := newRegistry(t, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Get(ctx, "shared"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	recs, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCorruptRecord(t *testing.T) {
	r := newRegistry(t, false)
	ctx := context.Background()

	_, err := r.Create(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.Path("acme"), []byte("{not json"), 0o644))

	// Bypass the cache with a fresh registry
	r2, err := New(r.Root(), false, 0, nil)
	require.NoError(t, err)
	_, err = r2.Get(ctx, "acme")
	assert.ErrorIs(t, err, types.ErrCorruption)
}
