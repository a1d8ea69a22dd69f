package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocosip/locus/pkg/types"
)

func newTestStore(t *testing.T, tenantLimit, dirLimit int64) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), tenantLimit, dirLimit)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTryIncrementUnlimited(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	}

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	count, err := s.DirectoryCount("t1", "/")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestTenantLimitEnforced(t *testing.T) {
	s := newTestStore(t, 2, 0)
	ctx := context.Background()

	require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/"))

	err := s.TryIncrement(ctx, "t1", "/")
	require.Error(t, err)
	assert.True(t, types.IsQuotaExceeded(err))

	var qe *types.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, types.QuotaScopeTenant, qe.Scope)
	assert.Equal(t, int64(2), qe.Current)
	assert.Equal(t, int64(2), qe.Limit)

	// A rejected increment changes nothing
	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	count, err := s.DirectoryCount("t1", "/")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDirectoryLimitLeavesTenantUntouched(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	require.NoError(t, s.SetDirectoryLimit(ctx, "t1", "/inbox", 1))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/inbox"))

	err := s.TryIncrement(ctx, "t1", "/inbox")
	require.Error(t, err)

	var qe *types.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, types.QuotaScopeDirectory, qe.Scope)
	assert.Equal(t, "/inbox", qe.DirectoryPath)

	// The directory rejection aborted the tenant increment too
	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDecrementSaturates(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	require.NoError(t, s.Decrement(ctx, "t1", "/"))
	require.NoError(t, s.Decrement(ctx, "t1", "/"))

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	count, err := s.DirectoryCount("t1", "/")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDecrementUnknownDirectory(t *testing.T) {
	s := newTestStore(t, 0, 0)

	assert.NoError(t, s.Decrement(context.Background(), "t1", "/never-counted"))

	count, err := s.DirectoryCount("t1", "/never-counted")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDirectoriesCountSeparately(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	require.NoError(t, s.TryIncrement(ctx, "t1", "/a"))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/a"))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/b"))

	a, err := s.DirectoryCount("t1", "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a)

	b, err := s.DirectoryCount("t1", "/b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b)

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestDirectoryPathNormalized(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	require.NoError(t, s.TryIncrement(ctx, "t1", ""))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	require.NoError(t, s.TryIncrement(ctx, "t1", "inbox"))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/inbox/"))

	root, err := s.DirectoryCount("t1", "/")
	require.NoError(t, err)
	assert.Equal(t, int64(2), root)

	inbox, err := s.DirectoryCount("t1", "/inbox")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inbox)
}

func TestSetTenantLimit(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	require.NoError(t, s.SetTenantLimit(ctx, "t1", 1))

	err := s.TryIncrement(ctx, "t1", "/")
	assert.True(t, types.IsQuotaExceeded(err))

	// Raising the limit admits writes again
	require.NoError(t, s.SetTenantLimit(ctx, "t1", 5))
	assert.NoError(t, s.TryIncrement(ctx, "t1", "/"))
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t, 10, 0)
	ctx := context.Background()

	require.NoError(t, s.TryIncrement(ctx, "t1", "/a"))
	require.NoError(t, s.TryIncrement(ctx, "t1", "/b"))

	tenantRow, dirs, err := s.Snapshot("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tenantRow.CurrentCount)
	assert.Equal(t, int64(10), tenantRow.Limit)
	assert.Len(t, dirs, 2)
}

func TestRebuild(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	// Drift the counters, then rebuild from observed counts
	require.NoError(t, s.SetDirectoryLimit(ctx, "t1", "/a", 50))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.TryIncrement(ctx, "t1", "/a"))
	}
	require.NoError(t, s.TryIncrement(ctx, "t1", "/stale"))

	require.NoError(t, s.Rebuild(ctx, "t1", map[string]int64{"/a": 2, "/b": 3}))

	a, err := s.DirectoryCount("t1", "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a)

	b, err := s.DirectoryCount("t1", "/b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b)

	stale, err := s.DirectoryCount("t1", "/stale")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stale)

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// Limits survive the rebuild
	_, dirs, err := s.Snapshot("t1")
	require.NoError(t, err)
	for _, d := range dirs {
		if d.DirectoryPath == "/a" {
			assert.Equal(t, int64(50), d.Limit)
		}
	}
}

func TestConcurrentIncrementsExact(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := s.TryIncrement(ctx, "t1", "/"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), total)
}

func TestConcurrentIncrementsHonorLimit(t *testing.T) {
	const limit = 10
	s := newTestStore(t, limit, 0)
	ctx := context.Background()

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				err := s.TryIncrement(ctx, "t1", "/")
				if err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
					continue
				}
				if !types.IsQuotaExceeded(err) {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), total)
}

func TestCountersSurviveReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	require.NoError(t, s.Close())

	s2, err := Open(root, 0, 0)
	require.NoError(t, err)
	defer s2.Close()

	total, err := s2.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestVerifyAndCompact(t *testing.T) {
	s := newTestStore(t, 0, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.TryIncrement(ctx, "t1", "/"))
	}
	require.NoError(t, s.VerifyTenant("t1"))
	require.NoError(t, s.Compact("t1"))

	total, err := s.TenantCount("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestInvalidTenantID(t *testing.T) {
	s := newTestStore(t, 0, 0)

	err := s.TryIncrement(context.Background(), "../escape", "/")
	assert.ErrorIs(t, err, types.ErrInvalidTenantID)
}
