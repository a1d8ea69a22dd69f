package metastore

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocosip/locus/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(i int) string {
	return fmt.Sprintf("%032x", i)
}

func testRecord(key string, createdAt time.Time) *types.FileRecord {
	return &types.FileRecord{
		FileKey:       key,
		TenantID:      "t1",
		VolumeID:      "vol-1",
		PhysicalPath:  "/mnt/vol-1/t1/" + key,
		DirectoryPath: "/",
		FileSize:      16,
		Status:        types.FilePending,
		CreatedAt:     createdAt,
	}
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	rec := testRecord(testKey(1), now)
	require.NoError(t, s.PutOrUpdate(rec))

	got, err := s.Get("t1", rec.FileKey)
	require.NoError(t, err)
	assert.Equal(t, rec.FileKey, got.FileKey)
	assert.Equal(t, types.FilePending, got.Status)
	assert.True(t, got.CreatedAt.Equal(now))

	// Returned records never alias cache state
	got.Status = types.FileProcessing
	again, err := s.Get("t1", rec.FileKey)
	require.NoError(t, err)
	assert.Equal(t, types.FilePending, again.Status)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("t1", testKey(404))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetInvalidTenant(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("..", testKey(1))
	assert.ErrorIs(t, err, types.ErrInvalidTenantID)
}

func TestReopenLoadsFromDisk(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	rec := testRecord(testKey(1), time.Now().UTC())
	require.NoError(t, s.PutOrUpdate(rec))
	require.NoError(t, s.Close())

	s2, err := Open(root)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("t1", rec.FileKey)
	require.NoError(t, err)
	assert.Equal(t, rec.FileKey, got.FileKey)

	n, err := s2.CachedCount("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord(testKey(1), time.Now().UTC())
	require.NoError(t, s.PutOrUpdate(rec))
	require.NoError(t, s.Delete("t1", rec.FileKey))

	_, err := s.Get("t1", rec.FileKey)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Idempotent
	assert.NoError(t, s.Delete("t1", rec.FileKey))

	// Pending index entry is gone too
	got, err := s.ClaimNextPending("t1", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindPendingOrder(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	// Inserted out of creation order
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(3), base.Add(2*time.Second))))
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(1), base)))
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(2), base.Add(time.Second))))

	recs, err := s.FindPending("t1", 0, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, testKey(1), recs[0].FileKey)
	assert.Equal(t, testKey(2), recs[1].FileKey)
	assert.Equal(t, testKey(3), recs[2].FileKey)
}

func TestFindPendingTieBreak(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	// Same createdAt: file key order decides
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(0xbb), base)))
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(0xaa), base)))

	recs, err := s.FindPending("t1", 0, base)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, testKey(0xaa), recs[0].FileKey)
	assert.Equal(t, testKey(0xbb), recs[1].FileKey)
}

func TestFindPendingSkipsNotReady(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	early := testRecord(testKey(1), base)
	later := base.Add(time.Hour)
	early.AvailableAt = &later
	require.NoError(t, s.PutOrUpdate(early))
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(2), base.Add(time.Second))))

	recs, err := s.FindPending("t1", 0, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, testKey(2), recs[0].FileKey)

	// Once the delay passes the older record leads again
	recs, err = s.FindPending("t1", 0, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, testKey(1), recs[0].FileKey)
}

func TestFindPendingLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutOrUpdate(testRecord(testKey(i), base.Add(time.Duration(i)*time.Second))))
	}

	recs, err := s.FindPending("t1", 2, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, testKey(0), recs[0].FileKey)
	assert.Equal(t, testKey(1), recs[1].FileKey)
}

func TestClaimNextPending(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	require.NoError(t, s.PutOrUpdate(testRecord(testKey(1), base)))
	require.NoError(t, s.PutOrUpdate(testRecord(testKey(2), base.Add(time.Second))))

	now := base.Add(time.Minute)
	claimed, err := s.ClaimNextPending("t1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, testKey(1), claimed.FileKey)
	assert.Equal(t, types.FileProcessing, claimed.Status)
	require.NotNil(t, claimed.ProcessingStartedAt)
	assert.True(t, claimed.ProcessingStartedAt.Equal(now))
	assert.Nil(t, claimed.AvailableAt)

	// The claimed record is no longer pending
	second, err := s.ClaimNextPending("t1", now)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, testKey(2), second.FileKey)

	third, err := s.ClaimNextPending("t1", now)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestClaimRespectsAvailableAt(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	rec := testRecord(testKey(1), base)
	ready := base.Add(time.Hour)
	rec.AvailableAt = &ready
	require.NoError(t, s.PutOrUpdate(rec))

	claimed, err := s.ClaimNextPending("t1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = s.ClaimNextPending("t1", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, testKey(1), claimed.FileKey)
}

func TestClaimEmptyTenant(t *testing.T) {
	s := newTestStore(t)

	claimed, err := s.ClaimNextPending("t1", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, s.PutOrUpdate(testRecord(testKey(i), base.Add(time.Duration(i)*time.Millisecond))))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	now := base.Add(time.Minute)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rec, err := s.ClaimNextPending("t1", now)
				if err != nil {
					t.Error(err)
					return
				}
				if rec == nil {
					return
				}
				mu.Lock()
				seen[rec.FileKey]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for key, n := range seen {
		assert.Equal(t, 1, n, "record %s claimed %d times", key, n)
	}
}

func TestRePendAfterClaim(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	require.NoError(t, s.PutOrUpdate(testRecord(testKey(1), base)))

	claimed, err := s.ClaimNextPending("t1", base)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Simulate a failure re-pend with the original createdAt
	claimed.Status = types.FilePending
	claimed.ProcessingStartedAt = nil
	claimed.RetryCount = 1
	require.NoError(t, s.PutOrUpdate(claimed))

	again, err := s.ClaimNextPending("t1", base.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, testKey(1), again.FileKey)
	assert.Equal(t, uint32(1), again.RetryCount)
}

func TestFindTimedOut(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	stale := testRecord(testKey(1), now.Add(-2*time.Hour))
	staleStart := now.Add(-45 * time.Minute)
	stale.Status = types.FileProcessing
	stale.ProcessingStartedAt = &staleStart
	require.NoError(t, s.PutOrUpdate(stale))

	fresh := testRecord(testKey(2), now.Add(-time.Hour))
	freshStart := now.Add(-5 * time.Minute)
	fresh.Status = types.FileProcessing
	fresh.ProcessingStartedAt = &freshStart
	require.NoError(t, s.PutOrUpdate(fresh))

	require.NoError(t, s.PutOrUpdate(testRecord(testKey(3), now)))

	timedOut, err := s.FindTimedOut("t1", now, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, timedOut, 1)
	assert.Equal(t, testKey(1), timedOut[0].FileKey)
}

func TestFindAgedPermanentFailures(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	aged := testRecord(testKey(1), now.Add(-30*24*time.Hour))
	agedFail := now.Add(-8 * 24 * time.Hour)
	aged.Status = types.FilePermanentlyFailed
	aged.LastFailedAt = &agedFail
	require.NoError(t, s.PutOrUpdate(aged))

	recent := testRecord(testKey(2), now.Add(-2*24*time.Hour))
	recentFail := now.Add(-24 * time.Hour)
	recent.Status = types.FilePermanentlyFailed
	recent.LastFailedAt = &recentFail
	require.NoError(t, s.PutOrUpdate(recent))

	evictable, err := s.FindAgedPermanentFailures("t1", now, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, evictable, 1)
	assert.Equal(t, testKey(1), evictable[0].FileKey)
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.PutOrUpdate(testRecord(testKey(i), base)))
	}
	claimed, err := s.ClaimNextPending("t1", base)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	all, err := s.Count("t1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all)

	pending, err := s.Count("t1", func(rec *types.FileRecord) bool {
		return rec.Status == types.FilePending
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	processing, err := s.Count("t1", func(rec *types.FileRecord) bool {
		return rec.Status == types.FileProcessing
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	rec := testRecord(testKey(1), base)
	require.NoError(t, s.PutOrUpdate(rec))

	other := testRecord(testKey(2), base)
	other.TenantID = "t2"
	require.NoError(t, s.PutOrUpdate(other))

	// t2 never sees t1's records
	_, err := s.Get("t2", testKey(1))
	assert.ErrorIs(t, err, types.ErrNotFound)

	claimed, err := s.ClaimNextPending("t2", base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, testKey(2), claimed.FileKey)
}

func TestVerifyTenant(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutOrUpdate(testRecord(testKey(1), time.Now().UTC())))
	assert.NoError(t, s.VerifyTenant("t1"))
}

func TestCompact(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.PutOrUpdate(testRecord(testKey(i), base.Add(time.Duration(i)*time.Second))))
	}
	for i := 5; i < 10; i++ {
		require.NoError(t, s.Delete("t1", testKey(i)))
	}

	require.NoError(t, s.Compact("t1"))

	// Data and order survive the rewrite
	recs, err := s.FindPending("t1", 0, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, testKey(0), recs[0].FileKey)

	got, err := s.Get("t1", testKey(0))
	require.NoError(t, err)
	assert.Equal(t, testKey(0), got.FileKey)
}

func TestCloseTenant(t *testing.T) {
	s := newTestStore(t)

	rec := testRecord(testKey(1), time.Now().UTC())
	require.NoError(t, s.PutOrUpdate(rec))
	require.NoError(t, s.CloseTenant("t1"))

	// Reopens transparently on next use
	got, err := s.Get("t1", rec.FileKey)
	require.NoError(t, err)
	assert.Equal(t, rec.FileKey, got.FileKey)

	// Closing an unopened tenant is a no-op
	assert.NoError(t, s.CloseTenant("never-opened"))
}

func TestClosedStoreRejectsOps(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get("t1", testKey(1))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrNotFound))
}
