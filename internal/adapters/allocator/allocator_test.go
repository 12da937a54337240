package allocator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/rentd/internal/adapters/store/memory"
	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/ports"
	"github.com/stretchr/testify/require"
)

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []int64
}

func (s *recordingScheduler) Schedule(itemID int64, clientID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, itemID)
}

func (s *recordingScheduler) Stop() {}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

func newTestAllocator(t *testing.T) (*Allocator, *recordingScheduler) {
	t.Helper()
	scheduler := &recordingScheduler{}
	return New(memory.NewStore(nil), scheduler, time.Minute, nil), scheduler
}

func TestRentLeasesLowestAvailableID(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		_, err := alloc.CreateItem(ctx, content)
		require.NoError(t, err)
	}

	item, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)
	require.Equal(t, int64(1), item.ID)
	require.Equal(t, "first", item.Content)
	require.NotNil(t, item.Lease)
	require.Equal(t, "client-a", item.Lease.ClientID)

	item, err = alloc.Rent(ctx, "client-b")
	require.NoError(t, err)
	require.Equal(t, int64(2), item.ID)
}

func TestRentSecondLeaseSameClientFails(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "first")
	require.NoError(t, err)
	_, err = alloc.CreateItem(ctx, "second")
	require.NoError(t, err)

	_, err = alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	_, err = alloc.Rent(ctx, "client-a")
	require.Error(t, err)
	require.True(t, domain.IsClientHasLease(err))
}

func TestRentEmptyPoolFailsImmediately(t *testing.T) {
	alloc, _ := newTestAllocator(t)

	_, err := alloc.Rent(context.Background(), "client-a")
	require.Error(t, err)
	require.True(t, domain.IsNoItemAvailable(err))
}

func TestRentExhaustedPoolFails(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "only one")
	require.NoError(t, err)

	_, err = alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	_, err = alloc.Rent(ctx, "client-b")
	require.Error(t, err)
	require.True(t, domain.IsNoItemAvailable(err))
}

func TestRentSchedulesExpiry(t *testing.T) {
	alloc, scheduler := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "slogan")
	require.NoError(t, err)

	item, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	require.Equal(t, 1, scheduler.count())
	require.Equal(t, item.ID, scheduler.scheduled[0])
}

func TestReleaseIsIdempotent(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "slogan")
	require.NoError(t, err)
	item, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	cleared, err := alloc.Release(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, cleared)

	cleared, err = alloc.Release(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, cleared)
}

func TestReleaseFreesItemForImmediateReRent(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "slogan")
	require.NoError(t, err)

	item, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	_, err = alloc.Rent(ctx, "client-b")
	require.True(t, domain.IsNoItemAvailable(err))

	cleared, err := alloc.Release(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, cleared)

	item, err = alloc.Rent(ctx, "client-b")
	require.NoError(t, err)
	require.Equal(t, "client-b", item.Lease.ClientID)
}

func TestReleaseIfOnlyClearsMatchingLease(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "slogan")
	require.NoError(t, err)

	first, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	cleared, err := alloc.Release(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, cleared)

	second, err := alloc.Rent(ctx, "client-b")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// The predecessor's identity no longer matches; client-b keeps the lease.
	cleared, err = alloc.ReleaseIf(ctx, first.ID, "client-a", first.Lease.Deadline)
	require.NoError(t, err)
	require.False(t, cleared)

	_, err = alloc.Rent(ctx, "client-c")
	require.True(t, domain.IsNoItemAvailable(err))

	cleared, err = alloc.ReleaseIf(ctx, second.ID, "client-b", second.Lease.Deadline)
	require.NoError(t, err)
	require.True(t, cleared)
}

// contendedStore rejects the first lease attempts after a delay, simulating
// races lost to other renters.
type contendedStore struct {
	ports.ItemStore
	mu         sync.Mutex
	rejections int
	delay      time.Duration
	grantedAt  time.Time
}

func (s *contendedStore) TryMarkLeased(ctx context.Context, id int64, clientID string, deadline time.Time) (bool, error) {
	s.mu.Lock()
	if s.rejections > 0 {
		s.rejections--
		s.mu.Unlock()
		time.Sleep(s.delay)
		return false, nil
	}
	s.grantedAt = time.Now()
	s.mu.Unlock()
	return s.ItemStore.TryMarkLeased(ctx, id, clientID, deadline)
}

func TestRentDeadlineComputedAtAcquisition(t *testing.T) {
	store := &contendedStore{ItemStore: memory.NewStore(nil), rejections: 1, delay: 80 * time.Millisecond}
	alloc := New(store, &recordingScheduler{}, time.Minute, nil)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "slogan")
	require.NoError(t, err)

	item, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)
	require.NotNil(t, item.Lease)

	// The lease runs for the full duration from the winning attempt, not
	// from before the lost one.
	remaining := item.Lease.Deadline.Sub(store.grantedAt)
	require.InDelta(t, float64(time.Minute), float64(remaining), float64(20*time.Millisecond))
}

func TestCreateItemRejectsDuplicate(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "unique")
	require.NoError(t, err)

	_, err = alloc.CreateItem(ctx, "unique")
	require.Error(t, err)
	require.True(t, domain.IsDuplicateContent(err))
}

func TestConcurrentRentMutualExclusion(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	const itemCount = 5
	const clientCount = 20

	for i := 0; i < itemCount; i++ {
		_, err := alloc.CreateItem(ctx, fmt.Sprintf("slogan %d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := make(map[int64]string)
	failures := 0

	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			item, err := alloc.Rent(ctx, fmt.Sprintf("client-%d", n))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				require.True(t, domain.IsNoItemAvailable(err))
				failures++
				return
			}
			holder, taken := winners[item.ID]
			require.False(t, taken, "item %d leased to both %s and %s", item.ID, holder, item.Lease.ClientID)
			winners[item.ID] = item.Lease.ClientID
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, itemCount)
	require.Equal(t, clientCount-itemCount, failures)
}

func TestConcurrentReleaseSingleTransition(t *testing.T) {
	alloc, _ := newTestAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateItem(ctx, "slogan")
	require.NoError(t, err)
	item, err := alloc.Rent(ctx, "client-a")
	require.NoError(t, err)

	const releasers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0

	for i := 0; i < releasers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleared, err := alloc.Release(ctx, item.ID)
			require.NoError(t, err)
			if cleared {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, transitions)
}
