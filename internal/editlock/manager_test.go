package editlock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu       sync.Mutex
	acquires []string
	renews   []string
	releases []bool
	swept    int64
}

func (o *recordingObserver) ObserveAcquire(_ EntityType, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acquires = append(o.acquires, outcome)
}

func (o *recordingObserver) ObserveRenew(_ EntityType, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.renews = append(o.renews, outcome)
}

func (o *recordingObserver) ObserveRelease(_ EntityType, forced bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releases = append(o.releases, forced)
}

func (o *recordingObserver) ObserveSweep(removed int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.swept += removed
}

var (
	alice = Holder{UserID: "user-a", DisplayName: "Alice Chen"}
	bob   = Holder{UserID: "user-b", DisplayName: "Bob Okafor"}
)

func dealKey(org string) Key {
	return Key{OrganizationID: org, EntityType: EntityDeal, EntityID: "d-100"}
}

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *fakeClock, *recordingObserver) {
	t.Helper()
	store := NewMemoryStore()
	clock := newFakeClock()
	observer := &recordingObserver{}
	manager := NewManager(store, 30*time.Minute, WithClock(clock.Now), WithObserver(observer))
	return manager, store, clock, observer
}

// TestAcquireMutualExclusion covers a second user being turned away while the
// first holds the lock.
func TestAcquireMutualExclusion(t *testing.T) {
	manager, _, _, observer := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.True(t, first.Acquired)
	assert.Equal(t, "user-a", first.Lock.HolderUserID)
	assert.Equal(t, "Alice Chen", first.Lock.HolderDisplayName)

	second, err := manager.Acquire(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Equal(t, "user-a", second.Lock.HolderUserID)
	assert.Equal(t, []string{OutcomeAcquired, OutcomeContended}, observer.acquires)
}

func TestAcquireIsIdempotentForHolder(t *testing.T) {
	manager, _, clock, observer := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	require.True(t, first.Acquired)

	clock.Advance(2 * time.Minute)
	second, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.True(t, second.Acquired)
	assert.False(t, second.Lock.RenewedAt.Before(first.Lock.RenewedAt))
	assert.Equal(t, first.Lock.AcquiredAt, second.Lock.AcquiredAt)
	assert.Equal(t, clock.Now().Add(30*time.Minute), second.Lock.ExpiresAt)
	assert.Equal(t, []string{OutcomeAcquired, OutcomeRefreshed}, observer.acquires)
}

func TestAcquireAfterExpiryTransfersHolder(t *testing.T) {
	manager, _, clock, observer := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	result, err := manager.Acquire(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.True(t, result.Acquired)
	assert.Equal(t, "user-b", result.Lock.HolderUserID)
	assert.Equal(t, clock.Now(), result.Lock.AcquiredAt)
	assert.Equal(t, OutcomeTakenOver, observer.acquires[len(observer.acquires)-1])

	check, err := manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	require.True(t, check.IsLocked)
	assert.Equal(t, "user-b", check.Lock.HolderUserID)
}

func TestLockExpiresExactlyAtTimeout(t *testing.T) {
	manager, _, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	clock.Advance(30*time.Minute - time.Millisecond)
	check, err := manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	assert.True(t, check.IsLocked)

	clock.Advance(time.Millisecond)
	check, err = manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	assert.False(t, check.IsLocked)
	assert.Nil(t, check.Lock)
}

func TestRenewOnlyByHolder(t *testing.T) {
	manager, _, clock, _ := newTestManager(t)
	ctx := context.Background()

	acquired, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	other, err := manager.Renew(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.False(t, other.Renewed)
	assert.Equal(t, ReasonHeldByOther, other.Reason)

	check, err := manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	assert.Equal(t, acquired.Lock.RenewedAt, check.Lock.RenewedAt, "foreign renew must not touch the lock")

	own, err := manager.Renew(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.True(t, own.Renewed)
	require.NotNil(t, own.Lock)
	assert.Equal(t, clock.Now(), own.Lock.RenewedAt)
}

func TestHeartbeatsKeepLockAlive(t *testing.T) {
	manager, _, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	for i := 0; i < 24; i++ {
		clock.Advance(5 * time.Minute)
		result, err := manager.Renew(ctx, dealKey("org-1"), alice)
		require.NoError(t, err)
		require.True(t, result.Renewed, "heartbeat %d", i)
	}

	contender, err := manager.Acquire(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.False(t, contender.Acquired)
}

func TestRenewAfterExpiry(t *testing.T) {
	t.Run("taken over", func(t *testing.T) {
		manager, _, clock, _ := newTestManager(t)
		ctx := context.Background()

		_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
		require.NoError(t, err)
		clock.Advance(31 * time.Minute)
		_, err = manager.Acquire(ctx, dealKey("org-1"), bob)
		require.NoError(t, err)

		result, err := manager.Renew(ctx, dealKey("org-1"), alice)
		require.NoError(t, err)
		assert.False(t, result.Renewed)
		assert.Equal(t, ReasonHeldByOther, result.Reason)
		require.NotNil(t, result.Lock)
		assert.Equal(t, "Bob Okafor", result.Lock.HolderDisplayName)
	})

	t.Run("silently expired", func(t *testing.T) {
		manager, _, clock, observer := newTestManager(t)
		ctx := context.Background()

		_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
		require.NoError(t, err)
		clock.Advance(45 * time.Minute)

		result, err := manager.Renew(ctx, dealKey("org-1"), alice)
		require.NoError(t, err)
		assert.False(t, result.Renewed)
		assert.Equal(t, ReasonNotHeld, result.Reason)
		assert.Nil(t, result.Lock)
		assert.Equal(t, []string{OutcomeLost}, observer.renews)

		check, err := manager.Check(ctx, dealKey("org-1"))
		require.NoError(t, err)
		assert.False(t, check.IsLocked)
	})
}

func TestReleaseIsIdempotent(t *testing.T) {
	manager, _, _, observer := newTestManager(t)
	ctx := context.Background()

	released, err := manager.Release(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.False(t, released)

	_, err = manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	released, err = manager.Release(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.False(t, released)
	check, err := manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	assert.True(t, check.IsLocked, "release by a non-holder must not unlock")

	released, err = manager.Release(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.True(t, released)
	check, err = manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	assert.False(t, check.IsLocked)

	released, err = manager.Release(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, []bool{false}, observer.releases)
}

func TestTenantIsolation(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	check, err := manager.Check(ctx, dealKey("org-2"))
	require.NoError(t, err)
	assert.False(t, check.IsLocked)

	renewed, err := manager.Renew(ctx, dealKey("org-2"), alice)
	require.NoError(t, err)
	assert.False(t, renewed.Renewed)

	released, err := manager.Release(ctx, dealKey("org-2"), alice)
	require.NoError(t, err)
	assert.False(t, released)

	other, err := manager.Acquire(ctx, dealKey("org-2"), bob)
	require.NoError(t, err)
	assert.True(t, other.Acquired)

	check, err = manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	require.True(t, check.IsLocked)
	assert.Equal(t, "user-a", check.Lock.HolderUserID)
}

func TestInvalidArgumentsNeverReachStore(t *testing.T) {
	manager, store, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, Key{OrganizationID: "org-1", EntityType: "widget", EntityID: "w-1"}, alice)
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	_, err = manager.Acquire(ctx, Key{OrganizationID: "org-1", EntityType: EntityDeal}, alice)
	assert.ErrorIs(t, err, ErrInvalidEntityID)

	_, err = manager.Acquire(ctx, dealKey("org-1"), Holder{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = manager.Check(ctx, dealKey(""))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Zero(t, store.Len())
}

func TestConcurrentFirstAcquisitionHasOneWinner(t *testing.T) {
	manager, _, _, _ := newTestManager(t)
	ctx := context.Background()

	const contenders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := Holder{UserID: fmt.Sprintf("user-%d", i), DisplayName: fmt.Sprintf("User %d", i)}
			result, err := manager.Acquire(ctx, dealKey("org-1"), holder)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if result.Acquired {
				mu.Lock()
				winners = append(winners, holder.UserID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	check, err := manager.Check(ctx, dealKey("org-1"))
	require.NoError(t, err)
	assert.Equal(t, winners[0], check.Lock.HolderUserID)
}

// conflictingStore fails the first claims with ErrClaimConflict.
type conflictingStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (s *conflictingStore) Claim(ctx context.Context, lock Lock, cutoff time.Time) (Lock, bool, error) {
	s.calls++
	if s.calls <= s.failures {
		return Lock{}, false, ErrClaimConflict
	}
	return s.MemoryStore.Claim(ctx, lock, cutoff)
}

func TestAcquireRetriesClaimConflicts(t *testing.T) {
	ctx := context.Background()

	store := &conflictingStore{MemoryStore: NewMemoryStore(), failures: 2}
	manager := NewManager(store, time.Minute)
	result, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	assert.True(t, result.Acquired)
	assert.Equal(t, 3, store.calls)

	stubborn := &conflictingStore{MemoryStore: NewMemoryStore(), failures: 10}
	manager = NewManager(stubborn, time.Minute)
	_, err = manager.Acquire(ctx, dealKey("org-1"), alice)
	assert.ErrorIs(t, err, ErrClaimConflict)
	assert.Equal(t, maxClaimAttempts, stubborn.calls)
}

func TestListActiveIsScopedAndNewestFirst(t *testing.T) {
	manager, _, clock, _ := newTestManager(t)
	ctx := context.Background()

	fund := Key{OrganizationID: "org-1", EntityType: EntityFund, EntityID: "f-7"}
	contact := Key{OrganizationID: "org-1", EntityType: EntityContact, EntityID: "c-3"}
	stale := Key{OrganizationID: "org-1", EntityType: EntityGP, EntityID: "gp-1"}

	_, err := manager.Acquire(ctx, stale, bob)
	require.NoError(t, err)
	clock.Advance(40 * time.Minute)
	_, err = manager.Acquire(ctx, fund, alice)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = manager.Acquire(ctx, contact, bob)
	require.NoError(t, err)
	_, err = manager.Acquire(ctx, dealKey("org-2"), alice)
	require.NoError(t, err)

	locks, err := manager.ListActive(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, "c-3", locks[0].EntityID)
	assert.Equal(t, "f-7", locks[1].EntityID)
	for _, lock := range locks {
		assert.Equal(t, "org-1", lock.OrganizationID)
		assert.Equal(t, lock.RenewedAt.Add(30*time.Minute), lock.ExpiresAt)
	}
}

func TestForceRelease(t *testing.T) {
	manager, _, _, observer := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)

	broken, err := manager.ForceRelease(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.True(t, broken)
	assert.Equal(t, []bool{true}, observer.releases)

	result, err := manager.Acquire(ctx, dealKey("org-1"), bob)
	require.NoError(t, err)
	assert.True(t, result.Acquired)

	_, err = manager.ForceRelease(ctx, dealKey("org-1"), Holder{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	manager, store, clock, observer := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Acquire(ctx, dealKey("org-1"), alice)
	require.NoError(t, err)
	_, err = manager.Acquire(ctx, dealKey("org-2"), bob)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	_, err = manager.Renew(ctx, dealKey("org-2"), bob)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	removed, err := manager.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.EqualValues(t, 1, observer.swept)
	assert.Equal(t, 1, store.Len())
}

func TestNewManagerDefaultsTimeout(t *testing.T) {
	manager := NewManager(NewMemoryStore(), 0)
	assert.Equal(t, DefaultTimeout, manager.Timeout())
}
