// Package editlocktest runs the same lock scenarios against any
// editlock.Store so every backend is held to one behavior.
package editlocktest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealroom/api/internal/editlock"
)

const timeout = 30 * time.Minute

// Fixture is what a backend hands the suite. Orgs and holders must already
// exist wherever the backend enforces references.
type Fixture struct {
	Store editlock.Store
	OrgA  string
	OrgB  string
	Alice editlock.Holder
	Bob   editlock.Holder
}

// Clock is a settable time source shared with the Manager under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Run executes every scenario; setup is called once per scenario and must
// return a store with no locks in it.
func Run(t *testing.T, setup func(t *testing.T) Fixture) {
	scenarios := []struct {
		name string
		fn   func(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock)
	}{
		{"ExclusiveClaim", exclusiveClaim},
		{"ReacquireKeepsAcquiredAt", reacquireKeepsAcquiredAt},
		{"TakeoverAfterExpiry", takeoverAfterExpiry},
		{"ExpiryBoundary", expiryBoundary},
		{"RenewOnlyByHolder", renewOnlyByHolder},
		{"ReleaseIsIdempotent", releaseIsIdempotent},
		{"TenantIsolation", tenantIsolation},
		{"ListActiveNewestFirst", listActiveNewestFirst},
		{"ForceRelease", forceRelease},
		{"SweepExpired", sweepExpired},
		{"ConcurrentClaims", concurrentClaims},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			f := setup(t)
			clock := NewClock()
			m := editlock.NewManager(f.Store, timeout, editlock.WithClock(clock.Now))
			sc.fn(t, f, m, clock)
		})
	}
}

func dealKey(org, id string) editlock.Key {
	return editlock.Key{OrganizationID: org, EntityType: editlock.EntityDeal, EntityID: id}
}

func exclusiveClaim(t *testing.T, f Fixture, m *editlock.Manager, _ *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-1")

	first, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)
	require.True(t, first.Acquired)

	second, err := m.Acquire(ctx, key, f.Bob)
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Equal(t, f.Alice.UserID, second.Lock.HolderUserID)
	assert.Equal(t, f.Alice.DisplayName, second.Lock.HolderDisplayName)

	check, err := m.Check(ctx, key)
	require.NoError(t, err)
	require.True(t, check.IsLocked)
	assert.Equal(t, f.Alice.UserID, check.Lock.HolderUserID)
}

func reacquireKeepsAcquiredAt(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-2")

	first, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)
	require.True(t, first.Acquired)

	clock.Advance(10 * time.Minute)
	again, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)
	require.True(t, again.Acquired)
	assert.True(t, again.Lock.AcquiredAt.Equal(first.Lock.AcquiredAt))
	assert.True(t, again.Lock.RenewedAt.Equal(clock.Now()))
}

func takeoverAfterExpiry(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-3")

	_, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	check, err := m.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.IsLocked)

	taken, err := m.Acquire(ctx, key, f.Bob)
	require.NoError(t, err)
	require.True(t, taken.Acquired)
	assert.Equal(t, f.Bob.UserID, taken.Lock.HolderUserID)
	assert.True(t, taken.Lock.AcquiredAt.Equal(clock.Now()))

	renew, err := m.Renew(ctx, key, f.Alice)
	require.NoError(t, err)
	assert.False(t, renew.Renewed)
	assert.Equal(t, editlock.ReasonHeldByOther, renew.Reason)
}

func expiryBoundary(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-4")

	_, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)

	clock.Advance(timeout - time.Millisecond)
	check, err := m.Check(ctx, key)
	require.NoError(t, err)
	assert.True(t, check.IsLocked)

	clock.Advance(time.Millisecond)
	check, err = m.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.IsLocked)
}

func renewOnlyByHolder(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-5")

	_, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)

	byBob, err := m.Renew(ctx, key, f.Bob)
	require.NoError(t, err)
	assert.False(t, byBob.Renewed)
	assert.Equal(t, editlock.ReasonHeldByOther, byBob.Reason)

	for i := 0; i < 12; i++ {
		clock.Advance(5 * time.Minute)
		renew, err := m.Renew(ctx, key, f.Alice)
		require.NoError(t, err)
		require.True(t, renew.Renewed, "heartbeat %d", i)
		assert.True(t, renew.Lock.RenewedAt.Equal(clock.Now()))
	}

	clock.Advance(timeout)
	late, err := m.Renew(ctx, key, f.Alice)
	require.NoError(t, err)
	assert.False(t, late.Renewed)
	assert.Equal(t, editlock.ReasonNotHeld, late.Reason)
}

func releaseIsIdempotent(t *testing.T, f Fixture, m *editlock.Manager, _ *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-6")

	_, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)

	released, err := m.Release(ctx, key, f.Bob)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = m.Release(ctx, key, f.Alice)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = m.Release(ctx, key, f.Alice)
	require.NoError(t, err)
	assert.False(t, released)

	check, err := m.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.IsLocked)
}

func tenantIsolation(t *testing.T, f Fixture, m *editlock.Manager, _ *Clock) {
	ctx := context.Background()

	a, err := m.Acquire(ctx, dealKey(f.OrgA, "shared"), f.Alice)
	require.NoError(t, err)
	require.True(t, a.Acquired)

	b, err := m.Acquire(ctx, dealKey(f.OrgB, "shared"), f.Bob)
	require.NoError(t, err)
	assert.True(t, b.Acquired)

	other := editlock.Key{OrganizationID: f.OrgA, EntityType: editlock.EntityFund, EntityID: "shared"}
	c, err := m.Acquire(ctx, other, f.Bob)
	require.NoError(t, err)
	assert.True(t, c.Acquired)
}

func listActiveNewestFirst(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock) {
	ctx := context.Background()

	_, err := m.Acquire(ctx, dealKey(f.OrgA, "old"), f.Alice)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = m.Acquire(ctx, dealKey(f.OrgA, "new"), f.Bob)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, dealKey(f.OrgB, "elsewhere"), f.Bob)
	require.NoError(t, err)

	locks, err := m.ListActive(ctx, f.OrgA)
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, "new", locks[0].EntityID)
	assert.Equal(t, "old", locks[1].EntityID)

	clock.Advance(timeout - 30*time.Second)
	locks, err = m.ListActive(ctx, f.OrgA)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "new", locks[0].EntityID)
}

func forceRelease(t *testing.T, f Fixture, m *editlock.Manager, _ *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "d-7")

	_, err := m.Acquire(ctx, key, f.Alice)
	require.NoError(t, err)

	broken, err := m.ForceRelease(ctx, key, f.Bob)
	require.NoError(t, err)
	assert.True(t, broken)

	renew, err := m.Renew(ctx, key, f.Alice)
	require.NoError(t, err)
	assert.Equal(t, editlock.ReasonNotHeld, renew.Reason)

	broken, err = m.ForceRelease(ctx, key, f.Bob)
	require.NoError(t, err)
	assert.False(t, broken)
}

func sweepExpired(t *testing.T, f Fixture, m *editlock.Manager, clock *Clock) {
	ctx := context.Background()

	_, err := m.Acquire(ctx, dealKey(f.OrgA, "stale"), f.Alice)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, dealKey(f.OrgB, "stale"), f.Bob)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	_, err = m.Acquire(ctx, dealKey(f.OrgA, "fresh"), f.Bob)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)

	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	check, err := m.Check(ctx, dealKey(f.OrgA, "fresh"))
	require.NoError(t, err)
	assert.True(t, check.IsLocked)

	removed, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func concurrentClaims(t *testing.T, f Fixture, m *editlock.Manager, _ *Clock) {
	ctx := context.Background()
	key := dealKey(f.OrgA, "race")
	holders := []editlock.Holder{f.Alice, f.Bob}

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for i := 0; i < contenders; i++ {
		holder := holders[i%len(holders)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Acquire(ctx, key, holder)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Acquired {
				winners = append(winners, res.Lock.HolderUserID)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.NotEmpty(t, winners)
	for _, winner := range winners {
		assert.Equal(t, winners[0], winner, "two holders won the same lock")
	}

	check, err := m.Check(ctx, key)
	require.NoError(t, err)
	require.True(t, check.IsLocked)
	assert.Equal(t, winners[0], check.Lock.HolderUserID)
}
